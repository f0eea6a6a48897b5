// Package echo implements a small IPC server task used by the default
// manifest and the end-to-end tests. It exercises the full task-side
// surface: fixed-size requests, lease-backed transfers, failure replies,
// and notification handling.
package echo

import (
	mathbits "math/bits"

	"go.uber.org/zap"

	"github.com/emberos/ember/internal/abi"
	"github.com/emberos/ember/internal/infrastructure/logging"
	"github.com/emberos/ember/internal/kernel"
	"github.com/emberos/ember/internal/userlib"
)

// Wire operation codes.
const (
	OpPing  uint16 = 1 // U32 request, U32 reply: value + 1
	OpMove  uint16 = 2 // two leases: read all of lease 0 into lease 1; U64 reply: bytes moved
	OpStats uint16 = 3 // empty request, U64 reply: notification bits seen so far
)

// Reply codes in the operation-defined space.
const (
	CodeBadLease = abi.ResponseAppBase + iota // lease absent or wrong attributes
	CodeShortSink                             // lease 1 smaller than lease 0
	CodeLeaseIO                               // transfer refused mid-flight
)

// NotificationMask covers every bit the server reacts to.
const NotificationMask uint32 = 0xFFFF_FFFF

const (
	opPing userlib.Operation = iota
	opMove
	opStats
)

// moveChunk bounds the heap staging buffer for lease-to-lease moves.
const moveChunk = 4096

// Server answers echo-protocol messages over one task's Env.
type Server struct {
	env *userlib.Env
	log *logging.Logger

	// noteCount accumulates the number of notification bits observed,
	// exposed through OpStats.
	noteCount uint64
}

// New builds a server over env.
func New(env *userlib.Env, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewNop()
	}
	return &Server{env: env, log: log.Named("echo")}
}

// Entry adapts the server into a spawnable task body.
func Entry(log *logging.Logger) kernel.EntryFunc {
	return func(h *kernel.Handle) error {
		env, err := userlib.NewEnv(h)
		if err != nil {
			return err
		}
		return userlib.Serve(env, NotificationMask, New(env, log))
	}
}

// ParseOperation implements userlib.Server.
func (s *Server) ParseOperation(code uint16) (userlib.Operation, bool) {
	switch code {
	case OpPing:
		return opPing, true
	case OpMove:
		return opMove, true
	case OpStats:
		return opStats, true
	}
	return 0, false
}

// Handle implements userlib.Server.
func (s *Server) Handle(op userlib.Operation, msg *userlib.Message) error {
	switch op {
	case opPing:
		return s.ping(msg)
	case opMove:
		return s.move(msg)
	case opStats:
		return s.stats(msg)
	}
	return userlib.ReplyError(abi.ResponseUnknownOp)
}

// HandleNotification implements userlib.Server.
func (s *Server) HandleNotification(bits uint32) {
	s.noteCount += uint64(mathbits.OnesCount32(bits))
	s.log.Debug("notification", zap.Uint32("bits", bits))
}

func (s *Server) ping(msg *userlib.Message) error {
	var req abi.U32
	caller, ok := msg.Fixed(&req, req.SizeBytes())
	if !ok {
		return userlib.ReplyError(abi.ResponseUnknownOp)
	}
	return caller.Reply(abi.U32(req + 1))
}

// move copies the whole of lease 0 into lease 1 through the kernel, one
// chunk at a time. The caller stays blocked for the duration, so the
// leases cannot move under us; they can still vanish if the caller is
// killed, which surfaces as a refused chunk.
func (s *Server) move(msg *userlib.Message) error {
	var req abi.Empty
	caller, ok := msg.FixedWithLeases(&req, abi.U64(0).SizeBytes(), 2)
	if !ok {
		return userlib.ReplyError(abi.ResponseUnknownOp)
	}

	src := caller.Borrow(0)
	sink := caller.Borrow(1)

	srcInfo, ok := src.Info()
	if !ok || !srcInfo.Attributes.CanRead() {
		return userlib.ReplyError(CodeBadLease)
	}
	sinkInfo, ok := sink.Info()
	if !ok || !sinkInfo.Attributes.CanWrite() {
		return userlib.ReplyError(CodeBadLease)
	}
	if sinkInfo.Length < srcInfo.Length {
		return userlib.ReplyError(CodeShortSink)
	}

	buf := make([]byte, moveChunk)
	var moved uint64
	for moved < srcInfo.Length {
		n := srcInfo.Length - moved
		if n > moveChunk {
			n = moveChunk
		}
		if !src.ReadFullyAt(moved, buf[:n]) {
			return userlib.ReplyError(CodeLeaseIO)
		}
		if !sink.WriteFullyAt(moved, buf[:n]) {
			return userlib.ReplyError(CodeLeaseIO)
		}
		moved += n
	}

	s.log.Debug("moved lease bytes",
		zap.String("caller", caller.TaskID().String()),
		zap.Uint64("bytes", moved))
	return caller.Reply(abi.U64(moved))
}

func (s *Server) stats(msg *userlib.Message) error {
	var req abi.Empty
	caller, ok := msg.Fixed(&req, abi.U64(0).SizeBytes())
	if !ok {
		return userlib.ReplyError(abi.ResponseUnknownOp)
	}
	return caller.Reply(abi.U64(s.noteCount))
}
