package userlib

import (
	"errors"
	"fmt"

	"github.com/emberos/ember/internal/abi"
)

// Syscalls is the raw kernel surface a task runs against. The kernel's
// task handle satisfies it; tests substitute fakes.
type Syscalls interface {
	Send(dest abi.TaskID, op uint16, payload, reply abi.Span, leaseAddr uint64, leaseCount uint32) (code uint32, replyLen uint64, err error)
	Recv(buf abi.Span, mask uint32) (abi.RecvMessage, error)
	Reply(to abi.TaskID, code uint32, body abi.Span) error
	BorrowInfo(lender abi.TaskID, index uint32) (abi.BorrowInfo, bool, error)
	BorrowRead(lender abi.TaskID, index uint32, offset uint64, dest abi.Span) (bool, error)
	BorrowWrite(lender abi.TaskID, index uint32, offset uint64, src abi.Span) (bool, error)
	Post(dest abi.TaskID, bits uint32) error
}

// Fixed internal buffer sizes carved from the task's RAM.
const (
	recvBufBytes  = 256
	callBufBytes  = 256
	replyBufBytes = 256
	scratchBytes  = 1024

	// MaxLeases bounds the lease table a single call can carry.
	MaxLeases = 16
)

// ErrNoMemory is returned when an allocation does not fit in the task's
// remaining RAM.
var ErrNoMemory = errors.New("userlib: out of task memory")

// Buffer is a chunk of the task's own RAM, addressable by the kernel via
// Span and directly writable by the task via Bytes.
type Buffer struct {
	Addr  uint64
	Bytes []byte
}

// Span names the whole buffer for a syscall.
func (b Buffer) Span() abi.Span {
	return abi.Span{Address: b.Addr, Length: uint64(len(b.Bytes))}
}

// SpanOf names the first n bytes.
func (b Buffer) SpanOf(n uint64) abi.Span {
	return abi.Span{Address: b.Addr, Length: n}
}

// Env binds a task's syscall surface to its RAM window and carves out the
// fixed transfer buffers the wrappers use. One Env exists per task and is
// not safe for concurrent use; tasks are single-threaded by construction.
type Env struct {
	sys    Syscalls
	self   abi.TaskID
	base   uint64
	ram    []byte
	cursor uint64

	recvBuf  Buffer // incoming message payloads
	callBuf  Buffer // outgoing request payloads
	replyBuf Buffer // incoming call replies and outgoing reply bodies
	leaseBuf Buffer // outgoing lease-descriptor table
	scratch  Buffer // borrow transfer staging

	fatal error
}

// TaskRAM is the handle shape the kernel gives a spawned task.
type TaskRAM interface {
	Syscalls
	ID() abi.TaskID
	Base() uint64
	Window() []byte
}

// NewEnv builds an Env over a kernel task handle.
func NewEnv(h TaskRAM) (*Env, error) {
	return newEnv(h, h.ID(), h.Base(), h.Window())
}

// NewEnvRaw builds an Env from explicit parts; tests use it with fake
// syscalls.
func NewEnvRaw(sys Syscalls, self abi.TaskID, base uint64, ram []byte) (*Env, error) {
	return newEnv(sys, self, base, ram)
}

func newEnv(sys Syscalls, self abi.TaskID, base uint64, ram []byte) (*Env, error) {
	e := &Env{sys: sys, self: self, base: base, ram: ram}

	var err error
	if e.recvBuf, err = e.Alloc(recvBufBytes); err != nil {
		return nil, fmt.Errorf("recv buffer: %w", err)
	}
	if e.callBuf, err = e.Alloc(callBufBytes); err != nil {
		return nil, fmt.Errorf("call buffer: %w", err)
	}
	if e.replyBuf, err = e.Alloc(replyBufBytes); err != nil {
		return nil, fmt.Errorf("reply buffer: %w", err)
	}
	if e.leaseBuf, err = e.Alloc(MaxLeases * abi.LeaseDescSize); err != nil {
		return nil, fmt.Errorf("lease table: %w", err)
	}
	if e.scratch, err = e.Alloc(scratchBytes); err != nil {
		return nil, fmt.Errorf("scratch: %w", err)
	}
	return e, nil
}

// Self returns the task's own identity.
func (e *Env) Self() abi.TaskID { return e.self }

// Alloc carves n bytes out of the task's RAM, 8-byte aligned. There is no
// free: task buffers live as long as the task, like statics in firmware.
func (e *Env) Alloc(n uint64) (Buffer, error) {
	start := (e.cursor + 7) &^ 7
	if start > uint64(len(e.ram)) || n > uint64(len(e.ram))-start {
		return Buffer{}, fmt.Errorf("%w: need %d bytes at offset %d of %d", ErrNoMemory, n, start, len(e.ram))
	}
	e.cursor = start + n
	return Buffer{Addr: e.base + start, Bytes: e.ram[start : start+n]}, nil
}

// Post sends notification bits to another task.
func (e *Env) Post(dest abi.TaskID, bits uint32) error {
	return e.sys.Post(dest, bits)
}

// Call issues a blocking typed call: req is marshalled into the call
// buffer, leases (at most MaxLeases) are placed in the lease table, and on
// a zero status the reply body is unmarshalled into resp. The returned
// code is the server's status; abi.ResponseDead means the peer is gone.
func (e *Env) Call(dest abi.TaskID, op uint16, req abi.Marshaler, resp abi.Marshallable, leases []abi.LeaseDesc) (uint32, error) {
	reqSize := uint64(req.SizeBytes())
	respSize := uint64(resp.SizeBytes())
	if reqSize > uint64(len(e.callBuf.Bytes)) {
		return 0, fmt.Errorf("userlib: request of %d bytes exceeds call buffer", reqSize)
	}
	if respSize > uint64(len(e.replyBuf.Bytes)) {
		return 0, fmt.Errorf("userlib: reply of %d bytes exceeds reply buffer", respSize)
	}
	if len(leases) > MaxLeases {
		return 0, fmt.Errorf("userlib: %d leases exceeds the table of %d", len(leases), MaxLeases)
	}

	req.MarshalBytes(e.callBuf.Bytes[:reqSize])
	for i := range leases {
		leases[i].MarshalBytes(e.leaseBuf.Bytes[i*abi.LeaseDescSize:])
	}

	code, replyLen, err := e.sys.Send(dest, op,
		e.callBuf.SpanOf(reqSize),
		e.replyBuf.SpanOf(respSize),
		e.leaseBuf.Addr, uint32(len(leases)))
	if err != nil {
		return 0, err
	}
	if code == abi.ResponseOK {
		if replyLen != respSize {
			return 0, fmt.Errorf("userlib: reply length %d, expected %d", replyLen, respSize)
		}
		resp.UnmarshalBytes(e.replyBuf.Bytes[:respSize])
	}
	return code, nil
}

// Recv blocks for the next message or masked notification and wraps it in
// a Message for decoding.
func (e *Env) Recv(mask uint32) (*Message, error) {
	rm, err := e.sys.Recv(e.recvBuf.Span(), mask)
	if err != nil {
		return nil, err
	}
	delivered := rm.PayloadLen
	if delivered > uint64(len(e.recvBuf.Bytes)) {
		delivered = uint64(len(e.recvBuf.Bytes))
	}
	return &Message{
		env:              e,
		notification:     rm.Notification,
		notificationBits: rm.NotificationBits,
		sender:           rm.Sender,
		operation:        rm.Operation,
		payload:          e.recvBuf.Bytes[:delivered],
		payloadLen:       rm.PayloadLen,
		responseCapacity: rm.ResponseCapacity,
		leaseCount:       rm.LeaseCount,
	}, nil
}

// noteFatal remembers a kernel-level error raised inside a bool-returning
// wrapper so the dispatch loop can surface it.
func (e *Env) noteFatal(err error) {
	if e.fatal == nil {
		e.fatal = err
	}
}

// takeFatal returns and clears any stashed kernel error.
func (e *Env) takeFatal() error {
	err := e.fatal
	e.fatal = nil
	return err
}
