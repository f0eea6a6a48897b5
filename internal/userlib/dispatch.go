package userlib

import (
	"errors"
	"fmt"

	"github.com/emberos/ember/internal/abi"
)

// Operation is a server-recognized operation tag, produced by a fallible
// parse of the raw wire code. Servers define their own constants.
type Operation uint16

// ReplyError carries the numeric status code a handler wants sent to the
// caller. The dispatch loop converts it into a failure reply with an
// empty body; any other error type propagates and stops the server.
type ReplyError uint32

func (e ReplyError) Error() string {
	return fmt.Sprintf("request failed with code %d", uint32(e))
}

// Server is a message-handling task body driven by Dispatch.
type Server interface {
	// ParseOperation maps a raw operation code to a known operation.
	// ok=false rejects the message with abi.ResponseUnknownOp before the
	// handler is ever invoked; there is no silently-succeeding default.
	ParseOperation(code uint16) (Operation, bool)

	// Handle processes one decoded message. Returning a ReplyError makes
	// the dispatch loop send that code with an empty body; this automatic
	// path and a manual reply from inside the handler are mutually
	// exclusive because the handler consumes its own Caller.
	Handle(op Operation, msg *Message) error

	// HandleNotification processes a coalesced notification bit-set. No
	// reply is possible.
	HandleNotification(bits uint32)
}

// Dispatch blocks for one wakeup and drives it to completion: the
// notification handler for notification wakeups, otherwise operation
// parse, handler invocation, and error-to-reply conversion.
func Dispatch(env *Env, mask uint32, srv Server) error {
	msg, err := env.Recv(mask)
	if err != nil {
		return err
	}

	if msg.IsNotification() {
		srv.HandleNotification(msg.NotificationBits())
		return nil
	}

	op, ok := srv.ParseOperation(msg.Operation())
	if !ok {
		return env.sys.Reply(msg.Sender(), abi.ResponseUnknownOp, abi.Span{})
	}

	if err := srv.Handle(op, msg); err != nil {
		var re ReplyError
		if errors.As(err, &re) {
			return env.sys.Reply(msg.Sender(), uint32(re), abi.Span{})
		}
		return err
	}
	// A borrow wrapper may have swallowed a kernel-level error into a
	// false result; surface it so the task unwinds instead of looping.
	return env.takeFatal()
}

// Serve runs Dispatch until it fails.
func Serve(env *Env, mask uint32, srv Server) error {
	for {
		if err := Dispatch(env, mask, srv); err != nil {
			return err
		}
	}
}
