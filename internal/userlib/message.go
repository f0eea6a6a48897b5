package userlib

import (
	"fmt"

	"github.com/emberos/ember/internal/abi"
)

// Message is one received call: raw payload bytes plus the sender's
// declared response capacity and lease count. It is produced exactly once
// per received call and consumed by exactly one successful decode.
type Message struct {
	env *Env

	notification     bool
	notificationBits uint32

	sender           abi.TaskID
	operation        uint16
	payload          []byte // delivered bytes, possibly truncated
	payloadLen       uint64 // sender's actual payload length
	responseCapacity uint64
	leaseCount       uint32

	decoded bool
}

// IsNotification reports whether this wakeup carries notification bits
// instead of a message. Notifications cannot be decoded or replied to.
func (m *Message) IsNotification() bool { return m.notification }

// NotificationBits returns the coalesced pending bits for a notification
// wakeup.
func (m *Message) NotificationBits() uint32 { return m.notificationBits }

// Sender returns the calling task's identity.
func (m *Message) Sender() abi.TaskID { return m.sender }

// Operation returns the raw operation code the sender supplied.
func (m *Message) Operation() uint16 { return m.operation }

// LeaseCount returns the number of leases the sender attached.
func (m *Message) LeaseCount() uint32 { return m.leaseCount }

// Fixed decodes the payload as the fixed-size request req and proves the
// sender declared room for a reply of replySize bytes. It succeeds iff the
// payload length matches req's size exactly and the response capacity is
// at least replySize; on failure nothing is consumed and ok is false, so
// the server can reject the call. On success it returns the single-use
// reply handle for the sender.
func (m *Message) Fixed(req abi.Marshallable, replySize int) (*Caller, bool) {
	if m.notification || m.decoded {
		return nil, false
	}
	size := uint64(req.SizeBytes())
	if m.payloadLen != size || uint64(len(m.payload)) != size {
		return nil, false
	}
	if m.responseCapacity < uint64(replySize) {
		return nil, false
	}
	req.UnmarshalBytes(m.payload)
	m.decoded = true
	return &Caller{env: m.env, task: m.sender}, true
}

// FixedWithLeases is Fixed with an exact lease-count requirement: the
// sender must have attached precisely leases leases, independent of
// whether the size and capacity checks pass.
func (m *Message) FixedWithLeases(req abi.Marshallable, replySize int, leases uint32) (*Caller, bool) {
	if m.leaseCount != leases {
		return nil, false
	}
	return m.Fixed(req, replySize)
}

// Caller is the single-use reply handle for one blocked sender. A handler
// must invoke exactly one of Reply or ReplyFail; the consumed flag backs
// the convention, and the kernel's stale-reply rejection catches a raw
// duplicate aimed at an already-unblocked task.
type Caller struct {
	env     *Env
	task    abi.TaskID
	replied bool
}

// TaskID returns the blocked sender's identity.
func (c *Caller) TaskID() abi.TaskID { return c.task }

// Borrow returns a handle for one of the caller's leases. Borrows carry no
// state; they are valid only while the caller stays blocked, and every
// access re-checks that.
func (c *Caller) Borrow(index uint32) Borrow {
	return Borrow{env: c.env, lender: c.task, index: index}
}

// Reply completes the call successfully: status zero plus the serialized
// value.
func (c *Caller) Reply(v abi.Marshaler) error {
	if c.replied {
		return fmt.Errorf("userlib: duplicate reply to %s", c.task)
	}
	size := uint64(v.SizeBytes())
	if size > uint64(len(c.env.replyBuf.Bytes)) {
		return fmt.Errorf("userlib: reply of %d bytes exceeds reply buffer", size)
	}
	v.MarshalBytes(c.env.replyBuf.Bytes[:size])
	c.replied = true
	return c.env.sys.Reply(c.task, abi.ResponseOK, c.env.replyBuf.SpanOf(size))
}

// ReplyFail completes the call with a nonzero status and an empty body.
func (c *Caller) ReplyFail(code uint32) error {
	if c.replied {
		return fmt.Errorf("userlib: duplicate reply to %s", c.task)
	}
	if code == abi.ResponseOK {
		return fmt.Errorf("userlib: ReplyFail requires a nonzero code")
	}
	c.replied = true
	return c.env.sys.Reply(c.task, code, abi.Span{})
}

// Replied reports whether the handle has been consumed.
func (c *Caller) Replied() bool { return c.replied }
