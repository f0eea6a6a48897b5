package abi

import (
	"encoding/binary"
	"fmt"
)

// Response codes. 0 is success; everything nonzero is an error. Codes at
// and above ResponseAppBase are operation-defined and belong to the
// individual server.
const (
	ResponseOK        uint32 = 0
	ResponseUnknownOp uint32 = 1
	ResponseAppBase   uint32 = 2

	// ResponseDead is the reserved sentinel a client observes when the
	// task it called has stopped or faulted. It is a pseudo-error
	// synthesized by the kernel, never sent by a server.
	ResponseDead uint32 = 0xFFFFFFFF
)

// TaskID names a task slot together with the generation of its occupant.
// Generations let a caller detect that the peer it knew has been restarted.
type TaskID struct {
	Index      uint16
	Generation uint8
}

func (t TaskID) String() string {
	return fmt.Sprintf("%d:%d", t.Index, t.Generation)
}

// Attributes describe the access a lease grants on the lender's memory.
type Attributes uint32

const (
	AttributeRead Attributes = 1 << iota
	AttributeWrite
)

// CanRead reports whether the lease permits the borrower to read.
func (a Attributes) CanRead() bool { return a&AttributeRead != 0 }

// CanWrite reports whether the lease permits the borrower to write.
func (a Attributes) CanWrite() bool { return a&AttributeWrite != 0 }

// Span is a raw (address, length-in-bytes) pair supplied by a task. It has
// passed no validation of any kind.
type Span struct {
	Address uint64
	Length  uint64
}

// LeaseDesc is the wire layout of one lease as a task places it in its
// outgoing message: base address, length in bytes, and access attributes.
// The kernel copies it verbatim into a byte region; validation happens
// uniformly afterward, never at parse time.
type LeaseDesc struct {
	Address    uint64
	Length     uint64
	Attributes Attributes
}

// LeaseDescSize is the fixed encoded size of a LeaseDesc: two 64-bit
// fields, the attribute word, and a reserved word kept zero.
const LeaseDescSize = 24

// SizeBytes implements Marshallable.
func (l *LeaseDesc) SizeBytes() int { return LeaseDescSize }

// MarshalBytes implements Marshallable. dst must be at least LeaseDescSize.
func (l *LeaseDesc) MarshalBytes(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], l.Address)
	binary.LittleEndian.PutUint64(dst[8:16], l.Length)
	binary.LittleEndian.PutUint32(dst[16:20], uint32(l.Attributes))
	binary.LittleEndian.PutUint32(dst[20:24], 0)
}

// UnmarshalBytes implements Marshallable. src must be at least LeaseDescSize.
func (l *LeaseDesc) UnmarshalBytes(src []byte) {
	l.Address = binary.LittleEndian.Uint64(src[0:8])
	l.Length = binary.LittleEndian.Uint64(src[8:16])
	l.Attributes = Attributes(binary.LittleEndian.Uint32(src[16:20]))
}

// Span returns the raw byte range the descriptor claims.
func (l *LeaseDesc) Span() Span {
	return Span{Address: l.Address, Length: l.Length}
}

// BorrowInfo is a freshly fetched snapshot of one lease's declared
// properties. It is never cached by anyone: the lending task's state can
// change asynchronously, so each query re-reads the descriptor.
type BorrowInfo struct {
	Attributes Attributes
	Length     uint64
}

// RecvMessage is what a receive syscall yields: either a message from
// another task or a coalesced notification, never both.
type RecvMessage struct {
	// Notification is true when the wakeup was a pending notification.
	// In that case only NotificationBits is meaningful and no reply is
	// possible.
	Notification     bool
	NotificationBits uint32

	Sender           TaskID
	Operation        uint16
	PayloadLen       uint64 // sender's actual payload length, pre-truncation
	ResponseCapacity uint64
	LeaseCount       uint32
}
