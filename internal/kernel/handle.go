package kernel

import (
	"github.com/emberos/ember/internal/abi"
)

// Handle is a task's capability to issue syscalls. One is created per
// spawned task and passed to its entry function; the task-side wrappers in
// internal/userlib are built over exactly this surface.
type Handle struct {
	k    *Kernel
	id   abi.TaskID
	idx  int
	base uint64
	ram  []byte
}

// ID returns the task's generation-tagged identity.
func (h *Handle) ID() abi.TaskID { return h.id }

// Base returns the virtual address where the task's RAM region starts.
func (h *Handle) Base() uint64 { return h.base }

// Window returns the backing bytes of the task's own RAM. Tasks may touch
// their own memory freely; only cross-task access goes through the kernel.
func (h *Handle) Window() []byte { return h.ram }

// Send issues a blocking call: it delivers (op, payload) to dest together
// with leaseCount lease descriptors read from leaseAddr in the sender's
// memory, then suspends until dest replies or dies. The returned code is
// the reply status (abi.ResponseDead when dest was gone) and replyLen the
// reply body length placed in the reply span.
func (h *Handle) Send(dest abi.TaskID, op uint16, payload, reply abi.Span, leaseAddr uint64, leaseCount uint32) (uint32, uint64, error) {
	out, err := h.k.send(h.idx, dest, op, payload, reply, leaseAddr, leaseCount)
	if err != nil {
		return 0, 0, err
	}
	return out.Code, out.ReplyLen, nil
}

// Recv suspends until a masked notification is pending or a message
// arrives, whichever happens first. Message payloads are copied into buf,
// truncated to its length.
func (h *Handle) Recv(buf abi.Span, mask uint32) (abi.RecvMessage, error) {
	return h.k.recv(h.idx, buf, mask)
}

// Reply unblocks the caller identified by to with a status code and a
// reply body read from the replier's memory. Replying to a task that is
// not waiting on this one returns ErrNotWaiting.
func (h *Handle) Reply(to abi.TaskID, code uint32, body abi.Span) error {
	return h.k.reply(h.idx, to, code, body)
}

// BorrowInfo fetches a fresh snapshot of one lease of the client currently
// blocked on this task. ok=false covers every failure mode uniformly.
func (h *Handle) BorrowInfo(lender abi.TaskID, index uint32) (abi.BorrowInfo, bool, error) {
	return h.k.borrowInfo(h.idx, lender, index)
}

// BorrowRead copies exactly dest.Length bytes from the lease at offset
// into this task's dest range. ok=false covers every failure mode.
func (h *Handle) BorrowRead(lender abi.TaskID, index uint32, offset uint64, dest abi.Span) (bool, error) {
	return h.k.borrowRead(h.idx, lender, index, offset, dest)
}

// BorrowWrite copies exactly src.Length bytes from this task's src range
// into the lease at offset. ok=false covers every failure mode.
func (h *Handle) BorrowWrite(lender abi.TaskID, index uint32, offset uint64, src abi.Span) (bool, error) {
	return h.k.borrowWrite(h.idx, lender, index, offset, src)
}

// Post delivers notification bits to another task.
func (h *Handle) Post(dest abi.TaskID, bits uint32) error {
	h.k.Post(dest, bits)
	return nil
}
