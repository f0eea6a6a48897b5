package kernel

import (
	"math/bits"

	"github.com/emberos/ember/internal/abi"
	"github.com/emberos/ember/internal/kernel/fault"
	"github.com/emberos/ember/internal/kernel/ipc"
	"github.com/emberos/ember/internal/kernel/mem"
	"github.com/emberos/ember/internal/kernel/task"
)

// The borrow syscalls let a server exercise a lease of the client that is
// currently blocked on it. Nothing here is cached: every call re-resolves
// the client, re-reads the lease descriptor out of the client's memory,
// and re-checks access, because the client can die or be restarted at any
// point between two accesses.

// leaseDescLocked fetches lease descriptor index of the lender, which must
// be blocked in reply on server. ok=false collapses every failure mode the
// server cannot help: dead lender, stale generation, bad index, unreadable
// descriptor table. Callers hold k.mu.
func (k *Kernel) leaseDescLocked(server *task.Task, lender abi.TaskID, index uint32) (abi.LeaseDesc, int, bool) {
	c, ok := k.table.Lookup(lender)
	if !ok || !c.Alive() || c.State() != task.StateInReply || c.Send.Dest != server.ID() {
		return abi.LeaseDesc{}, 0, false
	}
	if index >= c.Send.LeaseCount {
		return abi.LeaseDesc{}, 0, false
	}

	// The whole descriptor table's shape was validated at send time, so
	// the per-entry range cannot fail construction.
	addr := c.Send.Leases.Address + uint64(index)*abi.LeaseDescSize
	entry, err := mem.Bytes(addr, abi.LeaseDescSize)
	if err != nil {
		panic("kernel: lease table shape changed after send validation")
	}
	raw, f := c.TryRead(entry)
	if f != nil {
		// The client declared a descriptor table it cannot actually read.
		k.faultLocked(c, fault.FromMemory(f))
		return abi.LeaseDesc{}, 0, false
	}

	var desc abi.LeaseDesc
	desc.UnmarshalBytes(raw)
	cIdx, _ := k.table.IndexOf(lender)
	return desc, cIdx, true
}

// leaseWindow validates the sub-range [offset, offset+length) of a lease
// and returns it as a byte region in the lender's address space.
func leaseWindow(desc abi.LeaseDesc, offset, length uint64) (mem.Region, bool) {
	if offset > desc.Length || length > desc.Length-offset {
		return mem.Region{}, false
	}
	addr, carry := bits.Add64(desc.Address, offset, 0)
	if carry != 0 {
		return mem.Region{}, false
	}
	r, err := mem.Bytes(addr, length)
	if err != nil {
		return mem.Region{}, false
	}
	return r, true
}

// borrowInfo returns a fresh snapshot of the lease's declared properties.
func (k *Kernel) borrowInfo(selfIdx int, lender abi.TaskID, index uint32) (abi.BorrowInfo, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	self := k.table.Get(selfIdx)
	if self == nil || !self.Alive() {
		return abi.BorrowInfo{}, false, ErrTaskFaulted
	}
	desc, _, ok := k.leaseDescLocked(self, lender, index)
	if !ok {
		k.countBorrow("info", "absent")
		return abi.BorrowInfo{}, false, nil
	}
	k.countBorrow("info", "ok")
	return abi.BorrowInfo{Attributes: desc.Attributes, Length: desc.Length}, true, nil
}

// borrowRead copies exactly dest.Length bytes from the lease window at
// offset into the server's dest range.
func (k *Kernel) borrowRead(selfIdx int, lender abi.TaskID, index uint32, offset uint64, dest abi.Span) (bool, error) {
	return k.borrowTransfer(selfIdx, lender, index, offset, dest, false)
}

// borrowWrite copies exactly src.Length bytes from the server's src range
// into the lease window at offset.
func (k *Kernel) borrowWrite(selfIdx int, lender abi.TaskID, index uint32, offset uint64, src abi.Span) (bool, error) {
	return k.borrowTransfer(selfIdx, lender, index, offset, src, true)
}

func (k *Kernel) borrowTransfer(selfIdx int, lender abi.TaskID, index uint32, offset uint64, local abi.Span, write bool) (bool, error) {
	kind := "read"
	if write {
		kind = "write"
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	self := k.table.Get(selfIdx)
	if self == nil || !self.Alive() {
		return false, ErrTaskFaulted
	}

	// The server's own buffer claim is held to the same standard as any
	// other syscall argument: malformed shape faults the server.
	localR, ok := k.validateSpanLocked(self, local)
	if !ok {
		return false, ErrTaskFaulted
	}

	desc, lenderIdx, ok := k.leaseDescLocked(self, lender, index)
	if !ok {
		k.countBorrow(kind, "absent")
		return false, nil
	}

	// The lease must grant the direction being exercised.
	if write && !desc.Attributes.CanWrite() || !write && !desc.Attributes.CanRead() {
		k.countBorrow(kind, "denied")
		return false, nil
	}

	window, ok := leaseWindow(desc, offset, local.Length)
	if !ok {
		k.countBorrow(kind, "range")
		return false, nil
	}

	var n int
	var iFault *fault.Interact
	if write {
		n, iFault = ipc.SafeCopy(k.table, selfIdx, localR, lenderIdx, window)
	} else {
		n, iFault = ipc.SafeCopy(k.table, lenderIdx, window, selfIdx, localR)
	}
	if iFault != nil {
		var lenderFault, selfFault *fault.Memory
		if write {
			selfFault, lenderFault = iFault.Src, iFault.Dst
		} else {
			lenderFault, selfFault = iFault.Src, iFault.Dst
		}
		if lenderFault != nil {
			// The client leased memory it cannot actually access.
			if c, ok := k.table.Lookup(lender); ok && c.Alive() {
				k.faultLocked(c, fault.FromMemory(lenderFault))
			}
		}
		if selfFault != nil {
			k.faultLocked(self, fault.FromMemory(selfFault))
			k.countBorrow(kind, "fault")
			return false, ErrTaskFaulted
		}
		k.countBorrow(kind, "fault")
		return false, nil
	}

	if k.metrics != nil {
		k.metrics.CopyBytesTotal.Add(float64(n))
	}
	k.countBorrow(kind, "ok")
	return true, nil
}

func (k *Kernel) countBorrow(kind, result string) {
	if k.metrics != nil {
		k.metrics.BorrowOpsTotal.WithLabelValues(kind, result).Inc()
	}
}
