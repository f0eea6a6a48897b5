package kernel

import (
	"math/bits"

	"go.uber.org/zap"

	"github.com/emberos/ember/internal/abi"
	"github.com/emberos/ember/internal/kernel/fault"
	"github.com/emberos/ember/internal/kernel/ipc"
	"github.com/emberos/ember/internal/kernel/mem"
	"github.com/emberos/ember/internal/kernel/task"
)

// validateSpan turns a task-supplied span into a byte region, faulting the
// task on a malformed claim. Callers hold k.mu.
func (k *Kernel) validateSpanLocked(t *task.Task, s abi.Span) (mem.Region, bool) {
	r, err := mem.Bytes(s.Address, s.Length)
	if err != nil {
		k.faultLocked(t, &fault.Info{
			Kind:    fault.KindInvalidSlice,
			Address: s.Address,
			Source:  fault.SourceUser,
		})
		return mem.Region{}, false
	}
	return r, true
}

// send implements the blocking send syscall for the task at callerIdx.
func (k *Kernel) send(callerIdx int, dest abi.TaskID, op uint16, payload, reply abi.Span, leaseAddr uint64, leaseCount uint32) (task.SendOutcome, error) {
	k.mu.Lock()
	caller := k.table.Get(callerIdx)
	if caller == nil || !caller.Alive() {
		k.mu.Unlock()
		return task.SendOutcome{}, ErrTaskFaulted
	}

	// Shape-validate every claimed range up front. Whether the caller can
	// actually access them is decided at use time by the oracle.
	if _, ok := k.validateSpanLocked(caller, payload); !ok {
		k.mu.Unlock()
		return task.SendOutcome{}, ErrTaskFaulted
	}
	if _, ok := k.validateSpanLocked(caller, reply); !ok {
		k.mu.Unlock()
		return task.SendOutcome{}, ErrTaskFaulted
	}
	hi, leaseBytes := bits.Mul64(uint64(leaseCount), abi.LeaseDescSize)
	if hi != 0 {
		k.faultLocked(caller, &fault.Info{Kind: fault.KindInvalidSlice, Address: leaseAddr, Source: fault.SourceUser})
		k.mu.Unlock()
		return task.SendOutcome{}, ErrTaskFaulted
	}
	leases := abi.Span{Address: leaseAddr, Length: leaseBytes}
	if _, ok := k.validateSpanLocked(caller, leases); !ok {
		k.mu.Unlock()
		return task.SendOutcome{}, ErrTaskFaulted
	}

	dst, ok := k.table.Lookup(dest)
	if !ok || !dst.Alive() {
		k.mu.Unlock()
		return task.SendOutcome{Code: abi.ResponseDead}, nil
	}

	done := caller.ArmSend(task.SendArgs{
		Dest:       dest,
		Operation:  op,
		Payload:    payload,
		Reply:      reply,
		Leases:     leases,
		LeaseCount: leaseCount,
	})

	dstIdx, _ := k.table.IndexOf(dest)
	if dst.State() == task.StateInRecv {
		k.deliverLocked(dst, dstIdx, callerIdx)
	} else {
		dst.Queue = append(dst.Queue, callerIdx)
	}
	k.mu.Unlock()

	out := <-done
	if out.Faulted {
		return task.SendOutcome{}, ErrTaskFaulted
	}
	return out, nil
}

// recv implements the blocking receive syscall for the task at selfIdx.
func (k *Kernel) recv(selfIdx int, buf abi.Span, mask uint32) (abi.RecvMessage, error) {
	k.mu.Lock()
	self := k.table.Get(selfIdx)
	if self == nil || !self.Alive() {
		k.mu.Unlock()
		return abi.RecvMessage{}, ErrTaskFaulted
	}
	if _, ok := k.validateSpanLocked(self, buf); !ok {
		k.mu.Unlock()
		return abi.RecvMessage{}, ErrTaskFaulted
	}

	// Pending masked notifications win over queued messages and never
	// block.
	if hit := self.TakeNotifications(mask); hit != 0 {
		k.mu.Unlock()
		return abi.RecvMessage{Notification: true, NotificationBits: hit}, nil
	}

	done := self.ArmRecv(buf, mask)

	// Drain the sender queue until one delivery sticks. Senders that died
	// or faulted while queued are skipped; a sender whose payload claim
	// fails its own access check faults and the next one is tried.
	for len(self.Queue) > 0 && self.State() == task.StateInRecv {
		senderIdx := self.Queue[0]
		self.Queue = self.Queue[1:]
		sender := k.table.Get(senderIdx)
		if sender == nil || sender.State() != task.StateInSend || sender.Send.Dest != self.ID() {
			continue
		}
		if k.deliverLocked(self, selfIdx, senderIdx) {
			break
		}
	}
	k.mu.Unlock()

	out := <-done
	if out.Faulted {
		return abi.RecvMessage{}, ErrTaskFaulted
	}
	return out.Message, nil
}

// deliverLocked moves the queued message of the sender at senderIdx into
// the receiver's buffer and unblocks the receiver. It reports whether the
// receiver was satisfied; false means the sender was at fault and the
// receiver still waits. Callers hold k.mu.
func (k *Kernel) deliverLocked(receiver *task.Task, receiverIdx, senderIdx int) bool {
	sender := k.table.Get(senderIdx)
	args := sender.Send

	// Both regions re-validate trivially; shapes were checked when the
	// respective syscalls were issued.
	payloadR, err := mem.Bytes(args.Payload.Address, args.Payload.Length)
	if err != nil {
		panic("kernel: armed sender holds an invalid payload span")
	}
	bufR, err := mem.Bytes(receiver.RecvBuf.Address, receiver.RecvBuf.Length)
	if err != nil {
		panic("kernel: armed receiver holds an invalid buffer span")
	}

	n, iFault := ipc.SafeCopy(k.table, senderIdx, payloadR, receiverIdx, bufR)
	if iFault != nil {
		if iFault.Dst != nil {
			// Receiver's own buffer claim failed: the receiver faults.
			k.faultLocked(receiver, fault.FromMemory(iFault.Dst))
		}
		if iFault.Src != nil {
			k.faultLocked(sender, fault.FromMemory(iFault.Src))
		}
		if iFault.Src == nil && iFault.Dst != nil && sender.State() == task.StateInSend {
			// Receiver alone was at fault and this sender had already been
			// dequeued, so termination handling missed it: wake it as dead.
			sender.SetState(task.StateReady)
			sender.CompleteSend(task.SendOutcome{Code: abi.ResponseDead})
		}
		return false
	}

	sender.SetState(task.StateInReply)
	receiver.SetState(task.StateReady)
	receiver.CompleteRecv(task.RecvOutcome{Message: abi.RecvMessage{
		Sender:           sender.ID(),
		Operation:        args.Operation,
		PayloadLen:       args.Payload.Length,
		ResponseCapacity: args.Reply.Length,
		LeaseCount:       args.LeaseCount,
	}})

	if k.metrics != nil {
		k.metrics.MessagesTotal.WithLabelValues(receiver.Name()).Inc()
		k.metrics.CopyBytesTotal.Add(float64(n))
	}
	k.events.publish(Event{
		Kind: EventMessage,
		Task: receiver.ID().String(),
		Name: receiver.Name(),
		From: sender.ID().String(),
		Op:   args.Operation,
	})
	return true
}

// reply implements the reply syscall: the task at selfIdx answers the
// caller identified by to.
func (k *Kernel) reply(selfIdx int, to abi.TaskID, code uint32, body abi.Span) error {
	k.mu.Lock()
	self := k.table.Get(selfIdx)
	if self == nil || !self.Alive() {
		k.mu.Unlock()
		return ErrTaskFaulted
	}

	caller, ok := k.table.Lookup(to)
	if !ok || !caller.Alive() {
		// The caller died while we worked. Nothing to unblock; the reply
		// is dropped rather than hanging anyone.
		k.mu.Unlock()
		k.log.Debug("reply to dead caller dropped", zap.String("caller", to.String()))
		return nil
	}
	if caller.State() != task.StateInReply || caller.Send.Dest != self.ID() {
		k.mu.Unlock()
		return ErrNotWaiting
	}

	bodyR, ok2 := k.validateSpanLocked(self, body)
	if !ok2 {
		k.mu.Unlock()
		return ErrTaskFaulted
	}
	if body.Length > caller.Send.Reply.Length {
		// Overrunning the caller's declared capacity is a server defect.
		k.faultLocked(self, &fault.Info{
			Kind:    fault.KindBadReply,
			Address: body.Address,
			Source:  fault.SourceUser,
		})
		k.mu.Unlock()
		return ErrTaskFaulted
	}

	callerIdx, _ := k.table.IndexOf(to)
	if body.Length > 0 {
		replyR, err := mem.Bytes(caller.Send.Reply.Address, caller.Send.Reply.Length)
		if err != nil {
			panic("kernel: armed caller holds an invalid reply span")
		}
		_, iFault := ipc.SafeCopy(k.table, selfIdx, bodyR, callerIdx, replyR)
		if iFault != nil {
			if iFault.Dst != nil {
				k.faultLocked(caller, fault.FromMemory(iFault.Dst))
			}
			if iFault.Src != nil {
				k.faultLocked(self, fault.FromMemory(iFault.Src))
				k.mu.Unlock()
				return ErrTaskFaulted
			}
			k.mu.Unlock()
			return nil
		}
		if k.metrics != nil {
			k.metrics.CopyBytesTotal.Add(float64(body.Length))
		}
	}

	caller.SetState(task.StateReady)
	caller.CompleteSend(task.SendOutcome{Code: code, ReplyLen: body.Length})
	k.mu.Unlock()

	if k.metrics != nil {
		outcome := "ok"
		if code != abi.ResponseOK {
			outcome = "error"
		}
		k.metrics.RepliesTotal.WithLabelValues(outcome).Inc()
	}
	k.events.publish(Event{
		Kind: EventReply,
		Task: self.ID().String(),
		Name: self.Name(),
		From: to.String(),
		Code: code,
	})
	return nil
}
