// Package task models kernel task state: the per-task region table that
// acts as the access oracle, pending notifications, rendezvous bookkeeping,
// and the table granting at most one mutable view per task index.
package task

import (
	"fmt"

	"github.com/emberos/ember/internal/abi"
	"github.com/emberos/ember/internal/kernel/fault"
	"github.com/emberos/ember/internal/kernel/mem"
)

// State is a task's run state.
type State uint8

const (
	// StateReady means the task is runnable and not blocked in IPC.
	StateReady State = iota
	// StateInSend means the task has issued a send that has not yet been
	// received by its destination.
	StateInSend
	// StateInReply means the task's message was delivered and it is
	// waiting for the reply; its leases are borrowable in this state.
	StateInReply
	// StateInRecv means the task is blocked waiting for a message or a
	// masked notification.
	StateInRecv
	// StateFaulted means the kernel faulted the task; it no longer runs
	// and its peers observe it as dead.
	StateFaulted
	// StateStopped means the task exited.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateInSend:
		return "in-send"
	case StateInReply:
		return "in-reply"
	case StateInRecv:
		return "in-recv"
	case StateFaulted:
		return "faulted"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// MemRegion is one entry of a task's region table: a validated byte range
// the task may access, the access it has, and the backing storage for the
// simulated address space.
type MemRegion struct {
	Range   mem.Region
	Attrs   abi.Attributes
	Backing []byte
}

// SendArgs records a blocked sender's declared arguments while it sits in
// StateInSend or StateInReply. All spans are allegations until checked.
type SendArgs struct {
	Dest       abi.TaskID
	Operation  uint16
	Payload    abi.Span
	Reply      abi.Span
	Leases     abi.Span // raw lease-descriptor table in the sender's memory
	LeaseCount uint32
}

// SendOutcome is what eventually unblocks a sender.
type SendOutcome struct {
	Code     uint32
	ReplyLen uint64
	// Faulted tells the task's goroutine that it has been faulted by the
	// kernel and must unwind instead of interpreting Code.
	Faulted bool
}

// RecvOutcome is what eventually unblocks a receiver.
type RecvOutcome struct {
	Message abi.RecvMessage
	Faulted bool
}

// Task is one kernel task slot.
type Task struct {
	id      abi.TaskID
	name    string
	state   State
	regions []MemRegion

	notifications uint32
	faultRec      *fault.Info

	// Valid while state is StateInSend or StateInReply.
	Send     SendArgs
	sendDone chan SendOutcome

	// Valid while state is StateInRecv.
	RecvBuf  abi.Span
	RecvMask uint32
	recvDone chan RecvOutcome

	// Senders queued on this task, in arrival order, by table index.
	Queue []int
}

// New creates a task with a single read-write RAM region at base.
func New(id abi.TaskID, name string, ramBase, ramBytes uint64) (*Task, error) {
	rng, err := mem.Bytes(ramBase, ramBytes)
	if err != nil {
		return nil, fmt.Errorf("task %q ram: %w", name, err)
	}
	return &Task{
		id:    id,
		name:  name,
		state: StateReady,
		regions: []MemRegion{{
			Range:   rng,
			Attrs:   abi.AttributeRead | abi.AttributeWrite,
			Backing: make([]byte, ramBytes),
		}},
	}, nil
}

// ID returns the task's identity, generation included.
func (t *Task) ID() abi.TaskID { return t.id }

// Name returns the manifest name of the task.
func (t *Task) Name() string { return t.name }

// State returns the task's current run state.
func (t *Task) State() State { return t.state }

// SetState moves the task to s.
func (t *Task) SetState(s State) { t.state = s }

// Alive reports whether the task can still participate in IPC.
func (t *Task) Alive() bool {
	return t.state != StateFaulted && t.state != StateStopped
}

// Fault records why the task was faulted and moves it to StateFaulted.
func (t *Task) Fault(info *fault.Info) {
	t.faultRec = info
	t.state = StateFaulted
}

// FaultRecord returns the recorded fault, or nil.
func (t *Task) FaultRecord() *fault.Info { return t.faultRec }

// PostNotification coalesces bits into the pending set.
func (t *Task) PostNotification(bits uint32) {
	t.notifications |= bits
}

// TakeNotifications removes and returns the pending bits selected by mask.
func (t *Task) TakeNotifications(mask uint32) uint32 {
	hit := t.notifications & mask
	t.notifications &^= hit
	return hit
}

// PendingNotifications returns the pending bit-set without clearing it.
func (t *Task) PendingNotifications() uint32 { return t.notifications }

// Regions returns the task's region table.
func (t *Task) Regions() []MemRegion { return t.regions }

// ArmSend parks the task's send arguments and returns the channel the
// kernel will complete when the call finishes.
func (t *Task) ArmSend(args SendArgs) <-chan SendOutcome {
	t.Send = args
	t.sendDone = make(chan SendOutcome, 1)
	t.state = StateInSend
	return t.sendDone
}

// CompleteSend unblocks the sender with the given outcome.
func (t *Task) CompleteSend(out SendOutcome) {
	done := t.sendDone
	t.sendDone = nil
	if done != nil {
		done <- out
	}
}

// ArmRecv parks the task's receive arguments and returns the wakeup
// channel.
func (t *Task) ArmRecv(buf abi.Span, mask uint32) <-chan RecvOutcome {
	t.RecvBuf = buf
	t.RecvMask = mask
	t.recvDone = make(chan RecvOutcome, 1)
	t.state = StateInRecv
	return t.recvDone
}

// CompleteRecv unblocks the receiver with the given outcome.
func (t *Task) CompleteRecv(out RecvOutcome) {
	done := t.recvDone
	t.recvDone = nil
	if done != nil {
		done <- out
	}
}
