// Package kernel ties the pieces of the IPC core together: the task table,
// the rendezvous syscalls, notifications, fault handling, metrics, and the
// event feed consumed by the inspection surface.
//
// The model is cooperative and synchronous: a send blocks the caller until
// the destination replies, a receive blocks until a message or a masked
// notification arrives. The kernel alone decides whether any actual memory
// access succeeds; everything a task passes in is an allegation checked by
// the region validator and the access oracle before a single byte moves.
package kernel

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberos/ember/internal/abi"
	"github.com/emberos/ember/internal/infrastructure/logging"
	"github.com/emberos/ember/internal/infrastructure/monitoring"
	"github.com/emberos/ember/internal/kernel/fault"
	"github.com/emberos/ember/internal/kernel/task"
)

var (
	// ErrTaskFaulted is returned to a task's goroutine when the kernel
	// has faulted it; the goroutine must unwind, not retry.
	ErrTaskFaulted = errors.New("task faulted")

	// ErrNotWaiting rejects a reply aimed at a task that is not blocked
	// waiting on the replier. Replying twice, or to the wrong caller,
	// surfaces here instead of corrupting someone's reply buffer.
	ErrNotWaiting = errors.New("destination is not waiting for a reply from this task")
)

const (
	ramFloor     = uint64(0x2000_0000)
	ramAlignment = uint64(0x1_0000)
)

// EntryFunc is a task body. It runs on its own goroutine and talks to the
// kernel exclusively through the Handle. Returning, with or without an
// error, stops the task.
type EntryFunc func(h *Handle) error

// Kernel is the IPC core. All mutable task state is reached through the
// table under one lock; at most one operation mutates the task set at a
// time, mirroring a single-core cooperative kernel.
type Kernel struct {
	mu        sync.Mutex
	table     *task.Table
	ramCursor uint64

	bootID  string
	log     *logging.Logger
	metrics *monitoring.Metrics
	events  *EventBus

	wg sync.WaitGroup
}

// Options configures a Kernel. Zero values are usable: logging is
// discarded and metrics are skipped.
type Options struct {
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	// EventBuffer is the per-subscriber event queue depth; 0 means
	// DefaultEventBuffer.
	EventBuffer int
}

// New creates an empty kernel.
func New(opts Options) *Kernel {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &Kernel{
		table:     task.NewTable(),
		ramCursor: ramFloor,
		bootID:    uuid.New().String(),
		log:       log.Named("kernel"),
		metrics:   opts.Metrics,
		events:    newEventBus(opts.EventBuffer),
	}
}

// BootID identifies this kernel instance in logs and the inspection API.
func (k *Kernel) BootID() string { return k.bootID }

// Events returns the kernel's event bus.
func (k *Kernel) Events() *EventBus { return k.events }

// AddTask allocates a task slot and its simulated RAM without starting a
// goroutine for it. Tests and in-process drivers use the returned Handle
// directly; Spawn is the usual path.
func (k *Kernel) AddTask(name string, ramBytes uint64) (*Handle, error) {
	k.mu.Lock()
	idx := k.table.Len()
	if idx > math.MaxUint16 {
		k.mu.Unlock()
		return nil, fmt.Errorf("task table full")
	}
	id := abi.TaskID{Index: uint16(idx)}
	base := k.ramCursor
	t, err := task.New(id, name, base, ramBytes)
	if err != nil {
		k.mu.Unlock()
		return nil, err
	}
	k.table.Add(t)
	k.ramCursor += ((ramBytes + ramAlignment - 1) &^ (ramAlignment - 1)) + ramAlignment
	k.mu.Unlock()

	if k.metrics != nil {
		k.metrics.TasksSpawned.Inc()
		k.metrics.TasksActive.Inc()
	}
	k.log.Info("task created",
		zap.String("task", id.String()),
		zap.String("name", name),
		zap.Uint64("ram_base", base),
		zap.Uint64("ram_bytes", ramBytes))
	k.events.publish(Event{Kind: EventSpawn, Task: id.String(), Name: name})

	return &Handle{k: k, id: id, idx: idx, base: base, ram: t.Regions()[0].Backing}, nil
}

// Spawn creates a task and runs entry on its own goroutine. The task stops
// when entry returns.
func (k *Kernel) Spawn(name string, ramBytes uint64, entry EntryFunc) (abi.TaskID, error) {
	h, err := k.AddTask(name, ramBytes)
	if err != nil {
		return abi.TaskID{}, err
	}
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		err := entry(h)
		k.reap(h.id, err)
	}()
	return h.id, nil
}

// Kill forcibly stops a task: queued and blocked peers observe it as dead,
// and any in-flight lease access against it fails from now on.
func (k *Kernel) Kill(id abi.TaskID) bool {
	k.mu.Lock()
	t, ok := k.table.Lookup(id)
	if !ok || !t.Alive() {
		k.mu.Unlock()
		return false
	}
	k.terminateLocked(t, nil)
	k.mu.Unlock()

	k.log.Warn("task killed", zap.String("task", id.String()), zap.String("name", t.Name()))
	k.events.publish(Event{Kind: EventExit, Task: id.String(), Name: t.Name(), Detail: "killed"})
	return true
}

// Post delivers notification bits to a task, coalescing with whatever is
// already pending and waking the task if it is receiving with a matching
// mask. Posting to a dead task is a no-op.
func (k *Kernel) Post(dest abi.TaskID, bits uint32) bool {
	k.mu.Lock()
	t, ok := k.table.Lookup(dest)
	if !ok || !t.Alive() {
		k.mu.Unlock()
		return false
	}
	t.PostNotification(bits)
	if t.State() == task.StateInRecv {
		if hit := t.TakeNotifications(t.RecvMask); hit != 0 {
			t.SetState(task.StateReady)
			t.CompleteRecv(task.RecvOutcome{Message: abi.RecvMessage{
				Notification:     true,
				NotificationBits: hit,
			}})
		}
	}
	k.mu.Unlock()

	if k.metrics != nil {
		k.metrics.NotificationsTotal.Inc()
	}
	k.events.publish(Event{Kind: EventNotify, Task: dest.String(), Bits: bits})
	return true
}

// Wait blocks until every spawned task goroutine has returned.
func (k *Kernel) Wait() { k.wg.Wait() }

// reap records a task goroutine's exit.
func (k *Kernel) reap(id abi.TaskID, err error) {
	k.mu.Lock()
	t, ok := k.table.Lookup(id)
	if ok && t.Alive() {
		k.terminateLocked(t, nil)
	}
	k.mu.Unlock()

	if err != nil && !errors.Is(err, ErrTaskFaulted) {
		k.log.Error("task exited with error", zap.String("task", id.String()), zap.Error(err))
	} else {
		k.log.Info("task exited", zap.String("task", id.String()))
	}
	k.events.publish(Event{Kind: EventExit, Task: id.String()})
}

// faultLocked records a fault against t and isolates it. Callers hold k.mu.
func (k *Kernel) faultLocked(t *task.Task, info *fault.Info) {
	k.terminateLocked(t, info)
	if k.metrics != nil {
		k.metrics.FaultsTotal.WithLabelValues(info.Kind.String()).Inc()
	}
	k.log.Warn("task faulted",
		zap.String("task", t.ID().String()),
		zap.String("name", t.Name()),
		zap.String("fault", info.String()))
	k.events.publish(Event{Kind: EventFault, Task: t.ID().String(), Name: t.Name(), Detail: info.String()})
}

// terminateLocked moves t out of the living set and unblocks everyone
// entangled with it: queued senders, senders awaiting its reply, and t's
// own goroutine if it is parked in a syscall. info != nil faults the task;
// nil stops it.
func (k *Kernel) terminateLocked(t *task.Task, info *fault.Info) {
	if info != nil {
		t.Fault(info)
	} else {
		t.SetState(task.StateStopped)
	}

	// Senders queued on t never get received: dead.
	for _, si := range t.Queue {
		s := k.table.Get(si)
		if s != nil && s.State() == task.StateInSend && s.Send.Dest == t.ID() {
			s.SetState(task.StateReady)
			s.CompleteSend(task.SendOutcome{Code: abi.ResponseDead})
		}
	}
	t.Queue = nil

	// Senders already delivered to t and awaiting its reply: dead.
	for i := 0; i < k.table.Len(); i++ {
		s := k.table.Get(i)
		if s == t {
			continue
		}
		if s.State() == task.StateInReply && s.Send.Dest == t.ID() {
			s.SetState(task.StateReady)
			s.CompleteSend(task.SendOutcome{Code: abi.ResponseDead})
		}
		// Drop t from any queue it still sits in.
		for qi := 0; qi < len(s.Queue); qi++ {
			if k.table.Get(s.Queue[qi]) == t {
				s.Queue = append(s.Queue[:qi], s.Queue[qi+1:]...)
				qi--
			}
		}
	}

	// Wake t's own goroutine if it is blocked.
	t.CompleteSend(task.SendOutcome{Faulted: true})
	t.CompleteRecv(task.RecvOutcome{Faulted: true})

	if k.metrics != nil {
		k.metrics.TasksActive.Dec()
	}
}
