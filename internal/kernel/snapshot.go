package kernel

import (
	"github.com/emberos/ember/internal/kernel/task"
)

// TaskSnapshot is a point-in-time view of one task slot for the
// inspection API.
type TaskSnapshot struct {
	Index         uint16 `json:"index"`
	Generation    uint8  `json:"generation"`
	Name          string `json:"name"`
	State         string `json:"state"`
	Notifications uint32 `json:"notifications"`
	QueuedSenders int    `json:"queued_senders"`
	Fault         string `json:"fault,omitempty"`
	RAMBase       uint64 `json:"ram_base"`
	RAMBytes      uint64 `json:"ram_bytes"`
}

// Snapshot captures the state of every task slot.
func (k *Kernel) Snapshot() []TaskSnapshot {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]TaskSnapshot, 0, k.table.Len())
	for i := 0; i < k.table.Len(); i++ {
		out = append(out, k.snapshotLocked(k.table.Get(i)))
	}
	return out
}

// SnapshotTask captures one task slot by index.
func (k *Kernel) SnapshotTask(index int) (TaskSnapshot, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	t := k.table.Get(index)
	if t == nil {
		return TaskSnapshot{}, false
	}
	return k.snapshotLocked(t), true
}

func (k *Kernel) snapshotLocked(t *task.Task) TaskSnapshot {
	ram := t.Regions()[0]
	s := TaskSnapshot{
		Index:         t.ID().Index,
		Generation:    t.ID().Generation,
		Name:          t.Name(),
		State:         t.State().String(),
		Notifications: t.PendingNotifications(),
		QueuedSenders: len(t.Queue),
		RAMBase:       ram.Range.BaseAddr(),
		RAMBytes:      ram.Range.SizeInBytes(),
	}
	if rec := t.FaultRecord(); rec != nil {
		s.Fault = rec.String()
	}
	return s
}
