package task

import (
	"fmt"

	"github.com/emberos/ember/internal/abi"
)

// Table is the global task arena, indexed by small integers. All shared
// mutable task state lives here; tasks never hold references to each
// other, only indices.
type Table struct {
	tasks []*Task
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// Add appends t and returns its index.
func (tb *Table) Add(t *Task) int {
	tb.tasks = append(tb.tasks, t)
	return len(tb.tasks) - 1
}

// Len returns the number of task slots.
func (tb *Table) Len() int { return len(tb.tasks) }

// Get returns the task at index i, or nil when i is out of range.
func (tb *Table) Get(i int) *Task {
	if i < 0 || i >= len(tb.tasks) {
		return nil
	}
	return tb.tasks[i]
}

// Lookup resolves a generation-tagged ID to its task. ok is false when the
// index is out of range or the generation does not match the current
// occupant.
func (tb *Table) Lookup(id abi.TaskID) (*Task, bool) {
	t := tb.Get(int(id.Index))
	if t == nil || t.id.Generation != id.Generation {
		return nil, false
	}
	return t, true
}

// IndexOf resolves a generation-tagged ID to its table index.
func (tb *Table) IndexOf(id abi.TaskID) (int, bool) {
	if _, ok := tb.Lookup(id); !ok {
		return 0, false
	}
	return int(id.Index), true
}

// PairMut returns mutable handles to two distinct task slots. Asking for
// the same index twice is a caller-contract violation: it panics rather
// than silently aliasing a task against itself.
func (tb *Table) PairMut(i, j int) (*Task, *Task) {
	if i == j {
		panic(fmt.Sprintf("task.Table.PairMut: identical indices %d", i))
	}
	a, b := tb.Get(i), tb.Get(j)
	if a == nil || b == nil {
		panic(fmt.Sprintf("task.Table.PairMut: index out of range (%d, %d) of %d", i, j, len(tb.tasks)))
	}
	return a, b
}
