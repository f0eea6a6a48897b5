package task

import (
	"github.com/emberos/ember/internal/abi"
	"github.com/emberos/ember/internal/kernel/fault"
	"github.com/emberos/ember/internal/kernel/mem"
)

// The access oracle. A validated region is still only an allegation; these
// methods are the authority on whether this task may actually touch the
// claimed bytes, consulting the task's region table. They are total: any
// input, including a hostile one, yields a slice or a fault, never a panic.

// TryRead returns the backing bytes for r if the task may read the whole
// range, or a read fault at r's base address.
func (t *Task) TryRead(r mem.Region) ([]byte, *fault.Memory) {
	return t.tryAccess(r, abi.AttributeRead, fault.AccessRead)
}

// TryWrite returns the backing bytes for r if the task may write the whole
// range, or a write fault at r's base address.
func (t *Task) TryWrite(r mem.Region) ([]byte, *fault.Memory) {
	return t.tryAccess(r, abi.AttributeWrite, fault.AccessWrite)
}

func (t *Task) tryAccess(r mem.Region, need abi.Attributes, acc fault.Access) ([]byte, *fault.Memory) {
	b := r.AsBytes()
	if b.IsEmpty() {
		// The empty region is accessible to everyone; it selects no bytes.
		return nil, nil
	}
	for i := range t.regions {
		reg := &t.regions[i]
		if reg.Attrs&need != need {
			continue
		}
		if b.BaseAddr() >= reg.Range.BaseAddr() && b.EndAddr() <= reg.Range.EndAddr() {
			return reg.slice(b), nil
		}
	}
	return nil, &fault.Memory{Address: b.BaseAddr(), Access: acc, Source: fault.SourceKernel}
}

// UncheckedBytes resolves r against the region table without any
// permission check. This is the escape hatch that turns a validated shape
// into real bytes; the caller must already have proven, via TryRead or
// TryWrite, that the access is legal. It exists only so an access-check
// result need not be recomputed, and returns ok=false when the range is
// not backed at all.
func (t *Task) UncheckedBytes(r mem.Region) ([]byte, bool) {
	b := r.AsBytes()
	if b.IsEmpty() {
		return nil, true
	}
	for i := range t.regions {
		reg := &t.regions[i]
		if b.BaseAddr() >= reg.Range.BaseAddr() && b.EndAddr() <= reg.Range.EndAddr() {
			return reg.slice(b), true
		}
	}
	return nil, false
}

// slice maps the byte region b, known to lie inside reg, onto the backing
// storage.
func (reg *MemRegion) slice(b mem.Region) []byte {
	off := b.BaseAddr() - reg.Range.BaseAddr()
	return reg.Backing[off : off+b.SizeInBytes()]
}
