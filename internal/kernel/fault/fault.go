// Package fault defines the kernel's fault taxonomy: memory-access faults
// attributed to a single task, aggregate faults for two-sided operations,
// and the records kept on a task that has been faulted.
package fault

import "fmt"

// Source records which side detected a memory fault.
type Source uint8

const (
	// SourceUser marks a fault raised while validating arguments a task
	// passed directly to a syscall: its own bad claim.
	SourceUser Source = iota
	// SourceKernel marks a fault detected while the kernel itself was
	// accessing memory on a task's behalf, e.g. during a cross-task copy.
	SourceKernel
)

func (s Source) String() string {
	switch s {
	case SourceUser:
		return "user"
	case SourceKernel:
		return "kernel"
	default:
		return fmt.Sprintf("source(%d)", uint8(s))
	}
}

// Access is the direction of the access that faulted.
type Access uint8

const (
	AccessRead Access = iota
	AccessWrite
)

func (a Access) String() string {
	if a == AccessWrite {
		return "write"
	}
	return "read"
}

// Memory describes one failed memory access, attributed to a specific
// task (implied by where the fault is reported) and a specific address.
type Memory struct {
	Address uint64
	Access  Access
	Source  Source
}

func (m *Memory) String() string {
	return fmt.Sprintf("memory fault: %s at %#x (%s-detected)", m.Access, m.Address, m.Source)
}

// Interact aggregates the outcome of a two-sided copy. Both sides are
// checked independently, so both fields may be populated at once; at
// least one always is.
type Interact struct {
	Src *Memory // fault attributed to the source task, nil if its check passed
	Dst *Memory // fault attributed to the destination task, nil if its check passed
}

func (f *Interact) String() string {
	switch {
	case f.Src != nil && f.Dst != nil:
		return fmt.Sprintf("interact fault: src %s; dst %s", f.Src, f.Dst)
	case f.Src != nil:
		return fmt.Sprintf("interact fault: src %s", f.Src)
	case f.Dst != nil:
		return fmt.Sprintf("interact fault: dst %s", f.Dst)
	default:
		return "interact fault: (empty)"
	}
}

// Kind classifies a recorded task fault.
type Kind uint8

const (
	// KindMemoryAccess is a failed ownership or permission check, or a
	// destructive-aliasing rejection.
	KindMemoryAccess Kind = iota
	// KindInvalidSlice is a malformed memory-range claim: misaligned
	// base, overflowing length, or a range wrapping the address space.
	KindInvalidSlice
	// KindBadReply is a reply whose body exceeds the caller's declared
	// response capacity.
	KindBadReply
)

func (k Kind) String() string {
	switch k {
	case KindMemoryAccess:
		return "memory-access"
	case KindInvalidSlice:
		return "invalid-slice"
	case KindBadReply:
		return "bad-reply"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Info is the fault record stored on a task when the kernel faults it.
// Supervisor-driven restart policy is external; the kernel only records
// and isolates.
type Info struct {
	Kind    Kind
	Address uint64
	Access  Access
	Source  Source
}

func (i *Info) String() string {
	return fmt.Sprintf("%s fault: %s at %#x (%s-detected)", i.Kind, i.Access, i.Address, i.Source)
}

// FromMemory builds a task fault record from a memory fault.
func FromMemory(m *Memory) *Info {
	return &Info{Kind: KindMemoryAccess, Address: m.Address, Access: m.Access, Source: m.Source}
}
