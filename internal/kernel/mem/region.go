// Package mem implements validated memory-range descriptors (regions).
//
// A Region is a shape, not a capability: construction proves the claimed
// range is well formed (aligned base, no length overflow, no address-space
// wraparound, nonzero element size) and nothing else. Whether the claiming
// task may actually touch the range is decided later, by the access oracle
// in the task package. The two phases are kept strictly separate; there is
// no constructor that checks both at once.
package mem

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"unsafe"
)

// ErrInvalidSlice is the umbrella error for every rejected construction.
// The specific causes below all wrap it, so callers can match either the
// family or the exact reason.
var ErrInvalidSlice = errors.New("invalid slice")

var (
	ErrZeroSized  = fmt.Errorf("%w: zero-sized element", ErrInvalidSlice)
	ErrMisaligned = fmt.Errorf("%w: base not aligned for element", ErrInvalidSlice)
	ErrOverflow   = fmt.Errorf("%w: byte size overflows", ErrInvalidSlice)
	ErrWraps      = fmt.Errorf("%w: range wraps past top of address space", ErrInvalidSlice)
)

// Region is a validated claim on a range of some task's address space:
// a base address plus a count of fixed-size elements. It is immutable and
// carries no ownership; holding one proves only that the shape is sane.
type Region struct {
	base      uint64
	length    uint64
	elemSize  uint64
	elemAlign uint64
}

// New validates a claimed range of elements of type T starting at base.
// It rejects zero-sized elements, a base not aligned for T, a byte size
// that overflows, and a range that would extend past the top of the
// address space. No memory is touched.
func New[T any](base, length uint64) (Region, error) {
	var zero T
	return newRegion(base, length, uint64(unsafe.Sizeof(zero)), uint64(unsafe.Alignof(zero)))
}

// Bytes validates a claimed byte range. Byte regions are what the copy
// engine and the lease machinery actually move.
func Bytes(base, length uint64) (Region, error) {
	return newRegion(base, length, 1, 1)
}

// Empty returns a zero-length region of T anchored at T's alignment, so
// it is non-null, correctly aligned, and always safe to view as an empty
// slice.
func Empty[T any]() Region {
	var zero T
	align := uint64(unsafe.Alignof(zero))
	return Region{base: align, length: 0, elemSize: uint64(unsafe.Sizeof(zero)), elemAlign: align}
}

func newRegion(base, length, elemSize, elemAlign uint64) (Region, error) {
	if elemSize == 0 {
		// No well-defined fit semantics; also indicates a defect in the
		// caller's type choice rather than bad input from a task.
		return Region{}, ErrZeroSized
	}
	if base%elemAlign != 0 {
		return Region{}, fmt.Errorf("%w: base %#x, align %d", ErrMisaligned, base, elemAlign)
	}
	hi, sizeInBytes := bits.Mul64(length, elemSize)
	if hi != 0 {
		return Region{}, fmt.Errorf("%w: %d elements of %d bytes", ErrOverflow, length, elemSize)
	}
	if base > math.MaxUint64-sizeInBytes {
		return Region{}, fmt.Errorf("%w: base %#x, size %#x", ErrWraps, base, sizeInBytes)
	}
	return Region{base: base, length: length, elemSize: elemSize, elemAlign: elemAlign}, nil
}

// Len returns the element count.
func (r Region) Len() uint64 { return r.length }

// IsEmpty reports whether the region covers no bytes.
func (r Region) IsEmpty() bool { return r.length == 0 }

// BaseAddr returns the first byte address of the claimed range.
func (r Region) BaseAddr() uint64 { return r.base }

// SizeInBytes returns the byte extent. Validation guarantees it cannot
// have overflowed.
func (r Region) SizeInBytes() uint64 { return r.length * r.elemSize }

// EndAddr returns one past the last byte of the range. Validation
// guarantees base+size does not wrap.
func (r Region) EndAddr() uint64 { return r.base + r.SizeInBytes() }

// LastByteAddr returns the address of the final byte, or ok=false for an
// empty region, which has no final byte.
func (r Region) LastByteAddr() (uint64, bool) {
	if r.IsEmpty() {
		return 0, false
	}
	return r.base + r.SizeInBytes() - 1, true
}

// Aliases reports whether the closed byte intervals of r and other
// intersect. Empty regions alias nothing, including themselves.
func (r Region) Aliases(other Region) bool {
	rLast, ok := r.LastByteAddr()
	if !ok {
		return false
	}
	oLast, ok := other.LastByteAddr()
	if !ok {
		return false
	}
	return r.base <= oLast && other.base <= rLast
}

// AsBytes reinterprets the region as a byte region covering the same
// range. Bytes are always aligned, so this cannot fail.
func (r Region) AsBytes() Region {
	return Region{base: r.base, length: r.SizeInBytes(), elemSize: 1, elemAlign: 1}
}

func (r Region) String() string {
	return fmt.Sprintf("[%#x..%#x) x%d", r.base, r.EndAddr(), r.elemSize)
}
