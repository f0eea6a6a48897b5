package mem

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Valid(t *testing.T) {
	r, err := New[uint32](0x1000, 16)
	require.NoError(t, err)

	assert.Equal(t, uint64(16), r.Len())
	assert.Equal(t, uint64(0x1000), r.BaseAddr())
	assert.Equal(t, uint64(64), r.SizeInBytes())
	assert.Equal(t, uint64(0x1040), r.EndAddr())
	assert.False(t, r.IsEmpty())

	last, ok := r.LastByteAddr()
	require.True(t, ok)
	assert.Equal(t, uint64(0x103f), last)
}

func TestNew_RejectsMisalignedBase(t *testing.T) {
	for _, base := range []uint64{1, 2, 3, 0x1001, 0x1002, 0x1003} {
		_, err := New[uint32](base, 1)
		assert.ErrorIs(t, err, ErrMisaligned, "base %#x", base)
		assert.ErrorIs(t, err, ErrInvalidSlice)
	}
	// Byte regions are aligned everywhere.
	_, err := Bytes(0x1001, 7)
	assert.NoError(t, err)
}

func TestNew_RejectsZeroSizedElement(t *testing.T) {
	// Zero-sized elements have no fit semantics, for any base or length.
	for _, base := range []uint64{0, 8, 0x2000} {
		for _, length := range []uint64{0, 1, 1000} {
			_, err := New[struct{}](base, length)
			assert.ErrorIs(t, err, ErrZeroSized)
		}
	}
}

func TestNew_RejectsOverflowingByteSize(t *testing.T) {
	_, err := New[uint64](0, math.MaxUint64/4)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestNew_AddressSpaceBoundary(t *testing.T) {
	// Succeeds exactly when base + length*size stays within the space.
	_, err := Bytes(math.MaxUint64-16, 16)
	assert.NoError(t, err)

	_, err = Bytes(math.MaxUint64-16, 17)
	assert.ErrorIs(t, err, ErrWraps)

	_, err = Bytes(math.MaxUint64, 1)
	assert.ErrorIs(t, err, ErrWraps)

	// The very top byte is reachable.
	r, err := Bytes(math.MaxUint64-1, 1)
	require.NoError(t, err)
	last, ok := r.LastByteAddr()
	require.True(t, ok)
	assert.Equal(t, uint64(math.MaxUint64-1), last)
}

func TestEmpty(t *testing.T) {
	r := Empty[uint64]()
	assert.True(t, r.IsEmpty())
	assert.Equal(t, uint64(0), r.Len())
	assert.NotZero(t, r.BaseAddr(), "empty region anchors at a non-null address")
	assert.Zero(t, r.BaseAddr()%8, "empty region stays aligned")

	_, ok := r.LastByteAddr()
	assert.False(t, ok)
}

func TestAliases_Symmetric(t *testing.T) {
	mk := func(base, length uint64) Region {
		r, err := Bytes(base, length)
		if err != nil {
			t.Fatalf("Bytes(%#x, %d): %v", base, length, err)
		}
		return r
	}

	cases := []struct {
		name string
		a, b Region
		want bool
	}{
		{"disjoint", mk(0x100, 16), mk(0x200, 16), false},
		{"adjacent", mk(0x100, 16), mk(0x110, 16), false},
		{"overlap head", mk(0x100, 32), mk(0x110, 32), true},
		{"contained", mk(0x100, 64), mk(0x110, 8), true},
		{"identical", mk(0x100, 16), mk(0x100, 16), true},
		{"single shared byte", mk(0x100, 17), mk(0x110, 16), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Aliases(tc.b))
			assert.Equal(t, tc.want, tc.b.Aliases(tc.a), "aliasing must be symmetric")
		})
	}
}

func TestAliases_EmptyAliasesNothing(t *testing.T) {
	empty := Empty[byte]()
	full, err := Bytes(0, 128)
	require.NoError(t, err)

	assert.False(t, empty.Aliases(full))
	assert.False(t, full.Aliases(empty))
	assert.False(t, empty.Aliases(empty), "an empty region does not alias itself")
}

func TestAsBytes(t *testing.T) {
	r, err := New[uint32](0x1000, 4)
	require.NoError(t, err)

	b := r.AsBytes()
	assert.Equal(t, uint64(16), b.Len())
	assert.Equal(t, r.BaseAddr(), b.BaseAddr())
	assert.Equal(t, r.EndAddr(), b.EndAddr())
}
