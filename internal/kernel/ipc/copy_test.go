package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberos/ember/internal/abi"
	"github.com/emberos/ember/internal/kernel/fault"
	"github.com/emberos/ember/internal/kernel/mem"
	"github.com/emberos/ember/internal/kernel/task"
)

const (
	srcBase = uint64(0x1000)
	dstBase = uint64(0x8000)
)

func twoTasks(t *testing.T) *task.Table {
	t.Helper()
	tb := task.NewTable()
	a, err := task.New(abi.TaskID{Index: 0}, "src", srcBase, 256)
	require.NoError(t, err)
	b, err := task.New(abi.TaskID{Index: 1}, "dst", dstBase, 256)
	require.NoError(t, err)
	tb.Add(a)
	tb.Add(b)
	return tb
}

func bytesRegion(t *testing.T, base, length uint64) mem.Region {
	t.Helper()
	r, err := mem.Bytes(base, length)
	require.NoError(t, err)
	return r
}

func fill(t *testing.T, tk *task.Task, base uint64, data []byte) {
	t.Helper()
	b, f := tk.TryWrite(bytesRegion(t, base, uint64(len(data))))
	require.Nil(t, f)
	copy(b, data)
}

func snoop(t *testing.T, tk *task.Task, base, n uint64) []byte {
	t.Helper()
	b, f := tk.TryRead(bytesRegion(t, base, n))
	require.Nil(t, f)
	out := make([]byte, n)
	copy(out, b)
	return out
}

func TestSafeCopy_CopiesMinOfBothLengths(t *testing.T) {
	tb := twoTasks(t)
	fill(t, tb.Get(0), srcBase, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	n, f := SafeCopy(tb, 0, bytesRegion(t, srcBase, 10), 1, bytesRegion(t, dstBase, 4))
	require.Nil(t, f)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{1, 2, 3, 4}, snoop(t, tb.Get(1), dstBase, 4))

	// Bytes past copyLen on the destination stay untouched.
	assert.Equal(t, []byte{0, 0, 0, 0}, snoop(t, tb.Get(1), dstBase+4, 4))
}

func TestSafeCopy_ShortSource(t *testing.T) {
	tb := twoTasks(t)
	fill(t, tb.Get(0), srcBase, []byte{0xAB, 0xCD})

	n, f := SafeCopy(tb, 0, bytesRegion(t, srcBase, 2), 1, bytesRegion(t, dstBase, 64))
	require.Nil(t, f)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0xAB, 0xCD, 0, 0}, snoop(t, tb.Get(1), dstBase, 4))
}

func TestSafeCopy_AliasBlamesDestination(t *testing.T) {
	tb := twoTasks(t)
	fill(t, tb.Get(0), srcBase, []byte{9, 9, 9, 9, 9, 9, 9, 9})

	// Overlapping byte ranges: the aliasing rule must fire before the
	// destination task's oracle is ever consulted.
	src := bytesRegion(t, srcBase, 8)
	dst := bytesRegion(t, srcBase+4, 8)

	before := snoop(t, tb.Get(0), srcBase, 16)

	n, f := SafeCopy(tb, 0, src, 1, dst)
	assert.Equal(t, 0, n)
	require.NotNil(t, f)
	assert.Nil(t, f.Src, "source side passed its check")
	require.NotNil(t, f.Dst)
	assert.Equal(t, dst.BaseAddr(), f.Dst.Address, "fault is attributed to the destination base")
	assert.Equal(t, fault.SourceKernel, f.Dst.Source, "aliasing is a kernel-detected fault")

	// Nothing was written anywhere.
	assert.Equal(t, before, snoop(t, tb.Get(0), srcBase, 16))
}

func TestSafeCopy_BothSidesFaulted(t *testing.T) {
	tb := twoTasks(t)

	// Neither range is backed by its task's RAM.
	n, f := SafeCopy(tb, 0, bytesRegion(t, 0xF000, 8), 1, bytesRegion(t, 0xF800, 8))
	assert.Equal(t, 0, n)
	require.NotNil(t, f)
	require.NotNil(t, f.Src, "both independently evaluated sides are reported")
	require.NotNil(t, f.Dst)
	assert.Equal(t, uint64(0xF000), f.Src.Address)
	assert.Equal(t, fault.AccessRead, f.Src.Access)
	assert.Equal(t, uint64(0xF800), f.Dst.Address)
	assert.Equal(t, fault.AccessWrite, f.Dst.Access)
}

func TestSafeCopy_SingleSideFault(t *testing.T) {
	tb := twoTasks(t)

	n, f := SafeCopy(tb, 0, bytesRegion(t, 0xF000, 8), 1, bytesRegion(t, dstBase, 8))
	assert.Equal(t, 0, n)
	require.NotNil(t, f)
	assert.NotNil(t, f.Src)
	assert.Nil(t, f.Dst)

	// No bytes reached the destination.
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, snoop(t, tb.Get(1), dstBase, 8))
}

func TestSafeCopy_EmptyRegions(t *testing.T) {
	tb := twoTasks(t)

	n, f := SafeCopy(tb, 0, mem.Empty[byte](), 1, bytesRegion(t, dstBase, 8))
	require.Nil(t, f)
	assert.Equal(t, 0, n)
}

func TestSafeCopy_SameIndexPanics(t *testing.T) {
	tb := twoTasks(t)
	assert.Panics(t, func() {
		SafeCopy(tb, 0, bytesRegion(t, srcBase, 4), 0, bytesRegion(t, srcBase+64, 4))
	})
}
