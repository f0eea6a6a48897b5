package userlib

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberos/ember/internal/abi"
)

func borrowFor(env *Env, f *fakeSys, index uint32) Borrow {
	return Borrow{env: env, lender: f.lender, index: index}
}

func TestBorrow_Info(t *testing.T) {
	env, f := newFakeEnv(t)
	f.leases[0] = &fakeLease{attrs: abi.AttributeRead, data: make([]byte, 64)}

	info, ok := borrowFor(env, f, 0).Info()
	require.True(t, ok)
	assert.Equal(t, abi.AttributeRead, info.Attributes)
	assert.Equal(t, uint64(64), info.Length)

	// A lease index the client never declared is simply absent.
	_, ok = borrowFor(env, f, 5).Info()
	assert.False(t, ok)
}

func TestBorrow_ReadFullyAt(t *testing.T) {
	env, f := newFakeEnv(t)
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02}
	f.leases[0] = &fakeLease{attrs: abi.AttributeRead, data: data}

	dst := make([]byte, 4)
	require.True(t, borrowFor(env, f, 0).ReadFullyAt(0, dst))
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, dst)

	require.True(t, borrowFor(env, f, 0).ReadFullyAt(2, dst))
	assert.Equal(t, []byte{0xBE, 0xEF, 0x01, 0x02}, dst)

	// One byte past the end collapses to the absent signal.
	assert.False(t, borrowFor(env, f, 0).ReadFullyAt(3, dst))
}

func TestBorrow_ReadFullyAt_ChunksThroughScratch(t *testing.T) {
	env, f := newFakeEnv(t)
	data := make([]byte, 3000) // larger than the scratch buffer
	for i := range data {
		data[i] = byte(i * 7)
	}
	f.leases[0] = &fakeLease{attrs: abi.AttributeRead, data: data}

	dst := make([]byte, len(data))
	require.True(t, borrowFor(env, f, 0).ReadFullyAt(0, dst))
	assert.True(t, bytes.Equal(data, dst))
}

func TestBorrow_WriteFullyAt(t *testing.T) {
	env, f := newFakeEnv(t)
	f.leases[1] = &fakeLease{attrs: abi.AttributeWrite, data: make([]byte, 8)}

	require.True(t, borrowFor(env, f, 1).WriteFullyAt(2, []byte{9, 8, 7}))
	assert.Equal(t, []byte{0, 0, 9, 8, 7, 0, 0, 0}, f.leases[1].data)

	assert.False(t, borrowFor(env, f, 1).WriteFullyAt(6, []byte{1, 2, 3}), "past the end")
}

func TestBorrow_PermissionMismatch(t *testing.T) {
	env, f := newFakeEnv(t)
	f.leases[0] = &fakeLease{attrs: abi.AttributeRead, data: make([]byte, 16)}
	f.leases[1] = &fakeLease{attrs: abi.AttributeWrite, data: make([]byte, 16)}

	assert.False(t, borrowFor(env, f, 0).WriteFullyAt(0, []byte{1}), "read-only lease refuses writes")
	assert.False(t, borrowFor(env, f, 1).ReadFullyAt(0, make([]byte, 1)), "write-only lease refuses reads")
}

func TestBorrow_TypedAccess(t *testing.T) {
	env, f := newFakeEnv(t)
	f.leases[0] = &fakeLease{
		attrs: abi.AttributeRead | abi.AttributeWrite,
		// Deliberately odd offsets: client buffers need no alignment for
		// typed access, the copy is byte-wise.
		data: make([]byte, 11),
	}

	require.True(t, borrowFor(env, f, 0).WriteAt(3, abi.U32(0xCAFE)))
	assert.Equal(t, []byte{0xFE, 0xCA, 0, 0}, f.leases[0].data[3:7])

	var v abi.U32
	require.True(t, borrowFor(env, f, 0).ReadAt(3, &v))
	assert.Equal(t, abi.U32(0xCAFE), v)

	// Reading a U64 at offset 8 would need 8 of the remaining 3 bytes.
	var wide abi.U64
	assert.False(t, borrowFor(env, f, 0).ReadAt(8, &wide))
}
