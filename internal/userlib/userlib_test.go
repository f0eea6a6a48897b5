package userlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberos/ember/internal/abi"
)

const fakeBase = uint64(0x1000)

// fakeSys scripts the syscall surface for wrapper tests. It resolves spans
// against the env's RAM window the same way the kernel would.
type fakeSys struct {
	base uint64
	ram  []byte

	// scripted incoming messages for Recv
	incoming []scriptedMsg

	// recorded outgoing replies
	replies []replyRecord

	// lease backing store: index -> lease
	leases map[uint32]*fakeLease

	// lender the leases belong to; borrows against anyone else are absent
	lender abi.TaskID
}

type scriptedMsg struct {
	msg     abi.RecvMessage
	payload []byte
}

type replyRecord struct {
	to   abi.TaskID
	code uint32
	body []byte
}

type fakeLease struct {
	attrs abi.Attributes
	data  []byte
}

func (f *fakeSys) bytes(s abi.Span) []byte {
	off := s.Address - f.base
	return f.ram[off : off+s.Length]
}

func (f *fakeSys) Send(dest abi.TaskID, op uint16, payload, reply abi.Span, leaseAddr uint64, leaseCount uint32) (uint32, uint64, error) {
	return abi.ResponseDead, 0, nil
}

func (f *fakeSys) Recv(buf abi.Span, mask uint32) (abi.RecvMessage, error) {
	next := f.incoming[0]
	f.incoming = f.incoming[1:]

	copy(f.bytes(buf), next.payload)

	msg := next.msg
	msg.PayloadLen = uint64(len(next.payload))
	return msg, nil
}

func (f *fakeSys) Reply(to abi.TaskID, code uint32, body abi.Span) error {
	rec := replyRecord{to: to, code: code}
	if body.Length > 0 {
		rec.body = append(rec.body, f.bytes(body)...)
	}
	f.replies = append(f.replies, rec)
	return nil
}

func (f *fakeSys) lease(lender abi.TaskID, index uint32) *fakeLease {
	if lender != f.lender {
		return nil
	}
	return f.leases[index]
}

func (f *fakeSys) BorrowInfo(lender abi.TaskID, index uint32) (abi.BorrowInfo, bool, error) {
	l := f.lease(lender, index)
	if l == nil {
		return abi.BorrowInfo{}, false, nil
	}
	return abi.BorrowInfo{Attributes: l.attrs, Length: uint64(len(l.data))}, true, nil
}

func (f *fakeSys) BorrowRead(lender abi.TaskID, index uint32, offset uint64, dest abi.Span) (bool, error) {
	l := f.lease(lender, index)
	if l == nil || !l.attrs.CanRead() {
		return false, nil
	}
	if offset > uint64(len(l.data)) || dest.Length > uint64(len(l.data))-offset {
		return false, nil
	}
	copy(f.bytes(dest), l.data[offset:offset+dest.Length])
	return true, nil
}

func (f *fakeSys) BorrowWrite(lender abi.TaskID, index uint32, offset uint64, src abi.Span) (bool, error) {
	l := f.lease(lender, index)
	if l == nil || !l.attrs.CanWrite() {
		return false, nil
	}
	if offset > uint64(len(l.data)) || src.Length > uint64(len(l.data))-offset {
		return false, nil
	}
	copy(l.data[offset:offset+src.Length], f.bytes(src))
	return true, nil
}

func (f *fakeSys) Post(dest abi.TaskID, bits uint32) error { return nil }

func newFakeEnv(t *testing.T) (*Env, *fakeSys) {
	t.Helper()
	f := &fakeSys{
		base:   fakeBase,
		ram:    make([]byte, 16*1024),
		leases: make(map[uint32]*fakeLease),
		lender: abi.TaskID{Index: 7},
	}
	env, err := NewEnvRaw(f, abi.TaskID{Index: 1}, f.base, f.ram)
	require.NoError(t, err)
	return env, f
}

func (f *fakeSys) script(sender abi.TaskID, op uint16, payload []byte, respCap uint64, leaseCount uint32) {
	f.incoming = append(f.incoming, scriptedMsg{
		msg: abi.RecvMessage{
			Sender:           sender,
			Operation:        op,
			ResponseCapacity: respCap,
			LeaseCount:       leaseCount,
		},
		payload: payload,
	})
}

func TestFixed_ExactBoundaries(t *testing.T) {
	sender := abi.TaskID{Index: 3}
	const respSize = 4 // reply type is a U32

	cases := []struct {
		name    string
		payload []byte
		respCap uint64
		want    bool
	}{
		{"exact fit", []byte{1, 2, 3, 4}, 4, true},
		{"payload one byte short", []byte{1, 2, 3}, 4, false},
		{"payload one byte long", []byte{1, 2, 3, 4, 5}, 4, false},
		{"capacity one byte under", []byte{1, 2, 3, 4}, 3, false},
		{"capacity above", []byte{1, 2, 3, 4}, 64, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, f := newFakeEnv(t)
			f.script(sender, 1, tc.payload, tc.respCap, 0)

			msg, err := env.Recv(0)
			require.NoError(t, err)

			var req abi.U32
			caller, ok := msg.Fixed(&req, respSize)
			assert.Equal(t, tc.want, ok)
			if tc.want {
				require.NotNil(t, caller)
				assert.Equal(t, sender, caller.TaskID())
				assert.Equal(t, abi.U32(0x04030201), req)
			} else {
				assert.Nil(t, caller)
			}
		})
	}
}

func TestFixed_ConsumedOnce(t *testing.T) {
	env, f := newFakeEnv(t)
	f.script(abi.TaskID{Index: 3}, 1, []byte{1, 2, 3, 4}, 4, 0)

	msg, err := env.Recv(0)
	require.NoError(t, err)

	var req abi.U32
	_, ok := msg.Fixed(&req, 0)
	require.True(t, ok)

	// The message was consumed by the first successful decode.
	_, ok = msg.Fixed(&req, 0)
	assert.False(t, ok)
}

func TestFixed_FailureDoesNotConsume(t *testing.T) {
	env, f := newFakeEnv(t)
	f.script(abi.TaskID{Index: 3}, 1, []byte{1, 2, 3, 4}, 4, 0)

	msg, err := env.Recv(0)
	require.NoError(t, err)

	var wide abi.U64
	_, ok := msg.Fixed(&wide, 0)
	require.False(t, ok, "wrong size must reject")

	var req abi.U32
	_, ok = msg.Fixed(&req, 4)
	assert.True(t, ok, "a rejected decode leaves the message intact")
}

func TestFixedWithLeases_CountMustMatchExactly(t *testing.T) {
	for _, declared := range []uint32{0, 1, 2, 3} {
		env, f := newFakeEnv(t)
		f.script(abi.TaskID{Index: 3}, 1, []byte{1, 2, 3, 4}, 4, declared)

		msg, err := env.Recv(0)
		require.NoError(t, err)

		var req abi.U32
		_, ok := msg.FixedWithLeases(&req, 4, 2)
		assert.Equal(t, declared == 2, ok, "declared %d leases", declared)
	}
}

func TestCaller_SingleUse(t *testing.T) {
	env, f := newFakeEnv(t)
	f.script(abi.TaskID{Index: 3}, 1, nil, 8, 0)

	msg, err := env.Recv(0)
	require.NoError(t, err)

	var req abi.Empty
	caller, ok := msg.Fixed(&req, 8)
	require.True(t, ok)

	require.NoError(t, caller.Reply(abi.U64(0xFEED)))
	require.Len(t, f.replies, 1)
	assert.Equal(t, abi.ResponseOK, f.replies[0].code)
	assert.Equal(t, []byte{0xED, 0xFE, 0, 0, 0, 0, 0, 0}, f.replies[0].body)

	assert.Error(t, caller.Reply(abi.U64(1)), "second reply must be refused")
	assert.Error(t, caller.ReplyFail(9))
	assert.Len(t, f.replies, 1)
}

func TestCaller_ReplyFail(t *testing.T) {
	env, f := newFakeEnv(t)
	f.script(abi.TaskID{Index: 3}, 1, nil, 0, 0)

	msg, err := env.Recv(0)
	require.NoError(t, err)

	var req abi.Empty
	caller, ok := msg.Fixed(&req, 0)
	require.True(t, ok)

	assert.Error(t, caller.ReplyFail(abi.ResponseOK), "zero is not a failure code")
	require.NoError(t, caller.ReplyFail(42))
	require.Len(t, f.replies, 1)
	assert.Equal(t, uint32(42), f.replies[0].code)
	assert.Empty(t, f.replies[0].body)
}
