package userlib

import (
	"github.com/emberos/ember/internal/abi"
)

// Borrow identifies one lease of one blocked caller. It owns nothing and
// caches nothing: every access is kernel-checked anew, so a Borrow held
// across a client death simply starts failing instead of touching freed
// state. All failure causes collapse into a single false result, because
// servers respond identically to all of them.
type Borrow struct {
	env    *Env
	lender abi.TaskID
	index  uint32
}

// Info re-queries the lease's current attributes and length. ok=false
// when the lease no longer exists in any usable form.
func (b Borrow) Info() (abi.BorrowInfo, bool) {
	info, ok, err := b.env.sys.BorrowInfo(b.lender, b.index)
	if err != nil {
		b.env.noteFatal(err)
		return abi.BorrowInfo{}, false
	}
	return info, ok
}

// ReadFullyAt reads exactly len(dst) bytes starting at offset within the
// lease. Transfers are staged through the task's scratch buffer in chunks;
// each chunk is independently access-checked by the kernel.
func (b Borrow) ReadFullyAt(offset uint64, dst []byte) bool {
	scratch := b.env.scratch
	for done := uint64(0); done < uint64(len(dst)); {
		n := uint64(len(dst)) - done
		if n > uint64(len(scratch.Bytes)) {
			n = uint64(len(scratch.Bytes))
		}
		ok, err := b.env.sys.BorrowRead(b.lender, b.index, offset+done, scratch.SpanOf(n))
		if err != nil {
			b.env.noteFatal(err)
			return false
		}
		if !ok {
			return false
		}
		copy(dst[done:done+n], scratch.Bytes[:n])
		done += n
	}
	return true
}

// WriteFullyAt writes exactly len(src) bytes starting at offset within
// the lease, staged like ReadFullyAt.
func (b Borrow) WriteFullyAt(offset uint64, src []byte) bool {
	scratch := b.env.scratch
	for done := uint64(0); done < uint64(len(src)); {
		n := uint64(len(src)) - done
		if n > uint64(len(scratch.Bytes)) {
			n = uint64(len(scratch.Bytes))
		}
		copy(scratch.Bytes[:n], src[done:done+n])
		ok, err := b.env.sys.BorrowWrite(b.lender, b.index, offset+done, scratch.SpanOf(n))
		if err != nil {
			b.env.noteFatal(err)
			return false
		}
		if !ok {
			return false
		}
		done += n
	}
	return true
}

// ReadAt reads exactly v.SizeBytes() bytes at offset and unmarshals them
// into v. The client's buffer need not be aligned for v's type; the copy
// is byte-wise.
func (b Borrow) ReadAt(offset uint64, v abi.Marshallable) bool {
	size := v.SizeBytes()
	if size > len(b.env.scratch.Bytes) {
		return false
	}
	ok, err := b.env.sys.BorrowRead(b.lender, b.index, offset, b.env.scratch.SpanOf(uint64(size)))
	if err != nil {
		b.env.noteFatal(err)
		return false
	}
	if !ok {
		return false
	}
	v.UnmarshalBytes(b.env.scratch.Bytes[:size])
	return true
}

// WriteAt marshals v and writes exactly v.SizeBytes() bytes at offset.
func (b Borrow) WriteAt(offset uint64, v abi.Marshaler) bool {
	size := v.SizeBytes()
	if size > len(b.env.scratch.Bytes) {
		return false
	}
	v.MarshalBytes(b.env.scratch.Bytes[:size])
	ok, err := b.env.sys.BorrowWrite(b.lender, b.index, offset, b.env.scratch.SpanOf(uint64(size)))
	if err != nil {
		b.env.noteFatal(err)
		return false
	}
	return ok
}
