// Package ipc implements the kernel side of the message/lease protocol:
// the cross-task copy engine and the lease-descriptor plumbing built on it.
package ipc

import (
	"github.com/emberos/ember/internal/kernel/fault"
	"github.com/emberos/ember/internal/kernel/mem"
	"github.com/emberos/ember/internal/kernel/task"
)

// SafeCopy moves bytes from a region claimed by the task at fromIdx into a
// region claimed by the task at toIdx. Each side's access rights are
// confirmed independently at copy time; on any failure no bytes move and
// the returned fault carries the outcome of both sides.
//
// When the two regions alias, the destination check is skipped outright
// and a kernel-detected fault is synthesized against the destination task
// at the destination's base address. A confused receiver handing out a
// destination that overlaps the source is treated as the misbehaving
// party; do not move the blame to the source side.
//
// fromIdx and toIdx must be distinct; PairMut panics otherwise.
func SafeCopy(tb *task.Table, fromIdx int, from mem.Region, toIdx int, to mem.Region) (int, *fault.Interact) {
	src, dst := tb.PairMut(fromIdx, toIdx)

	copyLen := from.SizeInBytes()
	if to.SizeInBytes() < copyLen {
		copyLen = to.SizeInBytes()
	}

	srcBytes, srcFault := src.TryRead(from)

	var dstBytes []byte
	var dstFault *fault.Memory
	if from.Aliases(to) {
		dstFault = &fault.Memory{
			Address: to.BaseAddr(),
			Access:  fault.AccessWrite,
			Source:  fault.SourceKernel,
		}
	} else {
		dstBytes, dstFault = dst.TryWrite(to)
	}

	if srcFault != nil || dstFault != nil {
		return 0, &fault.Interact{Src: srcFault, Dst: dstFault}
	}
	if copyLen == 0 {
		return 0, nil
	}
	return copy(dstBytes[:copyLen], srcBytes[:copyLen]), nil
}
