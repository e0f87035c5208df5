package mm

import (
	"errors"

	"github.com/me/strider/internal/upcell"
	"github.com/me/strider/pkg/model"
)

// ErrOutOfFrames is returned when the frame allocator is exhausted.
var ErrOutOfFrames = errors.New("mm: out of physical frames")

type frameState struct {
	current   PhysPageNum
	end       PhysPageNum
	recycled  []PhysPageNum
	allocated map[PhysPageNum]bool
}

// FrameAllocator hands out physical frames from a fixed pool, reusing
// freed frames first.
type FrameAllocator struct {
	cell *upcell.Cell[frameState]
}

// NewFrameAllocator returns an allocator managing frames [base, base+n).
func NewFrameAllocator(base PhysPageNum, n int) *FrameAllocator {
	return &FrameAllocator{cell: upcell.New("frame allocator", frameState{
		current:   base,
		end:       base + PhysPageNum(n),
		allocated: make(map[PhysPageNum]bool),
	})}
}

// Alloc returns a free frame.
func (a *FrameAllocator) Alloc() (PhysPageNum, error) {
	g := a.cell.Exclusive()
	defer g.Release()
	s := g.Get()

	var ppn PhysPageNum
	if n := len(s.recycled); n > 0 {
		ppn = s.recycled[n-1]
		s.recycled = s.recycled[:n-1]
	} else if s.current < s.end {
		ppn = s.current
		s.current++
	} else {
		return 0, ErrOutOfFrames
	}
	s.allocated[ppn] = true
	return ppn, nil
}

// Dealloc returns a frame to the pool. Freeing a frame that is not
// allocated is a contract violation.
func (a *FrameAllocator) Dealloc(ppn PhysPageNum) {
	g := a.cell.Exclusive()
	defer g.Release()
	s := g.Get()

	if !s.allocated[ppn] {
		model.Violate("frame_dealloc", "frame %#x has not been allocated", uint64(ppn))
	}
	delete(s.allocated, ppn)
	s.recycled = append(s.recycled, ppn)
}

// Free returns how many frames can still be allocated.
func (a *FrameAllocator) Free() int {
	return upcell.Map(a.cell, func(s *frameState) int {
		return int(s.end-s.current) + len(s.recycled)
	})
}

// InUse returns how many frames are currently allocated.
func (a *FrameAllocator) InUse() int {
	return upcell.Map(a.cell, func(s *frameState) int {
		return len(s.allocated)
	})
}
