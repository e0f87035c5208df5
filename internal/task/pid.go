package task

import (
	"github.com/me/strider/internal/upcell"
	"github.com/me/strider/pkg/model"
)

type pidState struct {
	next     int
	recycled []int
	live     map[int]bool
}

// PidAllocator hands out process identifiers, reusing released ones.
type PidAllocator struct {
	cell *upcell.Cell[pidState]
}

// NewPidAllocator returns an allocator starting at pid 0.
func NewPidAllocator() *PidAllocator {
	return &PidAllocator{cell: upcell.New("pid allocator", pidState{live: make(map[int]bool)})}
}

// Alloc returns an unused pid.
func (a *PidAllocator) Alloc() int {
	return upcell.Map(a.cell, func(s *pidState) int {
		var pid int
		if n := len(s.recycled); n > 0 {
			pid = s.recycled[n-1]
			s.recycled = s.recycled[:n-1]
		} else {
			pid = s.next
			s.next++
		}
		s.live[pid] = true
		return pid
	})
}

// Dealloc releases pid for reuse.
func (a *PidAllocator) Dealloc(pid int) {
	a.cell.With(func(s *pidState) {
		if !s.live[pid] {
			model.Violate("pid_dealloc", "pid %d has not been allocated", pid)
		}
		delete(s.live, pid)
		s.recycled = append(s.recycled, pid)
	})
}
