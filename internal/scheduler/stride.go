package scheduler

import (
	"slices"

	"github.com/me/strider/internal/task"
)

// DefaultBigStride is the stride budget divided among priorities.
const DefaultBigStride uint64 = 1 << 20

// Less orders strides with wraparound: a precedes b when the signed
// distance from b to a is negative. This stays correct across uint64
// overflow as long as live strides are within 2^63 of each other. Every
// pass is at most max(BigStride/2, 1) and new tasks join at the pool
// minimum, so live strides never drift further apart than one pass.
func Less(a, b uint64) bool {
	return int64(a-b) < 0
}

// Pass is the stride charged per dispatch at priority. It is never zero,
// even for priorities above bigStride, so a fetched task always moves
// forward.
func Pass(bigStride uint64, priority int) uint64 {
	return max(bigStride/uint64(priority), 1)
}

// Stride is a proportional-share scheduler. Each fetch picks the pooled
// task with the smallest stride and advances it by BigStride/priority, so a
// task's share of the CPU grows with its priority.
type Stride struct {
	bigStride uint64
	queue     []*task.ControlBlock
}

// NewStride returns an empty stride scheduler.
func NewStride(bigStride uint64) *Stride {
	if bigStride == 0 {
		bigStride = DefaultBigStride
	}
	return &Stride{bigStride: bigStride}
}

// BigStride returns the stride budget.
func (s *Stride) BigStride() uint64 {
	return s.bigStride
}

// Add appends t to the tail of the pool.
func (s *Stride) Add(t *task.ControlBlock) {
	s.queue = append(s.queue, t)
}

// Fetch removes the minimum-stride task, earliest in the pool on ties,
// after charging it one pass.
func (s *Stride) Fetch() *task.ControlBlock {
	if len(s.queue) == 0 {
		return nil
	}

	idx := 0
	var minStride uint64
	for i, t := range s.queue {
		stride := t.Stride()
		if i == 0 || Less(stride, minStride) {
			idx, minStride = i, stride
		}
	}

	next := s.queue[idx]
	g := next.Exclusive()
	in := g.Get()
	in.Pass = Pass(s.bigStride, in.Priority())
	in.Stride += in.Pass
	g.Release()

	s.queue = slices.Delete(s.queue, idx, idx+1)
	return next
}

// Len returns the number of pooled tasks.
func (s *Stride) Len() int {
	return len(s.queue)
}

// Snapshot lists the pool in queue order.
func (s *Stride) Snapshot() []Entry {
	return snapshot(s.queue)
}
