package scheduler

import "github.com/me/strider/internal/task"

// FIFO runs tasks in admission order and ignores priority. Kept as the
// baseline the stride scheduler is compared against.
type FIFO struct {
	queue []*task.ControlBlock
}

// NewFIFO returns an empty FIFO scheduler.
func NewFIFO() *FIFO {
	return &FIFO{}
}

func (f *FIFO) Add(t *task.ControlBlock) {
	f.queue = append(f.queue, t)
}

func (f *FIFO) Fetch() *task.ControlBlock {
	if len(f.queue) == 0 {
		return nil
	}
	t := f.queue[0]
	f.queue[0] = nil
	f.queue = f.queue[1:]
	g := t.Exclusive()
	g.Get().Pass = 0
	g.Release()
	return t
}

func (f *FIFO) Len() int {
	return len(f.queue)
}

func (f *FIFO) Snapshot() []Entry {
	return snapshot(f.queue)
}
