// Package scheduler holds the ready queue: every task eligible to run that
// is not currently bound to the CPU.
package scheduler

import (
	"fmt"

	"github.com/me/strider/internal/task"
)

// Scheduler admits ready tasks and picks the next one to run.
type Scheduler interface {
	// Add appends a Ready task to the pool. It never fails.
	Add(t *task.ControlBlock)

	// Fetch removes and returns the next task to run, or nil when the pool
	// is empty. An empty pool is not an error.
	Fetch() *task.ControlBlock

	// Len returns the number of pooled tasks.
	Len() int

	// Snapshot lists the pool in queue order.
	Snapshot() []Entry
}

// Entry describes one pooled task.
type Entry struct {
	Pid      int
	Priority int
	Stride   uint64
}

// Policy names a scheduling policy.
type Policy string

const (
	PolicyStride Policy = "stride"
	PolicyFIFO   Policy = "fifo"
)

// New returns the scheduler for policy.
func New(policy Policy, bigStride uint64) (Scheduler, error) {
	switch policy {
	case PolicyStride, "":
		return NewStride(bigStride), nil
	case PolicyFIFO:
		return NewFIFO(), nil
	default:
		return nil, fmt.Errorf("unknown scheduling policy %q", policy)
	}
}

func snapshot(queue []*task.ControlBlock) []Entry {
	out := make([]Entry, 0, len(queue))
	for _, t := range queue {
		g := t.Exclusive()
		in := g.Get()
		out = append(out, Entry{Pid: t.Pid(), Priority: in.Priority(), Stride: in.Stride})
		g.Release()
	}
	return out
}
