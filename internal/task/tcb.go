// Package task defines the task control block and the saved contexts the
// dispatcher switches between.
package task

import (
	"errors"
	"fmt"

	"github.com/me/strider/internal/mm"
	"github.com/me/strider/internal/upcell"
	"github.com/me/strider/pkg/model"
)

const (
	// MinPriority is the lowest priority a task may hold. With priority 1
	// a single pass would equal the whole big stride.
	MinPriority = 2
	// DefaultPriority is the priority of a task that sets none.
	DefaultPriority = 16
)

// ErrPriority is returned for priorities below MinPriority.
var ErrPriority = errors.New("task: priority must be at least 2")

// ControlBlock is the kernel's record of one task. It is shared by every
// structure that references the task; the mutable part lives in Inner and
// is reached only through Exclusive.
type ControlBlock struct {
	pid   int
	name  string
	inner *upcell.Cell[Inner]
}

// Inner is the mutable interior of a control block.
type Inner struct {
	Status    model.TaskStatus
	Stride    uint64
	// Pass is the stride charged by the most recent fetch.
	Pass      uint64
	Cx        Context
	Trap      TrapContext
	MemorySet *mm.MemorySet
	ExitCode  int

	pid      int
	priority int
}

// New builds a Ready task. entry runs on the task's own control flow the
// first time it is dispatched.
func New(pid int, name string, priority int, ms *mm.MemorySet, trap TrapContext, entry func()) (*ControlBlock, error) {
	if priority < MinPriority {
		return nil, fmt.Errorf("new task %q: %w", name, ErrPriority)
	}
	return &ControlBlock{
		pid:  pid,
		name: name,
		inner: upcell.New(fmt.Sprintf("task %d inner", pid), Inner{
			Status:    model.TaskStatusReady,
			Cx:        GotoEntry(entry),
			Trap:      trap,
			MemorySet: ms,
			pid:       pid,
			priority:  priority,
		}),
	}, nil
}

// Pid returns the task's identifier.
func (t *ControlBlock) Pid() int {
	return t.pid
}

// Name returns the program name the task was created from.
func (t *ControlBlock) Name() string {
	return t.name
}

// Exclusive borrows the task's interior. A second borrow while one is
// outstanding panics.
func (t *ControlBlock) Exclusive() *upcell.RefMut[Inner] {
	return t.inner.Exclusive()
}

// Priority borrows the interior briefly and returns the priority.
func (t *ControlBlock) Priority() int {
	return upcell.Map(t.inner, func(in *Inner) int { return in.priority })
}

// Stride borrows the interior briefly and returns the stride.
func (t *ControlBlock) Stride() uint64 {
	return upcell.Map(t.inner, func(in *Inner) uint64 { return in.Stride })
}

// Status borrows the interior briefly and returns the status.
func (t *ControlBlock) Status() model.TaskStatus {
	return upcell.Map(t.inner, func(in *Inner) model.TaskStatus { return in.Status })
}

func (t *ControlBlock) String() string {
	return fmt.Sprintf("task %d (%s)", t.pid, t.name)
}

// Priority returns the task's scheduling priority.
func (in *Inner) Priority() int {
	return in.priority
}

// SetPriority changes the priority; values below MinPriority are rejected.
func (in *Inner) SetPriority(p int) error {
	if p < MinPriority {
		return ErrPriority
	}
	in.priority = p
	return nil
}

// Transition moves the task to status to. Transitions the task state
// machine does not allow are contract violations.
func (in *Inner) Transition(to model.TaskStatus) {
	if !in.Status.CanTransitionTo(to) {
		err := &model.InvalidTransitionError{Pid: in.pid, From: in.Status, To: to}
		model.Violate("task_transition", "%v", err)
	}
	in.Status = to
}

// UserToken returns the satp token of the task's address space, or 0 for
// a task without one.
func (in *Inner) UserToken() uint64 {
	if in.MemorySet == nil {
		return 0
	}
	return in.MemorySet.Token()
}

// TrapCx returns the task's saved trap context.
func (in *Inner) TrapCx() *TrapContext {
	return &in.Trap
}
