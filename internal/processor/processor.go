// Package processor tracks what the CPU is running and moves control
// between the idle scheduling loop and user tasks.
package processor

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/me/strider/internal/scheduler"
	"github.com/me/strider/internal/task"
	"github.com/me/strider/internal/upcell"
	"github.com/me/strider/pkg/model"
)

// DispatchEvent describes one handoff from the idle loop to a task.
type DispatchEvent struct {
	Seq          int
	Pid          int
	Name         string
	Priority     int
	StrideBefore uint64
	StrideAfter  uint64
	Token        uint64
}

// Observer is told about every dispatch, before control enters the task.
type Observer interface {
	OnDispatch(ev DispatchEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev DispatchEvent)

func (f ObserverFunc) OnDispatch(ev DispatchEvent) { f(ev) }

type state struct {
	current *task.ControlBlock
	idleCx  task.Context
}

// Processor is the state of the single CPU: the task bound to it, if any,
// and the context of the idle loop that picks tasks.
type Processor struct {
	cell      *upcell.Cell[state]
	ready     scheduler.Scheduler
	logger    *slog.Logger
	observers []Observer
	seq       int
}

// New returns an idle processor dispatching from ready.
func New(ready scheduler.Scheduler, logger *slog.Logger) *Processor {
	return &Processor{
		cell:   upcell.New("processor", state{idleCx: task.ZeroInit()}),
		ready:  ready,
		logger: logger.With("component", "processor"),
	}
}

// Observe registers o for dispatch events.
func (p *Processor) Observe(o Observer) {
	p.observers = append(p.observers, o)
}

// Dispatches returns how many times a task has been switched in.
func (p *Processor) Dispatches() int {
	return p.seq
}

// TakeCurrent unbinds the current task and returns it, leaving the CPU
// with no current task.
func (p *Processor) TakeCurrent() *task.ControlBlock {
	return upcell.Map(p.cell, func(s *state) *task.ControlBlock {
		t := s.current
		s.current = nil
		return t
	})
}

// Current returns the current task without unbinding it, or nil.
func (p *Processor) Current() *task.ControlBlock {
	return upcell.Map(p.cell, func(s *state) *task.ControlBlock {
		return s.current
	})
}

// CurrentUserToken returns the address-space token of the current task.
// Calling it with no current task is a contract violation.
func (p *Processor) CurrentUserToken() uint64 {
	t := p.mustCurrent("current_user_token")
	g := t.Exclusive()
	defer g.Release()
	return g.Get().UserToken()
}

// CurrentTrapCx returns the trap context of the current task. Calling it
// with no current task is a contract violation.
func (p *Processor) CurrentTrapCx() *task.TrapContext {
	t := p.mustCurrent("current_trap_cx")
	g := t.Exclusive()
	defer g.Release()
	return g.Get().TrapCx()
}

func (p *Processor) mustCurrent(op string) *task.ControlBlock {
	t := p.Current()
	if t == nil {
		model.Violate(op, "no current task")
	}
	return t
}

// RunOnce runs one iteration of the scheduling loop: fetch a task, bind it
// and switch into it. It returns true once the task has switched back, or
// false straight away if no task was ready.
func (p *Processor) RunOnce() bool {
	g := p.cell.Exclusive()
	next := p.ready.Fetch()
	if next == nil {
		g.Release()
		return false
	}
	s := g.Get()
	idleCx := &s.idleCx

	tg := next.Exclusive()
	in := tg.Get()
	nextCx := &in.Cx
	in.Transition(model.TaskStatusRunning)
	p.seq++
	ev := DispatchEvent{
		Seq:          p.seq,
		Pid:          next.Pid(),
		Name:         next.Name(),
		Priority:     in.Priority(),
		StrideBefore: in.Stride - in.Pass,
		StrideAfter:  in.Stride,
		Token:        in.UserToken(),
	}
	tg.Release()

	s.current = next
	g.Release()

	p.logger.Debug("dispatch", "seq", ev.Seq, "pid", ev.Pid, "priority", ev.Priority,
		"stride", ev.StrideAfter, "ready", p.ready.Len())
	for _, o := range p.observers {
		o.OnDispatch(ev)
	}

	task.Switch(idleCx, nextCx)

	if t := p.Current(); t != nil {
		model.Violate("run_tasks", "%v switched back to idle while still current", t)
	}
	return true
}

// RunTasks is the idle loop. It keeps dispatching ready tasks and spins
// while the ready queue is empty. It returns only when ctx is done.
func (p *Processor) RunTasks(ctx context.Context) error {
	p.logger.Info("scheduling loop started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("scheduling loop stopped", "dispatches", p.seq)
			return ctx.Err()
		default:
		}
		if !p.RunOnce() {
			runtime.Gosched()
		}
	}
}

// Schedule saves the running control flow into switched and returns the
// CPU to the idle loop. The caller decides beforehand what becomes of the
// current task (re-queued, blocked or exited).
func (p *Processor) Schedule(switched *task.Context) {
	idleCx := upcell.Map(p.cell, func(s *state) *task.Context { return &s.idleCx })
	task.Switch(switched, idleCx)
}
