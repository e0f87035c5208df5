// Package kernel boots the scheduling core and owns the task lifecycle:
// spawning programs, suspending and exiting the running task and driving
// the scheduling loop until the workload is done.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"github.com/me/strider/internal/config"
	"github.com/me/strider/internal/mm"
	"github.com/me/strider/internal/processor"
	"github.com/me/strider/internal/scheduler"
	ksys "github.com/me/strider/internal/syscall"
	"github.com/me/strider/internal/task"
	"github.com/me/strider/pkg/model"
)

var (
	errAllExited     = errors.New("all tasks exited")
	errBudgetReached = errors.New("dispatch budget reached")

	// ErrDuplicateProgram is returned when a program name is registered
	// twice.
	ErrDuplicateProgram = errors.New("program already registered")
)

// Program is the body of a user task. Its return value becomes the exit
// code unless it exits explicitly.
type Program func(u *User) int

// ProgramSpec is a registered program. A zero Priority means the
// configured default.
type ProgramSpec struct {
	Name     string
	Priority int
	Main     Program
}

// TaskInfo describes a spawned task.
type TaskInfo struct {
	Pid      int
	Parent   int // -1 for tasks spawned by the kernel
	Name     string
	Priority int
	Status   model.TaskStatus
	Stride   uint64
	ExitCode int
}

// LifecycleObserver is told when tasks are created and when they exit.
type LifecycleObserver interface {
	OnSpawn(info TaskInfo)
	OnExit(pid, code int)
}

// Result summarises a call to Run.
type Result struct {
	State      model.RunState
	Reason     string
	Dispatches int
	Spawned    int
	Exited     int
	Live       int
	Syscalls   map[string]int
}

// Option configures a Kernel during New.
type Option func(k *Kernel) error

// WithProgram registers a program at boot.
func WithProgram(p ProgramSpec) Option {
	return func(k *Kernel) error { return k.Register(p) }
}

// WithDispatchObserver subscribes o to every dispatch.
func WithDispatchObserver(o processor.Observer) Option {
	return func(k *Kernel) error {
		k.proc.Observe(o)
		return nil
	}
}

// WithLifecycleObserver subscribes o to task creation and exit.
func WithLifecycleObserver(o LifecycleObserver) Option {
	return func(k *Kernel) error {
		k.lifecycle = append(k.lifecycle, o)
		return nil
	}
}

// Kernel is one booted instance of the scheduling core. All of its state is
// touched only by the control flow currently holding the CPU.
type Kernel struct {
	cfg    config.KernelSettings
	logger *slog.Logger

	frames      *mm.FrameAllocator
	kernelSpace *mm.MemorySet
	pids        *task.PidAllocator
	ready       scheduler.Scheduler
	proc        *processor.Processor
	sys         *ksys.Handler

	programs  map[string]ProgramSpec
	order     []string
	tasks     map[int]*task.ControlBlock
	parents   map[int]int
	lifecycle []LifecycleObserver

	live     int
	spawned  int
	exited   int
	syscalls map[uint64]int
	stop     context.CancelCauseFunc
}

// New boots a kernel: frame allocator, kernel address space, pid allocator,
// ready queue, processor and syscall handler, in that order.
func New(cfg config.KernelSettings, logger *slog.Logger, opts ...Option) (*Kernel, error) {
	if cfg.DefaultPriority == 0 {
		cfg.DefaultPriority = task.DefaultPriority
	}
	if cfg.DefaultPriority < task.MinPriority {
		return nil, fmt.Errorf("boot kernel: default priority %d: %w", cfg.DefaultPriority, task.ErrPriority)
	}
	if cfg.MemoryFrames <= 0 {
		return nil, fmt.Errorf("boot kernel: memory_frames must be positive, got %d", cfg.MemoryFrames)
	}

	k := &Kernel{
		cfg:      cfg,
		logger:   logger.With("component", "kernel"),
		programs: make(map[string]ProgramSpec),
		tasks:    make(map[int]*task.ControlBlock),
		parents:  make(map[int]int),
		syscalls: make(map[uint64]int),
	}

	k.frames = mm.NewFrameAllocator(0x80000, cfg.MemoryFrames)
	ks, err := mm.NewMemorySet(k.frames)
	if err != nil {
		return nil, fmt.Errorf("boot kernel: %w", err)
	}
	k.kernelSpace = ks
	k.pids = task.NewPidAllocator()

	ready, err := scheduler.New(scheduler.Policy(cfg.Policy), cfg.BigStride)
	if err != nil {
		return nil, fmt.Errorf("boot kernel: %w", err)
	}
	k.ready = ready
	k.proc = processor.New(ready, logger)
	k.sys = ksys.New(k.proc, k, logger)
	k.proc.Observe(processor.ObserverFunc(k.checkBudget))

	for _, opt := range opts {
		if err := opt(k); err != nil {
			return nil, fmt.Errorf("boot kernel: %w", err)
		}
	}
	k.logger.Info("kernel booted",
		"policy", cfg.Policy, "big_stride", cfg.BigStride,
		"frames", cfg.MemoryFrames, "programs", len(k.programs))
	return k, nil
}

// Register adds a program that Spawn can start by name.
func (k *Kernel) Register(p ProgramSpec) error {
	if p.Name == "" || p.Main == nil {
		return fmt.Errorf("register program: name and body are required")
	}
	if _, ok := k.programs[p.Name]; ok {
		return fmt.Errorf("register program %q: %w", p.Name, ErrDuplicateProgram)
	}
	if p.Priority == 0 {
		p.Priority = k.cfg.DefaultPriority
	}
	if p.Priority < task.MinPriority {
		return fmt.Errorf("register program %q: %w", p.Name, task.ErrPriority)
	}
	k.programs[p.Name] = p
	k.order = append(k.order, p.Name)
	return nil
}

// Programs returns the registered program names in registration order.
func (k *Kernel) Programs() []string {
	return append([]string(nil), k.order...)
}

// ProgramName resolves a program index as passed to the numeric spawn
// syscall.
func (k *Kernel) ProgramName(index uint64) (string, bool) {
	if index >= uint64(len(k.order)) {
		return "", false
	}
	return k.order[index], true
}

func (k *Kernel) programIndex(name string) uint64 {
	for i, n := range k.order {
		if n == name {
			return uint64(i)
		}
	}
	return uint64(len(k.order))
}

// Spawn creates a Ready task running the named program with a fresh
// address space and user stack, and returns its pid.
func (k *Kernel) Spawn(name string) (int, error) {
	spec, ok := k.programs[name]
	if !ok {
		return 0, fmt.Errorf("spawn %q: %w", name, ksys.ErrUnknownProgram)
	}

	ms, err := mm.NewMemorySet(k.frames)
	if err != nil {
		return 0, fmt.Errorf("spawn %q: %w", name, err)
	}
	stackBottom := UserStackTop - mm.VirtAddr(k.cfg.UserStackPages)*mm.PageSize
	if err := ms.InsertFramedArea(stackBottom, UserStackTop, mm.PermR|mm.PermW|mm.PermU); err != nil {
		ms.Recycle()
		return 0, fmt.Errorf("spawn %q: map user stack: %w", name, err)
	}

	pid := k.pids.Alloc()
	trap := task.AppInitContext(
		uint64(ProgramEntry),
		uint64(UserStackTop),
		k.kernelSpace.Token(),
		uint64(kernelStackTop(pid)),
		uint64(Trampoline),
	)

	var tcb *task.ControlBlock
	entry := func() {
		// Outermost defer: the CPU is handed back only after every deferred
		// call of the program has run.
		defer k.proc.Schedule(task.Discarded())
		code := spec.Main(&User{k: k, tcb: tcb})
		k.ExitCurrentAndRunNext(code)
	}
	tcb, err = task.New(pid, name, spec.Priority, ms, trap, entry)
	if err != nil {
		k.pids.Dealloc(pid)
		ms.Recycle()
		return 0, fmt.Errorf("spawn %q: %w", name, err)
	}

	parent := -1
	if cur := k.proc.Current(); cur != nil {
		parent = cur.Pid()
	}
	joined := k.admissionStride()
	g := tcb.Exclusive()
	g.Get().Stride = joined
	g.Release()

	k.tasks[pid] = tcb
	k.parents[pid] = parent
	k.live++
	k.spawned++
	k.ready.Add(tcb)

	info := TaskInfo{Pid: pid, Parent: parent, Name: name, Priority: spec.Priority, Status: model.TaskStatusReady, Stride: joined}
	k.logger.Info("task spawned", "pid", pid, "program", name, "priority", spec.Priority, "parent", parent, "stride", joined)
	for _, o := range k.lifecycle {
		o.OnSpawn(info)
	}
	return pid, nil
}

// admissionStride is the smallest stride among the ready tasks and the
// current one, or 0 when there are none. A new task starting there keeps
// every live stride within one pass of the others.
func (k *Kernel) admissionStride() uint64 {
	var (
		lowest uint64
		found  bool
	)
	consider := func(stride uint64) {
		if !found || scheduler.Less(stride, lowest) {
			lowest, found = stride, true
		}
	}
	for _, e := range k.ready.Snapshot() {
		consider(e.Stride)
	}
	if cur := k.proc.Current(); cur != nil {
		consider(cur.Stride())
	}
	return lowest
}

// SuspendCurrentAndRunNext puts the current task back in the ready queue
// and hands the CPU to the idle loop. It returns when the task is
// dispatched again.
func (k *Kernel) SuspendCurrentAndRunNext() {
	cur := k.proc.TakeCurrent()
	if cur == nil {
		model.Violate("suspend_current", "no current task")
	}
	g := cur.Exclusive()
	in := g.Get()
	in.Transition(model.TaskStatusReady)
	cx := &in.Cx
	g.Release()

	k.ready.Add(cur)
	k.proc.Schedule(cx)
}

// ExitCurrentAndRunNext ends the current task with code and frees its
// address space. It does not return: the task's goroutine unwinds, and the
// task entry hands the CPU to the idle loop once unwinding is done.
func (k *Kernel) ExitCurrentAndRunNext(code int) {
	cur := k.proc.TakeCurrent()
	if cur == nil {
		model.Violate("exit_current", "no current task")
	}
	g := cur.Exclusive()
	in := g.Get()
	in.Transition(model.TaskStatusZombie)
	in.ExitCode = code
	ms := in.MemorySet
	in.MemorySet = nil
	g.Release()
	ms.Recycle()

	k.live--
	k.exited++
	k.logger.Info("task exited", "pid", cur.Pid(), "program", cur.Name(), "code", code, "live", k.live)
	for _, o := range k.lifecycle {
		o.OnExit(cur.Pid(), code)
	}
	if k.live == 0 && k.stop != nil {
		k.stop(errAllExited)
	}

	runtime.Goexit()
}

// Run drives the scheduling loop on the calling goroutine until every
// task has exited, the dispatch budget is used up, or ctx is done. Tasks
// still alive when Run stops stay suspended; a later Run resumes them.
func (k *Kernel) Run(ctx context.Context) (Result, error) {
	if k.live == 0 {
		return k.result(model.RunStateCompleted, errAllExited.Error()), nil
	}

	runCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	k.stop = stop
	defer func() { k.stop = nil }()

	if limit := k.cfg.MaxDispatches; limit > 0 && k.proc.Dispatches() >= limit {
		return k.result(model.RunStateStopped, errBudgetReached.Error()), nil
	}

	k.logger.Info("run started", "live", k.live, "max_dispatches", k.cfg.MaxDispatches)
	_ = k.proc.RunTasks(runCtx)

	cause := context.Cause(runCtx)
	var res Result
	switch {
	case errors.Is(cause, errAllExited):
		res = k.result(model.RunStateCompleted, cause.Error())
	case errors.Is(cause, errBudgetReached):
		res = k.result(model.RunStateStopped, cause.Error())
	default:
		res = k.result(model.RunStateStopped, "cancelled")
		k.logger.Info("run finished", "state", res.State, "reason", res.Reason, "dispatches", res.Dispatches)
		return res, ctx.Err()
	}
	k.logger.Info("run finished", "state", res.State, "reason", res.Reason, "dispatches", res.Dispatches)
	return res, nil
}

// checkBudget stops the loop once the dispatch being made is the last one
// the budget allows. That task still runs its slice.
func (k *Kernel) checkBudget(ev processor.DispatchEvent) {
	if limit := k.cfg.MaxDispatches; limit > 0 && ev.Seq >= limit && k.stop != nil {
		k.stop(errBudgetReached)
	}
}

func (k *Kernel) result(state model.RunState, reason string) Result {
	calls := make(map[string]int, len(k.syscalls))
	for id, n := range k.syscalls {
		name, ok := ksys.Names[id]
		if !ok {
			name = fmt.Sprintf("sys_%d", id)
		}
		calls[name] += n
	}
	return Result{
		State:      state,
		Reason:     reason,
		Dispatches: k.proc.Dispatches(),
		Spawned:    k.spawned,
		Exited:     k.exited,
		Live:       k.live,
		Syscalls:   calls,
	}
}

// Tasks describes every task spawned so far, ordered by pid. Call it only
// while no task holds the CPU, such as after Run returns.
func (k *Kernel) Tasks() []TaskInfo {
	out := make([]TaskInfo, 0, len(k.tasks))
	for pid, t := range k.tasks {
		g := t.Exclusive()
		in := g.Get()
		out = append(out, TaskInfo{
			Pid:      pid,
			Parent:   k.parents[pid],
			Name:     t.Name(),
			Priority: in.Priority(),
			Status:   in.Status,
			Stride:   in.Stride,
			ExitCode: in.ExitCode,
		})
		g.Release()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pid < out[j].Pid })
	return out
}

// Ready lists the ready queue.
func (k *Kernel) Ready() []scheduler.Entry {
	return k.ready.Snapshot()
}

// FreeFrames returns the number of unallocated physical frames.
func (k *Kernel) FreeFrames() int {
	return k.frames.Free()
}

// Live returns the number of tasks that have not exited.
func (k *Kernel) Live() int {
	return k.live
}
