// Package syscall implements the kernel side of the user syscall ABI.
package syscall

import (
	"errors"
	"log/slog"

	"github.com/me/strider/internal/processor"
	"github.com/me/strider/internal/task"
	"github.com/me/strider/pkg/model"
)

// Syscall numbers.
const (
	SysExit        uint64 = 93
	SysYield       uint64 = 124
	SysSetPriority uint64 = 140
	SysGetPid      uint64 = 172
	SysMunmap      uint64 = 215
	SysMmap        uint64 = 222
	SysSpawn       uint64 = 400
)

// Names maps syscall numbers to their names, for logs and reports.
var Names = map[uint64]string{
	SysExit:        "exit",
	SysYield:       "yield",
	SysSetPriority: "set_priority",
	SysGetPid:      "getpid",
	SysMunmap:      "munmap",
	SysMmap:        "mmap",
	SysSpawn:       "spawn",
}

// ErrUnknownProgram is returned by Lifecycle.Spawn for names that are not
// registered.
var ErrUnknownProgram = errors.New("unknown program")

// Lifecycle is the part of the kernel the syscall layer drives to suspend,
// end and create tasks.
type Lifecycle interface {
	// SuspendCurrentAndRunNext re-queues the current task and returns once
	// it is dispatched again.
	SuspendCurrentAndRunNext()
	// ExitCurrentAndRunNext ends the current task. It does not return.
	ExitCurrentAndRunNext(code int)
	// Spawn creates a Ready task running the named program.
	Spawn(name string) (int, error)
	// ProgramName resolves the program index passed to the numeric spawn
	// call.
	ProgramName(index uint64) (string, bool)
}

// Handler serves syscalls on behalf of the processor's current task.
type Handler struct {
	proc   *processor.Processor
	life   Lifecycle
	logger *slog.Logger
}

// New returns a handler for tasks running on proc.
func New(proc *processor.Processor, life Lifecycle, logger *slog.Logger) *Handler {
	return &Handler{
		proc:   proc,
		life:   life,
		logger: logger.With("component", "syscall"),
	}
}

// Dispatch routes a numeric syscall. Unknown numbers return -1.
func (h *Handler) Dispatch(id uint64, args [3]uint64) int64 {
	switch id {
	case SysExit:
		h.Exit(int64(args[0]))
		return 0
	case SysYield:
		return h.Yield()
	case SysSetPriority:
		return h.SetPriority(int64(args[0]))
	case SysGetPid:
		return h.GetPid()
	case SysMunmap:
		return h.Munmap(args[0], args[1])
	case SysMmap:
		return h.Mmap(args[0], args[1], args[2])
	case SysSpawn:
		name, ok := h.life.ProgramName(args[0])
		if !ok {
			h.logger.Warn("spawn rejected", "reason", "no such program", "index", args[0])
			return -1
		}
		return h.Spawn(name)
	default:
		h.logger.Warn("unsupported syscall", "id", id)
		return -1
	}
}

// Exit ends the current task with code. It does not return.
func (h *Handler) Exit(code int64) {
	h.life.ExitCurrentAndRunNext(int(code))
}

// Yield gives up the CPU and returns 0 once the task runs again.
func (h *Handler) Yield() int64 {
	h.life.SuspendCurrentAndRunNext()
	return 0
}

// GetPid returns the current task's pid.
func (h *Handler) GetPid() int64 {
	return int64(h.current("getpid").Pid())
}

// SetPriority sets the current task's priority and returns it, or -1 if
// prio is below task.MinPriority.
func (h *Handler) SetPriority(prio int64) int64 {
	t := h.current("set_priority")
	if prio < task.MinPriority {
		h.logger.Warn("set_priority rejected", "pid", t.Pid(), "priority", prio)
		return -1
	}
	g := t.Exclusive()
	defer g.Release()
	if err := g.Get().SetPriority(int(prio)); err != nil {
		return -1
	}
	return prio
}

// Spawn creates a child task running the named program and returns its
// pid, or -1.
func (h *Handler) Spawn(name string) int64 {
	parent := h.current("spawn")
	pid, err := h.life.Spawn(name)
	if err != nil {
		h.logger.Warn("spawn rejected", "parent", parent.Pid(), "program", name, "error", err)
		return -1
	}
	return int64(pid)
}

func (h *Handler) current(op string) *task.ControlBlock {
	t := h.proc.Current()
	if t == nil {
		model.Violate(op, "no current task")
	}
	return t
}
