package workload

import (
	"fmt"
	"log/slog"

	"github.com/me/strider/internal/kernel"
)

// Checks counts expectation results while programs run. It is only
// touched by the task holding the CPU.
type Checks struct {
	Checked    int
	Mismatches int
}

// Build holds the kernel programs generated from a workload.
type Build struct {
	Workload *Workload
	Programs []kernel.ProgramSpec
	Checks   *Checks

	logger *slog.Logger
}

// NewBuild turns every program of w into a kernel program.
func NewBuild(w *Workload, logger *slog.Logger) *Build {
	b := &Build{
		Workload: w,
		Checks:   &Checks{},
		logger:   logger.With("component", "workload", "workload", w.Name),
	}
	for _, p := range w.Programs {
		b.Programs = append(b.Programs, kernel.ProgramSpec{
			Name:     p.Name,
			Priority: p.Priority,
			Main:     b.program(p),
		})
	}
	return b
}

// Install registers the programs with k and spawns the start programs.
func (b *Build) Install(k *kernel.Kernel) error {
	for _, p := range b.Programs {
		if err := k.Register(p); err != nil {
			return fmt.Errorf("install workload %s: %w", b.Workload.Name, err)
		}
	}
	for _, name := range b.Workload.StartPrograms() {
		if _, err := k.Spawn(name); err != nil {
			return fmt.Errorf("install workload %s: %w", b.Workload.Name, err)
		}
	}
	return nil
}

func (b *Build) program(p Program) kernel.Program {
	steps := p.Steps
	return func(u *kernel.User) int {
		for i, s := range steps {
			switch s.Op {
			case OpYield:
				for n := 0; s.Forever || n < s.Count; n++ {
					u.Yield()
				}
			case OpMmap:
				b.check(u, p.Name, i, s, u.Mmap(s.Addr, s.Len, s.Port))
			case OpMunmap:
				b.check(u, p.Name, i, s, u.Munmap(s.Addr, s.Len))
			case OpSpawn:
				b.check(u, p.Name, i, s, u.Spawn(s.Program))
			case OpSetPriority:
				b.check(u, p.Name, i, s, u.SetPriority(s.Priority))
			case OpExit:
				u.Exit(s.Code)
			}
		}
		return 0
	}
}

func (b *Build) check(u *kernel.User, program string, step int, s Step, got int64) {
	if s.Expect == nil {
		return
	}
	b.Checks.Checked++
	if got == *s.Expect {
		return
	}
	b.Checks.Mismatches++
	b.logger.Warn("unexpected syscall result",
		"pid", u.Pid(), "program", program, "step", step, "op", s.Op,
		"got", got, "want", *s.Expect)
}
