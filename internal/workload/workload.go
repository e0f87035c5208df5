// Package workload describes the user programs a run boots with and turns
// them into kernel programs.
package workload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/me/strider/internal/task"
)

// Op names a program step.
type Op string

const (
	OpYield       Op = "yield"
	OpMmap        Op = "mmap"
	OpMunmap      Op = "munmap"
	OpSpawn       Op = "spawn"
	OpSetPriority Op = "set_priority"
	OpExit        Op = "exit"
)

// Workload is a set of programs. Programs marked Start are spawned at boot;
// the rest only run when another program spawns them.
type Workload struct {
	Name     string
	Programs []Program
}

// Program is one named user program.
type Program struct {
	Name     string
	Priority int // 0 means the kernel default
	Start    bool
	Steps    []Step
}

// Step is one action of a program. Only the fields of its Op are used.
type Step struct {
	Op Op

	// yield
	Count   int
	Forever bool

	// mmap, munmap
	Addr uint64
	Len  uint64
	Port uint64

	// spawn
	Program string

	// set_priority
	Priority int64

	// exit
	Code int

	// Expect is the return value the step should produce, if checked.
	Expect *int64
}

// Load reads a workload file, choosing the format by extension: .yaml or
// .yml for YAML, .hcl for HCL.
func Load(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workload: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes a workload. filename selects the format and is used in
// error messages.
func Parse(data []byte, filename string) (*Workload, error) {
	var (
		w   *Workload
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		w, err = parseYAML(data, filename)
	case ".hcl":
		w, err = parseHCL(data, filename)
	default:
		return nil, fmt.Errorf("workload %s: unsupported format %q (want .yaml, .yml or .hcl)", filename, ext)
	}
	if err != nil {
		return nil, err
	}
	if w.Name == "" {
		w.Name = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("workload %s: %w", filename, err)
	}
	return w, nil
}

// Validate checks program names, priorities, spawn targets and step
// arguments, reporting every problem found.
func (w *Workload) Validate() error {
	var errs []error
	names := make(map[string]bool, len(w.Programs))
	starts := 0
	for _, p := range w.Programs {
		if p.Name == "" {
			errs = append(errs, errors.New("program with empty name"))
			continue
		}
		if names[p.Name] {
			errs = append(errs, fmt.Errorf("program %q declared twice", p.Name))
		}
		names[p.Name] = true
		if p.Start {
			starts++
		}
	}
	if starts == 0 {
		errs = append(errs, errors.New("no program has start = true"))
	}

	for _, p := range w.Programs {
		if p.Priority != 0 && p.Priority < task.MinPriority {
			errs = append(errs, fmt.Errorf("program %q: priority %d is below %d", p.Name, p.Priority, task.MinPriority))
		}
		for i, s := range p.Steps {
			if err := s.validate(names); err != nil {
				errs = append(errs, fmt.Errorf("program %q step %d (%s): %w", p.Name, i, s.Op, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s Step) validate(programs map[string]bool) error {
	switch s.Op {
	case OpYield:
		if !s.Forever && s.Count <= 0 {
			return fmt.Errorf("count must be positive, got %d", s.Count)
		}
	case OpMmap, OpMunmap, OpSetPriority, OpExit:
	case OpSpawn:
		// Unknown targets are allowed only when the step expects failure.
		if !programs[s.Program] && (s.Expect == nil || *s.Expect != -1) {
			return fmt.Errorf("unknown program %q", s.Program)
		}
	default:
		return fmt.Errorf("unknown op")
	}
	return nil
}

// StartPrograms lists the programs spawned at boot, in declaration order.
func (w *Workload) StartPrograms() []string {
	var out []string
	for _, p := range w.Programs {
		if p.Start {
			out = append(out, p.Name)
		}
	}
	return out
}
