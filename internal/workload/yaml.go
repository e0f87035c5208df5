package workload

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type yamlFile struct {
	Name     string        `yaml:"name"`
	Programs []yamlProgram `yaml:"programs"`
}

type yamlProgram struct {
	Name     string     `yaml:"name"`
	Priority int        `yaml:"priority"`
	Start    bool       `yaml:"start"`
	Steps    []yamlStep `yaml:"steps"`
}

// yamlStep is a single-key mapping such as `yield: {count: 3}`.
type yamlStep struct {
	Yield *struct {
		Count   int  `yaml:"count"`
		Forever bool `yaml:"forever"`
	} `yaml:"yield"`
	Mmap *struct {
		Start  uint64 `yaml:"start"`
		Len    uint64 `yaml:"len"`
		Port   uint64 `yaml:"port"`
		Expect *int64 `yaml:"expect"`
	} `yaml:"mmap"`
	Munmap *struct {
		Start  uint64 `yaml:"start"`
		Len    uint64 `yaml:"len"`
		Expect *int64 `yaml:"expect"`
	} `yaml:"munmap"`
	Spawn *struct {
		Program string `yaml:"program"`
		Expect  *int64 `yaml:"expect"`
	} `yaml:"spawn"`
	SetPriority *struct {
		Priority int64  `yaml:"priority"`
		Expect   *int64 `yaml:"expect"`
	} `yaml:"set_priority"`
	Exit *struct {
		Code int `yaml:"code"`
	} `yaml:"exit"`
}

func (y yamlStep) toStep() (Step, error) {
	var steps []Step
	if y.Yield != nil {
		count := y.Yield.Count
		if count == 0 && !y.Yield.Forever {
			count = 1
		}
		steps = append(steps, Step{Op: OpYield, Count: count, Forever: y.Yield.Forever})
	}
	if y.Mmap != nil {
		steps = append(steps, Step{Op: OpMmap, Addr: y.Mmap.Start, Len: y.Mmap.Len, Port: y.Mmap.Port, Expect: y.Mmap.Expect})
	}
	if y.Munmap != nil {
		steps = append(steps, Step{Op: OpMunmap, Addr: y.Munmap.Start, Len: y.Munmap.Len, Expect: y.Munmap.Expect})
	}
	if y.Spawn != nil {
		steps = append(steps, Step{Op: OpSpawn, Program: y.Spawn.Program, Expect: y.Spawn.Expect})
	}
	if y.SetPriority != nil {
		steps = append(steps, Step{Op: OpSetPriority, Priority: y.SetPriority.Priority, Expect: y.SetPriority.Expect})
	}
	if y.Exit != nil {
		steps = append(steps, Step{Op: OpExit, Code: y.Exit.Code})
	}
	if len(steps) != 1 {
		return Step{}, fmt.Errorf("each step needs exactly one op, got %d", len(steps))
	}
	return steps[0], nil
}

func parseYAML(data []byte, filename string) (*Workload, error) {
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse workload %s: %w", filename, err)
	}
	w := &Workload{Name: f.Name}
	for _, yp := range f.Programs {
		p := Program{Name: yp.Name, Priority: yp.Priority, Start: yp.Start}
		for i, ys := range yp.Steps {
			s, err := ys.toStep()
			if err != nil {
				return nil, fmt.Errorf("workload %s: program %q step %d: %w", filename, yp.Name, i, err)
			}
			p.Steps = append(p.Steps, s)
		}
		w.Programs = append(w.Programs, p)
	}
	return w, nil
}
