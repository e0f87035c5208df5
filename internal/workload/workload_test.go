package workload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/strider/internal/config"
	"github.com/me/strider/internal/kernel"
	"github.com/me/strider/internal/logging"
	"github.com/me/strider/pkg/model"
)

const yamlWorkload = `
name: mixed
programs:
  - name: init
    priority: 4
    start: true
    steps:
      - mmap: {start: 4096, len: 8192, port: 3, expect: 0}
      - mmap: {start: 4096, len: 4096, port: 1, expect: -1}
      - munmap: {start: 4096, len: 4096, expect: -1}
      - spawn: {program: worker, expect: 1}
      - set_priority: {priority: 1, expect: -1}
      - yield: {count: 3}
      - exit: {code: 7}
  - name: worker
    steps:
      - yield: {}
      - set_priority: {priority: 9, expect: 9}
`

const hclWorkload = `
name = "mixed"

program "init" {
  priority = 4
  start    = true
  step "mmap" {
    start  = 4096
    len    = 8192
    port   = 3
    expect = 0
  }
  step "mmap" {
    start  = 4096
    len    = 4096
    port   = 1
    expect = -1
  }
  step "munmap" {
    start  = 4096
    len    = 4096
    expect = -1
  }
  step "spawn" {
    program = "worker"
    expect  = 1
  }
  step "set_priority" {
    priority = 1
    expect   = -1
  }
  step "yield" { count = 3 }
  step "exit" { code = 7 }
}

program "worker" {
  step "yield" {}
  step "set_priority" {
    priority = 9
    expect   = 9
  }
}
`

func TestParse_YAMLAndHCLAgree(t *testing.T) {
	y, err := Parse([]byte(yamlWorkload), "mixed.yaml")
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	h, err := Parse([]byte(hclWorkload), "mixed.hcl")
	if err != nil {
		t.Fatalf("hcl: %v", err)
	}

	for _, w := range []*Workload{y, h} {
		if w.Name != "mixed" || len(w.Programs) != 2 {
			t.Fatalf("workload = %+v", w)
		}
		first := w.Programs[0]
		if first.Priority != 4 || !first.Start || len(first.Steps) != 7 {
			t.Errorf("init = %+v", first)
		}
		if s := first.Steps[0]; s.Op != OpMmap || s.Addr != 4096 || s.Len != 8192 || s.Port != 3 || *s.Expect != 0 {
			t.Errorf("mmap step = %+v", s)
		}
		if s := first.Steps[5]; s.Op != OpYield || s.Count != 3 {
			t.Errorf("yield step = %+v", s)
		}
		if s := first.Steps[6]; s.Op != OpExit || s.Code != 7 {
			t.Errorf("exit step = %+v", s)
		}
		if s := w.Programs[1].Steps[0]; s.Count != 1 {
			t.Errorf("bare yield count = %d, want 1", s.Count)
		}
		if got := w.StartPrograms(); len(got) != 1 || got[0] != "init" {
			t.Errorf("StartPrograms() = %v", got)
		}
	}
}

func TestParse_NameDefaultsToFile(t *testing.T) {
	w, err := Parse([]byte("programs:\n  - name: a\n    start: true\n"), "dir/solo.yml")
	if err != nil {
		t.Fatal(err)
	}
	if w.Name != "solo" {
		t.Errorf("Name = %q, want solo", w.Name)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name, file, body, want string
	}{
		{"unknown extension", "w.json", "{}", "unsupported format"},
		{"bad yaml", "w.yaml", "programs: [", "parse workload"},
		{"bad hcl", "w.hcl", "program {", "parse HCL"},
		{"no start", "w.yaml", "programs:\n  - name: a\n", "start"},
		{"duplicate", "w.yaml", "programs:\n  - {name: a, start: true}\n  - {name: a}\n", "declared twice"},
		{"low priority", "w.yaml", "programs:\n  - {name: a, start: true, priority: 1}\n", "priority 1"},
		{"two ops in one step", "w.yaml", "programs:\n  - name: a\n    start: true\n    steps:\n      - {yield: {}, exit: {}}\n", "exactly one op"},
		{"unknown spawn target", "w.yaml", "programs:\n  - name: a\n    start: true\n    steps:\n      - spawn: {program: b}\n", "unknown program"},
		{"unknown hcl op", "w.hcl", "program \"a\" {\n  start = true\n  step \"fork\" {}\n}\n", "unknown op"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body), tt.file)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestParse_SpawnOfMissingProgramAllowedWhenFailureExpected(t *testing.T) {
	body := "programs:\n  - name: a\n    start: true\n    steps:\n      - spawn: {program: ghost, expect: -1}\n"
	if _, err := Parse([]byte(body), "w.yaml"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.hcl")
	if err := os.WriteFile(path, []byte(hclWorkload), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(w.Programs) != 2 {
		t.Errorf("programs = %d, want 2", len(w.Programs))
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func bootWorkload(t *testing.T, body, file string) (*kernel.Kernel, *Build) {
	t.Helper()
	w, err := Parse([]byte(body), file)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg := config.DefaultKernelConfig().Kernel
	cfg.MemoryFrames = 64
	k, err := kernel.New(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("kernel.New: %v", err)
	}
	b := NewBuild(w, logging.Discard())
	if err := b.Install(k); err != nil {
		t.Fatalf("Install: %v", err)
	}
	return k, b
}

func TestBuild_RunsToCompletionWithoutMismatches(t *testing.T) {
	for _, file := range []string{"mixed.yaml", "mixed.hcl"} {
		t.Run(file, func(t *testing.T) {
			body := yamlWorkload
			if strings.HasSuffix(file, ".hcl") {
				body = hclWorkload
			}
			k, b := bootWorkload(t, body, file)

			res, err := k.Run(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if res.State != model.RunStateCompleted || res.Exited != 2 {
				t.Errorf("result = %+v", res)
			}
			if b.Checks.Checked != 6 || b.Checks.Mismatches != 0 {
				t.Errorf("checks = %+v, want 6 checked and none mismatched", *b.Checks)
			}
			tasks := k.Tasks()
			if tasks[0].ExitCode != 7 {
				t.Errorf("init exit code = %d, want 7", tasks[0].ExitCode)
			}
			if tasks[1].Priority != 9 {
				t.Errorf("worker priority = %d, want 9", tasks[1].Priority)
			}
		})
	}
}

func TestBuild_CountsMismatches(t *testing.T) {
	body := `
programs:
  - name: wrong
    start: true
    steps:
      - mmap: {start: 4096, len: 4096, port: 0, expect: 0}
      - set_priority: {priority: 5, expect: 6}
      - set_priority: {priority: 5}
`
	k, b := bootWorkload(t, body, "wrong.yaml")
	if _, err := k.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if b.Checks.Checked != 2 || b.Checks.Mismatches != 2 {
		t.Errorf("checks = %+v, want 2 checked and 2 mismatched", *b.Checks)
	}
}

func TestBuild_ForeverStopsOnBudget(t *testing.T) {
	body := `
programs:
  - {name: spin, start: true, steps: [{yield: {forever: true}}]}
`
	w, err := Parse([]byte(body), "spin.yaml")
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultKernelConfig().Kernel
	cfg.MaxDispatches = 50
	k, err := kernel.New(cfg, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := NewBuild(w, logging.Discard()).Install(k); err != nil {
		t.Fatal(err)
	}
	res, err := k.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.State != model.RunStateStopped || res.Dispatches != 50 {
		t.Errorf("result = %+v", res)
	}
}

func TestSampleWorkloads(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "workloads", "*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) < 2 {
		t.Fatalf("found %d sample workloads, want at least 2", len(paths))
	}
	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			w, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			k, err := kernel.New(config.DefaultKernelConfig().Kernel, logging.Discard())
			if err != nil {
				t.Fatal(err)
			}
			b := NewBuild(w, logging.Discard())
			if err := b.Install(k); err != nil {
				t.Fatalf("Install: %v", err)
			}
			res, err := k.Run(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if res.State != model.RunStateCompleted || res.Live != 0 {
				t.Errorf("result = %+v", res)
			}
			if b.Checks.Mismatches != 0 {
				t.Errorf("%d of %d checks mismatched", b.Checks.Mismatches, b.Checks.Checked)
			}
		})
	}
}
