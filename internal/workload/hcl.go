package workload

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// hclFile is the top level of an HCL workload:
//
//	name = "fairness"
//
//	program "p2" {
//	  priority = 2
//	  start    = true
//	  step "yield" { count = 100 }
//	  step "mmap"  {
//	    start  = 4096
//	    len    = 4096
//	    port   = 3
//	    expect = 0
//	  }
//	}
type hclFile struct {
	Name     string       `hcl:"name,optional"`
	Programs []hclProgram `hcl:"program,block"`
}

type hclProgram struct {
	Name     string    `hcl:"name,label"`
	Priority int       `hcl:"priority,optional"`
	Start    bool      `hcl:"start,optional"`
	Steps    []hclStep `hcl:"step,block"`
}

type hclStep struct {
	Op       string  `hcl:"op,label"`
	Count    *int    `hcl:"count,optional"`
	Forever  *bool   `hcl:"forever,optional"`
	Start    *uint64 `hcl:"start,optional"`
	Len      *uint64 `hcl:"len,optional"`
	Port     *uint64 `hcl:"port,optional"`
	Program  *string `hcl:"program,optional"`
	Priority *int64  `hcl:"priority,optional"`
	Code     *int    `hcl:"code,optional"`
	Expect   *int64  `hcl:"expect,optional"`
}

func (h hclStep) toStep() Step {
	s := Step{Op: Op(h.Op), Expect: h.Expect}
	if h.Count != nil {
		s.Count = *h.Count
	}
	if h.Forever != nil {
		s.Forever = *h.Forever
	}
	if s.Op == OpYield && s.Count == 0 && !s.Forever {
		s.Count = 1
	}
	if h.Start != nil {
		s.Addr = *h.Start
	}
	if h.Len != nil {
		s.Len = *h.Len
	}
	if h.Port != nil {
		s.Port = *h.Port
	}
	if h.Program != nil {
		s.Program = *h.Program
	}
	if h.Priority != nil {
		s.Priority = *h.Priority
	}
	if h.Code != nil {
		s.Code = *h.Code
	}
	return s
}

func parseHCL(data []byte, filename string) (*Workload, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL workload %s: %w", filename, diags)
	}

	var f hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &f); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL workload %s: %w", filename, diags)
	}

	w := &Workload{Name: f.Name}
	for _, hp := range f.Programs {
		p := Program{Name: hp.Name, Priority: hp.Priority, Start: hp.Start}
		for _, hs := range hp.Steps {
			p.Steps = append(p.Steps, hs.toStep())
		}
		w.Programs = append(w.Programs, p)
	}
	return w, nil
}
