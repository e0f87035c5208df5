package model

import "time"

// Run is one boot of the kernel against a workload, as persisted by the
// trace store.
type Run struct {
	ID         string         `json:"id"`
	Workload   string         `json:"workload"`
	Policy     string         `json:"policy"`
	BigStride  uint64         `json:"big_stride"`
	State      RunState       `json:"state"`
	Reason     string         `json:"reason,omitempty"`
	Dispatches int            `json:"dispatches"`
	Mismatches int            `json:"mismatches"`
	Syscalls   map[string]int `json:"syscalls,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Tasks      []RunTask      `json:"tasks,omitempty"`
}

// RunTask is the per-task summary of a run.
type RunTask struct {
	Pid        int        `json:"pid"`
	Parent     int        `json:"parent"`
	Name       string     `json:"name"`
	Priority   int        `json:"priority"`
	Dispatches int        `json:"dispatches"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	ExitedAt   *time.Time `json:"exited_at,omitempty"`
}

// Dispatch is a single scheduling decision: the task picked by the
// scheduler and its stride before and after the pass was applied.
type Dispatch struct {
	Seq          int    `json:"seq"`
	Pid          int    `json:"pid"`
	Priority     int    `json:"priority"`
	StrideBefore uint64 `json:"stride_before"`
	StrideAfter  uint64 `json:"stride_after"`
	Token        uint64 `json:"token"`
}

// Share is the observed fraction of dispatches a task received, next to
// the fraction its priority entitles it to.
type Share struct {
	Pid        int     `json:"pid"`
	Name       string  `json:"name"`
	Priority   int     `json:"priority"`
	Dispatches int     `json:"dispatches"`
	Observed   float64 `json:"observed"`
	Expected   float64 `json:"expected"`
}

// ComputeShares fills Observed and Expected from dispatch counts and
// priorities.
func ComputeShares(shares []Share) {
	var total, prioSum int
	for _, s := range shares {
		total += s.Dispatches
		prioSum += s.Priority
	}
	for i := range shares {
		if total > 0 {
			shares[i].Observed = float64(shares[i].Dispatches) / float64(total)
		}
		if prioSum > 0 {
			shares[i].Expected = float64(shares[i].Priority) / float64(prioSum)
		}
	}
}
