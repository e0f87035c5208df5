// Package trace records what the kernel did during a run and persists it.
package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/me/strider/internal/kernel"
	"github.com/me/strider/internal/processor"
	"github.com/me/strider/internal/store"
	"github.com/me/strider/pkg/model"
)

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// Recorder collects dispatches and task lifecycle events in memory. It is
// driven by kernel callbacks, which never run concurrently, and is flushed
// once the run has stopped.
type Recorder struct {
	run        model.Run
	tasks      map[int]*model.RunTask
	order      []int
	dispatches []model.Dispatch
	now        func() time.Time
}

// NewRecorder starts recording a run of workload.
func NewRecorder(workload, policy string, bigStride uint64) *Recorder {
	r := &Recorder{
		tasks: make(map[int]*model.RunTask),
		now:   func() time.Time { return time.Now().UTC() },
	}
	r.run = model.Run{
		ID:        NewRunID(),
		Workload:  workload,
		Policy:    policy,
		BigStride: bigStride,
		State:     model.RunStateRunning,
		StartedAt: r.now(),
	}
	return r
}

// ID returns the run identifier.
func (r *Recorder) ID() string {
	return r.run.ID
}

// OnDispatch implements processor.Observer.
func (r *Recorder) OnDispatch(ev processor.DispatchEvent) {
	r.dispatches = append(r.dispatches, model.Dispatch{
		Seq:          ev.Seq,
		Pid:          ev.Pid,
		Priority:     ev.Priority,
		StrideBefore: ev.StrideBefore,
		StrideAfter:  ev.StrideAfter,
		Token:        ev.Token,
	})
	if t, ok := r.tasks[ev.Pid]; ok {
		t.Dispatches++
		t.Priority = ev.Priority
	}
}

// OnSpawn implements kernel.LifecycleObserver.
func (r *Recorder) OnSpawn(info kernel.TaskInfo) {
	r.tasks[info.Pid] = &model.RunTask{
		Pid:      info.Pid,
		Parent:   info.Parent,
		Name:     info.Name,
		Priority: info.Priority,
	}
	r.order = append(r.order, info.Pid)
}

// OnExit implements kernel.LifecycleObserver.
func (r *Recorder) OnExit(pid, code int) {
	t, ok := r.tasks[pid]
	if !ok {
		return
	}
	at := r.now()
	t.ExitCode = &code
	t.ExitedAt = &at
}

// Dispatches returns the recorded dispatches in order.
func (r *Recorder) Dispatches() []model.Dispatch {
	return r.dispatches
}

// Finish closes the run with the kernel's result and returns it. Task
// priorities are taken from the kernel's final view so that later
// set_priority calls are reflected.
func (r *Recorder) Finish(res kernel.Result, mismatches int, final []kernel.TaskInfo) *model.Run {
	at := r.now()
	r.run.State = res.State
	r.run.Reason = res.Reason
	r.run.Dispatches = res.Dispatches
	r.run.Mismatches = mismatches
	r.run.Syscalls = res.Syscalls
	r.run.FinishedAt = &at

	for _, info := range final {
		if t, ok := r.tasks[info.Pid]; ok {
			t.Priority = info.Priority
		}
	}
	r.run.Tasks = r.run.Tasks[:0]
	for _, pid := range r.order {
		r.run.Tasks = append(r.run.Tasks, *r.tasks[pid])
	}
	run := r.run
	return &run
}

// Flush writes the finished run to st in one transaction.
func (r *Recorder) Flush(ctx context.Context, st store.Store) error {
	if r.run.FinishedAt == nil {
		return fmt.Errorf("flush run %s: run not finished", r.run.ID)
	}
	if err := st.SaveRun(ctx, &r.run, r.dispatches); err != nil {
		return fmt.Errorf("flush run %s: %w", r.run.ID, err)
	}
	return nil
}
