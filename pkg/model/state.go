package model

// TaskStatus is the execution status of a task as seen by the scheduler.
type TaskStatus string

const (
	TaskStatusReady   TaskStatus = "READY"
	TaskStatusRunning TaskStatus = "RUNNING"
	TaskStatusBlocked TaskStatus = "BLOCKED"
	TaskStatusZombie  TaskStatus = "ZOMBIE"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true once the task has exited.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusZombie
}

// ValidTaskTransitions defines the allowed status transitions for tasks.
var ValidTaskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusReady:   {TaskStatusRunning},
	TaskStatusRunning: {TaskStatusReady, TaskStatusBlocked, TaskStatusZombie},
	TaskStatusBlocked: {TaskStatusReady},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range ValidTaskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RunState represents the lifecycle state of a recorded kernel run.
type RunState string

const (
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateStopped   RunState = "STOPPED"
	RunStateFailed    RunState = "FAILED"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// IsTerminal returns true if the run is in a final state.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateStopped, RunStateFailed:
		return true
	}
	return false
}
