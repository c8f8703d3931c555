package model

import "fmt"

// TaskStatus represents the lifecycle state of a Task.
// Values are ordered: a task only ever moves to a larger value.
type TaskStatus int32

const (
	TaskStatusInit TaskStatus = iota
	TaskStatusReady
	TaskStatusRunning
	TaskStatusCommitted
	TaskStatusFailed
)

var taskStatusNames = [...]string{"INIT", "READY", "RUNNING", "COMMITTED", "FAILED"}

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	if s < 0 || int(s) >= len(taskStatusNames) {
		return "UNKNOWN"
	}
	return taskStatusNames[s]
}

// MarshalText renders the status by name in JSON payloads.
func (s TaskStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *TaskStatus) UnmarshalText(text []byte) error {
	v, err := ParseTaskStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseTaskStatus returns the status named name.
func ParseTaskStatus(name string) (TaskStatus, error) {
	for i, n := range taskStatusNames {
		if n == name {
			return TaskStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown task status %q", name)
}

// IsTerminal returns true if the task can no longer change state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCommitted || s == TaskStatusFailed
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next > s
}
