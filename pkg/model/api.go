package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// ListOptions configures list queries.
type ListOptions struct {
	Limit int
	AppID string // Optional application filter
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 20}
}

// Clamp enforces limits (max 100, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
}

// InputSpec declares one expected input partition of a submitted task.
type InputSpec struct {
	PartitionID int64 `json:"partition_id"`
}

// SubmitRequest is the body of POST /apps/{appID}/tasks.
type SubmitRequest struct {
	Inputs []InputSpec `json:"inputs"`
}

// TaskView is the API representation of a task.
type TaskView struct {
	ID       int64      `json:"id"`
	AppID    string     `json:"app_id"`
	Status   TaskStatus `json:"status"`
	NumInput int        `json:"num_input"`
	NumReady int        `json:"num_ready"`
	Error    string     `json:"error,omitempty"`
}

// WaitTime is a best/worst case wait estimate in milliseconds.
type WaitTime struct {
	BestMS  int64 `json:"best_ms"`
	WorstMS int64 `json:"worst_ms"`
}

// NewWaitTime converts a duration range into a WaitTime.
func NewWaitTime(best, worst time.Duration) WaitTime {
	return WaitTime{BestMS: best.Milliseconds(), WorstMS: worst.Milliseconds()}
}

// QueueView reports the manager counters.
type QueueView struct {
	ExeQueueLength int   `json:"exe_queue_length"`
	AppQueues      int   `json:"app_queues"`
	PendingTasks   int   `json:"pending_tasks"`
	LobbyWaitMS    int64 `json:"lobby_wait_ms"`
	DoorWaitMS     int64 `json:"door_wait_ms"`
	DeltaDelayMS   int64 `json:"delta_delay_ms"`
}

// BlockView describes a hydrated or produced data block.
type BlockView struct {
	PartitionID int64  `json:"partition_id"`
	Length      int64  `json:"length"`
	NumItems    int64  `json:"num_items"`
	Size        int64  `json:"size"`
	Ready       bool   `json:"ready"`
	Data        []byte `json:"data,omitempty"`
}

// OutputView is one block popped from a task's output stack.
type OutputView struct {
	Block   *BlockView `json:"block,omitempty"`
	HasMore bool       `json:"has_more"`
	Status  TaskStatus `json:"status"`
}

// Execution is a recorded run of a task on a platform.
type Execution struct {
	TaskID      int64         `json:"task_id"`
	AppID       string        `json:"app_id"`
	Platform    string        `json:"platform"`
	Estimated   time.Duration `json:"estimated_ns"`
	Real        time.Duration `json:"real_ns"`
	DeltaDelay  time.Duration `json:"delta_delay_ns"`
	Outputs     int           `json:"outputs"`
	Status      TaskStatus    `json:"status"`
	Error       string        `json:"error,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
}
