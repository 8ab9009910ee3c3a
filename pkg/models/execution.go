package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the lifecycle state of a FlowExecution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuccess   ExecutionStatus = "success"
	ExecutionStatusFailure   ExecutionStatus = "failure"
	ExecutionStatusCompleted ExecutionStatus = "completed"
)

// Valid reports whether s is one of the known execution statuses.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusSuccess,
		ExecutionStatusFailure, ExecutionStatusCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether s is a final state. Terminal executions are
// never mutated again.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailure, ExecutionStatusCompleted:
		return true
	}
	return false
}

// FlowExecution is the durable summary record of one triggered run.
// It is owned exclusively by the engine until it reaches a terminal
// status.
type FlowExecution struct {
	ID                 string          `json:"id"`
	FlowID             string          `json:"flow_id"`
	Status             ExecutionStatus `json:"status"`
	InputContext       map[string]any  `json:"input_context,omitempty"`
	OutputData         map[string]any  `json:"output_data,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	ErrorTask          string          `json:"error_task,omitempty"`
	TotalTasksExecuted int             `json:"total_tasks_executed"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`

	// TaskExecutions is filled on demand for API responses; it is not a
	// stored column of the execution row itself.
	TaskExecutions []*TaskExecution `json:"task_executions,omitempty"`
}

// NewFlowExecution creates a pending run record for the given flow.
func NewFlowExecution(flowID string, input map[string]any) *FlowExecution {
	return &FlowExecution{
		ID:           uuid.New().String(),
		FlowID:       flowID,
		Status:       ExecutionStatusPending,
		InputContext: input,
		CreatedAt:    time.Now().UTC(),
	}
}

// MarkRunning records the transition out of pending.
func (e *FlowExecution) MarkRunning() {
	now := time.Now().UTC()
	e.Status = ExecutionStatusRunning
	e.StartedAt = &now
}

// MarkCompleted records a successful terminal state with the accumulated
// output data.
func (e *FlowExecution) MarkCompleted(output map[string]any) {
	now := time.Now().UTC()
	e.Status = ExecutionStatusCompleted
	e.OutputData = output
	e.CompletedAt = &now
}

// MarkFailed records a failed terminal state. taskName identifies the step
// that caused termination.
func (e *FlowExecution) MarkFailed(message, taskName string) {
	now := time.Now().UTC()
	e.Status = ExecutionStatusFailure
	e.ErrorMessage = message
	e.ErrorTask = taskName
	e.CompletedAt = &now
}

// DurationSeconds returns the wall-clock duration of the run, or nil if it
// has not both started and finished.
func (e *FlowExecution) DurationSeconds() *float64 {
	return durationSeconds(e.StartedAt, e.CompletedAt)
}

// TaskExecution is the durable record of one task step within a run. It is
// written exactly once, after the step finishes, and never mutated.
type TaskExecution struct {
	ID              string         `json:"id"`
	FlowExecutionID string         `json:"flow_execution_id"`
	TaskName        string         `json:"task_name"`
	TaskDescription string         `json:"task_description,omitempty"`
	SequenceNumber  int            `json:"sequence_number"`
	Status          Outcome        `json:"status"`
	InputData       map[string]any `json:"input_data,omitempty"`
	OutputData      map[string]any `json:"output_data,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ErrorDetail     string         `json:"error_detail,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// DurationSeconds returns the wall-clock duration of the step, or nil if
// either timestamp is missing.
func (t *TaskExecution) DurationSeconds() *float64 {
	return durationSeconds(t.StartedAt, t.CompletedAt)
}

// MarshalJSON adds the computed duration_seconds field to the wire form.
func (t *TaskExecution) MarshalJSON() ([]byte, error) {
	type taskExecutionJSON TaskExecution
	return json.Marshal(&struct {
		*taskExecutionJSON
		DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	}{
		taskExecutionJSON: (*taskExecutionJSON)(t),
		DurationSeconds:   t.DurationSeconds(),
	})
}

func durationSeconds(started, completed *time.Time) *float64 {
	if started == nil || completed == nil {
		return nil
	}
	d := completed.Sub(*started).Seconds()
	return &d
}
