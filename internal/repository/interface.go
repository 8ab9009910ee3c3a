// Package repository provides persistent storage for flow definitions and
// their execution records.
package repository

import (
	"context"
	"errors"
	"time"

	"flow-manager/pkg/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a create would collide with an
	// existing record.
	ErrConflict = errors.New("already exists")
)

// ListFlowsOptions filters and paginates ListFlows. A nil IsActive
// matches flows in either state.
type ListFlowsOptions struct {
	Page     int
	PerPage  int
	IsActive *bool
}

// ListExecutionsOptions filters and paginates ListExecutions. Empty
// FlowID and Status match everything.
type ListExecutionsOptions struct {
	Page    int
	PerPage int
	FlowID  string
	Status  models.ExecutionStatus
}

// Store is the persistence boundary for flows and executions.
type Store interface {
	// CreateFlow stores a new flow definition.
	CreateFlow(ctx context.Context, flow *models.Flow) error
	// GetFlow retrieves a flow by its ID.
	GetFlow(ctx context.Context, id string) (*models.Flow, error)
	// ListFlows returns a page of flows plus the unpaginated total,
	// newest first.
	ListFlows(ctx context.Context, opts ListFlowsOptions) ([]*models.Flow, int, error)
	// UpdateFlow persists the mutable fields of an existing flow.
	UpdateFlow(ctx context.Context, flow *models.Flow) error
	// DeleteFlow removes a flow and, by cascade, its executions.
	DeleteFlow(ctx context.Context, id string) error

	// CreateExecution stores a new execution record in pending state.
	CreateExecution(ctx context.Context, exec *models.FlowExecution) error
	// MarkExecutionRunning transitions a pending execution to running.
	MarkExecutionRunning(ctx context.Context, id string, startedAt time.Time) error
	// AppendTaskExecution durably records one completed task step.
	AppendTaskExecution(ctx context.Context, record *models.TaskExecution) error
	// FinalizeExecution writes the terminal state of an execution.
	FinalizeExecution(ctx context.Context, exec *models.FlowExecution) error
	// GetExecution retrieves an execution by its ID, without its task
	// executions.
	GetExecution(ctx context.Context, id string) (*models.FlowExecution, error)
	// ListExecutions returns a page of executions plus the unpaginated
	// total, most recently started first.
	ListExecutions(ctx context.Context, opts ListExecutionsOptions) ([]*models.FlowExecution, int, error)
	// ListTaskExecutions returns an execution's task records in
	// sequence order.
	ListTaskExecutions(ctx context.Context, executionID string) ([]*models.TaskExecution, error)
}
