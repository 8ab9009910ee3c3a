// Package engine implements the flow execution engine: it interprets a
// flow definition, runs each task in turn, evaluates routing conditions to
// pick the next task, and persists a durable execution trace.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"flow-manager/internal/logging"
	"flow-manager/internal/repository"
	"flow-manager/internal/tasks"
	"flow-manager/pkg/models"
)

// DefaultMaxTaskExecutions bounds the number of task executions in a
// single run. Condition graphs are caller-authored and may contain cycles.
const DefaultMaxTaskExecutions = 1000

var (
	// ErrFlowInactive is returned when execution is requested for a flow
	// whose is_active flag is off.
	ErrFlowInactive = errors.New("flow is not active")

	// ErrExecutionLimitExceeded is recorded as the failure reason when a
	// run trips the cycle guard.
	ErrExecutionLimitExceeded = errors.New("execution limit exceeded")
)

// Engine runs flows to a terminal state. A single Engine serves
// concurrent runs; each run is strictly sequential and owns its
// FlowExecution exclusively until the terminal write.
type Engine struct {
	store    repository.Store
	registry *tasks.Registry
	logger   *logging.Logger
	maxTasks int

	execCounter  metric.Int64Counter
	taskCounter  metric.Int64Counter
	execDuration metric.Float64Histogram
}

// New creates an Engine. maxTasks bounds the steps of one run; zero or a
// negative value selects DefaultMaxTaskExecutions.
func New(store repository.Store, registry *tasks.Registry, logger *logging.Logger, maxTasks int) (*Engine, error) {
	if maxTasks <= 0 {
		maxTasks = DefaultMaxTaskExecutions
	}

	meter := otel.Meter("flow-manager/engine")
	execCounter, err := meter.Int64Counter("flow_executions_total",
		metric.WithDescription("Flow executions reaching a terminal status."))
	if err != nil {
		return nil, fmt.Errorf("failed to create execution counter: %w", err)
	}
	taskCounter, err := meter.Int64Counter("task_executions_total",
		metric.WithDescription("Task executions recorded across all runs."))
	if err != nil {
		return nil, fmt.Errorf("failed to create task counter: %w", err)
	}
	execDuration, err := meter.Float64Histogram("flow_execution_duration_seconds",
		metric.WithDescription("Wall-clock duration of flow executions."))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Engine{
		store:        store,
		registry:     registry,
		logger:       logger,
		maxTasks:     maxTasks,
		execCounter:  execCounter,
		taskCounter:  taskCounter,
		execDuration: execDuration,
	}, nil
}

// Execute runs the identified flow against the caller's input context and
// returns the terminal FlowExecution record. A task-level failure is a
// normal result: the returned record has status failure and the error is
// nil. A non-nil error reports an infrastructure fault (unknown flow,
// inactive flow, storage), after a best-effort failure record is written
// when one already exists. Every TaskExecution and the terminal row are
// durably persisted before Execute returns.
func (e *Engine) Execute(ctx context.Context, flowID string, input map[string]any) (*models.FlowExecution, error) {
	flow, err := e.store.GetFlow(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow: %w", err)
	}
	if !flow.IsActive {
		return nil, fmt.Errorf("flow %q: %w", flowID, ErrFlowInactive)
	}

	exec := models.NewFlowExecution(flow.ID, input)
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	exec.MarkRunning()
	if err := e.store.MarkExecutionRunning(ctx, exec.ID, *exec.StartedAt); err != nil {
		return nil, fmt.Errorf("failed to mark execution running: %w", err)
	}

	e.logger.Info("flow execution started", "flow_id", flow.ID, "execution_id", exec.ID)
	return e.run(ctx, flow, exec, input)
}

func (e *Engine) run(ctx context.Context, flow *models.Flow, exec *models.FlowExecution, input map[string]any) (*models.FlowExecution, error) {
	current := flow.StartTask
	contextData := maps.Clone(input)
	if contextData == nil {
		contextData = map[string]any{}
	}
	sequence := 0

	for {
		if sequence >= e.maxTasks {
			return exec, e.fail(ctx, exec, current, ErrExecutionLimitExceeded.Error(), sequence)
		}

		task, err := e.registry.Resolve(current)
		if err != nil {
			return exec, e.fail(ctx, exec, current, err.Error(), sequence)
		}

		sequence++
		record := e.executeTask(ctx, flow, exec, task, current, sequence, contextData)
		if err := e.store.AppendTaskExecution(ctx, record); err != nil {
			if ferr := e.fail(ctx, exec, current, "internal error: "+err.Error(), sequence); ferr != nil {
				e.logger.Error("failed to write terminal record", "execution_id", exec.ID, "error", ferr)
			}
			return exec, fmt.Errorf("failed to append task execution: %w", err)
		}

		if record.OutputData != nil {
			contextData[current] = record.OutputData
		}

		target, routed := Evaluate(flow.Conditions, current, record.Status)
		terminal := !routed || target == models.EndTarget

		if record.Status == models.OutcomeFailure {
			if terminal {
				return exec, e.fail(ctx, exec, current, record.ErrorMessage, sequence)
			}
		} else if terminal {
			return exec, e.complete(ctx, exec, contextData, sequence)
		}
		current = target
	}
}

// executeTask runs one step behind the fault barrier and builds its
// durable record. The input snapshot is taken before execution.
func (e *Engine) executeTask(ctx context.Context, flow *models.Flow, exec *models.FlowExecution, task tasks.Task, name string, sequence int, contextData map[string]any) *models.TaskExecution {
	description := task.Description()
	if decl := flow.TaskByName(name); decl != nil && decl.Description != "" {
		description = decl.Description
	}

	record := &models.TaskExecution{
		ID:              uuid.New().String(),
		FlowExecutionID: exec.ID,
		TaskName:        name,
		TaskDescription: description,
		SequenceNumber:  sequence,
		InputData:       maps.Clone(contextData),
	}

	started := time.Now().UTC()
	record.StartedAt = &started

	payload, detail, err := e.invoke(ctx, task, contextData)

	completed := time.Now().UTC()
	record.CompletedAt = &completed

	if err != nil {
		record.Status = models.OutcomeFailure
		record.ErrorMessage = err.Error()
		record.ErrorDetail = detail
		e.logger.Warn("task failed",
			"execution_id", exec.ID, "task", name, "sequence", sequence, "error", err)
	} else {
		record.Status = models.OutcomeSuccess
		record.OutputData = payload
	}

	e.taskCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(record.Status))))
	return record
}

// invoke executes a task and converts a panic into a failure outcome with
// the stack preserved as diagnostic detail. A crashing task must never
// abort the process, only fail its step.
func (e *Engine) invoke(ctx context.Context, task tasks.Task, input map[string]any) (payload map[string]any, detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			detail = string(debug.Stack())
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	payload, err = task.Execute(ctx, input)
	return payload, "", err
}

func (e *Engine) complete(ctx context.Context, exec *models.FlowExecution, output map[string]any, total int) error {
	exec.TotalTasksExecuted = total
	exec.MarkCompleted(output)
	return e.finalize(ctx, exec)
}

func (e *Engine) fail(ctx context.Context, exec *models.FlowExecution, taskName, message string, total int) error {
	exec.TotalTasksExecuted = total
	exec.MarkFailed(message, taskName)
	return e.finalize(ctx, exec)
}

// finalize persists the terminal row exactly once and records metrics.
func (e *Engine) finalize(ctx context.Context, exec *models.FlowExecution) error {
	if err := e.store.FinalizeExecution(ctx, exec); err != nil {
		return fmt.Errorf("failed to finalize execution: %w", err)
	}

	attrs := metric.WithAttributes(attribute.String("status", string(exec.Status)))
	e.execCounter.Add(ctx, 1, attrs)
	if d := exec.DurationSeconds(); d != nil {
		e.execDuration.Record(ctx, *d, attrs)
	}

	e.logger.Info("flow execution finished",
		"execution_id", exec.ID,
		"flow_id", exec.FlowID,
		"status", exec.Status,
		"total_tasks", exec.TotalTasksExecuted)
	return nil
}
