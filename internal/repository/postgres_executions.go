package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"flow-manager/pkg/models"
)

// CreateExecution stores a new execution record in pending state.
func (s *PostgresStore) CreateExecution(ctx context.Context, exec *models.FlowExecution) error {
	input, err := marshalMap(exec.InputContext)
	if err != nil {
		return fmt.Errorf("failed to encode input context: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO flow_executions (id, flow_id, status, input_context, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		exec.ID, exec.FlowID, exec.Status, input, exec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// MarkExecutionRunning transitions a pending execution to running.
func (s *PostgresStore) MarkExecutionRunning(ctx context.Context, id string, startedAt time.Time) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE flow_executions SET status = $1, started_at = $2 WHERE id = $3",
		models.ExecutionStatusRunning, startedAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark execution running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %q: %w", id, ErrNotFound)
	}
	return nil
}

// AppendTaskExecution durably records one completed task step.
func (s *PostgresStore) AppendTaskExecution(ctx context.Context, record *models.TaskExecution) error {
	input, err := marshalMap(record.InputData)
	if err != nil {
		return fmt.Errorf("failed to encode input data: %w", err)
	}
	output, err := marshalMap(record.OutputData)
	if err != nil {
		return fmt.Errorf("failed to encode output data: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO task_executions (id, flow_execution_id, task_name, task_description, sequence_number,
			status, input_data, output_data, error_message, error_detail, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.ID, record.FlowExecutionID, record.TaskName, record.TaskDescription, record.SequenceNumber,
		record.Status, input, output, record.ErrorMessage, record.ErrorDetail, record.StartedAt, record.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to append task execution: %w", err)
	}
	return nil
}

// FinalizeExecution writes the terminal state of an execution.
func (s *PostgresStore) FinalizeExecution(ctx context.Context, exec *models.FlowExecution) error {
	output, err := marshalMap(exec.OutputData)
	if err != nil {
		return fmt.Errorf("failed to encode output data: %w", err)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE flow_executions
		SET status = $1, output_data = $2, error_message = $3, error_task = $4,
		    total_tasks_executed = $5, completed_at = $6
		WHERE id = $7`,
		exec.Status, output, exec.ErrorMessage, exec.ErrorTask,
		exec.TotalTasksExecuted, exec.CompletedAt, exec.ID)
	if err != nil {
		return fmt.Errorf("failed to finalize execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %q: %w", exec.ID, ErrNotFound)
	}
	return nil
}

// GetExecution retrieves an execution by its ID, without its task records.
func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*models.FlowExecution, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, flow_id, status, input_context, output_data, error_message, error_task,
		       total_tasks_executed, started_at, completed_at, created_at
		FROM flow_executions WHERE id = $1`, id)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("execution %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

// ListExecutions returns a page of executions, most recently started
// first, plus the unpaginated total.
func (s *PostgresStore) ListExecutions(ctx context.Context, opts ListExecutionsOptions) ([]*models.FlowExecution, int, error) {
	var where []string
	args := []any{}
	if opts.FlowID != "" {
		args = append(args, opts.FlowID)
		where = append(where, fmt.Sprintf("flow_id = $%d", len(args)))
	}
	if opts.Status != "" {
		args = append(args, opts.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM flow_executions"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	limit, offset := pageBounds(opts.Page, opts.PerPage)
	query := fmt.Sprintf(`
		SELECT id, flow_id, status, input_context, output_data, error_message, error_task,
		       total_tasks_executed, started_at, completed_at, created_at
		FROM flow_executions%s
		ORDER BY started_at DESC NULLS LAST, created_at DESC
		LIMIT $%d OFFSET $%d`, clause, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.FlowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	return executions, total, nil
}

// ListTaskExecutions returns an execution's task records in sequence
// order.
func (s *PostgresStore) ListTaskExecutions(ctx context.Context, executionID string) ([]*models.TaskExecution, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, flow_execution_id, task_name, task_description, sequence_number,
		       status, input_data, output_data, error_message, error_detail, started_at, completed_at
		FROM task_executions
		WHERE flow_execution_id = $1
		ORDER BY sequence_number ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task executions: %w", err)
	}
	defer rows.Close()

	var records []*models.TaskExecution
	for rows.Next() {
		var record models.TaskExecution
		var input, output []byte
		if err := rows.Scan(&record.ID, &record.FlowExecutionID, &record.TaskName, &record.TaskDescription,
			&record.SequenceNumber, &record.Status, &input, &output,
			&record.ErrorMessage, &record.ErrorDetail, &record.StartedAt, &record.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task execution: %w", err)
		}
		if record.InputData, err = unmarshalMap(input); err != nil {
			return nil, fmt.Errorf("failed to decode input data: %w", err)
		}
		if record.OutputData, err = unmarshalMap(output); err != nil {
			return nil, fmt.Errorf("failed to decode output data: %w", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list task executions: %w", err)
	}
	return records, nil
}

func scanExecution(row pgx.Row) (*models.FlowExecution, error) {
	var exec models.FlowExecution
	var input, output []byte
	if err := row.Scan(&exec.ID, &exec.FlowID, &exec.Status, &input, &output,
		&exec.ErrorMessage, &exec.ErrorTask, &exec.TotalTasksExecuted,
		&exec.StartedAt, &exec.CompletedAt, &exec.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if exec.InputContext, err = unmarshalMap(input); err != nil {
		return nil, fmt.Errorf("failed to decode input context: %w", err)
	}
	if exec.OutputData, err = unmarshalMap(output); err != nil {
		return nil, fmt.Errorf("failed to decode output data: %w", err)
	}
	return &exec, nil
}
