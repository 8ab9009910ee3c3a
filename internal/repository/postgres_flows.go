package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"flow-manager/pkg/models"
)

// flowDefinition is the JSONB document stored alongside the flow row.
type flowDefinition struct {
	Tasks      []models.TaskDef   `json:"tasks"`
	Conditions []models.Condition `json:"conditions"`
}

// CreateFlow stores a new flow definition. Timestamps and the initial
// version are filled in when the caller left them zero.
func (s *PostgresStore) CreateFlow(ctx context.Context, flow *models.Flow) error {
	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}
	flow.UpdatedAt = now
	if flow.Version == 0 {
		flow.Version = 1
	}

	definition, err := json.Marshal(flowDefinition{Tasks: flow.Tasks, Conditions: flow.Conditions})
	if err != nil {
		return fmt.Errorf("failed to encode flow definition: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO flows (id, name, description, start_task, definition, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		flow.ID, flow.Name, flow.Description, flow.StartTask, definition,
		flow.IsActive, flow.Version, flow.CreatedAt, flow.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("flow %q: %w", flow.ID, ErrConflict)
		}
		return fmt.Errorf("failed to create flow: %w", err)
	}
	return nil
}

// GetFlow retrieves a flow by its ID.
func (s *PostgresStore) GetFlow(ctx context.Context, id string) (*models.Flow, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, description, start_task, definition, is_active, version, created_at, updated_at
		FROM flows WHERE id = $1`, id)
	flow, err := scanFlow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("flow %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}
	return flow, nil
}

// ListFlows returns a page of flows, newest first, plus the unpaginated
// total.
func (s *PostgresStore) ListFlows(ctx context.Context, opts ListFlowsOptions) ([]*models.Flow, int, error) {
	where := ""
	args := []any{}
	if opts.IsActive != nil {
		where = " WHERE is_active = $1"
		args = append(args, *opts.IsActive)
	}

	var total int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM flows"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count flows: %w", err)
	}

	limit, offset := pageBounds(opts.Page, opts.PerPage)
	query := fmt.Sprintf(`
		SELECT id, name, description, start_task, definition, is_active, version, created_at, updated_at
		FROM flows%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	var flows []*models.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, 0, err
		}
		flows = append(flows, flow)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list flows: %w", err)
	}
	return flows, total, nil
}

// UpdateFlow persists the mutable fields of an existing flow. The task
// and condition definitions are immutable once created.
func (s *PostgresStore) UpdateFlow(ctx context.Context, flow *models.Flow) error {
	flow.UpdatedAt = time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE flows SET name = $1, description = $2, is_active = $3, version = $4, updated_at = $5
		WHERE id = $6`,
		flow.Name, flow.Description, flow.IsActive, flow.Version, flow.UpdatedAt, flow.ID)
	if err != nil {
		return fmt.Errorf("failed to update flow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("flow %q: %w", flow.ID, ErrNotFound)
	}
	return nil
}

// DeleteFlow removes a flow and, by cascade, its execution records.
func (s *PostgresStore) DeleteFlow(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM flows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("flow %q: %w", id, ErrNotFound)
	}
	return nil
}

func scanFlow(row pgx.Row) (*models.Flow, error) {
	var flow models.Flow
	var definition []byte
	if err := row.Scan(&flow.ID, &flow.Name, &flow.Description, &flow.StartTask, &definition,
		&flow.IsActive, &flow.Version, &flow.CreatedAt, &flow.UpdatedAt); err != nil {
		return nil, err
	}
	var def flowDefinition
	if err := json.Unmarshal(definition, &def); err != nil {
		return nil, fmt.Errorf("failed to decode flow definition: %w", err)
	}
	flow.Tasks = def.Tasks
	flow.Conditions = def.Conditions
	return &flow, nil
}
