package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of the Store interface.
// Flow task and condition definitions are stored as a JSONB document;
// execution records are relational so they can be filtered and paged.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore on an existing pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS flows (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    start_task  TEXT NOT NULL,
    definition  JSONB NOT NULL,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    version     INTEGER NOT NULL DEFAULT 1,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS flow_executions (
    id                   TEXT PRIMARY KEY,
    flow_id              TEXT NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
    status               TEXT NOT NULL,
    input_context        JSONB,
    output_data          JSONB,
    error_message        TEXT NOT NULL DEFAULT '',
    error_task           TEXT NOT NULL DEFAULT '',
    total_tasks_executed INTEGER NOT NULL DEFAULT 0,
    started_at           TIMESTAMPTZ,
    completed_at         TIMESTAMPTZ,
    created_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS task_executions (
    id                TEXT PRIMARY KEY,
    flow_execution_id TEXT NOT NULL REFERENCES flow_executions(id) ON DELETE CASCADE,
    task_name         TEXT NOT NULL,
    task_description  TEXT NOT NULL DEFAULT '',
    sequence_number   INTEGER NOT NULL,
    status            TEXT NOT NULL,
    input_data        JSONB,
    output_data       JSONB,
    error_message     TEXT NOT NULL DEFAULT '',
    error_detail      TEXT NOT NULL DEFAULT '',
    started_at        TIMESTAMPTZ,
    completed_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_flow_executions_flow_id ON flow_executions (flow_id);
CREATE INDEX IF NOT EXISTS idx_flow_executions_status ON flow_executions (status);
CREATE INDEX IF NOT EXISTS idx_task_executions_execution ON task_executions (flow_execution_id, sequence_number);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// marshalMap encodes a context map for a JSONB column. A nil map becomes
// SQL NULL rather than the empty document.
func marshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// pageBounds converts one-based page options into LIMIT and OFFSET,
// defaulting out-of-range values.
func pageBounds(page, perPage int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	return perPage, (page - 1) * perPage
}
