package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
	"github.com/manthysbr/auleOS/internal/core/ports"
)

// RunStore persists terminal WorkflowState snapshots as an append-only
// audit trail — an optional adapter, not a durable restart-recovery
// mechanism. Each run is one row keyed by run_id.
type RunStore struct {
	db *sql.DB
}

// NewRunStore opens (creating if necessary) a DuckDB file at path and
// ensures the orchestration_runs table exists.
func NewRunStore(path string) (*RunStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orchestration_runs (
			run_id       VARCHAR PRIMARY KEY,
			workflow_id  VARCHAR NOT NULL,
			status       VARCHAR NOT NULL,
			state        JSON NOT NULL,
			started_at   TIMESTAMP,
			completed_at TIMESTAMP
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create orchestration_runs table: %w", err)
	}
	return &RunStore{db: db}, nil
}

var _ ports.RunRepository = (*RunStore)(nil)

// SaveRun inserts or replaces one run's terminal state, mirroring
// workflow_repo.go's INSERT ... ON CONFLICT DO UPDATE idiom.
func (r *RunStore) SaveRun(ctx context.Context, state *orchestration.WorkflowState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orchestration_runs (run_id, workflow_id, status, state, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			status       = excluded.status,
			state        = excluded.state,
			started_at   = excluded.started_at,
			completed_at = excluded.completed_at;
	`, state.RunID, state.WorkflowID, string(state.Status), string(stateJSON), state.StartedAt, state.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", state.RunID, err)
	}
	return nil
}

// GetRun looks up one run's persisted terminal state by id.
func (r *RunStore) GetRun(ctx context.Context, runID string) (*orchestration.WorkflowState, error) {
	row := r.db.QueryRowContext(ctx, `SELECT CAST(state AS TEXT) FROM orchestration_runs WHERE run_id = ?`, runID)

	var stateJSON string
	if err := row.Scan(&stateJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		return nil, err
	}

	var state orchestration.WorkflowState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}
	return &state, nil
}

// ListRuns returns every persisted run for a workflow id, most recent first.
func (r *RunStore) ListRuns(ctx context.Context, workflowID string) ([]orchestration.WorkflowState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT CAST(state AS TEXT) FROM orchestration_runs
		WHERE workflow_id = ?
		ORDER BY started_at DESC;
	`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []orchestration.WorkflowState
	for rows.Next() {
		var stateJSON string
		if err := rows.Scan(&stateJSON); err != nil {
			return nil, err
		}
		var state orchestration.WorkflowState
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run for workflow %s: %w", workflowID, err)
		}
		runs = append(runs, state)
	}
	return runs, nil
}

// Close releases the underlying database handle.
func (r *RunStore) Close() error {
	return r.db.Close()
}
