package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

// ExecutionStateRepository keeps suspended runs, one per workflow and session.
type ExecutionStateRepository struct {
	db *sql.DB
}

func NewExecutionStateRepository(db *sql.DB) *ExecutionStateRepository {
	return &ExecutionStateRepository{db: db}
}

// SaveExecutionState replaces any suspended run of the same workflow and session.
func (r *ExecutionStateRepository) SaveExecutionState(ctx context.Context, state *models.ExecutionState) error {
	path, err := json.Marshal(nonNilPath(state.Path))
	if err != nil {
		return fmt.Errorf("failed to marshal path: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO execution_states (
			execution_id, project_id, workflow_id, session_id, user_id, chat_id,
			current_node_id, steps, path, started_at, suspended_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (project_id, workflow_id, session_id) DO UPDATE SET
			execution_id = EXCLUDED.execution_id
		  , user_id = EXCLUDED.user_id
		  , chat_id = EXCLUDED.chat_id
		  , current_node_id = EXCLUDED.current_node_id
		  , steps = EXCLUDED.steps
		  , path = EXCLUDED.path
		  , started_at = EXCLUDED.started_at
		  , suspended_at = EXCLUDED.suspended_at
	`,
		state.ExecutionID, state.ProjectID, state.WorkflowID, state.SessionID, state.UserID, state.ChatID,
		state.CurrentNodeID, state.Steps, path, state.StartedAt, state.SuspendedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution state %s: %w", state.ExecutionID, err)
	}

	return nil
}

func (r *ExecutionStateRepository) ExecutionStateFor(ctx context.Context, projectID, workflowID, sessionID string) (*models.ExecutionState, error) {
	var (
		state models.ExecutionState
		path  []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT
			execution_id
		  , project_id
		  , workflow_id
		  , session_id
		  , user_id
		  , chat_id
		  , current_node_id
		  , steps
		  , path
		  , started_at
		  , suspended_at
		FROM execution_states
		WHERE project_id = $1 AND workflow_id = $2 AND session_id = $3
	`, projectID, workflowID, sessionID).Scan(
		&state.ExecutionID,
		&state.ProjectID,
		&state.WorkflowID,
		&state.SessionID,
		&state.UserID,
		&state.ChatID,
		&state.CurrentNodeID,
		&state.Steps,
		&path,
		&state.StartedAt,
		&state.SuspendedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionStateNotFound
		}

		return nil, fmt.Errorf("failed to load execution state: %w", err)
	}

	if err := json.Unmarshal(path, &state.Path); err != nil {
		return nil, fmt.Errorf("failed to unmarshal path: %w", err)
	}

	return &state, nil
}

func (r *ExecutionStateRepository) DeleteExecutionState(ctx context.Context, executionID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM execution_states WHERE execution_id = $1", executionID); err != nil {
		return fmt.Errorf("failed to delete execution state %s: %w", executionID, err)
	}

	return nil
}

// ExecutionLogRepository appends run outcomes.
type ExecutionLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionLogRepository(db *sql.DB, logger *slog.Logger) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db, logger: logger}
}

func (r *ExecutionLogRepository) SaveExecutionLog(ctx context.Context, log *models.ExecutionLog) error {
	path, err := json.Marshal(nonNilPath(log.Path))
	if err != nil {
		return fmt.Errorf("failed to marshal path: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO execution_logs (
			execution_id, project_id, workflow_id, status, path, last_node_id,
			failed_node_id, error, steps, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		log.ExecutionID, log.ProjectID, log.WorkflowID, log.Status, path, log.LastNodeID,
		log.FailedNodeID, log.Error, log.Steps, log.StartedAt, log.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution log %s: %w", log.ExecutionID, err)
	}

	return nil
}

// ExecutionLogs returns the latest logs first. An empty workflowID selects the whole project.
func (r *ExecutionLogRepository) ExecutionLogs(ctx context.Context, projectID, workflowID string, limit int) ([]*models.ExecutionLog, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			execution_id
		  , project_id
		  , workflow_id
		  , status
		  , path
		  , last_node_id
		  , failed_node_id
		  , error
		  , steps
		  , started_at
		  , finished_at
		FROM execution_logs
		WHERE project_id = $1 AND ($2::text = '' OR workflow_id = $2::text)
		ORDER BY id DESC
		LIMIT $3
	`, projectID, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	logs := make([]*models.ExecutionLog, 0)

	for rows.Next() {
		var (
			log  models.ExecutionLog
			path []byte
		)

		err := rows.Scan(
			&log.ExecutionID,
			&log.ProjectID,
			&log.WorkflowID,
			&log.Status,
			&path,
			&log.LastNodeID,
			&log.FailedNodeID,
			&log.Error,
			&log.Steps,
			&log.StartedAt,
			&log.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}

		if err := json.Unmarshal(path, &log.Path); err != nil {
			return nil, fmt.Errorf("failed to unmarshal path: %w", err)
		}

		logs = append(logs, &log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution logs: %w", err)
	}

	return logs, nil
}

func nonNilPath(path []string) []string {
	if path == nil {
		return []string{}
	}

	return path
}
