package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

// VariableRepository stores scoped variables as JSONB values.
type VariableRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewVariableRepository(db *sql.DB, logger *slog.Logger) *VariableRepository {
	return &VariableRepository{db: db, logger: logger}
}

const selectVariable = `
	SELECT
		project_id
	  , scope
	  , scope_id
	  , key
	  , value
	  , expires_at
	  , created_at
	  , updated_at
	FROM variables
`

func (r *VariableRepository) FindVariable(ctx context.Context, projectID string, scope models.VariableScope, scopeID, key string) (*models.Variable, error) {
	row := r.db.QueryRowContext(ctx,
		selectVariable+" WHERE project_id = $1 AND scope = $2 AND scope_id = $3 AND key = $4",
		projectID, scope, scopeID, key,
	)

	variable, err := scanVariable(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewVariableError("FindVariable", scope, key, persistence.ErrVariableNotFound)
		}

		return nil, persistence.NewVariableError("FindVariable", scope, key, err)
	}

	return variable, nil
}

func (r *VariableRepository) InsertVariable(ctx context.Context, variable *models.Variable) error {
	value, err := json.Marshal(variable.Value)
	if err != nil {
		return persistence.NewVariableError("InsertVariable", variable.Scope, variable.Key, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO variables (project_id, scope, scope_id, key, value, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, scope, scope_id, key) DO UPDATE SET
			value = EXCLUDED.value
		  , expires_at = EXCLUDED.expires_at
		  , updated_at = EXCLUDED.updated_at
	`,
		variable.ProjectID, variable.Scope, variable.ScopeID, variable.Key, value,
		variable.ExpiresAt, timestampOrNow(variable.CreatedAt), timestampOrNow(variable.UpdatedAt),
	)
	if err != nil {
		return persistence.NewVariableError("InsertVariable", variable.Scope, variable.Key, err)
	}

	return nil
}

func (r *VariableRepository) UpdateVariable(ctx context.Context, variable *models.Variable) error {
	value, err := json.Marshal(variable.Value)
	if err != nil {
		return persistence.NewVariableError("UpdateVariable", variable.Scope, variable.Key, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE variables SET value = $5, expires_at = $6, updated_at = $7
		WHERE project_id = $1 AND scope = $2 AND scope_id = $3 AND key = $4
	`,
		variable.ProjectID, variable.Scope, variable.ScopeID, variable.Key,
		value, variable.ExpiresAt, timestampOrNow(variable.UpdatedAt),
	)
	if err != nil {
		return persistence.NewVariableError("UpdateVariable", variable.Scope, variable.Key, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return persistence.NewVariableError("UpdateVariable", variable.Scope, variable.Key, persistence.ErrVariableNotFound)
	}

	return nil
}

func (r *VariableRepository) DeleteVariable(ctx context.Context, projectID string, scope models.VariableScope, scopeID, key string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM variables WHERE project_id = $1 AND scope = $2 AND scope_id = $3 AND key = $4",
		projectID, scope, scopeID, key,
	)
	if err != nil {
		return persistence.NewVariableError("DeleteVariable", scope, key, err)
	}

	return nil
}

func (r *VariableRepository) ListVariables(ctx context.Context, projectID string, scope models.VariableScope, scopeID string) ([]*models.Variable, error) {
	rows, err := r.db.QueryContext(ctx,
		selectVariable+" WHERE project_id = $1 AND scope = $2 AND scope_id = $3 ORDER BY key",
		projectID, scope, scopeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query variables: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	variables := make([]*models.Variable, 0)

	for rows.Next() {
		variable, err := scanVariable(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variable: %w", err)
		}

		variables = append(variables, variable)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variables: %w", err)
	}

	return variables, nil
}

func (r *VariableRepository) DeleteExpiredVariables(ctx context.Context, projectID string, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM variables WHERE project_id = $1 AND expires_at IS NOT NULL AND expires_at <= $2",
		projectID, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired variables: %w", err)
	}

	return result.RowsAffected()
}

func scanVariable(row scanner) (*models.Variable, error) {
	var (
		variable  models.Variable
		value     []byte
		expiresAt sql.NullTime
	)

	err := row.Scan(
		&variable.ProjectID,
		&variable.Scope,
		&variable.ScopeID,
		&variable.Key,
		&value,
		&expiresAt,
		&variable.CreatedAt,
		&variable.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(value) > 0 {
		if err := json.Unmarshal(value, &variable.Value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal value of %q: %w", variable.Key, err)
		}
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		variable.ExpiresAt = &t
	}

	return &variable, nil
}

func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}

	return t
}
