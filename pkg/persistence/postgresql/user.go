package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukex/chatflow/pkg/persistence"
)

// UserRepository answers user directory lookups from the chat_users table.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) IsUserLinked(ctx context.Context, projectID, userID string) (bool, error) {
	var linked bool

	err := r.db.QueryRowContext(ctx,
		"SELECT linked FROM chat_users WHERE project_id = $1 AND id = $2", projectID, userID,
	).Scan(&linked)
	if err != nil {
		return false, userError(err)
	}

	return linked, nil
}

func (r *UserRepository) Balance(ctx context.Context, projectID, userID string) (float64, error) {
	var balance float64

	err := r.db.QueryRowContext(ctx,
		"SELECT balance FROM chat_users WHERE project_id = $1 AND id = $2", projectID, userID,
	).Scan(&balance)
	if err != nil {
		return 0, userError(err)
	}

	return balance, nil
}

// SaveUser creates or replaces a directory entry.
func (r *UserRepository) SaveUser(ctx context.Context, projectID, userID string, linked bool, balance float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chat_users (project_id, id, linked, balance)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, id) DO UPDATE SET linked = EXCLUDED.linked, balance = EXCLUDED.balance
	`, projectID, userID, linked, balance)
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", userID, err)
	}

	return nil
}

func userError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrUserNotFound
	}

	return fmt.Errorf("failed to query user: %w", err)
}
