package persistence

import (
	"context"
	"time"

	"github.com/dukex/chatflow/pkg/models"
)

// UnavailableVariableStore is selected at start-up when no variable store is configured.
// Reads return nothing and writes fail with ErrUnavailable, so a run can proceed
// without history and the manager's degradation paths apply.
type UnavailableVariableStore struct{}

func (UnavailableVariableStore) FindVariable(context.Context, string, models.VariableScope, string, string) (*models.Variable, error) {
	return nil, ErrVariableNotFound
}

func (UnavailableVariableStore) InsertVariable(context.Context, *models.Variable) error {
	return ErrUnavailable
}

func (UnavailableVariableStore) UpdateVariable(context.Context, *models.Variable) error {
	return ErrUnavailable
}

func (UnavailableVariableStore) DeleteVariable(context.Context, string, models.VariableScope, string, string) error {
	return ErrUnavailable
}

func (UnavailableVariableStore) ListVariables(context.Context, string, models.VariableScope, string) ([]*models.Variable, error) {
	return []*models.Variable{}, nil
}

func (UnavailableVariableStore) DeleteExpiredVariables(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

// UnavailableUserDirectory answers every lookup with ErrUnavailable.
type UnavailableUserDirectory struct{}

func (UnavailableUserDirectory) IsUserLinked(context.Context, string, string) (bool, error) {
	return false, ErrUnavailable
}

func (UnavailableUserDirectory) Balance(context.Context, string, string) (float64, error) {
	return 0, ErrUnavailable
}
