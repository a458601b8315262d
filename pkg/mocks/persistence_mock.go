package mocks

import (
	"context"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockGraphRepository is a mock implementation of persistence.GraphRepository interface.
type MockGraphRepository struct {
	mock.Mock
}

func (m *MockGraphRepository) WorkflowByID(ctx context.Context, projectID, workflowID string) (*models.Workflow, error) {
	args := m.Called(ctx, projectID, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockGraphRepository) ActiveWorkflows(ctx context.Context, projectID string) ([]*models.Workflow, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockGraphRepository) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockGraphRepository) ProjectIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

// MockVariableStore is a mock implementation of persistence.VariableStore interface.
type MockVariableStore struct {
	mock.Mock
}

func (m *MockVariableStore) FindVariable(ctx context.Context, projectID string, scope models.VariableScope, scopeID, key string) (*models.Variable, error) {
	args := m.Called(ctx, projectID, scope, scopeID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Variable), args.Error(1)
}

func (m *MockVariableStore) InsertVariable(ctx context.Context, variable *models.Variable) error {
	args := m.Called(ctx, variable)

	return args.Error(0)
}

func (m *MockVariableStore) UpdateVariable(ctx context.Context, variable *models.Variable) error {
	args := m.Called(ctx, variable)

	return args.Error(0)
}

func (m *MockVariableStore) DeleteVariable(ctx context.Context, projectID string, scope models.VariableScope, scopeID, key string) error {
	args := m.Called(ctx, projectID, scope, scopeID, key)

	return args.Error(0)
}

func (m *MockVariableStore) ListVariables(ctx context.Context, projectID string, scope models.VariableScope, scopeID string) ([]*models.Variable, error) {
	args := m.Called(ctx, projectID, scope, scopeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Variable), args.Error(1)
}

func (m *MockVariableStore) DeleteExpiredVariables(ctx context.Context, projectID string, now time.Time) (int64, error) {
	args := m.Called(ctx, projectID, now)

	return args.Get(0).(int64), args.Error(1)
}

// MockUserDirectory is a mock implementation of persistence.UserDirectory interface.
type MockUserDirectory struct {
	mock.Mock
}

func (m *MockUserDirectory) IsUserLinked(ctx context.Context, projectID, userID string) (bool, error) {
	args := m.Called(ctx, projectID, userID)

	return args.Bool(0), args.Error(1)
}

func (m *MockUserDirectory) Balance(ctx context.Context, projectID, userID string) (float64, error) {
	args := m.Called(ctx, projectID, userID)

	return args.Get(0).(float64), args.Error(1)
}
