// Package memory provides an in-process persistence implementation for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

type variableKey struct {
	projectID string
	scope     models.VariableScope
	scopeID   string
	key       string
}

type userKey struct {
	projectID string
	userID    string
}

type stateKey struct {
	projectID  string
	workflowID string
	sessionID  string
}

// Persistence implements persistence.Persistence with maps guarded by a single mutex.
type Persistence struct {
	mu        sync.RWMutex
	workflows map[string]map[string]*models.Workflow
	variables map[variableKey]*models.Variable
	linked    map[userKey]bool
	balances  map[userKey]float64
	states    map[stateKey]*models.ExecutionState
	logs      []*models.ExecutionLog
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows: make(map[string]map[string]*models.Workflow),
		variables: make(map[variableKey]*models.Variable),
		linked:    make(map[userKey]bool),
		balances:  make(map[userKey]float64),
		states:    make(map[stateKey]*models.ExecutionState),
	}
}

func (p *Persistence) GraphRepository() persistence.GraphRepository { return p }

func (p *Persistence) VariableStore() persistence.VariableStore { return p }

func (p *Persistence) UserDirectory() persistence.UserDirectory { return p }

func (p *Persistence) ExecutionStateRepository() persistence.ExecutionStateRepository { return p }

func (p *Persistence) ExecutionLogRepository() persistence.ExecutionLogRepository { return p }

// HealthCheck always succeeds.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// Close performs no cleanup.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// Workflows

func (p *Persistence) WorkflowByID(_ context.Context, projectID, workflowID string) (*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflow, ok := p.workflows[projectID][workflowID]
	if !ok {
		return nil, persistence.NewWorkflowError("WorkflowByID", projectID, workflowID, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

func (p *Persistence) ActiveWorkflows(_ context.Context, projectID string) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0)

	for _, workflow := range p.workflows[projectID] {
		if workflow.Active {
			workflows = append(workflows, workflow)
		}
	}

	sort.Slice(workflows, func(i, j int) bool { return workflows[i].ID < workflows[j].ID })

	return workflows, nil
}

func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.workflows[workflow.ProjectID] == nil {
		p.workflows[workflow.ProjectID] = make(map[string]*models.Workflow)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now
	p.workflows[workflow.ProjectID][workflow.ID] = workflow

	return nil
}

func (p *Persistence) ProjectIDs(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[string]bool)
	for projectID := range p.workflows {
		seen[projectID] = true
	}

	for key := range p.variables {
		seen[key.projectID] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids, nil
}

// Variables

func (p *Persistence) FindVariable(_ context.Context, projectID string, scope models.VariableScope, scopeID, key string) (*models.Variable, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	variable, ok := p.variables[variableKey{projectID, scope, scopeID, key}]
	if !ok {
		return nil, persistence.NewVariableError("FindVariable", scope, key, persistence.ErrVariableNotFound)
	}

	clone := *variable

	return &clone, nil
}

func (p *Persistence) InsertVariable(_ context.Context, variable *models.Variable) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := *variable
	p.variables[variableKey{variable.ProjectID, variable.Scope, variable.ScopeID, variable.Key}] = &clone

	return nil
}

func (p *Persistence) UpdateVariable(_ context.Context, variable *models.Variable) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := variableKey{variable.ProjectID, variable.Scope, variable.ScopeID, variable.Key}
	if _, ok := p.variables[key]; !ok {
		return persistence.NewVariableError("UpdateVariable", variable.Scope, variable.Key, persistence.ErrVariableNotFound)
	}

	clone := *variable
	p.variables[key] = &clone

	return nil
}

func (p *Persistence) DeleteVariable(_ context.Context, projectID string, scope models.VariableScope, scopeID, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.variables, variableKey{projectID, scope, scopeID, key})

	return nil
}

func (p *Persistence) ListVariables(_ context.Context, projectID string, scope models.VariableScope, scopeID string) ([]*models.Variable, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	variables := make([]*models.Variable, 0)

	for key, variable := range p.variables {
		if key.projectID == projectID && key.scope == scope && key.scopeID == scopeID {
			clone := *variable
			variables = append(variables, &clone)
		}
	}

	sort.Slice(variables, func(i, j int) bool { return variables[i].Key < variables[j].Key })

	return variables, nil
}

func (p *Persistence) DeleteExpiredVariables(_ context.Context, projectID string, now time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed int64

	for key, variable := range p.variables {
		if key.projectID == projectID && variable.Expired(now) {
			delete(p.variables, key)
			removed++
		}
	}

	return removed, nil
}

// Users

// SetUser seeds the user directory.
func (p *Persistence) SetUser(projectID, userID string, linked bool, balance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := userKey{projectID, userID}
	p.linked[key] = linked
	p.balances[key] = balance
}

func (p *Persistence) IsUserLinked(_ context.Context, projectID, userID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	linked, ok := p.linked[userKey{projectID, userID}]
	if !ok {
		return false, persistence.ErrUserNotFound
	}

	return linked, nil
}

func (p *Persistence) Balance(_ context.Context, projectID, userID string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	balance, ok := p.balances[userKey{projectID, userID}]
	if !ok {
		return 0, persistence.ErrUserNotFound
	}

	return balance, nil
}

// Execution state

func (p *Persistence) SaveExecutionState(_ context.Context, state *models.ExecutionState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := *state
	p.states[stateKey{state.ProjectID, state.WorkflowID, state.SessionID}] = &clone

	return nil
}

func (p *Persistence) ExecutionStateFor(_ context.Context, projectID, workflowID, sessionID string) (*models.ExecutionState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state, ok := p.states[stateKey{projectID, workflowID, sessionID}]
	if !ok {
		return nil, persistence.ErrExecutionStateNotFound
	}

	clone := *state

	return &clone, nil
}

func (p *Persistence) DeleteExecutionState(_ context.Context, executionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, state := range p.states {
		if state.ExecutionID == executionID {
			delete(p.states, key)
		}
	}

	return nil
}

// Execution logs

func (p *Persistence) SaveExecutionLog(_ context.Context, log *models.ExecutionLog) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := *log
	p.logs = append(p.logs, &clone)

	return nil
}

func (p *Persistence) ExecutionLogs(_ context.Context, projectID, workflowID string, limit int) ([]*models.ExecutionLog, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	logs := make([]*models.ExecutionLog, 0)

	for i := len(p.logs) - 1; i >= 0; i-- {
		log := p.logs[i]
		if log.ProjectID != projectID || (workflowID != "" && log.WorkflowID != workflowID) {
			continue
		}

		logs = append(logs, log)
		if limit > 0 && len(logs) >= limit {
			break
		}
	}

	return logs, nil
}
