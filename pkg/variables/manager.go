// Package variables provides the per-run variable cache layered over the persistent variable store.
package variables

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

// Owner identifies whose variables a manager serves.
type Owner struct {
	ProjectID string
	SessionID string
	UserID    string
}

func (o Owner) scopeID(scope models.VariableScope) string {
	switch scope {
	case models.ScopeSession:
		return o.SessionID
	case models.ScopeUser:
		return o.UserID
	default:
		return ""
	}
}

type cacheKey struct {
	scope models.VariableScope
	key   string
}

type cacheEntry struct {
	value     any
	expiresAt *time.Time
}

// Manager is owned by exactly one run. Cache reads never touch the store.
type Manager struct {
	store  persistence.VariableStore
	owner  Owner
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(store persistence.VariableStore, owner Owner, logger *slog.Logger, opts ...Option) *Manager {
	if store == nil {
		store = persistence.UnavailableVariableStore{}
	}

	m := &Manager{
		store:  store,
		owner:  owner,
		logger: logger.With("module", "variables", "project_id", owner.ProjectID),
		now:    time.Now,
		cache:  make(map[cacheKey]cacheEntry),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Owner returns the identifiers the manager is scoped to.
func (m *Manager) Owner() Owner {
	return m.owner
}

// Preload replaces the cache with every non-expired variable of the session,
// user and global scopes. A store failure leaves the cache empty.
func (m *Manager) Preload(ctx context.Context) {
	loaded := make(map[cacheKey]cacheEntry)
	now := m.now()

	for _, scope := range []models.VariableScope{models.ScopeSession, models.ScopeUser, models.ScopeGlobal} {
		scopeID := m.owner.scopeID(scope)
		if scope != models.ScopeGlobal && scopeID == "" {
			continue
		}

		rows, err := m.store.ListVariables(ctx, m.owner.ProjectID, scope, scopeID)
		if err != nil {
			m.logger.WarnContext(ctx, "Failed to preload variables, continuing with empty cache", "scope", scope, "error", err)

			loaded = make(map[cacheKey]cacheEntry)

			break
		}

		for _, row := range rows {
			if row.Expired(now) {
				continue
			}

			loaded[cacheKey{scope, row.Key}] = cacheEntry{value: models.NormalizeValue(row.Value), expiresAt: row.ExpiresAt}
		}
	}

	m.mu.Lock()
	m.cache = loaded
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "Variables preloaded", "count", len(loaded))
}

// GetSync reads from the cache only. Expired entries read as absent.
func (m *Manager) GetSync(key string, scope models.VariableScope) (any, bool) {
	m.mu.RLock()
	entry, ok := m.cache[cacheKey{scope, key}]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if entry.expiresAt != nil && !entry.expiresAt.After(m.now()) {
		return nil, false
	}

	return entry.value, true
}

// UpdateCache stores a run-local value without store I/O.
func (m *Manager) UpdateCache(key string, value any, scope models.VariableScope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache[cacheKey{scope, key}] = cacheEntry{value: models.NormalizeValue(value)}
}

// RemoveFromCache drops a cached value without store I/O.
func (m *Manager) RemoveFromCache(key string, scope models.VariableScope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cache, cacheKey{scope, key})
}

// Set writes the variable to the store, updating an existing row or inserting a new one,
// and mirrors it into the cache before returning. A ttl of zero means no expiry.
// When the store is unavailable the value is kept in the cache only.
func (m *Manager) Set(ctx context.Context, key string, value any, scope models.VariableScope, ttl time.Duration) error {
	if key == "" {
		return errors.New("variable key is required")
	}

	if !scope.Valid() {
		return fmt.Errorf("unknown variable scope %q", scope)
	}

	now := m.now()
	value = models.NormalizeValue(value)

	var expiresAt *time.Time
	if ttl > 0 {
		at := now.Add(ttl)
		expiresAt = &at
	}

	scopeID := m.owner.scopeID(scope)

	existing, err := m.store.FindVariable(ctx, m.owner.ProjectID, scope, scopeID, key)

	switch {
	case err == nil:
		existing.Value = value
		existing.ExpiresAt = expiresAt
		existing.UpdatedAt = now
		err = m.store.UpdateVariable(ctx, existing)
	case persistence.IsVariableNotFound(err):
		err = m.store.InsertVariable(ctx, &models.Variable{
			ProjectID: m.owner.ProjectID,
			Scope:     scope,
			ScopeID:   scopeID,
			Key:       key,
			Value:     value,
			ExpiresAt: expiresAt,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err != nil {
		if !persistence.IsUnavailable(err) {
			return persistence.NewVariableError("Set", scope, key, err)
		}

		m.logger.WarnContext(ctx, "Variable store unavailable, keeping value in run cache only", "scope", scope, "key", key)
	}

	m.mu.Lock()
	m.cache[cacheKey{scope, key}] = cacheEntry{value: value, expiresAt: expiresAt}
	m.mu.Unlock()

	return nil
}

// Delete removes the variable from the store and the cache. Store failures are logged.
func (m *Manager) Delete(ctx context.Context, key string, scope models.VariableScope) {
	m.RemoveFromCache(key, scope)

	if err := m.store.DeleteVariable(ctx, m.owner.ProjectID, scope, m.owner.scopeID(scope), key); err != nil {
		m.logger.WarnContext(ctx, "Failed to delete variable", "scope", scope, "key", key, "error", err)
	}
}

// Has asks the store whether a non-expired variable exists.
func (m *Manager) Has(ctx context.Context, key string, scope models.VariableScope) (bool, error) {
	variable, err := m.store.FindVariable(ctx, m.owner.ProjectID, scope, m.owner.scopeID(scope), key)
	if err != nil {
		if persistence.IsVariableNotFound(err) {
			return false, nil
		}

		return false, err
	}

	return !variable.Expired(m.now()), nil
}

// List returns the stored variables of a scope as a flat key to value mapping.
func (m *Manager) List(ctx context.Context, scope models.VariableScope) (map[string]any, error) {
	rows, err := m.store.ListVariables(ctx, m.owner.ProjectID, scope, m.owner.scopeID(scope))
	if err != nil {
		return nil, err
	}

	now := m.now()
	values := make(map[string]any, len(rows))

	for _, row := range rows {
		if !row.Expired(now) {
			values[row.Key] = row.Value
		}
	}

	return values, nil
}

// CleanupExpired deletes every expired variable of the project and returns how many were removed.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	removed, err := m.store.DeleteExpiredVariables(ctx, m.owner.ProjectID, m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired variables: %w", err)
	}

	if removed > 0 {
		m.logger.InfoContext(ctx, "Expired variables removed", "count", removed)
	}

	return removed, nil
}
