// Package postgresql provides the PostgreSQL persistence backend for workflow graphs,
// variables, the user directory and execution records.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db        *sql.DB
	logger    *slog.Logger
	workflows *WorkflowRepository
	variables *VariableRepository
	users     *UserRepository
	states    *ExecutionStateRepository
	logs      *ExecutionLogRepository
}

// NewPersistence connects to databaseURL and migrates the schema.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger = logger.With("module", "postgresql")

	postgres := &Persistence{
		db:        database,
		logger:    logger,
		workflows: NewWorkflowRepository(database, logger),
		variables: NewVariableRepository(database, logger),
		users:     NewUserRepository(database),
		states:    NewExecutionStateRepository(database),
		logs:      NewExecutionLogRepository(database, logger),
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

func (p *Persistence) GraphRepository() persistence.GraphRepository { return p.workflows }

func (p *Persistence) VariableStore() persistence.VariableStore { return p.variables }

func (p *Persistence) UserDirectory() persistence.UserDirectory { return p.users }

func (p *Persistence) ExecutionStateRepository() persistence.ExecutionStateRepository {
	return p.states
}

func (p *Persistence) ExecutionLogRepository() persistence.ExecutionLogRepository { return p.logs }

// Users exposes the user table for provisioning.
func (p *Persistence) Users() *UserRepository { return p.users }

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
