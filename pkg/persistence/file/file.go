// Package file provides a file-based persistence implementation for local development.
// Workflows are read from JSON or YAML documents on disk; runtime state lives in memory.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/persistence/memory"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root         string
	workflowRepo *WorkflowRepository
	runtime      *memory.Persistence
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:         cleanRoot,
		workflowRepo: NewWorkflowRepository(cleanRoot),
		runtime:      memory.NewPersistence(),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) GraphRepository() persistence.GraphRepository {
	return fp.workflowRepo
}

func (fp *Persistence) VariableStore() persistence.VariableStore {
	return fp.runtime
}

func (fp *Persistence) UserDirectory() persistence.UserDirectory {
	return fp.runtime
}

func (fp *Persistence) ExecutionStateRepository() persistence.ExecutionStateRepository {
	return fp.runtime
}

func (fp *Persistence) ExecutionLogRepository() persistence.ExecutionLogRepository {
	return fp.runtime
}

// Runtime exposes the in-memory store holding variables, users, suspended runs and logs.
func (fp *Persistence) Runtime() *memory.Persistence {
	return fp.runtime
}
