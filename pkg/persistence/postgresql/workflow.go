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

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const selectWorkflow = `
	SELECT
		project_id
	  , id
	  , name
	  , description
	  , active
	  , nodes
	  , connections
	  , created_at
	  , updated_at
	FROM workflows
`

func (r *WorkflowRepository) WorkflowByID(ctx context.Context, projectID, workflowID string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, selectWorkflow+" WHERE project_id = $1 AND id = $2", projectID, workflowID)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("WorkflowByID", projectID, workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) ActiveWorkflows(ctx context.Context, projectID string) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, selectWorkflow+" WHERE project_id = $1 AND active ORDER BY id", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// SaveWorkflow upserts the workflow with its whole graph.
func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	graph := workflow.Graph
	if graph == nil {
		graph = &models.WorkflowGraph{}
	}

	nodes, err := json.Marshal(nonNilNodes(graph.Nodes))
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	connections, err := json.Marshal(nonNilConnections(graph.Connections))
	if err != nil {
		return fmt.Errorf("failed to marshal connections: %w", err)
	}

	query := `
		INSERT INTO workflows (project_id, id, name, description, active, nodes, connections, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (project_id, id) DO UPDATE SET
			name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , active = EXCLUDED.active
		  , nodes = EXCLUDED.nodes
		  , connections = EXCLUDED.connections
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ProjectID, workflow.ID, workflow.Name, workflow.Description, workflow.Active,
		nodes, connections, workflow.CreatedAt, workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ProjectID, workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) ProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT project_id FROM workflows
		UNION
		SELECT project_id FROM variables
		ORDER BY project_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	ids := make([]string, 0)

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// scanWorkflow accepts any persisted node or connection shape through models.NewGraph.
func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow    models.Workflow
		nodes       []byte
		connections []byte
	)

	err := row.Scan(
		&workflow.ProjectID,
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Active,
		&nodes,
		&connections,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	var rawNodes, rawConnections any

	if err := json.Unmarshal(nodes, &rawNodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := json.Unmarshal(connections, &rawConnections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connections: %w", err)
	}

	workflow.Graph = models.NewGraph(rawNodes, rawConnections)

	return &workflow, nil
}

func nonNilNodes(nodes map[string]*models.WorkflowNode) map[string]*models.WorkflowNode {
	if nodes == nil {
		return map[string]*models.WorkflowNode{}
	}

	return nodes
}

func nonNilConnections(connections []*models.Connection) []*models.Connection {
	if connections == nil {
		return []*models.Connection{}
	}

	return connections
}
