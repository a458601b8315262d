package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of a workflow. Nodes and connections accept every
// shape models.NewGraph understands.
type document struct {
	ID          string    `json:"id"                    yaml:"id"`
	ProjectID   string    `json:"project_id"            yaml:"project_id"`
	Name        string    `json:"name"                  yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Active      bool      `json:"active"                yaml:"active"`
	Nodes       any       `json:"nodes"                 yaml:"nodes"`
	Connections any       `json:"connections"           yaml:"connections"`
	CreatedAt   time.Time `json:"created_at"            yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"            yaml:"updated_at"`
}

var extensions = []string{".json", ".yaml", ".yml"}

// WorkflowRepository handles workflow-related file operations.
// Files live under <root>/workflows/<project id>/<workflow id>.{json,yaml,yml}.
type WorkflowRepository struct {
	root string
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

func (wr *WorkflowRepository) projectDir(projectID string) string {
	return filepath.Clean(path.Join(wr.root, "workflows", projectID))
}

// WorkflowByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) WorkflowByID(_ context.Context, projectID, workflowID string) (*models.Workflow, error) {
	for _, ext := range extensions {
		workflow, err := wr.load(filepath.Join(wr.projectDir(projectID), workflowID+ext))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, persistence.NewWorkflowError("WorkflowByID", projectID, workflowID, err)
		}

		if workflow.ProjectID == "" {
			workflow.ProjectID = projectID
		}

		if workflow.ID == "" {
			workflow.ID = workflowID
		}

		return workflow, nil
	}

	return nil, persistence.NewWorkflowError("WorkflowByID", projectID, workflowID, persistence.ErrWorkflowNotFound)
}

// ActiveWorkflows loads every active workflow of the project, ordered by id.
func (wr *WorkflowRepository) ActiveWorkflows(ctx context.Context, projectID string) ([]*models.Workflow, error) {
	root := os.DirFS(wr.projectDir(projectID))

	workflows := make([]*models.Workflow, 0)
	seen := make(map[string]bool)

	for _, ext := range extensions {
		files, err := fs.Glob(root, "*"+ext)
		if err != nil {
			return nil, fmt.Errorf("failed to list workflow files: %w", err)
		}

		for _, file := range files {
			workflowID := strings.TrimSuffix(file, ext)
			if seen[workflowID] {
				continue
			}

			seen[workflowID] = true

			workflow, err := wr.WorkflowByID(ctx, projectID, workflowID)
			if err != nil {
				return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
			}

			if workflow.Active {
				workflows = append(workflows, workflow)
			}
		}
	}

	sort.Slice(workflows, func(i, j int) bool { return workflows[i].ID < workflows[j].ID })

	return workflows, nil
}

// SaveWorkflow writes the workflow as indented JSON, replacing any previous document.
func (wr *WorkflowRepository) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	dir := wr.projectDir(workflow.ProjectID)

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	doc := document{
		ID:          workflow.ID,
		ProjectID:   workflow.ProjectID,
		Name:        workflow.Name,
		Description: workflow.Description,
		Active:      workflow.Active,
		Nodes:       []*models.WorkflowNode{},
		Connections: []*models.Connection{},
		CreatedAt:   workflow.CreatedAt,
		UpdatedAt:   workflow.UpdatedAt,
	}

	if workflow.Graph != nil {
		doc.Nodes = models.SerializeNodes(workflow.Graph.Nodes)

		if workflow.Graph.Connections != nil {
			doc.Connections = workflow.Graph.Connections
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	for _, ext := range extensions[1:] {
		_ = os.Remove(filepath.Join(dir, workflow.ID+ext))
	}

	return os.WriteFile(filepath.Join(dir, workflow.ID+".json"), data, 0600)
}

// ProjectIDs lists the project directories holding workflows.
func (wr *WorkflowRepository) ProjectIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(path.Join(wr.root, "workflows"))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}

	sort.Strings(ids)

	return ids, nil
}

func (wr *WorkflowRepository) load(filePath string) (*models.Workflow, error) {
	body, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var doc document

	if strings.HasSuffix(filePath, ".json") {
		err = json.Unmarshal(body, &doc)
	} else {
		err = yaml.Unmarshal(body, &doc)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(filePath), err)
	}

	return &models.Workflow{
		ID:          doc.ID,
		ProjectID:   doc.ProjectID,
		Name:        doc.Name,
		Description: doc.Description,
		Active:      doc.Active,
		Graph:       models.NewGraph(doc.Nodes, doc.Connections),
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}
