package file_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/persistence/file"
	"github.com/dukex/chatflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlWorkflow = `
id: onboarding
name: Onboarding
active: true
nodes:
  start:
    type: trigger.start
    config: {}
  hello:
    type: message.text
    config:
      message.text:
        text: "Hi {{user.id}}"
connections:
  - source: start
    target: hello
`

func writeFile(t *testing.T, root, projectID, name, body string) {
	t.Helper()

	dir := filepath.Join(root, "workflows", projectID)
	require.NoError(t, os.MkdirAll(dir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0600))
}

func TestPersistence_HealthCheck(t *testing.T) {
	root := t.TempDir()

	p := file.NewPersistence("file://" + root)
	require.NoError(t, p.HealthCheck(t.Context()))

	missing := file.NewPersistence(filepath.Join(root, "missing"))
	assert.ErrorIs(t, missing.HealthCheck(t.Context()), os.ErrNotExist)
}

func TestWorkflowRepository_LoadsYAML(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "p1", "onboarding.yaml", yamlWorkflow)

	graphs := file.NewPersistence(root).GraphRepository()

	workflow, err := graphs.WorkflowByID(t.Context(), "p1", "onboarding")
	require.NoError(t, err)
	assert.Equal(t, "p1", workflow.ProjectID)
	assert.Equal(t, "Onboarding", workflow.Name)
	assert.Equal(t, []string{"hello", "start"}, workflow.Graph.NodeIDs())
	assert.Equal(t, "Hi {{user.id}}", workflow.Graph.Nodes["hello"].TypedConfig()["text"])
	require.Len(t, workflow.Graph.Outgoing("start"), 1)
}

func TestWorkflowRepository_SaveAndActive(t *testing.T) {
	root := t.TempDir()
	graphs := file.NewWorkflowRepository(root)

	active := testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{testutil.CreateTestNode(testutil.WithID("start"), testutil.WithTriggerNode())},
	)
	active.ID = "b"

	inactive := testutil.CreateTestWorkflow("p1", nil)
	inactive.ID = "a"
	inactive.Active = false

	require.NoError(t, graphs.SaveWorkflow(t.Context(), active))
	require.NoError(t, graphs.SaveWorkflow(t.Context(), inactive))
	writeFile(t, root, "p1", "c.yml", "id: c\nactive: true\nnodes: []\n")

	workflows, err := graphs.ActiveWorkflows(t.Context(), "p1")
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.Equal(t, "b", workflows[0].ID)
	assert.Equal(t, "c", workflows[1].ID)
	assert.True(t, workflows[0].Graph.HasNode("start"))
	assert.False(t, workflows[0].CreatedAt.IsZero())

	projects, err := graphs.ProjectIDs(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, projects)
}

func TestWorkflowRepository_NotFound(t *testing.T) {
	graphs := file.NewWorkflowRepository(t.TempDir())

	_, err := graphs.WorkflowByID(t.Context(), "p1", "nope")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	workflows, err := graphs.ActiveWorkflows(t.Context(), "p1")
	require.NoError(t, err)
	assert.Empty(t, workflows)

	projects, err := graphs.ProjectIDs(t.Context())
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestWorkflowRepository_MalformedFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "p1", "broken.json", "{not json")

	_, err := file.NewWorkflowRepository(root).WorkflowByID(t.Context(), "p1", "broken")
	require.Error(t, err)
	assert.False(t, persistence.IsWorkflowNotFound(err))
}

func TestPersistence_RuntimeStateInMemory(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	p.Runtime().SetUser("p1", "u1", true, 10)

	linked, err := p.UserDirectory().IsUserLinked(t.Context(), "p1", "u1")
	require.NoError(t, err)
	assert.True(t, linked)

	require.NoError(t, p.ExecutionStateRepository().SaveExecutionState(t.Context(), &models.ExecutionState{
		ExecutionID: "e1", ProjectID: "p1", WorkflowID: "w1", SessionID: "s1", CurrentNodeID: "menu",
	}))

	state, err := p.ExecutionStateRepository().ExecutionStateFor(t.Context(), "p1", "w1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "menu", state.CurrentNodeID)
}
