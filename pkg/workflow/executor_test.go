package workflow_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/chatflow/pkg/config"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/mocks"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/nodes/conditional"
	"github.com/dukex/chatflow/pkg/nodes/jump"
	lognode "github.com/dukex/chatflow/pkg/nodes/log"
	"github.com/dukex/chatflow/pkg/nodes/lookup"
	"github.com/dukex/chatflow/pkg/nodes/message"
	switchnode "github.com/dukex/chatflow/pkg/nodes/switch"
	"github.com/dukex/chatflow/pkg/nodes/trigger"
	"github.com/dukex/chatflow/pkg/nodes/variable"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/persistence/memory"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/ratelimit"
	"github.com/dukex/chatflow/pkg/registry"
	"github.com/dukex/chatflow/pkg/testutil"
	"github.com/dukex/chatflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stubType = "action.stub"

// stubHandler returns whatever run returns.
type stubHandler struct {
	run func(ctx context.Context) (string, error)
}

func (h *stubHandler) CanHandle(nodeType string) bool {
	return nodeType == stubType
}

func (h *stubHandler) Execute(ctx context.Context, _ *models.WorkflowNode, _ *protocol.ExecutionContext) (string, error) {
	return h.run(ctx)
}

func (h *stubHandler) Validate(*models.WorkflowNode) models.NodeValidation {
	return models.NewNodeValidation()
}

type denyAll struct{}

func (denyAll) Allow(context.Context, ratelimit.LimitType, string) bool {
	return false
}

type fixture struct {
	store     *memory.Persistence
	registry  *registry.Registry
	messenger *mocks.RecordingMessenger
	publisher *mocks.RecordingPublisher
	executor  *workflow.Executor
}

func newFixture(t *testing.T, opts ...workflow.Option) *fixture {
	t.Helper()

	reg := registry.NewRegistry(slog.Default())
	reg.Register(trigger.New())
	reg.Register(conditional.New())
	reg.Register(switchnode.New())
	reg.Register(jump.New())
	reg.Register(lognode.New())
	reg.Register(lookup.New())
	reg.Register(variable.New())
	reg.Register(message.New())

	f := &fixture{
		store:     memory.NewPersistence(),
		registry:  reg,
		messenger: &mocks.RecordingMessenger{},
		publisher: &mocks.RecordingPublisher{},
	}

	options := append([]workflow.Option{
		workflow.WithServices(protocol.Services{Messenger: f.messenger}),
		workflow.WithPublisher(f.publisher),
	}, opts...)

	f.executor = workflow.NewExecutor(f.store, reg, slog.Default(), options...)

	return f
}

func (f *fixture) save(t *testing.T, wf *models.Workflow) *models.Workflow {
	t.Helper()

	require.NoError(t, f.store.SaveWorkflow(t.Context(), wf))

	return wf
}

func (f *fixture) texts() []string {
	var texts []string
	for _, msg := range f.messenger.Messages() {
		texts = append(texts, msg.Text)
	}

	return texts
}

func startEvent() models.TriggerEvent {
	return models.TriggerEvent{ProjectID: "p1", Kind: models.TriggerKindStart, UserID: "u1", ChatID: "c1", Text: "/start"}
}

func callbackEvent(data string) models.TriggerEvent {
	return models.TriggerEvent{ProjectID: "p1", Kind: models.TriggerKindCallback, UserID: "u1", ChatID: "c1", CallbackData: data}
}

func textNode(id, text string) *models.WorkflowNode {
	return testutil.CreateTestNode(testutil.WithID(id), testutil.WithTypedConfig(models.NodeTypeMessage, map[string]any{"text": text}))
}

func startNode() *models.WorkflowNode {
	return testutil.CreateTestNode(testutil.WithID("start"), testutil.WithTriggerNode())
}

func stubNode(id string) *models.WorkflowNode {
	return testutil.CreateTestNode(testutil.WithID(id), testutil.WithTypedConfig(stubType, map[string]any{}))
}

func linkedWorkflow() *models.Workflow {
	return testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{
			startNode(),
			testutil.CreateTestNode(testutil.WithID("linked"), testutil.WithTypedConfig(models.NodeTypeCheckUserLinked, map[string]any{})),
			testutil.CreateTestNode(testutil.WithID("is_linked"), testutil.WithTypedConfig(models.NodeTypeCondition, map[string]any{
				"leftOperand":  "{{user.linked}}",
				"operator":     "equals",
				"rightOperand": "true",
			})),
			textNode("welcome", "Welcome back"),
			textNode("link", "Please link your account"),
		},
		testutil.CreateTestConnection("start", "linked"),
		testutil.CreateTestConnection("linked", "is_linked"),
		testutil.CreateLabeledConnection("is_linked", "welcome", "true"),
		testutil.CreateLabeledConnection("is_linked", "link", "false"),
	)
}

func menuWorkflow() *models.Workflow {
	return testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{
			startNode(),
			testutil.CreateTestNode(testutil.WithID("menu"), testutil.WithTypedConfig(models.NodeTypeKeyboardInline, map[string]any{
				"text":    "Choose",
				"buttons": []any{map[string]any{"text": "Profile", "goto_node": "profile"}},
			})),
			textNode("profile", "Your profile"),
		},
		testutil.CreateTestConnection("start", "menu"),
	)
}

func TestExecutor_ConditionFollowsTrueBranch(t *testing.T) {
	f := newFixture(t)
	f.store.SetUser("p1", "u1", true, 0)
	f.save(t, linkedWorkflow())

	logs, err := f.executor.HandleTrigger(t.Context(), startEvent())
	require.NoError(t, err)
	require.Len(t, logs, 1)

	assert.Equal(t, models.ExecutionStatusCompleted, logs[0].Status)
	assert.Equal(t, []string{"start", "linked", "is_linked", "welcome"}, logs[0].Path)
	assert.Equal(t, []string{"Welcome back"}, f.texts())
}

func TestExecutor_ConditionFollowsFalseBranch(t *testing.T) {
	f := newFixture(t)
	f.save(t, linkedWorkflow())

	logs, err := f.executor.HandleTrigger(t.Context(), startEvent())
	require.NoError(t, err)
	require.Len(t, logs, 1)

	assert.Equal(t, models.ExecutionStatusCompleted, logs[0].Status)
	assert.Equal(t, "link", logs[0].LastNodeID)
	assert.Equal(t, []string{"Please link your account"}, f.texts())
}

func TestExecutor_FalseWithoutBranchCompletes(t *testing.T) {
	f := newFixture(t)
	wf := f.save(t, testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{
			startNode(),
			testutil.CreateTestNode(testutil.WithID("check"), testutil.WithTypedConfig(models.NodeTypeCondition, map[string]any{
				"leftOperand": "a", "operator": "equals", "rightOperand": "b",
			})),
			textNode("after", "never"),
		},
		testutil.CreateTestConnection("start", "check"),
		testutil.CreateTestConnection("check", "after"),
	))

	log, err := f.executor.Run(t.Context(), wf, "start", startEvent())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, log.Status)
	assert.Equal(t, []string{"start", "check"}, log.Path)
	assert.Empty(t, f.texts())
}

func TestExecutor_StepLimit(t *testing.T) {
	cfg := config.Default().Execution
	cfg.MaxSteps = 5

	f := newFixture(t, workflow.WithConfig(cfg))
	wf := f.save(t, testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{
			startNode(),
			testutil.CreateTestNode(testutil.WithID("tick"), testutil.WithTypedConfig(models.NodeTypeLog, map[string]any{"message": "tick"})),
			testutil.CreateTestNode(testutil.WithID("again"), testutil.WithTypedConfig(models.NodeTypeJump, map[string]any{"targetNodeId": "tick"})),
		},
		testutil.CreateTestConnection("start", "tick"),
		testutil.CreateTestConnection("tick", "again"),
	))

	log, err := f.executor.Run(t.Context(), wf, "start", startEvent())
	require.ErrorIs(t, err, workflow.ErrStepLimit)

	assert.Equal(t, models.ExecutionStatusFailed, log.Status)
	assert.Equal(t, 5, log.Steps)
	assert.NotEmpty(t, log.FailedNodeID)
}

func TestExecutor_StepTimeout(t *testing.T) {
	cfg := config.Default().Execution
	cfg.StepTimeout = 20 * time.Millisecond

	f := newFixture(t, workflow.WithConfig(cfg))
	f.registry.Register(&stubHandler{run: func(ctx context.Context) (string, error) {
		<-ctx.Done()

		return "", ctx.Err()
	}})

	wf := f.save(t, testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{startNode(), stubNode("slow")},
		testutil.CreateTestConnection("start", "slow"),
	))

	log, err := f.executor.Run(t.Context(), wf, "start", startEvent())
	require.ErrorIs(t, err, workflow.ErrTimeout)

	assert.Equal(t, models.ExecutionStatusFailed, log.Status)
	assert.Equal(t, "slow", log.FailedNodeID)
	assert.Contains(t, log.Error, "timeout")
}

func TestExecutor_CallerCancellationIsNotATimeout(t *testing.T) {
	f := newFixture(t)

	started := make(chan struct{})

	f.registry.Register(&stubHandler{run: func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()

		return "", ctx.Err()
	}})

	wf := f.save(t, testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{startNode(), stubNode("slow")},
		testutil.CreateTestConnection("start", "slow"),
	))

	ctx, cancel := context.WithCancel(t.Context())

	go func() {
		<-started
		cancel()
	}()

	log, err := f.executor.Run(ctx, wf, "start", startEvent())
	require.ErrorIs(t, err, workflow.ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, workflow.ErrTimeout)

	assert.Equal(t, models.ExecutionStatusFailed, log.Status)
	assert.Equal(t, "slow", log.FailedNodeID)
	assert.Contains(t, log.Error, "cancelled")
}

func TestExecutor_HandlerIgnoringContextIsAbandoned(t *testing.T) {
	cfg := config.Default().Execution
	cfg.StepTimeout = 20 * time.Millisecond

	release := make(chan struct{})
	defer close(release)

	f := newFixture(t, workflow.WithConfig(cfg))
	f.registry.Register(&stubHandler{run: func(context.Context) (string, error) {
		<-release

		return protocol.DirectiveNext, nil
	}})

	wf := f.save(t, testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{startNode(), stubNode("stuck")},
		testutil.CreateTestConnection("start", "stuck"),
	))

	log, err := f.executor.Run(t.Context(), wf, "start", startEvent())
	require.ErrorIs(t, err, workflow.ErrTimeout)
	assert.Contains(t, log.Error, "timeout")
}

func TestExecutor_GotoBeatsConnection(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(&stubHandler{run: func(context.Context) (string, error) {
		return "b", nil
	}})

	wf := f.save(t, testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{startNode(), stubNode("pick"), textNode("a", "A"), textNode("b", "B")},
		testutil.CreateTestConnection("start", "pick"),
		testutil.CreateTestConnection("pick", "a"),
	))

	log, err := f.executor.Run(t.Context(), wf, "start", startEvent())
	require.NoError(t, err)

	assert.Equal(t, []string{"start", "pick", "b"}, log.Path)
	assert.Equal(t, []string{"B"}, f.texts())
}

func TestExecutor_MissingGotoTargetFails(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(&stubHandler{run: func(context.Context) (string, error) {
		return "ghost", nil
	}})

	wf := f.save(t, testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{startNode(), stubNode("pick")},
		testutil.CreateTestConnection("start", "pick"),
	))

	log, err := f.executor.Run(t.Context(), wf, "start", startEvent())
	require.ErrorIs(t, err, workflow.ErrNodeNotFound)

	assert.Equal(t, models.ExecutionStatusFailed, log.Status)
	assert.Equal(t, "pick", log.FailedNodeID)
}

func TestExecutor_HandlerErrorRecordsFailingNode(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(&stubHandler{run: func(context.Context) (string, error) {
		return "", errors.New("backend said no")
	}})

	wf := f.save(t, testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{startNode(), stubNode("call"), textNode("after", "never")},
		testutil.CreateTestConnection("start", "call"),
		testutil.CreateTestConnection("call", "after"),
	))

	log, err := f.executor.Run(t.Context(), wf, "start", startEvent())
	require.Error(t, err)

	var stepErr *workflow.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "call", stepErr.NodeID)
	assert.Equal(t, "call", log.FailedNodeID)
	assert.Contains(t, log.Error, "backend said no")
	assert.Empty(t, f.texts())

	assert.Equal(t, []events.EventType{events.ExecutionStartedEvent, events.ExecutionFailedEvent}, f.publisher.Types())
}

func TestExecutor_ValidationErrorsBlockExecution(t *testing.T) {
	f := newFixture(t)
	wf := f.save(t, testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{
			startNode(),
			testutil.CreateTestNode(testutil.WithID("broken"), testutil.WithTypedConfig(models.NodeTypeCondition, map[string]any{})),
			textNode("hello", "Hello"),
		},
		testutil.CreateTestConnection("start", "hello"),
		testutil.CreateTestConnection("hello", "broken"),
	))

	log, err := f.executor.Run(t.Context(), wf, "start", startEvent())
	require.ErrorIs(t, err, workflow.ErrInvalidGraph)
	assert.Nil(t, log)
	assert.Contains(t, err.Error(), "broken")
	assert.Empty(t, f.texts())
	assert.Empty(t, f.publisher.Events())
}

func TestExecutor_SuspendAndResume(t *testing.T) {
	f := newFixture(t)
	wf := f.save(t, menuWorkflow())

	logs, err := f.executor.HandleTrigger(t.Context(), startEvent())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ExecutionStatusSuspended, logs[0].Status)

	state, err := f.store.ExecutionStateFor(t.Context(), "p1", wf.ID, "c1")
	require.NoError(t, err)
	assert.Equal(t, "menu", state.CurrentNodeID)
	assert.Equal(t, logs[0].ExecutionID, state.ExecutionID)

	sent := f.messenger.Messages()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Buttons, 1)

	resumed, err := f.executor.HandleTrigger(t.Context(), callbackEvent(sent[0].Buttons[0][0].CallbackData))
	require.NoError(t, err)
	require.Len(t, resumed, 1)

	assert.Equal(t, models.ExecutionStatusCompleted, resumed[0].Status)
	assert.Equal(t, state.ExecutionID, resumed[0].ExecutionID)
	assert.Equal(t, []string{"menu", "profile"}, resumed[0].Path)
	assert.Equal(t, []string{"Choose", "Your profile"}, f.texts())

	_, err = f.store.ExecutionStateFor(t.Context(), "p1", wf.ID, "c1")
	assert.True(t, persistence.IsExecutionStateNotFound(err))

	assert.Equal(t, []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionSuspendedEvent,
		events.ExecutionStartedEvent,
		events.ExecutionCompletedEvent,
	}, f.publisher.Types())
}

func TestExecutor_UnrelatedReplyKeepsRunSuspended(t *testing.T) {
	f := newFixture(t)
	wf := f.save(t, menuWorkflow())

	_, err := f.executor.HandleTrigger(t.Context(), startEvent())
	require.NoError(t, err)

	logs, err := f.executor.HandleTrigger(t.Context(), models.TriggerEvent{
		ProjectID: "p1", Kind: models.TriggerKindMessage, UserID: "u1", ChatID: "c1", Text: "hello?",
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ExecutionStatusSuspended, logs[0].Status)

	state, err := f.store.ExecutionStateFor(t.Context(), "p1", wf.ID, "c1")
	require.NoError(t, err)
	assert.Equal(t, "menu", state.CurrentNodeID)
}

func TestExecutor_CommandPreemptsSuspendedRun(t *testing.T) {
	f := newFixture(t)
	wf := f.save(t, menuWorkflow())

	first, err := f.executor.HandleTrigger(t.Context(), startEvent())
	require.NoError(t, err)

	restart := startEvent()
	restart.Kind = models.TriggerKindMessage

	second, err := f.executor.HandleTrigger(t.Context(), restart)
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.NotEqual(t, first[0].ExecutionID, second[0].ExecutionID)
	assert.Equal(t, []string{"start", "menu"}, second[0].Path)

	state, err := f.store.ExecutionStateFor(t.Context(), "p1", wf.ID, "c1")
	require.NoError(t, err)
	assert.Equal(t, second[0].ExecutionID, state.ExecutionID)
}

func TestExecutor_StatelessGotoCallback(t *testing.T) {
	f := newFixture(t)
	f.save(t, menuWorkflow())

	logs, err := f.executor.HandleTrigger(t.Context(), callbackEvent("goto:profile"))
	require.NoError(t, err)
	require.Len(t, logs, 1)

	assert.Equal(t, []string{"profile"}, logs[0].Path)
	assert.Equal(t, []string{"Your profile"}, f.texts())
}

func TestExecutor_NoMatchingWorkflow(t *testing.T) {
	f := newFixture(t)
	f.save(t, menuWorkflow())

	logs, err := f.executor.HandleTrigger(t.Context(), callbackEvent("goto:nowhere"))
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestExecutor_TriggerFieldsAreExposed(t *testing.T) {
	f := newFixture(t)
	f.save(t, testutil.CreateTestWorkflow("p1",
		[]*models.WorkflowNode{
			testutil.CreateTestNode(testutil.WithID("any"), testutil.WithTypedConfig(models.NodeTypeTriggerMessage, map[string]any{})),
			textNode("echo", "{{user.id}} said {{trigger.text}} in {{trigger.chat_id}}"),
		},
		testutil.CreateTestConnection("any", "echo"),
	))

	_, err := f.executor.HandleTrigger(t.Context(), models.TriggerEvent{
		ProjectID: "p1", Kind: models.TriggerKindMessage, UserID: "u1", ChatID: "c1", Text: "hi",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"u1 said hi in c1"}, f.texts())
}

func TestExecutor_RateLimitedRunIsRejected(t *testing.T) {
	f := newFixture(t, workflow.WithServices(protocol.Services{Limiter: denyAll{}}))
	f.save(t, menuWorkflow())

	logs, err := f.executor.HandleTrigger(t.Context(), startEvent())
	require.ErrorIs(t, err, ratelimit.ErrLimited)
	assert.Empty(t, logs)
}

func TestExecutor_InvalidEventIsRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.executor.HandleTrigger(t.Context(), models.TriggerEvent{Kind: "carrier-pigeon"})
	require.Error(t, err)
}

func TestExecutor_SavesExecutionLog(t *testing.T) {
	f := newFixture(t)
	f.store.SetUser("p1", "u1", true, 0)
	wf := f.save(t, linkedWorkflow())

	logs, err := f.executor.HandleTrigger(t.Context(), startEvent())
	require.NoError(t, err)

	saved, err := f.store.ExecutionLogs(t.Context(), "p1", wf.ID, 10)
	require.NoError(t, err)
	require.Len(t, saved, 1)

	assert.Equal(t, logs[0].ExecutionID, saved[0].ExecutionID)
	assert.Equal(t, models.ExecutionStatusCompleted, saved[0].Status)
	assert.Equal(t, 4, saved[0].Steps)
	assert.False(t, saved[0].FinishedAt.Before(saved[0].StartedAt))
}
