// Package workflow provides the engine that walks workflow graphs for inbound chat events.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/config"
	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/otelhelper"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/ratelimit"
	"github.com/dukex/chatflow/pkg/registry"
	"github.com/dukex/chatflow/pkg/validation"
	"github.com/dukex/chatflow/pkg/variables"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Executor runs workflow graphs. It is safe for concurrent use; every run owns
// its own execution context and variable manager.
type Executor struct {
	persistence persistence.Persistence
	repository  *Repository
	registry    *registry.Registry
	matcher     *TriggerMatcher
	services    protocol.Services
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	config      config.ExecutionConfig
	validate    *validator.Validate
	workerID    string
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Executor)

// WithServices sets the collaborators handed to node handlers.
func WithServices(services protocol.Services) Option {
	return func(e *Executor) {
		e.services = services
	}
}

// WithPublisher publishes run lifecycle events.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Executor) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func WithConfig(cfg config.ExecutionConfig) Option {
	return func(e *Executor) {
		e.config = cfg
	}
}

func WithWorkerID(id string) Option {
	return func(e *Executor) {
		e.workerID = id
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

func NewExecutor(p persistence.Persistence, reg *registry.Registry, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		persistence: p,
		repository:  NewRepository(p),
		registry:    reg,
		matcher:     NewTriggerMatcher(reg, logger),
		tracer:      otelhelper.NoopTracer(),
		config:      config.Default().Execution,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "workflow_executor"),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.services.Users == nil {
		e.services.Users = p.UserDirectory()
	}

	return e
}

// HandleTrigger routes one inbound event. A session suspended in one of the candidate
// workflows is resumed; otherwise every workflow with a matching trigger starts a run.
// A slash command that starts a run discards the session's suspended runs instead of
// being treated as a reply.
func (e *Executor) HandleTrigger(ctx context.Context, event models.TriggerEvent) ([]*models.ExecutionLog, error) {
	if err := e.validate.Struct(event); err != nil {
		return nil, fmt.Errorf("invalid trigger event: %w", err)
	}

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = e.now().UTC()
	}

	logger := e.logger.With("project_id", event.ProjectID, "session_id", event.Session(), "kind", event.Kind)

	workflows, err := e.repository.FetchForEvent(ctx, event)
	if err != nil {
		return nil, err
	}

	entries := e.matcher.MatchAll(workflows, event)

	if IsCommand(event) && len(entries) > 0 {
		e.discardSuspended(ctx, workflows, event)
	} else {
		for _, workflow := range workflows {
			state, err := e.persistence.ExecutionStateRepository().ExecutionStateFor(ctx, event.ProjectID, workflow.ID, event.Session())
			if err != nil {
				if !persistence.IsExecutionStateNotFound(err) {
					logger.WarnContext(ctx, "Failed to load suspended run", "workflow_id", workflow.ID, "error", err)
				}

				continue
			}

			log, err := e.Resume(ctx, workflow, state, event)

			return []*models.ExecutionLog{log}, err
		}
	}

	if len(entries) == 0 {
		logger.DebugContext(ctx, "No workflow matched the event", "candidates", len(workflows))

		return []*models.ExecutionLog{}, nil
	}

	logs := make([]*models.ExecutionLog, 0, len(entries))

	var errs []error

	for _, entry := range entries {
		log, err := e.Run(ctx, entry.Workflow, entry.NodeID, event)
		if log != nil {
			logs = append(logs, log)
		}

		if err != nil {
			errs = append(errs, err)
		}
	}

	return logs, errors.Join(errs...)
}

func (e *Executor) discardSuspended(ctx context.Context, workflows []*models.Workflow, event models.TriggerEvent) {
	states := e.persistence.ExecutionStateRepository()

	for _, workflow := range workflows {
		state, err := states.ExecutionStateFor(ctx, event.ProjectID, workflow.ID, event.Session())
		if err != nil {
			continue
		}

		if err := states.DeleteExecutionState(ctx, state.ExecutionID); err != nil {
			e.logger.WarnContext(ctx, "Failed to discard suspended run", "execution_id", state.ExecutionID, "error", err)

			continue
		}

		e.logger.InfoContext(ctx, "Command discarded suspended run",
			"execution_id", state.ExecutionID,
			"workflow_id", workflow.ID,
			"node_id", state.CurrentNodeID,
		)
	}
}

// Run starts a new run of the workflow at startNodeID.
func (e *Executor) Run(ctx context.Context, workflow *models.Workflow, startNodeID string, event models.TriggerEvent) (*models.ExecutionLog, error) {
	if err := e.checkGraph(workflow); err != nil {
		return nil, err
	}

	if !workflow.Graph.HasNode(startNodeID) {
		return nil, fmt.Errorf("%w: node %q in workflow %s", ErrNoEntryPoint, startNodeID, workflow.ID)
	}

	if limiter := e.services.Limiter; limiter != nil {
		if !limiter.Allow(ctx, ratelimit.WorkflowExecution, runLimitKey(event)) {
			e.logger.WarnContext(ctx, "Workflow execution rate limited", "workflow_id", workflow.ID, "user_id", event.UserID)

			return nil, fmt.Errorf("workflow %s: %w", workflow.ID, ratelimit.ErrLimited)
		}
	}

	state := &models.ExecutionState{
		ExecutionID: uuid.New().String(),
		ProjectID:   workflow.ProjectID,
		WorkflowID:  workflow.ID,
		SessionID:   event.Session(),
		UserID:      event.UserID,
		ChatID:      event.ChatID,
		StartedAt:   e.now().UTC(),
	}

	execCtx := e.newExecutionContext(state, event)
	execCtx.Variables.Preload(ctx)
	exposeTrigger(execCtx, event)

	return e.execute(ctx, workflow, state, execCtx, startNodeID, nil)
}

// Resume continues a suspended run with the event that answers it.
func (e *Executor) Resume(ctx context.Context, workflow *models.Workflow, state *models.ExecutionState, event models.TriggerEvent) (*models.ExecutionLog, error) {
	if err := e.checkGraph(workflow); err != nil {
		return nil, err
	}

	if err := e.persistence.ExecutionStateRepository().DeleteExecutionState(ctx, state.ExecutionID); err != nil {
		return nil, fmt.Errorf("failed to claim suspended run %s: %w", state.ExecutionID, err)
	}

	if event.ChatID != "" {
		state.ChatID = event.ChatID
	}

	execCtx := e.newExecutionContext(state, event)
	execCtx.Variables.Preload(ctx)
	exposeTrigger(execCtx, event)

	return e.execute(ctx, workflow, state, execCtx, state.CurrentNodeID, &event)
}

func (e *Executor) checkGraph(workflow *models.Workflow) error {
	if workflow == nil || workflow.Graph.IsEmpty() {
		return fmt.Errorf("%w: workflow has no nodes", ErrInvalidGraph)
	}

	if err := validation.Validate(workflow.Graph).Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	invalid := e.registry.ValidateNodes(workflow.Graph)
	if len(invalid) == 0 {
		return nil
	}

	details := make([]string, 0, len(invalid))
	for _, id := range workflow.Graph.NodeIDs() {
		if result, ok := invalid[id]; ok {
			details = append(details, fmt.Sprintf("%s: %s", id, strings.Join(result.Errors, "; ")))
		}
	}

	return fmt.Errorf("%w: %s", ErrInvalidGraph, strings.Join(details, ", "))
}

func (e *Executor) newExecutionContext(state *models.ExecutionState, event models.TriggerEvent) *protocol.ExecutionContext {
	logger := e.logger.With(
		"project_id", state.ProjectID,
		"workflow_id", state.WorkflowID,
		"execution_id", state.ExecutionID,
		"session_id", state.SessionID,
	)

	owner := variables.Owner{
		ProjectID: state.ProjectID,
		SessionID: state.SessionID,
		UserID:    state.UserID,
	}

	return &protocol.ExecutionContext{
		ProjectID:   state.ProjectID,
		WorkflowID:  state.WorkflowID,
		ExecutionID: state.ExecutionID,
		UserID:      state.UserID,
		SessionID:   state.SessionID,
		ChatID:      state.ChatID,
		Trigger:     event,
		Variables:   variables.NewManager(e.persistence.VariableStore(), owner, logger),
		Logger:      logger,
		Services:    e.services,
	}
}

// exposeTrigger makes the inbound event readable from templates for the current segment.
func exposeTrigger(execCtx *protocol.ExecutionContext, event models.TriggerEvent) {
	vars := execCtx.Variables

	vars.UpdateCache("trigger.kind", string(event.Kind), models.ScopeSession)
	vars.UpdateCache("trigger.text", event.Text, models.ScopeSession)
	vars.UpdateCache("trigger.callback_data", event.CallbackData, models.ScopeSession)
	vars.UpdateCache("trigger.chat_id", event.ChatID, models.ScopeSession)
	vars.UpdateCache("user.id", event.UserID, models.ScopeSession)

	for key, value := range event.Payload {
		vars.UpdateCache("trigger.payload."+key, value, models.ScopeSession)
	}
}

func runLimitKey(event models.TriggerEvent) string {
	if event.UserID != "" {
		return event.ProjectID + ":" + event.UserID
	}

	return event.ProjectID + ":" + event.Session()
}

// execute walks the graph from nodeID until the run completes, fails or suspends.
// When resumeEvent is set the first node is resumed instead of executed.
func (e *Executor) execute(
	ctx context.Context,
	workflow *models.Workflow,
	state *models.ExecutionState,
	execCtx *protocol.ExecutionContext,
	nodeID string,
	resumeEvent *models.TriggerEvent,
) (*models.ExecutionLog, error) {
	logger := execCtx.Logger
	startedAt := e.now().UTC()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.run",
		attribute.String(otelhelper.ProjectIDKey, state.ProjectID),
		attribute.String(otelhelper.WorkflowIDKey, state.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, state.ExecutionID),
		attribute.String(otelhelper.TriggerKindKey, string(execCtx.Trigger.Kind)),
	)
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	e.publish(ctx, state, events.ExecutionStarted{
		BaseEvent:   e.baseEvent(events.ExecutionStartedEvent, state),
		ExecutionID: state.ExecutionID,
		SessionID:   state.SessionID,
		UserID:      state.UserID,
		NodeID:      nodeID,
		Resumed:     resumeEvent != nil,
	})

	logger.InfoContext(ctx, "Starting run segment", "node_id", nodeID, "resumed", resumeEvent != nil, "steps", state.Steps)

	log := &models.ExecutionLog{
		ExecutionID: state.ExecutionID,
		ProjectID:   state.ProjectID,
		WorkflowID:  state.WorkflowID,
		Status:      models.ExecutionStatusRunning,
		StartedAt:   startedAt,
	}

	current := nodeID

	for {
		if runCtx.Err() != nil {
			return e.fail(ctx, span, state, log, current, e.interrupted(runCtx))
		}

		if state.Steps >= e.config.MaxSteps {
			return e.fail(ctx, span, state, log, current, fmt.Errorf("%w: more than %d steps", ErrStepLimit, e.config.MaxSteps))
		}

		node, ok := workflow.Graph.Node(current)
		if !ok {
			return e.fail(ctx, span, state, log, current, fmt.Errorf("%w: %q", ErrNodeNotFound, current))
		}

		handler, err := e.registry.HandlerFor(node.Type)
		if err != nil {
			return e.fail(ctx, span, state, log, node.ID, &StepError{NodeID: node.ID, NodeType: node.Type, Err: err})
		}

		state.Steps++
		log.Path = append(log.Path, node.ID)
		log.LastNodeID = node.ID

		directive, err := e.step(runCtx, handler, node, execCtx, resumeEvent)
		resumeEvent = nil

		if err != nil {
			return e.fail(ctx, span, state, log, node.ID, &StepError{NodeID: node.ID, NodeType: node.Type, Err: err})
		}

		logger.DebugContext(ctx, "Node executed", "node_id", node.ID, "node_type", node.Type, "directive", directive)

		switch directive {
		case protocol.DirectiveSuspend:
			return e.suspend(ctx, state, log, node.ID)
		case protocol.DirectiveEnd:
			return e.complete(ctx, state, log)
		}

		next, err := nextNode(workflow.Graph, node, directive)
		if err != nil {
			return e.fail(ctx, span, state, log, node.ID, err)
		}

		if next == "" {
			return e.complete(ctx, state, log)
		}

		current = next
	}
}

type stepOutcome struct {
	directive string
	err       error
}

// step runs one handler under the step deadline. A handler that ignores its context
// is abandoned once the deadline passes.
func (e *Executor) step(
	ctx context.Context,
	handler protocol.Handler,
	node *models.WorkflowNode,
	execCtx *protocol.ExecutionContext,
	resumeEvent *models.TriggerEvent,
) (string, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type),
	)
	defer span.End()

	stepCtx, cancel := context.WithTimeout(ctx, e.config.StepTimeout)
	defer cancel()

	done := make(chan stepOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stepOutcome{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()

		var outcome stepOutcome

		if resumer, ok := handler.(protocol.Resumer); ok && resumeEvent != nil {
			outcome.directive, outcome.err = resumer.Resume(stepCtx, node, execCtx, *resumeEvent)
		} else {
			outcome.directive, outcome.err = handler.Execute(stepCtx, node, execCtx)
		}

		done <- outcome
	}()

	var outcome stepOutcome

	select {
	case outcome = <-done:
	case <-stepCtx.Done():
		outcome.err = stepCtx.Err()
	}

	if outcome.err != nil && stepCtx.Err() != nil {
		if ctx.Err() != nil {
			outcome.err = e.interrupted(ctx)
		} else {
			outcome.err = fmt.Errorf("%w: step exceeded %s", ErrTimeout, e.config.StepTimeout)
		}
	}

	if outcome.err != nil {
		otelhelper.SetError(span, outcome.err, attribute.String(otelhelper.NodeIDKey, node.ID))
	}

	return outcome.directive, outcome.err
}

// nextNode interprets a handler directive. A goto names the next node directly and wins
// over static connections; "true" prefers a connection labelled true and falls back to
// the default connection; "false" only follows a connection labelled false.
// An empty result completes the run.
func nextNode(graph *models.WorkflowGraph, node *models.WorkflowNode, directive string) (string, error) {
	switch directive {
	case protocol.DirectiveNext:
		return defaultTarget(graph, node.ID), nil
	case protocol.DirectiveTrue:
		if target := labelledTarget(graph, node.ID, protocol.DirectiveTrue); target != "" {
			return target, nil
		}

		return defaultTarget(graph, node.ID), nil
	case protocol.DirectiveFalse:
		return labelledTarget(graph, node.ID, protocol.DirectiveFalse), nil
	default:
		if !graph.HasNode(directive) {
			return "", fmt.Errorf("%w: goto target %q from node %q", ErrNodeNotFound, directive, node.ID)
		}

		return directive, nil
	}
}

func defaultTarget(graph *models.WorkflowGraph, nodeID string) string {
	for _, conn := range graph.Outgoing(nodeID) {
		if conn.IsDefault() {
			return conn.Target
		}
	}

	return ""
}

func labelledTarget(graph *models.WorkflowGraph, nodeID, label string) string {
	for _, conn := range graph.Outgoing(nodeID) {
		if strings.EqualFold(conn.Label, label) {
			return conn.Target
		}
	}

	return ""
}

func (e *Executor) complete(ctx context.Context, state *models.ExecutionState, log *models.ExecutionLog) (*models.ExecutionLog, error) {
	e.finish(ctx, state, log, models.ExecutionStatusCompleted)

	e.publish(ctx, state, events.ExecutionCompleted{
		BaseEvent:   e.baseEvent(events.ExecutionCompletedEvent, state),
		ExecutionID: state.ExecutionID,
		Steps:       log.Steps,
		Path:        log.Path,
		Duration:    log.Duration(),
	})

	e.logger.InfoContext(ctx, "Run completed", "execution_id", state.ExecutionID, "steps", log.Steps, "duration", log.Duration())

	return log, nil
}

// interrupted reports why a run context ended. A deadline is a timeout; anything else
// came from the caller.
func (e *Executor) interrupted(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: run exceeded %s", ErrTimeout, e.config.Timeout)
	}

	return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
}

func (e *Executor) fail(
	ctx context.Context,
	span trace.Span,
	state *models.ExecutionState,
	log *models.ExecutionLog,
	nodeID string,
	err error,
) (*models.ExecutionLog, error) {
	// A cancelled caller still gets its failure recorded.
	ctx = context.WithoutCancel(ctx)

	log.FailedNodeID = nodeID
	log.Error = err.Error()

	e.finish(ctx, state, log, models.ExecutionStatusFailed)
	otelhelper.SetError(span, err, attribute.String(otelhelper.NodeIDKey, nodeID))

	e.publish(ctx, state, events.ExecutionFailed{
		BaseEvent:    e.baseEvent(events.ExecutionFailedEvent, state),
		ExecutionID:  state.ExecutionID,
		FailedNodeID: nodeID,
		Error:        err.Error(),
		Steps:        log.Steps,
		Duration:     log.Duration(),
	})

	e.logger.ErrorContext(ctx, "Run failed", "execution_id", state.ExecutionID, "node_id", nodeID, "error", err)

	return log, err
}

func (e *Executor) suspend(ctx context.Context, state *models.ExecutionState, log *models.ExecutionLog, nodeID string) (*models.ExecutionLog, error) {
	state.CurrentNodeID = nodeID
	state.Path = append(state.Path, log.Path...)
	state.SuspendedAt = e.now().UTC()

	if err := e.persistence.ExecutionStateRepository().SaveExecutionState(ctx, state); err != nil {
		log.FailedNodeID = nodeID
		log.Error = err.Error()
		e.finish(ctx, state, log, models.ExecutionStatusFailed)

		return log, fmt.Errorf("failed to persist suspended run %s: %w", state.ExecutionID, err)
	}

	e.finish(ctx, state, log, models.ExecutionStatusSuspended)

	e.publish(ctx, state, events.ExecutionSuspended{
		BaseEvent:   e.baseEvent(events.ExecutionSuspendedEvent, state),
		ExecutionID: state.ExecutionID,
		NodeID:      nodeID,
		Steps:       log.Steps,
	})

	e.logger.InfoContext(ctx, "Run suspended", "execution_id", state.ExecutionID, "node_id", nodeID)

	return log, nil
}

func (e *Executor) finish(ctx context.Context, state *models.ExecutionState, log *models.ExecutionLog, status models.ExecutionStatus) {
	log.Status = status
	log.Steps = state.Steps
	log.FinishedAt = e.now().UTC()

	if err := e.persistence.ExecutionLogRepository().SaveExecutionLog(ctx, log); err != nil {
		e.logger.WarnContext(ctx, "Failed to save execution log", "execution_id", log.ExecutionID, "error", err)
	}
}

func (e *Executor) baseEvent(eventType events.EventType, state *models.ExecutionState) events.BaseEvent {
	base := events.NewBaseEvent(eventType, state.ProjectID, state.WorkflowID)
	base.WorkerID = e.workerID

	return base
}

func (e *Executor) publish(ctx context.Context, state *models.ExecutionState, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, state.SessionID, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish lifecycle event", "event_type", event.GetType(), "execution_id", state.ExecutionID, "error", err)
	}
}
