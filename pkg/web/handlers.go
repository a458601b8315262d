package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/queue"
	"github.com/dukex/chatflow/pkg/registry"
	"github.com/dukex/chatflow/pkg/validation"
	"github.com/dukex/chatflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type APIHandlers struct {
	repository  *workflow.Repository
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	queue       queue.Queue
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	p persistence.Persistence,
	registry *registry.Registry,
	publisher eventbus.EventPublisher,
	q queue.Queue,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		repository:  workflow.NewRepository(p),
		persistence: p,
		registry:    registry,
		publisher:   publisher,
		queue:       q,
		validator:   validator,
		logger:      logger.With("module", "web"),
	}
}

// PostEvent accepts an inbound chat or webhook event and publishes it for the workers.
// Events are keyed by session so one chat is processed in order.
func (h *APIHandlers) PostEvent(c fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return badRequest(c, "Project ID is required")
	}

	var req TriggerEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := req.TriggerEvent(projectID, time.Now().UTC())

	sessionID := event.Session()
	if sessionID == "" {
		return badRequest(c, "one of session_id, chat_id or user_id is required")
	}

	received := events.TriggerReceived{
		BaseEvent: events.NewBaseEvent(events.TriggerReceivedEvent, projectID, event.WorkflowID),
		Trigger:   event,
	}

	if err := h.publisher.Publish(c.Context(), sessionID, received); err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to publish trigger event", "project_id", projectID, "error", err)

		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(EventAcceptedResponse{
		EventID:   received.ID,
		SessionID: sessionID,
	})
}

// ValidateGraph runs the static graph checks and every node's configuration schema.
func (h *APIHandlers) ValidateGraph(c fiber.Ctx) error {
	var req GraphRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(h.validate(models.NewGraph(req.Nodes, req.Connections)))
}

func (h *APIHandlers) validate(graph *models.WorkflowGraph) ValidationResponse {
	result := validation.Validate(graph)

	response := ValidationResponse{
		IsValid: result.IsValid,
		Issues:  result.Issues,
	}

	if response.Issues == nil {
		response.Issues = []validation.Issue{}
	}

	invalid := h.registry.ValidateNodes(graph)
	if len(invalid) > 0 {
		response.IsValid = false
		response.InvalidNodes = make(map[string][]string, len(invalid))

		for nodeID, nodeValidation := range invalid {
			response.InvalidNodes[nodeID] = nodeValidation.Errors
		}
	}

	return response
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.repository.FetchByID(c.Context(), c.Params("projectId"), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflow)
}

// SaveWorkflow creates or replaces a workflow. Graphs that fail validation are rejected.
func (h *APIHandlers) SaveWorkflow(c fiber.Ctx) error {
	var req SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	graph := models.NewGraph(req.Nodes, req.Connections)

	if report := h.validate(graph); !report.IsValid {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(report)
	}

	saved, err := h.repository.Save(c.Context(), &models.Workflow{
		ID:          c.Params("id"),
		ProjectID:   c.Params("projectId"),
		Name:        req.Name,
		Description: req.Description,
		Active:      req.Active,
		Graph:       graph,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(saved)
}

// GetReferences lists the goto references pointing at a node of a stored workflow.
func (h *APIHandlers) GetReferences(c fiber.Ctx) error {
	workflow, err := h.repository.FetchByID(c.Context(), c.Params("projectId"), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	nodeID := c.Params("nodeId")
	if !workflow.Graph.HasNode(nodeID) {
		return notFound(c, "Node not found")
	}

	refs := validation.ReferencesTo(nodeID, workflow.Graph)
	if refs == nil {
		refs = []models.GotoReference{}
	}

	return c.JSON(ReferencesResponse{NodeID: nodeID, References: refs})
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	logs, err := h.persistence.ExecutionLogRepository().ExecutionLogs(c.Context(), c.Params("projectId"), c.Query("workflow_id"), limit)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"executions": logs})
}

func (h *APIHandlers) ListFailedJobs(c fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	jobs, err := h.queue.Failed(c.Context(), limit)
	if err != nil {
		return internalError(c, err)
	}

	if jobs == nil {
		jobs = []*queue.Job{}
	}

	return c.JSON(fiber.Map{
		"jobs":      jobs,
		"available": h.queue.Available(),
	})
}

// ListNodeTypes returns the configuration JSON schema of every registered node type.
func (h *APIHandlers) ListNodeTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"node_types": h.registry.Schemas()})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.repository.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Chatflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Chatflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
			"queue":      h.queue.Available(),
		},
		"timestamp": time.Now().UTC(),
	})
}

func parseLimit(c fiber.Ctx) (int, error) {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return defaultListLimit, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, err
	}

	if limit <= 0 || limit > maxListLimit {
		return 0, strconv.ErrRange
	}

	return limit, nil
}

// Routes mounts every handler on app.
func (h *APIHandlers) Routes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)
	app.Get("/node-types", h.ListNodeTypes)
	app.Post("/workflows/validate", h.ValidateGraph)
	app.Get("/jobs/failed", h.ListFailedJobs)

	p := app.Group("/projects/:projectId")
	p.Post("/events", h.PostEvent)
	p.Get("/executions", h.ListExecutions)
	p.Get("/workflows/:id", h.GetWorkflow)
	p.Put("/workflows/:id", h.SaveWorkflow)
	p.Get("/workflows/:id/references/:nodeId", h.GetReferences)
}
