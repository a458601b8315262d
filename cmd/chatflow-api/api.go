// Package main provides the chatflow API server: event ingestion, workflow storage and
// graph validation over HTTP.
package main

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/queue"
	"github.com/dukex/chatflow/pkg/registry"
	"github.com/dukex/chatflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/moogar0880/problems"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	queue       queue.Queue
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	publisher eventbus.EventPublisher,
	q queue.Queue,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		registry:    registry,
		publisher:   publisher,
		queue:       q,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// App builds the HTTP application. The readiness probe fails while persistence is unreachable.
func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.persistence, a.registry, a.publisher, a.queue, a.validate, a.logger)

	app := fiber.New(fiber.Config{
		AppName:      "chatflow-api",
		ErrorHandler: a.errorHandler,
	})
	app.Use(recoverer.New())
	app.Use(requestid.New())
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		Format:        "${time} ${respHeader:X-Request-ID} ${status} - ${latency} ${method} ${path}\n",
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return a.persistence.HealthCheck(c.Context()) == nil
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Chatflow API")
	})

	handlers.Routes(app)

	return app
}

// errorHandler renders errors that escape the handlers, such as unknown routes, as problems.
func (a *API) errorHandler(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		status = fiberErr.Code
	}

	if status >= fiber.StatusInternalServerError {
		a.logger.ErrorContext(c.Context(), "Unhandled request error", "path", c.Path(), "error", err)
	}

	return c.Status(status).JSON(problems.NewStatusProblem(status).WithInstance(c.Path()).WithDetail(err.Error()))
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
