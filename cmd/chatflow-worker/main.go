// Package main provides the chatflow worker: it consumes inbound trigger events and
// executes workflows, deferring heavy runs to the job queue.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/chatflow/pkg/cmd"
	"github.com/dukex/chatflow/pkg/config"
	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/log"
	"github.com/dukex/chatflow/pkg/ratelimit"
	"github.com/dukex/chatflow/pkg/workflow"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "chatflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute chat workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://, file://, memory://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the job queue and rate limits (empty runs degraded)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "queue",
				Usage:   "Job queue backend (redis, memory, none)",
				Value:   "redis",
				Sources: cli.EnvVars("QUEUE_BACKEND"),
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML engine configuration file",
				Sources: cli.EnvVars("CHATFLOW_CONFIG"),
			},
			&cli.StringFlag{
				Name:     "plugins-path",
				Usage:    "Path to the directory containing handler plugins",
				Value:    "./plugins",
				Required: false,
				Sources:  cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.FloatFlag{
				Name:    "trace-sample-ratio",
				Usage:   "Fraction of root spans to sample (1 samples everything)",
				Value:   1,
				Sources: cli.EnvVars("TRACE_SAMPLE_RATIO"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("chatflow-worker").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing Chatflow Worker")

			cfg, err := config.Load(command.String("config"))
			if err != nil {
				return err
			}

			registry := cmd.NewRegistry(logger, command.String("plugins-path"))

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "chatflow-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			redisClient, err := cmd.NewRedisClient(ctx, logger, command.String("redis-url"))
			if err != nil {
				return err
			}

			q, err := cmd.NewQueue(ctx, command.String("queue"), redisClient, cfg.Queue, logger)
			if err != nil {
				return err
			}

			defer func() {
				err := q.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close queue", "error", err)
				}
			}()

			tracer, shutdownTracer := cmd.NewTracer(ctx, logger, "chatflow-worker", command.Bool("tracing"), command.Float("trace-sample-ratio"))
			defer func() {
				err := shutdownTracer(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to flush traces", "error", err)
				}
			}()

			limiter := ratelimit.New(redisClient, cfg.RateLimits, logger)
			services := cmd.NewServices(persistence, limiter, eventbus.NewMessenger(eventBus), cfg.API, tracer, logger)

			executor := workflow.NewExecutor(
				persistence,
				registry,
				logger,
				workflow.WithServices(services),
				workflow.WithPublisher(eventBus),
				workflow.WithTracer(tracer),
				workflow.WithConfig(cfg.Execution),
				workflow.WithWorkerID(workerID),
			)

			worker := NewWorkerManager(
				workerID,
				eventBus,
				workflow.NewDispatcher(executor, q, cfg, logger),
				q,
				logger,
			)

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start event-driven worker", "error", err)

				return err
			}

			<-ctx.Done()
			logger.InfoContext(ctx, "Shutting down worker...")
			worker.Wait()

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
