package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/chatflow/pkg/apiclient"
	"github.com/dukex/chatflow/pkg/config"
	"github.com/dukex/chatflow/pkg/otelhelper"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/ratelimit"
	"go.opentelemetry.io/otel/trace"
)

// NewServices assembles the collaborators handed to node handlers.
func NewServices(
	p persistence.Persistence,
	limiter *ratelimit.Limiter,
	messenger protocol.Messenger,
	cfg config.APIConfig,
	tracer trace.Tracer,
	logger *slog.Logger,
) protocol.Services {
	client := apiclient.NewClient(
		logger,
		apiclient.WithRateLimiter(limiter),
		apiclient.WithTracer(tracer),
		apiclient.WithBackoffBase(cfg.BackoffBase),
		apiclient.WithCache(cfg.CacheTTL, cfg.CacheMaxEntries),
	)

	return protocol.Services{
		Users:     p.UserDirectory(),
		HTTP:      client,
		Messenger: messenger,
		Limiter:   limiter,
	}
}

// NewTracer exports spans over OTLP/HTTP when enabled and records nothing otherwise.
// The returned shutdown is never nil.
//
//nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, logger *slog.Logger, serviceName string, enabled bool, sampleRatio float64) (trace.Tracer, otelhelper.Shutdown) {
	noShutdown := func(context.Context) error { return nil }

	if !enabled {
		return otelhelper.NoopTracer(), noShutdown
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName, sampleRatio)
	if err != nil {
		logger.WarnContext(ctx, "Failed to initialize tracer, tracing disabled", "error", err)

		return otelhelper.NoopTracer(), noShutdown
	}

	return tracer, shutdown
}
