// Package main provides the chatflow sweeper, which periodically removes expired
// session variables.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/chatflow/pkg/cmd"
	"github.com/dukex/chatflow/pkg/config"
	"github.com/dukex/chatflow/pkg/log"
	"github.com/dukex/chatflow/pkg/sweeper"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "chatflow-sweeper",
		Usage:                 "Remove expired variables on a schedule",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression overriding the configured schedule",
				Sources: cli.EnvVars("SWEEPER_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Sweep once and exit",
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML engine configuration file",
				Sources: cli.EnvVars("CHATFLOW_CONFIG"),
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

			logger := log.WithModule("chatflow-sweeper")

			cfg, err := config.Load(command.String("config"))
			if err != nil {
				return err
			}

			if schedule := command.String("schedule"); schedule != "" {
				cfg.Sweeper.Schedule = schedule
			}

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

			s, err := sweeper.New(persistence, cfg.Sweeper, logger)
			if err != nil {
				return err
			}

			if command.Bool("once") {
				removed, err := s.Sweep(ctx)
				logger.InfoContext(ctx, "Sweep finished", "removed", removed)

				return err
			}

			err = s.Start(ctx)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Sweeper started", "schedule", cfg.Sweeper.Schedule, "next_run", s.NextRun())

			<-ctx.Done()
			logger.InfoContext(ctx, "Shutting down sweeper...")

			return s.Stop(context.Background())
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
