package main

import (
	"context"
	"os"

	"github.com/dukex/flowrun/pkg/admission"
	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/lock"
	"github.com/dukex/flowrun/pkg/log"
	"github.com/dukex/flowrun/pkg/models"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "flowrun-api",
		Usage:                 "Trigger and inspect workflow runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "redis-url",
				Usage:    "Redis connection URL for reservation locks",
				Required: true,
				Sources:  cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "job-queue",
				Usage:   "Job queue provider (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("JOB_QUEUE_PROVIDER"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing flowrun API")

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				closeErr := store.Close(ctx)
				if closeErr != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", closeErr)
				}
			}()

			redisClient, err := cmd.NewRedisClient(command.String("redis-url"))
			if err != nil {
				return err
			}

			defer func() {
				closeErr := redisClient.Close()
				if closeErr != nil {
					logger.ErrorContext(ctx, "Failed to close redis client", "error", closeErr)
				}
			}()

			jobQueue, err := cmd.NewJobQueue(command.String("job-queue"), "flowrun-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				closeErr := jobQueue.Close(ctx)
				if closeErr != nil {
					logger.ErrorContext(ctx, "Failed to close job queue", "error", closeErr)
				}
			}()

			admitter := admission.NewService(
				lock.NewUserReservation(redisClient, logger),
				store.WorkflowRepository(),
				store.RunRepository(),
				admission.StaticPlanResolver{Plan: models.DefaultPlan},
				jobQueue,
				logger,
			)

			api := NewAPI(logger, store, admitter)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
