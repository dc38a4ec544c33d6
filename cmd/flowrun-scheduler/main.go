package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowrun/pkg/admission"
	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/lock"
	"github.com/dukex/flowrun/pkg/log"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "flowrun-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Start the cron admission scheduler",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "redis-url",
				Usage:    "Redis connection URL for dedupe markers and reservation locks",
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
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("flowrun-scheduler")
	logger.InfoContext(ctx, "Initializing cron admission scheduler")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	jobQueue, err := cmd.NewJobQueue(command.String("job-queue"), "flowrun-scheduler", logger)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := jobQueue.Close(ctx)
		if closeErr != nil {
			logger.ErrorContext(ctx, "Failed to close job queue", "error", closeErr)
		}
	}()

	reservation := lock.NewUserReservation(redisClient, logger)
	admitter := admission.NewService(
		reservation,
		store.WorkflowRepository(),
		store.RunRepository(),
		admission.StaticPlanResolver{Plan: models.DefaultPlan},
		jobQueue,
		logger,
	)

	cronScheduler := scheduler.NewScheduler(
		store.WorkflowRepository(),
		store,
		redisClient,
		admitter,
		logger,
	)

	cronScheduler.Start(ctx)

	return nil
}
