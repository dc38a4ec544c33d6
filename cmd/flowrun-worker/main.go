package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/execution"
	"github.com/dukex/flowrun/pkg/livestatus"
	"github.com/dukex/flowrun/pkg/lock"
	"github.com/dukex/flowrun/pkg/log"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/dukex/flowrun/pkg/runner"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "flowrun-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker that executes workflow runs",
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
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "redis-url",
				Usage:    "Redis connection URL for locks and live status",
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

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("flowrun-worker").With("worker_id", workerID)
	logger.InfoContext(ctx, "Initializing worker")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err := otelhelper.NewTracer(ctx, "flowrun-worker")
	if err != nil {
		logger.WarnContext(ctx, "Tracing disabled, failed to initialize tracer", "error", err)
	}

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

	jobQueue, err := cmd.NewJobQueue(command.String("job-queue"), "flowrun-worker", logger)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := jobQueue.Close(ctx)
		if closeErr != nil {
			logger.ErrorContext(ctx, "Failed to close job queue", "error", closeErr)
		}
	}()

	broadcaster := livestatus.NewBroadcaster(redisClient, logger)
	registry := cmd.NewRegistry(logger)
	driver := execution.NewDriver(store.NodeRunRepository(), registry, broadcaster, nil, logger)

	runLock := lock.NewFailoverRunLock(
		lock.NewRedisRunLock(redisClient, logger),
		lock.NewDurableRunLock(store.RunRepository()),
		logger,
	)

	jobRunner := runner.NewRunner(
		store.WorkflowRepository(),
		store.RunRepository(),
		store.NodeRunRepository(),
		driver,
		runLock,
		broadcaster,
		workerID,
		logger,
	)

	err = jobQueue.Subscribe(ctx, jobRunner.ExecuteRun)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Worker started, waiting for run jobs")

	<-ctx.Done()
	logger.Info("Worker shutting down")

	return nil
}
