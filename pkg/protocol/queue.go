package protocol

import "context"

// RunJob is the payload enqueued for workers. Redelivery of the same
// job resumes the run from its persisted node-runs, so the payload never
// changes across attempts.
type RunJob struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
}

// RunJobHandler processes one dequeued job. Returning an error nacks the
// message so the broker redelivers it.
type RunJobHandler func(ctx context.Context, job RunJob) error

// JobQueue is the contract between the admission side (scheduler, API)
// and the workers. Enqueue must be idempotent per job: publishing the
// same run twice must not execute it twice.
type JobQueue interface {
	// Enqueue publishes a job using the run ID as the idempotency key.
	Enqueue(ctx context.Context, job RunJob) error

	// Subscribe registers the handler and starts consuming jobs until
	// the context is cancelled.
	Subscribe(ctx context.Context, handler RunJobHandler) error

	Close(ctx context.Context) error
}
