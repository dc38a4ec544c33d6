// Package queue carries run jobs from the admission side to workers over
// watermill. The message UUID is the run ID, so brokers with
// deduplication get one more line of defense against double scheduling.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowrun/pkg/protocol"
)

// Topic is the single run-job topic.
const Topic = "flowrun.run-jobs"

// WatermillJobQueue implements protocol.JobQueue over any watermill
// publisher/subscriber pair (kafka in production, gochannel in tests).
type WatermillJobQueue struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
}

// NewWatermillJobQueue creates a job queue over the given channel.
func NewWatermillJobQueue(publisher message.Publisher, subscriber message.Subscriber, logger *slog.Logger) *WatermillJobQueue {
	return &WatermillJobQueue{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger.With("module", "job_queue"),
	}
}

// Enqueue publishes the job with the run ID as message UUID.
func (q *WatermillJobQueue) Enqueue(_ context.Context, job protocol.RunJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal run job: %w", err)
	}

	msg := message.NewMessage(job.RunID, payload)

	err = q.publisher.Publish(Topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish run job %s: %w", job.RunID, err)
	}

	return nil
}

// Subscribe consumes jobs until the context is cancelled. Handler errors
// nack the message so the broker redelivers it; the driver's resume
// rules make redelivery safe.
func (q *WatermillJobQueue) Subscribe(ctx context.Context, handler protocol.RunJobHandler) error {
	messages, err := q.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Topic, err)
	}

	go func() {
		for msg := range messages {
			var job protocol.RunJob

			err := json.Unmarshal(msg.Payload, &job)
			if err != nil {
				q.logger.ErrorContext(ctx, "Discarding malformed run job", "message_uuid", msg.UUID, "error", err)
				msg.Ack()

				continue
			}

			err = handler(ctx, job)
			if err != nil {
				q.logger.ErrorContext(ctx, "Run job failed, requesting redelivery",
					"run_id", job.RunID, "error", err)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (q *WatermillJobQueue) Close(_ context.Context) error {
	err := q.publisher.Close()
	if err != nil {
		return err
	}

	return q.subscriber.Close()
}
