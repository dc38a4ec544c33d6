package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowrun/pkg/queue"
)

// NewJobQueue builds the run-job queue for the given provider. Kafka is
// the production transport; gochannel serves local single-process runs.
func NewJobQueue(provider, serviceName string, logger *slog.Logger) (*queue.WatermillJobQueue, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := queue.NewKafkaChannel(wmLogger, serviceName, kafkaBrokersFromEnv())
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka channel: %w", err)
		}

		return queue.NewWatermillJobQueue(pub, sub, logger), nil
	case "gochannel":
		pub, sub := queue.NewGoChannel(wmLogger)

		return queue.NewWatermillJobQueue(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported job queue provider: %s", provider)
	}
}

func kafkaBrokersFromEnv() string {
	return os.Getenv("KAFKA_BROKERS")
}
