// Package cmd provides common initialization helpers for the binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/persistence/postgresql"
	"github.com/redis/go-redis/v9"
)

// NewPersistence connects the durable store and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize persistence: %w", err)
	}

	return store, nil
}

// NewRedisClient builds the coordination-store client from a redis URL.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return redis.NewClient(opts), nil
}
