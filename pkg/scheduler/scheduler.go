// Package scheduler runs the cron admission loop: once per minute it
// scans published workflows for due cron trigger nodes, deduplicates the
// tick across replicas with bucket-keyed idempotency markers and admits
// one run per due node through the admission service.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/admission"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTickInterval = time.Minute

	// dedupeTTL keeps the cross-process marker alive well past the widest
	// bucket (weekly) so late replicas still see it. The marker is an
	// idempotency fence only; it is never read back for data.
	dedupeTTL = 8 * 24 * time.Hour

	healthProbeAttempts = 3
	healthProbeDelay    = 2 * time.Second

	// bucketCacheLimit bounds the in-process last-bucket cache. Entries
	// are evicted oldest-first so a long-lived scheduler process does not
	// grow without bound.
	bucketCacheLimit = 10000
)

// dedupeClient is the slice of the redis API the scheduler needs for its
// cross-process idempotency markers.
type dedupeClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Admitter reserves a quota-checked run and enqueues its job.
type Admitter interface {
	ReserveAndEnqueue(ctx context.Context, req admission.Request) (*models.WorkflowRun, error)
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Scheduler drives the periodic admission tick.
type Scheduler struct {
	workflows persistence.WorkflowRepository
	store     healthChecker
	redis     dedupeClient
	admitter  Admitter
	logger    *slog.Logger

	interval time.Duration
	now      func() time.Time
	sleep    func(time.Duration)

	// lastBuckets caches the last scheduled bucket per workflow/node so a
	// healthy process skips the redis round-trip for buckets it already
	// claimed. lastOrder tracks insertion order for eviction.
	lastBuckets map[string]string
	lastOrder   []string
	cacheLimit  int
}

// NewScheduler creates the cron admission scheduler. store gates each
// tick with a health probe; redisClient carries the cross-replica dedupe
// markers.
func NewScheduler(
	workflows persistence.WorkflowRepository,
	store healthChecker,
	redisClient dedupeClient,
	admitter Admitter,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		workflows:   workflows,
		store:       store,
		redis:       redisClient,
		admitter:    admitter,
		logger:      logger.With("module", "scheduler"),
		interval:    defaultTickInterval,
		now:         time.Now,
		sleep:       time.Sleep,
		lastBuckets: make(map[string]string),
		cacheLimit:  bucketCacheLimit,
	}
}

// Start ticks until the context is cancelled. The first tick fires after
// one full interval so replicas starting mid-minute do not double-fire.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.InfoContext(ctx, "Starting cron admission scheduler", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Stopping cron admission scheduler")

			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates one scheduling pass at the current wall-clock minute.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.storeHealthy(ctx) {
		s.logger.WarnContext(ctx, "Durable store unhealthy, skipping scheduler tick")

		return
	}

	workflows, err := s.workflows.PublishedWorkflows(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list published workflows", "error", err)

		return
	}

	now := s.now()

	for _, workflow := range workflows {
		// One broken workflow must not starve the rest of the tick.
		err := s.scheduleWorkflow(ctx, workflow, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to schedule workflow",
				"workflow_id", workflow.ID, "error", err)
		}
	}
}

// storeHealthy probes the durable store with a few short retries. Ticking
// against a struggling store would only pile reservation transactions onto
// it; skipping the tick is the safer failure mode.
func (s *Scheduler) storeHealthy(ctx context.Context) bool {
	var err error

	for attempt := range healthProbeAttempts {
		err = s.store.HealthCheck(ctx)
		if err == nil {
			return true
		}

		if attempt < healthProbeAttempts-1 {
			s.sleep(healthProbeDelay)
		}
	}

	s.logger.WarnContext(ctx, "Durable store health probe failed", "error", err)

	return false
}

func (s *Scheduler) scheduleWorkflow(ctx context.Context, workflow *models.Workflow, now time.Time) error {
	for _, node := range workflow.CronTriggerNodes() {
		spec, err := models.ParseScheduleSpec(node.Config)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping cron node with invalid schedule",
				"workflow_id", workflow.ID, "node_id", node.ID, "error", err)

			continue
		}

		if !spec.IsDue(now) {
			continue
		}

		bucket := spec.Bucket(now)

		cacheKey := workflow.ID + "/" + node.ID
		if s.lastBuckets[cacheKey] == bucket {
			continue
		}

		if !s.claimBucket(ctx, workflow.ID, node.ID, bucket) {
			s.remember(cacheKey, bucket)

			continue
		}

		s.remember(cacheKey, bucket)

		run, err := s.admitter.ReserveAndEnqueue(ctx, admission.Request{
			WorkflowID:  workflow.ID,
			UserID:      workflow.Owner,
			TriggerType: "cron",
			TriggerData: map[string]any{
				"node_id": node.ID,
				"bucket":  bucket,
			},
		})
		if err != nil {
			if persistence.IsQuotaError(err) {
				s.logger.InfoContext(ctx, "Cron run rejected by quota",
					"workflow_id", workflow.ID, "node_id", node.ID, "error", err)

				continue
			}

			return fmt.Errorf("failed to admit cron run for node %s: %w", node.ID, err)
		}

		s.logger.InfoContext(ctx, "Cron run admitted",
			"workflow_id", workflow.ID, "node_id", node.ID,
			"run_id", run.ID, "bucket", bucket)
	}

	return nil
}

// claimBucket takes the cross-replica idempotency marker. A redis outage
// degrades to "may double schedule": the reservation lock and run-id
// keyed enqueue downstream still keep duplicates from executing twice.
func (s *Scheduler) claimBucket(ctx context.Context, workflowID, nodeID, bucket string) bool {
	key := fmt.Sprintf("schedule:%s:%s:%s", workflowID, nodeID, bucket)

	acquired, err := s.redis.SetNX(ctx, key, 1, dedupeTTL).Result()
	if err != nil {
		s.logger.WarnContext(ctx, "Dedupe store unavailable, scheduling without cross-replica dedupe",
			"key", key, "error", err)

		return true
	}

	return acquired
}

func (s *Scheduler) remember(cacheKey, bucket string) {
	if _, known := s.lastBuckets[cacheKey]; !known {
		s.lastOrder = append(s.lastOrder, cacheKey)
	}

	s.lastBuckets[cacheKey] = bucket

	for len(s.lastOrder) > s.cacheLimit {
		evicted := s.lastOrder[0]
		s.lastOrder = s.lastOrder[1:]
		delete(s.lastBuckets, evicted)
	}
}
