package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/admission"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDedupe emulates redis SETNX over a shared map so two scheduler
// instances can contend for the same markers.
type fakeDedupe struct {
	mu     sync.Mutex
	values map[string]bool
	calls  int
	down   bool
}

func newFakeDedupe() *fakeDedupe {
	return &fakeDedupe{values: make(map[string]bool)}
}

func (f *fakeDedupe) SetNX(ctx context.Context, key string, _ interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.down {
		cmd := redis.NewBoolCmd(ctx)
		cmd.SetErr(errors.New("connection refused"))

		return cmd
	}

	if f.values[key] {
		return redis.NewBoolResult(false, nil)
	}

	f.values[key] = true

	return redis.NewBoolResult(true, nil)
}

type fakeAdmitter struct {
	mu       sync.Mutex
	requests []admission.Request
	errs     map[string]error
}

func (f *fakeAdmitter) ReserveAndEnqueue(_ context.Context, req admission.Request) (*models.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errs[req.WorkflowID]; err != nil {
		return nil, err
	}

	f.requests = append(f.requests, req)

	return &models.WorkflowRun{ID: "run-" + req.WorkflowID, WorkflowID: req.WorkflowID}, nil
}

func (f *fakeAdmitter) admitted() []admission.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]admission.Request(nil), f.requests...)
}

type fakeWorkflows struct {
	workflows []*models.Workflow
	listed    int
}

func (f *fakeWorkflows) GetByID(_ context.Context, _ string) (*models.Workflow, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeWorkflows) PublishedWorkflows(_ context.Context) ([]*models.Workflow, error) {
	f.listed++

	return f.workflows, nil
}

func (f *fakeWorkflows) Save(_ context.Context, _ *models.Workflow) error { return nil }
func (f *fakeWorkflows) Delete(_ context.Context, _ string) error         { return nil }

type fakeStore struct {
	failures int
	probes   int
}

func (f *fakeStore) HealthCheck(_ context.Context) error {
	f.probes++

	if f.probes <= f.failures {
		return errors.New("store unavailable")
	}

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func cronWorkflow(id, owner string, config map[string]any) *models.Workflow {
	return &models.Workflow{
		ID:     id,
		Name:   "cron workflow",
		Owner:  owner,
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.WorkflowNode{
			{ID: "cron-1", Type: models.NodeTypeTriggerCron, Name: "cron", Enabled: true, Config: config},
		},
	}
}

func dailyAtNine() map[string]any {
	return map[string]any{"schedule": "daily", "hour": float64(9), "minute": float64(0)}
}

func newTestScheduler(workflows *fakeWorkflows, store *fakeStore, dedupe *fakeDedupe, admitter *fakeAdmitter) *Scheduler {
	scheduler := NewScheduler(workflows, store, dedupe, admitter, testLogger())
	scheduler.sleep = func(time.Duration) {}

	return scheduler
}

func TestTickAdmitsDueCronNode(t *testing.T) {
	t.Parallel()

	workflows := &fakeWorkflows{workflows: []*models.Workflow{cronWorkflow("wf-1", "user-1", dailyAtNine())}}
	admitter := &fakeAdmitter{}
	scheduler := newTestScheduler(workflows, &fakeStore{}, newFakeDedupe(), admitter)
	scheduler.now = func() time.Time { return time.Date(2025, 11, 14, 9, 0, 30, 0, time.UTC) }

	scheduler.Tick(context.Background())

	requests := admitter.admitted()
	require.Len(t, requests, 1)
	assert.Equal(t, "wf-1", requests[0].WorkflowID)
	assert.Equal(t, "user-1", requests[0].UserID)
	assert.Equal(t, "cron", requests[0].TriggerType)
	assert.Equal(t, "2025-11-14", requests[0].TriggerData["bucket"])
	assert.Equal(t, "cron-1", requests[0].TriggerData["node_id"])
}

func TestTickSkipsNodeNotDue(t *testing.T) {
	t.Parallel()

	workflows := &fakeWorkflows{workflows: []*models.Workflow{cronWorkflow("wf-1", "user-1", dailyAtNine())}}
	admitter := &fakeAdmitter{}
	dedupe := newFakeDedupe()
	scheduler := newTestScheduler(workflows, &fakeStore{}, dedupe, admitter)
	scheduler.now = func() time.Time { return time.Date(2025, 11, 14, 9, 1, 0, 0, time.UTC) }

	scheduler.Tick(context.Background())

	assert.Empty(t, admitter.admitted())
	assert.Zero(t, dedupe.calls)
}

func TestTwoReplicasSameBucketAdmitOnce(t *testing.T) {
	t.Parallel()

	// Both replicas share the dedupe store and reach the due-check inside
	// the 2025-11-14 daily bucket; exactly one run is admitted.
	dedupe := newFakeDedupe()
	admitter := &fakeAdmitter{}
	now := func() time.Time { return time.Date(2025, 11, 14, 9, 0, 10, 0, time.UTC) }

	for range 2 {
		workflows := &fakeWorkflows{workflows: []*models.Workflow{cronWorkflow("wf-1", "user-1", dailyAtNine())}}
		replica := newTestScheduler(workflows, &fakeStore{}, dedupe, admitter)
		replica.now = now

		replica.Tick(context.Background())
	}

	assert.Len(t, admitter.admitted(), 1)
}

func TestInProcessCacheSkipsRedisWithinBucket(t *testing.T) {
	t.Parallel()

	workflows := &fakeWorkflows{workflows: []*models.Workflow{cronWorkflow("wf-1", "user-1", dailyAtNine())}}
	admitter := &fakeAdmitter{}
	dedupe := newFakeDedupe()
	scheduler := newTestScheduler(workflows, &fakeStore{}, dedupe, admitter)
	scheduler.now = func() time.Time { return time.Date(2025, 11, 14, 9, 0, 0, 0, time.UTC) }

	scheduler.Tick(context.Background())
	scheduler.Tick(context.Background())

	assert.Len(t, admitter.admitted(), 1)
	assert.Equal(t, 1, dedupe.calls)
}

func TestUnhealthyStoreSkipsTick(t *testing.T) {
	t.Parallel()

	workflows := &fakeWorkflows{workflows: []*models.Workflow{cronWorkflow("wf-1", "user-1", dailyAtNine())}}
	admitter := &fakeAdmitter{}
	store := &fakeStore{failures: 10}
	scheduler := newTestScheduler(workflows, store, newFakeDedupe(), admitter)
	scheduler.now = func() time.Time { return time.Date(2025, 11, 14, 9, 0, 0, 0, time.UTC) }

	scheduler.Tick(context.Background())

	assert.Empty(t, admitter.admitted())
	assert.Zero(t, workflows.listed)
	assert.Equal(t, healthProbeAttempts, store.probes)
}

func TestHealthProbeRetriesThenTicks(t *testing.T) {
	t.Parallel()

	workflows := &fakeWorkflows{workflows: []*models.Workflow{cronWorkflow("wf-1", "user-1", dailyAtNine())}}
	admitter := &fakeAdmitter{}
	store := &fakeStore{failures: 2}
	scheduler := newTestScheduler(workflows, store, newFakeDedupe(), admitter)
	scheduler.now = func() time.Time { return time.Date(2025, 11, 14, 9, 0, 0, 0, time.UTC) }

	scheduler.Tick(context.Background())

	assert.Len(t, admitter.admitted(), 1)
	assert.Equal(t, 3, store.probes)
}

func TestRedisOutageBypassesDedupe(t *testing.T) {
	t.Parallel()

	workflows := &fakeWorkflows{workflows: []*models.Workflow{cronWorkflow("wf-1", "user-1", dailyAtNine())}}
	admitter := &fakeAdmitter{}
	dedupe := newFakeDedupe()
	dedupe.down = true

	scheduler := newTestScheduler(workflows, &fakeStore{}, dedupe, admitter)
	scheduler.now = func() time.Time { return time.Date(2025, 11, 14, 9, 0, 0, 0, time.UTC) }

	scheduler.Tick(context.Background())

	assert.Len(t, admitter.admitted(), 1)
}

func TestWorkflowFailureDoesNotAbortTick(t *testing.T) {
	t.Parallel()

	workflows := &fakeWorkflows{workflows: []*models.Workflow{
		cronWorkflow("wf-broken", "user-1", dailyAtNine()),
		cronWorkflow("wf-ok", "user-2", dailyAtNine()),
	}}
	admitter := &fakeAdmitter{errs: map[string]error{"wf-broken": errors.New("enqueue failed")}}
	scheduler := newTestScheduler(workflows, &fakeStore{}, newFakeDedupe(), admitter)
	scheduler.now = func() time.Time { return time.Date(2025, 11, 14, 9, 0, 0, 0, time.UTC) }

	scheduler.Tick(context.Background())

	requests := admitter.admitted()
	require.Len(t, requests, 1)
	assert.Equal(t, "wf-ok", requests[0].WorkflowID)
}

func TestQuotaRejectionContinuesWithinWorkflow(t *testing.T) {
	t.Parallel()

	rejected := persistence.NewRunError("ReserveRun", "", persistence.ErrMonthlyLimit)
	workflows := &fakeWorkflows{workflows: []*models.Workflow{
		cronWorkflow("wf-capped", "user-1", dailyAtNine()),
		cronWorkflow("wf-ok", "user-2", dailyAtNine()),
	}}
	admitter := &fakeAdmitter{errs: map[string]error{"wf-capped": rejected}}
	scheduler := newTestScheduler(workflows, &fakeStore{}, newFakeDedupe(), admitter)
	scheduler.now = func() time.Time { return time.Date(2025, 11, 14, 9, 0, 0, 0, time.UTC) }

	scheduler.Tick(context.Background())

	requests := admitter.admitted()
	require.Len(t, requests, 1)
	assert.Equal(t, "wf-ok", requests[0].WorkflowID)
}

func TestInvalidScheduleIsSkipped(t *testing.T) {
	t.Parallel()

	workflows := &fakeWorkflows{workflows: []*models.Workflow{
		cronWorkflow("wf-1", "user-1", map[string]any{"schedule": "sometimes"}),
	}}
	admitter := &fakeAdmitter{}
	scheduler := newTestScheduler(workflows, &fakeStore{}, newFakeDedupe(), admitter)
	scheduler.now = func() time.Time { return time.Date(2025, 11, 14, 9, 0, 0, 0, time.UTC) }

	scheduler.Tick(context.Background())

	assert.Empty(t, admitter.admitted())
}

func TestBucketCacheEvictsOldestEntries(t *testing.T) {
	t.Parallel()

	scheduler := newTestScheduler(&fakeWorkflows{}, &fakeStore{}, newFakeDedupe(), &fakeAdmitter{})
	scheduler.cacheLimit = 2

	scheduler.remember("wf-1/n", "b1")
	scheduler.remember("wf-2/n", "b1")
	scheduler.remember("wf-3/n", "b1")

	assert.Len(t, scheduler.lastBuckets, 2)
	assert.NotContains(t, scheduler.lastBuckets, "wf-1/n")
	assert.Contains(t, scheduler.lastBuckets, "wf-3/n")
}
