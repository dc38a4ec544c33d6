package models

import (
	"fmt"
	"time"
)

// UsageRecord is a per-user-per-month run counter used for quota
// enforcement. It is incremented only inside the same transaction that
// creates a WorkflowRun, so the counter and the run creation are atomic
// together.
type UsageRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id" validate:"required"`
	Period    string    `json:"period"  validate:"required"` // "2026-08"
	RunCount  int       `json:"run_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsagePeriod formats the month bucket a point in time falls into.
func UsagePeriod(t time.Time) string {
	t = t.UTC()

	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}

// Plan carries the per-user execution limits enforced at run admission.
type Plan struct {
	Name              string `json:"name"`
	MaxConcurrentRuns int    `json:"max_concurrent_runs"`
	MonthlyRunQuota   int    `json:"monthly_run_quota"`
}

// DefaultPlan is applied when a user has no explicit plan assignment.
var DefaultPlan = Plan{
	Name:              "free",
	MaxConcurrentRuns: 2,
	MonthlyRunQuota:   100,
}
