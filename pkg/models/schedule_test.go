package models_test

import (
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleSpecIsDue(t *testing.T) {
	// Friday 2025-11-14 09:00 UTC.
	nineSharp := time.Date(2025, 11, 14, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		spec models.ScheduleSpec
		now  time.Time
		due  bool
	}{
		{"every 5 minutes on slot", models.ScheduleSpec{Kind: models.ScheduleEvery5Minutes}, nineSharp.Add(5 * time.Minute), true},
		{"every 5 minutes off slot", models.ScheduleSpec{Kind: models.ScheduleEvery5Minutes}, nineSharp.Add(7 * time.Minute), false},
		{"hourly at minute", models.ScheduleSpec{Kind: models.ScheduleHourly, Minute: 30}, nineSharp.Add(30 * time.Minute), true},
		{"hourly off minute", models.ScheduleSpec{Kind: models.ScheduleHourly, Minute: 30}, nineSharp, false},
		{"daily at 09:00", models.ScheduleSpec{Kind: models.ScheduleDaily, Hour: 9}, nineSharp, true},
		{"daily wrong hour", models.ScheduleSpec{Kind: models.ScheduleDaily, Hour: 8}, nineSharp, false},
		{"weekly on friday", models.ScheduleSpec{Kind: models.ScheduleWeekly, Weekday: time.Friday, Hour: 9}, nineSharp, true},
		{"weekly wrong day", models.ScheduleSpec{Kind: models.ScheduleWeekly, Weekday: time.Monday, Hour: 9}, nineSharp, false},
		{"cron due minute", models.ScheduleSpec{Kind: models.ScheduleCron, Expression: "0 9 * * *"}, nineSharp, true},
		{"cron off minute", models.ScheduleSpec{Kind: models.ScheduleCron, Expression: "0 9 * * *"}, nineSharp.Add(time.Minute), false},
		{"cron mid-minute", models.ScheduleSpec{Kind: models.ScheduleCron, Expression: "0 9 * * *"}, nineSharp.Add(30 * time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.due, tt.spec.IsDue(tt.now))
		})
	}
}

func TestScheduleSpecBucket(t *testing.T) {
	now := time.Date(2025, 11, 14, 9, 17, 42, 0, time.UTC)

	assert.Equal(t, "2025-11-14-09-5m3", (&models.ScheduleSpec{Kind: models.ScheduleEvery5Minutes}).Bucket(now))
	assert.Equal(t, "2025-11-14-09", (&models.ScheduleSpec{Kind: models.ScheduleHourly}).Bucket(now))
	assert.Equal(t, "2025-11-14", (&models.ScheduleSpec{Kind: models.ScheduleDaily}).Bucket(now))
	assert.Equal(t, "2025-W46", (&models.ScheduleSpec{Kind: models.ScheduleWeekly}).Bucket(now))
	assert.Equal(t, "2025-11-14-09-17", (&models.ScheduleSpec{Kind: models.ScheduleCron, Expression: "* * * * *"}).Bucket(now))
}

func TestScheduleSpecBucketStableWithinSlice(t *testing.T) {
	spec := &models.ScheduleSpec{Kind: models.ScheduleDaily, Hour: 9}

	morning := time.Date(2025, 11, 14, 9, 0, 10, 0, time.UTC)
	evening := time.Date(2025, 11, 14, 21, 30, 0, 0, time.UTC)
	nextDay := time.Date(2025, 11, 15, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, spec.Bucket(morning), spec.Bucket(evening))
	assert.NotEqual(t, spec.Bucket(morning), spec.Bucket(nextDay))
}

func TestParseScheduleSpec(t *testing.T) {
	spec, err := models.ParseScheduleSpec(map[string]any{
		"schedule": "weekly",
		"weekday":  float64(5),
		"hour":     float64(9),
		"minute":   float64(30),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleWeekly, spec.Kind)
	assert.Equal(t, time.Friday, spec.Weekday)
	assert.Equal(t, 9, spec.Hour)
	assert.Equal(t, 30, spec.Minute)

	_, err = models.ParseScheduleSpec(map[string]any{})
	assert.ErrorIs(t, err, models.ErrInvalidSchedule)

	_, err = models.ParseScheduleSpec(map[string]any{"schedule": "fortnightly"})
	assert.ErrorIs(t, err, models.ErrInvalidSchedule)

	_, err = models.ParseScheduleSpec(map[string]any{"schedule": "cron", "expression": "not a cron"})
	assert.ErrorIs(t, err, models.ErrInvalidSchedule)

	_, err = models.ParseScheduleSpec(map[string]any{"schedule": "cron", "expression": "*/5 * * * *"})
	assert.NoError(t, err)
}

func TestUsagePeriod(t *testing.T) {
	assert.Equal(t, "2026-08", models.UsagePeriod(time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC)))
	assert.Equal(t, "2026-01", models.UsagePeriod(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}
