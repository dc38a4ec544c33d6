package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind selects the due-predicate for a cron trigger node.
type ScheduleKind string

const (
	ScheduleEvery5Minutes ScheduleKind = "every_5_minutes"
	ScheduleHourly        ScheduleKind = "hourly"
	ScheduleDaily         ScheduleKind = "daily"
	ScheduleWeekly        ScheduleKind = "weekly"
	ScheduleCron          ScheduleKind = "cron" // Raw 5-field cron expression
)

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// ScheduleSpec describes when a cron trigger node is due. The admission
// scheduler evaluates IsDue once per minute; Bucket identifies the
// time-slice used for cross-replica deduplication.
type ScheduleSpec struct {
	Kind ScheduleKind `json:"kind"              validate:"required"`

	// Minute/Hour/Weekday parameterize the hourly, daily and weekly kinds.
	// Weekly fires at Hour:Minute on Weekday (0 = Sunday).
	Minute  int          `json:"minute,omitempty"`
	Hour    int          `json:"hour,omitempty"`
	Weekday time.Weekday `json:"weekday,omitempty"`

	// Expression is the raw cron expression for the cron kind.
	Expression string `json:"expression,omitempty"`
}

// ParseScheduleSpec reads a schedule from a cron trigger node's config.
func ParseScheduleSpec(config map[string]any) (*ScheduleSpec, error) {
	kind, _ := config["schedule"].(string)
	if kind == "" {
		return nil, fmt.Errorf("%w: missing schedule kind", ErrInvalidSchedule)
	}

	spec := &ScheduleSpec{Kind: ScheduleKind(kind)}

	if minute, ok := config["minute"].(float64); ok {
		spec.Minute = int(minute)
	}

	if hour, ok := config["hour"].(float64); ok {
		spec.Hour = int(hour)
	}

	if weekday, ok := config["weekday"].(float64); ok {
		spec.Weekday = time.Weekday(int(weekday))
	}

	if expr, ok := config["expression"].(string); ok {
		spec.Expression = expr
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return spec, nil
}

// Validate checks kind, field ranges and cron expression syntax.
func (s *ScheduleSpec) Validate() error {
	if s.Minute < 0 || s.Minute > 59 || s.Hour < 0 || s.Hour > 23 {
		return ErrInvalidSchedule
	}

	switch s.Kind {
	case ScheduleEvery5Minutes, ScheduleHourly, ScheduleDaily, ScheduleWeekly:
		return nil
	case ScheduleCron:
		if s.Expression == "" {
			return ErrInvalidSchedule
		}

		_, err := cronParser().Parse(s.Expression)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
		}

		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
}

// IsDue reports whether the spec fires in the wall-clock minute containing
// now. The scheduler ticks once per minute, so a minute-granular predicate
// is exact.
func (s *ScheduleSpec) IsDue(now time.Time) bool {
	now = now.UTC()

	switch s.Kind {
	case ScheduleEvery5Minutes:
		return now.Minute()%5 == 0
	case ScheduleHourly:
		return now.Minute() == s.Minute
	case ScheduleDaily:
		return now.Hour() == s.Hour && now.Minute() == s.Minute
	case ScheduleWeekly:
		return now.Weekday() == s.Weekday && now.Hour() == s.Hour && now.Minute() == s.Minute
	case ScheduleCron:
		schedule, err := cronParser().Parse(s.Expression)
		if err != nil {
			return false
		}

		// Due iff the expression's next firing after the previous minute
		// lands inside the current minute.
		minute := now.Truncate(time.Minute)

		next := schedule.Next(minute.Add(-time.Minute))

		return !next.Before(minute) && next.Before(minute.Add(time.Minute))
	default:
		return false
	}
}

// Bucket returns the dedupe time-slice identifier for now. Two scheduler
// replicas evaluating the same spec within one slice produce the same
// bucket and therefore at most one admission.
func (s *ScheduleSpec) Bucket(now time.Time) string {
	now = now.UTC()

	switch s.Kind {
	case ScheduleEvery5Minutes:
		return fmt.Sprintf("%s-%02d-5m%d", now.Format("2006-01-02"), now.Hour(), now.Minute()/5)
	case ScheduleHourly:
		return fmt.Sprintf("%s-%02d", now.Format("2006-01-02"), now.Hour())
	case ScheduleDaily:
		return now.Format("2006-01-02")
	case ScheduleWeekly:
		year, week := now.ISOWeek()

		return fmt.Sprintf("%04d-W%02d", year, week)
	default:
		// Raw cron expressions may fire up to once a minute.
		return now.Format("2006-01-02-15-04")
	}
}

func cronParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}
