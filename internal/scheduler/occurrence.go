package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/edvin/jobrunner/internal/model"
)

// NextOccurrence computes the next time a run is due, or false when the
// run will never fire again. Occurrence times derive from the previous
// computed occurrence, never from the wall clock, so delayed ticks do
// not drift the series.
func NextOccurrence(run *model.ScheduledRun, now time.Time) (time.Time, bool) {
	loc := location(run.TimeZone)

	switch run.Interval {
	case model.IntervalImmediate:
		// Due as soon as it exists; MarkFired disables it afterwards.
		if run.LastRunAt != nil {
			return time.Time{}, false
		}
		return run.CreatedAt, true

	case model.IntervalFuture:
		if run.LastRunAt != nil || run.StartTime == nil {
			return time.Time{}, false
		}
		return *run.StartTime, true

	case model.IntervalCustom:
		sched, err := cron.ParseStandard(run.Crontab)
		if err != nil {
			return time.Time{}, false
		}
		base := run.CreatedAt
		if run.StartTime != nil {
			base = *run.StartTime
		}
		if run.LastRunAt != nil {
			base = *run.LastRunAt
		}
		return sched.Next(base.In(loc)), true

	case model.IntervalHourly, model.IntervalDaily, model.IntervalWeekly:
		if run.StartTime == nil {
			return time.Time{}, false
		}
		if run.LastRunAt == nil {
			return *run.StartTime, true
		}
		return run.LastRunAt.Add(period(run.Interval)), true

	default:
		return time.Time{}, false
	}
}

func period(interval string) time.Duration {
	switch interval {
	case model.IntervalHourly:
		return time.Hour
	case model.IntervalDaily:
		return 24 * time.Hour
	case model.IntervalWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

func location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
