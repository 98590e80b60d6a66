package aggregator

import (
	"time"

	"github.com/rwilli/localweather/internal/types"
)

// Period boundaries are computed in a single reference time zone so a report
// regenerated across a daylight-saving transition covers the same wall-clock
// window.

// PeriodStart returns the start of the calendar period containing t.
func PeriodStart(kind types.PeriodKind, t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	switch kind {
	case types.PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	case types.PeriodWeek:
		// ISO week, starting Monday.
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		offset := (int(midnight.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -offset)
	case types.PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	case types.PeriodYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
}

// PeriodEnd returns the exclusive end of the period beginning at start.
func PeriodEnd(kind types.PeriodKind, start time.Time) time.Time {
	switch kind {
	case types.PeriodDay:
		return start.AddDate(0, 0, 1)
	case types.PeriodWeek:
		return start.AddDate(0, 0, 7)
	case types.PeriodMonth:
		return start.AddDate(0, 1, 0)
	case types.PeriodYear:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// BucketStart returns the start of the sub-period containing t: hours of a
// day, days of a week or month, months of a year. Samples never merge across
// these boundaries.
func BucketStart(kind types.PeriodKind, t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	switch kind {
	case types.PeriodDay:
		// Hourly buckets count elapsed hours from midnight rather than the
		// wall-clock hour, so the repeated hour of a DST fall-back day
		// lands in two distinct buckets.
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		return midnight.Add(t.Sub(midnight).Truncate(time.Hour))
	case types.PeriodWeek, types.PeriodMonth:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	case types.PeriodYear:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
}

// bucketEnd returns the exclusive end of the sub-period beginning at start.
func bucketEnd(kind types.PeriodKind, start time.Time) time.Time {
	switch kind {
	case types.PeriodDay:
		return start.Add(time.Hour)
	case types.PeriodWeek, types.PeriodMonth:
		return start.AddDate(0, 0, 1)
	case types.PeriodYear:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}
