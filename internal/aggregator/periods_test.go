package aggregator

import (
	"testing"
	"time"

	"github.com/rwilli/localweather/internal/types"
)

func mustLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Zurich")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	return loc
}

func TestPeriodStart(t *testing.T) {
	loc := mustLocation(t)
	// A Thursday afternoon.
	now := time.Date(2026, 3, 12, 15, 42, 17, 0, loc)

	tests := []struct {
		kind types.PeriodKind
		want time.Time
	}{
		{types.PeriodDay, time.Date(2026, 3, 12, 0, 0, 0, 0, loc)},
		{types.PeriodWeek, time.Date(2026, 3, 9, 0, 0, 0, 0, loc)},
		{types.PeriodMonth, time.Date(2026, 3, 1, 0, 0, 0, 0, loc)},
		{types.PeriodYear, time.Date(2026, 1, 1, 0, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := PeriodStart(tt.kind, now, loc)
			if !got.Equal(tt.want) {
				t.Errorf("start = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPeriodStartWeekOnMonday(t *testing.T) {
	loc := mustLocation(t)
	// A Monday just after midnight must start its own week, and the Sunday
	// before it must still belong to the previous week.
	monday := time.Date(2026, 3, 9, 0, 0, 1, 0, loc)
	if got := PeriodStart(types.PeriodWeek, monday, loc); !got.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, loc)) {
		t.Errorf("monday week start = %v", got)
	}
	sunday := time.Date(2026, 3, 8, 23, 59, 0, 0, loc)
	if got := PeriodStart(types.PeriodWeek, sunday, loc); !got.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, loc)) {
		t.Errorf("sunday week start = %v", got)
	}
}

func TestPeriodEnd(t *testing.T) {
	loc := mustLocation(t)

	tests := []struct {
		kind  types.PeriodKind
		start time.Time
		want  time.Time
	}{
		{types.PeriodDay, time.Date(2026, 3, 12, 0, 0, 0, 0, loc), time.Date(2026, 3, 13, 0, 0, 0, 0, loc)},
		{types.PeriodWeek, time.Date(2026, 3, 9, 0, 0, 0, 0, loc), time.Date(2026, 3, 16, 0, 0, 0, 0, loc)},
		{types.PeriodMonth, time.Date(2026, 2, 1, 0, 0, 0, 0, loc), time.Date(2026, 3, 1, 0, 0, 0, 0, loc)},
		{types.PeriodYear, time.Date(2026, 1, 1, 0, 0, 0, 0, loc), time.Date(2027, 1, 1, 0, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := PeriodEnd(tt.kind, tt.start)
			if !got.Equal(tt.want) {
				t.Errorf("end = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBucketStart(t *testing.T) {
	loc := mustLocation(t)
	ts := time.Date(2026, 3, 12, 15, 42, 17, 0, loc)

	tests := []struct {
		kind types.PeriodKind
		want time.Time
	}{
		{types.PeriodDay, time.Date(2026, 3, 12, 15, 0, 0, 0, loc)},
		{types.PeriodWeek, time.Date(2026, 3, 12, 0, 0, 0, 0, loc)},
		{types.PeriodMonth, time.Date(2026, 3, 12, 0, 0, 0, 0, loc)},
		{types.PeriodYear, time.Date(2026, 3, 1, 0, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := BucketStart(tt.kind, ts, loc)
			if !got.Equal(tt.want) {
				t.Errorf("bucket start = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBucketStartFallBackKeepsHoursApart(t *testing.T) {
	loc := mustLocation(t)

	// Clocks fall back 03:00 CEST to 02:00 CET on 2026-10-25, so the 02:00
	// wall hour occurs twice. The two instants must land in distinct
	// hourly buckets.
	first := time.Date(2026, 10, 25, 0, 30, 0, 0, time.UTC)  // 02:30 CEST
	second := time.Date(2026, 10, 25, 1, 30, 0, 0, time.UTC) // 02:30 CET

	b1 := BucketStart(types.PeriodDay, first, loc)
	b2 := BucketStart(types.PeriodDay, second, loc)
	if b1.Equal(b2) {
		t.Fatalf("repeated wall hour merged into one bucket: %v", b1)
	}
	if got := b2.Sub(b1); got != time.Hour {
		t.Errorf("bucket gap = %v, want 1h", got)
	}
}

func TestBucketsTileThePeriod(t *testing.T) {
	loc := mustLocation(t)
	now := time.Date(2026, 3, 12, 10, 0, 0, 0, loc)

	for _, kind := range types.PeriodKinds() {
		start := PeriodStart(kind, now, loc)
		end := PeriodEnd(kind, start)
		steps := 0
		for bs := start; bs.Before(end); bs = bucketEnd(kind, bs) {
			steps++
			if steps > 400 {
				t.Fatalf("kind %s: bucket walk did not terminate", kind)
			}
		}
		if steps == 0 {
			t.Errorf("kind %s: no buckets between %v and %v", kind, start, end)
		}
	}
}
