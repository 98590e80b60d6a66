// Package aggregator recomputes the per-period report artifacts from the
// sample store. Aggregates are always rebuilt wholesale from the
// authoritative samples, so a rerun for the same period is idempotent and
// late-arriving samples are picked up on the next run.
package aggregator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rwilli/localweather/internal/gateway"
	"github.com/rwilli/localweather/internal/metrics"
	"github.com/rwilli/localweather/internal/types"
	"github.com/rwilli/localweather/pkg/config"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimezone         = "Europe/Zurich"
	defaultInterval         = 168 * time.Hour
	defaultMinRegenInterval = time.Minute
)

// SampleSource is the read-only store surface the aggregator scans.
type SampleSource interface {
	SamplesInRange(ctx context.Context, channels []string, start, end time.Time) ([]types.Sample, error)
}

// PeriodResult reports the outcome for one period kind. Failures are
// reported individually and do not abort sibling periods.
type PeriodResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// RunResult is the outcome of one aggregation run across all period kinds.
type RunResult struct {
	Throttled bool                              `json:"throttled"`
	Periods   map[types.PeriodKind]PeriodResult `json:"periods"`
}

// ok reports whether every period succeeded.
func (r *RunResult) ok() bool {
	for _, pr := range r.Periods {
		if !pr.OK {
			return false
		}
	}
	return true
}

// Aggregator computes period aggregates and writes report artifacts. Runs
// are exclusive: concurrent triggers join the in-flight run instead of
// starting a second one.
type Aggregator struct {
	store  SampleSource
	cfg    config.AggregatorData
	loc    *time.Location
	logger *zap.SugaredLogger

	group singleflight.Group
	now   func() time.Time

	mu         sync.Mutex
	lastRun    time.Time
	lastResult *RunResult
}

// New creates an aggregator writing artifacts under cfg.ReportsDir.
func New(store SampleSource, cfg config.AggregatorData, logger *zap.SugaredLogger) (*Aggregator, error) {
	if cfg.ReportsDir == "" {
		return nil, fmt.Errorf("aggregator requires reports_dir")
	}
	if cfg.Timezone == "" {
		cfg.Timezone = defaultTimezone
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MinRegenInterval == 0 {
		cfg.MinRegenInterval = defaultMinRegenInterval
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid aggregator timezone %q: %w", cfg.Timezone, err)
	}

	return &Aggregator{
		store:  store,
		cfg:    cfg,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Run executes (or joins) a full aggregation run over all period kinds. A
// request arriving within the minimum regeneration interval of the previous
// run returns that run's result flagged as throttled.
func (a *Aggregator) Run(ctx context.Context) *RunResult {
	a.mu.Lock()
	if a.lastResult != nil && a.now().Sub(a.lastRun) < a.cfg.MinRegenInterval {
		res := *a.lastResult
		res.Throttled = true
		a.mu.Unlock()
		return &res
	}
	a.mu.Unlock()

	// Concurrent triggers coalesce into the in-flight run; a scheduled run
	// is never preempted by a manual one, only joined.
	v, _, _ := a.group.Do("run", func() (interface{}, error) {
		return a.runAll(ctx), nil
	})
	return v.(*RunResult)
}

// StartScheduler runs Run on the configured cadence until ctx is cancelled.
func (a *Aggregator) StartScheduler(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(a.cfg.Interval)
		defer ticker.Stop()
		a.logger.Infof("aggregation scheduler started, interval %v", a.cfg.Interval)
		for {
			select {
			case <-ticker.C:
				result := a.Run(ctx)
				if !result.ok() {
					a.logger.Warnf("scheduled aggregation run had failures: %+v", result.Periods)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (a *Aggregator) runAll(ctx context.Context) *RunResult {
	started := a.now()
	result := &RunResult{Periods: make(map[types.PeriodKind]PeriodResult)}

	for _, kind := range types.PeriodKinds() {
		if err := a.runPeriod(ctx, kind); err != nil {
			a.logger.Errorf("aggregation failed for period %s: %v", kind, err)
			result.Periods[kind] = PeriodResult{OK: false, Error: err.Error()}
			continue
		}
		result.Periods[kind] = PeriodResult{OK: true}
	}

	metrics.AggregationDuration.Observe(a.now().Sub(started).Seconds())
	if result.ok() {
		metrics.AggregationRuns.WithLabelValues("success").Inc()
	} else {
		metrics.AggregationRuns.WithLabelValues("failure").Inc()
	}

	a.mu.Lock()
	a.lastRun = a.now()
	a.lastResult = result
	a.mu.Unlock()

	return result
}

// runPeriod recomputes and emits the artifacts of one period kind for both
// sensor families.
func (a *Aggregator) runPeriod(ctx context.Context, kind types.PeriodKind) error {
	for _, family := range types.Families() {
		agg, err := a.Compute(ctx, family, kind, a.now())
		if err != nil {
			return fmt.Errorf("compute %s/%s: %w", family, kind, err)
		}
		if err := a.writeArtifacts(agg); err != nil {
			return fmt.Errorf("emit %s/%s: %w", family, kind, err)
		}
	}
	return nil
}

// LastRun returns the time and result of the most recent completed run.
func (a *Aggregator) LastRun() (time.Time, *RunResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRun, a.lastResult
}

// Compute builds the aggregate for one (family, period kind) pair covering
// the calendar period containing now. Samples are scanned from
// [period start, period end) and bucketed into sub-periods; min/max/avg are
// computed per channel per bucket and for the period overall.
func (a *Aggregator) Compute(ctx context.Context, family types.SensorFamily, kind types.PeriodKind, now time.Time) (*types.PeriodAggregate, error) {
	start := PeriodStart(kind, now, a.loc)
	end := PeriodEnd(kind, start)

	channels := gateway.ChannelsForFamily(family)
	samples, err := a.store.SamplesInRange(ctx, channels, start, end)
	if err != nil {
		return nil, err
	}

	agg := &types.PeriodAggregate{
		Family:      family,
		Period:      kind,
		PeriodStart: start,
		PeriodEnd:   end,
	}

	overall := make(map[string]*accumulator)
	byBucket := make(map[time.Time]map[string]*accumulator)
	units := make(map[string]string)

	for _, s := range samples {
		units[s.Channel] = s.Unit
		accumulate(overall, s)
		bs := BucketStart(kind, s.Timestamp, a.loc)
		if byBucket[bs] == nil {
			byBucket[bs] = make(map[string]*accumulator)
		}
		accumulate(byBucket[bs], s)
	}

	agg.Channels = summarize(overall, channels, units)

	for bs := start; bs.Before(end); bs = bucketEnd(kind, bs) {
		accs, ok := byBucket[bs]
		if !ok {
			continue
		}
		agg.Buckets = append(agg.Buckets, types.Bucket{
			Start:    bs,
			End:      bucketEnd(kind, bs),
			Channels: summarize(accs, channels, units),
		})
	}

	return agg, nil
}

type accumulator struct {
	min, max, sum float64
	count         int64
}

func accumulate(accs map[string]*accumulator, s types.Sample) {
	acc := accs[s.Channel]
	if acc == nil {
		acc = &accumulator{min: math.Inf(1), max: math.Inf(-1)}
		accs[s.Channel] = acc
	}
	if s.Value < acc.min {
		acc.min = s.Value
	}
	if s.Value > acc.max {
		acc.max = s.Value
	}
	acc.sum += s.Value
	acc.count++
}

// summarize emits channel stats in the family's fixed channel order so
// repeated runs over the same samples produce identical output.
func summarize(accs map[string]*accumulator, channelOrder []string, units map[string]string) []types.ChannelStats {
	var out []types.ChannelStats
	for _, ch := range channelOrder {
		acc, ok := accs[ch]
		if !ok || acc.count == 0 {
			continue
		}
		out = append(out, types.ChannelStats{
			Channel: ch,
			Unit:    units[ch],
			Stats: types.Stats{
				Min:   acc.min,
				Max:   acc.max,
				Avg:   roundTo(acc.sum/float64(acc.count), 2),
				Count: acc.count,
			},
		})
	}
	return out
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow10(places)
	return math.Round(v*factor) / factor
}
