// Package storage defines the sample store interface implemented by the
// SQLite and TimescaleDB backends. The store is single-writer (the
// persister) and multi-reader (aggregator, control API).
package storage

import (
	"context"
	"time"

	"github.com/rwilli/localweather/internal/types"
)

// SampleStore is the durable time-series store for readings. Uniqueness on
// (device_id, channel, time) makes StoreSample idempotent under redelivery.
type SampleStore interface {
	// StoreSample inserts one sample. A redelivered sample is a no-op and
	// returns inserted=false with no error.
	StoreSample(ctx context.Context, s types.Sample) (inserted bool, err error)

	// SamplesInRange returns all samples for the given channels with
	// timestamps in [start, end), ordered by time, device, channel.
	SamplesInRange(ctx context.Context, channels []string, start, end time.Time) ([]types.Sample, error)

	// LatestSamples returns the most recent sample per (device, channel).
	LatestSamples(ctx context.Context) ([]types.Sample, error)

	Close() error
}
