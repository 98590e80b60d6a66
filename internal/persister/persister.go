// Package persister consumes readings from the bus and writes them to the
// sample store. Delivery is at-least-once from the bus; the store's
// uniqueness constraint turns redelivery into a no-op, so the storage effect
// is at-most-once.
package persister

import (
	"context"
	"time"

	"github.com/rwilli/localweather/internal/metrics"
	"github.com/rwilli/localweather/internal/storage"
	"github.com/rwilli/localweather/internal/types"
	"go.uber.org/zap"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	maxAttempts    = 5
)

// Subscriber is the bus surface the persister consumes from. The handler's
// nil return acknowledges the message.
type Subscriber interface {
	SubscribeReadings(handler func(types.Reading) error) error
}

// Persister owns the single writer connection to the sample store.
type Persister struct {
	ctx     context.Context
	store   storage.SampleStore
	logger  *zap.SugaredLogger
	backoff time.Duration
}

// New creates a persister writing to the given store.
func New(ctx context.Context, store storage.SampleStore, logger *zap.SugaredLogger) *Persister {
	return &Persister{
		ctx:     ctx,
		store:   store,
		logger:  logger,
		backoff: initialBackoff,
	}
}

// Start subscribes to all reading topics. It returns once the subscription
// is established; message handling runs on the bus client's goroutines.
func (p *Persister) Start(bus Subscriber) error {
	return bus.SubscribeReadings(p.HandleReading)
}

// HandleReading persists one reading. Store failures are retried with capped
// exponential backoff; if the attempts are exhausted an error is returned so
// the message stays unacknowledged and is redelivered. Invalid readings are
// logged and acknowledged, since redelivering them cannot help.
func (p *Persister) HandleReading(r types.Reading) error {
	if r.DeviceID == "" || r.Channel == "" || r.Timestamp.IsZero() {
		p.logger.Warnf("skipping invalid reading: device=%q channel=%q", r.DeviceID, r.Channel)
		return nil
	}

	sample := types.Sample{
		DeviceID:  r.DeviceID,
		Channel:   r.Channel,
		Timestamp: r.Timestamp.UTC(),
		Value:     r.Value,
		Unit:      r.Unit,
		BatteryOK: r.BatteryOK,
	}

	backoff := p.backoff
	for attempt := 1; ; attempt++ {
		inserted, err := p.store.StoreSample(p.ctx, sample)
		if err == nil {
			if inserted {
				metrics.SamplesStored.Inc()
			} else {
				metrics.DuplicateSamples.Inc()
			}
			return nil
		}

		if attempt >= maxAttempts {
			p.logger.Errorf("store write failed after %d attempts, leaving message for redelivery: %v", attempt, err)
			return err
		}

		metrics.StoreRetries.Inc()
		p.logger.Warnf("store write failed (attempt %d), retrying in %v: %v", attempt, backoff, err)
		select {
		case <-time.After(backoff):
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
