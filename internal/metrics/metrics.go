// Package metrics defines the Prometheus instrumentation shared by the
// pipeline components. Metrics are exposed on the control API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReportsReceived counts gateway reports accepted by the interceptor.
	ReportsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localweather_reports_received_total",
			Help: "Total number of gateway reports received",
		},
	)

	// DecodeFailures counts reports dropped due to decode errors.
	DecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localweather_decode_failures_total",
			Help: "Total number of gateway reports dropped as undecodable",
		},
	)

	// ReadingsPublished counts readings published to the bus.
	ReadingsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localweather_readings_published_total",
			Help: "Total number of readings published to the bus",
		},
		[]string{"family"},
	)

	// ReadingsDropped counts readings discarded from the full publish buffer.
	ReadingsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localweather_readings_dropped_total",
			Help: "Total number of readings dropped from the publish buffer",
		},
	)

	// PublishBufferDepth is the current depth of the publish buffer.
	PublishBufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "localweather_publish_buffer_depth",
			Help: "Current number of readings waiting in the publish buffer",
		},
	)

	// Degraded is 1 while the interceptor is dropping readings.
	Degraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "localweather_degraded",
			Help: "1 when the publish buffer has overflowed and readings are being dropped",
		},
	)

	// SamplesStored counts new rows written to the sample store.
	SamplesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localweather_samples_stored_total",
			Help: "Total number of samples written to the store",
		},
	)

	// DuplicateSamples counts redelivered readings ignored by the store.
	DuplicateSamples = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localweather_duplicate_samples_total",
			Help: "Total number of duplicate samples ignored on insert",
		},
	)

	// StoreRetries counts store write attempts that had to be retried.
	StoreRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localweather_store_retries_total",
			Help: "Total number of retried sample store writes",
		},
	)

	// AggregationRuns counts aggregation runs by outcome.
	AggregationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localweather_aggregation_runs_total",
			Help: "Total number of aggregation runs",
		},
		[]string{"result"},
	)

	// AggregationDuration observes the wall time of full aggregation runs.
	AggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "localweather_aggregation_duration_seconds",
			Help:    "Duration of full aggregation runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
