// Package alarm evaluates configured per-channel thresholds against stored
// samples. Alerts are surfaced on the control API's status endpoint;
// delivering them onward (mail, push) is left to external tooling polling
// that surface.
package alarm

import (
	"time"

	"github.com/rwilli/localweather/internal/types"
	"github.com/rwilli/localweather/pkg/config"
)

// Violation names which bound a sample crossed.
type Violation string

const (
	ViolationBelowMin Violation = "below_min"
	ViolationAboveMax Violation = "above_max"
)

// Alert is one threshold violation for one sample.
type Alert struct {
	Name      string    `json:"name,omitempty"`
	DeviceID  string    `json:"device_id"`
	Channel   string    `json:"channel"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Violation Violation `json:"violation"`
	Limit     float64   `json:"limit"`
	Timestamp time.Time `json:"timestamp"`
}

// Evaluator holds the configured alarm rules. It is stateless across calls;
// an alert persists exactly as long as the offending sample is the latest
// one for its channel.
type Evaluator struct {
	rules []config.AlarmData
}

// NewEvaluator creates an evaluator over the given rules. Disabled rules are
// kept but never raise alerts.
func NewEvaluator(rules []config.AlarmData) *Evaluator {
	return &Evaluator{rules: rules}
}

// RuleCount returns the number of enabled rules.
func (e *Evaluator) RuleCount() int {
	n := 0
	for _, r := range e.rules {
		if !r.Disabled {
			n++
		}
	}
	return n
}

// Evaluate checks each sample against the enabled rules and returns the
// violations in sample order. A sample outside both bounds of a rule raises
// one alert for the bound it crossed; samples with no matching rule raise
// nothing.
func (e *Evaluator) Evaluate(samples []types.Sample) []Alert {
	var alerts []Alert
	for _, s := range samples {
		for _, r := range e.rules {
			if r.Disabled || r.Channel != s.Channel {
				continue
			}
			if r.DeviceID != "" && r.DeviceID != s.DeviceID {
				continue
			}
			if r.Min != nil && s.Value < *r.Min {
				alerts = append(alerts, newAlert(r, s, ViolationBelowMin, *r.Min))
				continue
			}
			if r.Max != nil && s.Value > *r.Max {
				alerts = append(alerts, newAlert(r, s, ViolationAboveMax, *r.Max))
			}
		}
	}
	return alerts
}

func newAlert(r config.AlarmData, s types.Sample, v Violation, limit float64) Alert {
	return Alert{
		Name:      r.Name,
		DeviceID:  s.DeviceID,
		Channel:   s.Channel,
		Value:     s.Value,
		Unit:      s.Unit,
		Violation: v,
		Limit:     limit,
		Timestamp: s.Timestamp,
	}
}
