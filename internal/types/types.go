// Package types contains the core data types passed between the pipeline
// stages: decoded gateway reports, normalized readings, stored samples, and
// period aggregates.
package types

import (
	"time"
)

// SensorFamily groups channels into the two report families the gateway
// carries: indoor/outdoor temperature+humidity probes and the wind sensor.
type SensorFamily string

const (
	FamilyTempHumidity SensorFamily = "temp_humidity"
	FamilyWind         SensorFamily = "wind"
)

// Families lists all known sensor families in a fixed order.
func Families() []SensorFamily {
	return []SensorFamily{FamilyTempHumidity, FamilyWind}
}

// PeriodKind is a calendar window over which samples are aggregated.
type PeriodKind string

const (
	PeriodDay   PeriodKind = "day"
	PeriodWeek  PeriodKind = "week"
	PeriodMonth PeriodKind = "month"
	PeriodYear  PeriodKind = "year"
)

// PeriodKinds lists all period kinds in a fixed order.
func PeriodKinds() []PeriodKind {
	return []PeriodKind{PeriodDay, PeriodWeek, PeriodMonth, PeriodYear}
}

// ChannelValue is a single (channel, value, unit) tuple inside a gateway
// report, before normalization.
type ChannelValue struct {
	Channel string
	Value   float64
	Unit    string
}

// GatewayReport is the raw decoded payload of one gateway transmission. It
// exists only while the interceptor processes the inbound request.
type GatewayReport struct {
	DeviceID   string
	Channels   []ChannelValue
	DeviceTime time.Time // timestamp from the device clock
	ReceivedAt time.Time // timestamp assigned by the interceptor
	BatteryOK  bool
}

// Reading is the normalized unit of telemetry transported over the bus.
type Reading struct {
	DeviceID  string       `json:"device_id"`
	Family    SensorFamily `json:"family"`
	Channel   string       `json:"channel"`
	Value     float64      `json:"value"`
	Unit      string       `json:"unit"`
	BatteryOK bool         `json:"battery_ok"`
	Timestamp time.Time    `json:"timestamp"`
}

// Sample is a persisted reading. The primary key (device_id, channel, time)
// makes redelivered readings a no-op on insert.
type Sample struct {
	DeviceID  string    `gorm:"column:device_id;primaryKey" json:"device_id"`
	Channel   string    `gorm:"column:channel;primaryKey" json:"channel"`
	Timestamp time.Time `gorm:"column:time;primaryKey" json:"timestamp"`
	Value     float64   `gorm:"column:value" json:"value"`
	Unit      string    `gorm:"column:unit" json:"unit"`
	BatteryOK bool      `gorm:"column:battery_ok" json:"battery_ok"`
}

// TableName customizes the table name used by the GORM-backed store.
func (Sample) TableName() string {
	return "samples"
}

// Stats holds the summary metrics for one channel over one window.
type Stats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int64   `json:"count"`
}

// ChannelStats pairs a channel name with its summary metrics.
type ChannelStats struct {
	Channel string `json:"channel"`
	Unit    string `json:"unit,omitempty"`
	Stats   Stats  `json:"stats"`
}

// Bucket is one sub-period of a period aggregate: hours of a day, days of a
// week or month, months of a year. Samples never merge across bucket
// boundaries.
type Bucket struct {
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Channels []ChannelStats `json:"channels"`
}

// PeriodAggregate is the derived summary for one (family, period kind)
// combination. It is recomputed wholesale from the sample store on every
// aggregation run, so it never drifts from the authoritative samples.
type PeriodAggregate struct {
	Family      SensorFamily   `json:"family"`
	Period      PeriodKind     `json:"period"`
	PeriodStart time.Time      `json:"period_start"`
	PeriodEnd   time.Time      `json:"period_end"`
	Channels    []ChannelStats `json:"channels"`
	Buckets     []Bucket       `json:"buckets"`
}
