// Package config defines the configuration model for the pipeline and the
// providers that load it.
package config

import "time"

// ConfigProvider defines the interface for configuration data sources.
type ConfigProvider interface {
	LoadConfig() (*ConfigData, error)
	Close() error
}

// ConfigData represents the complete configuration structure. Components are
// enabled by the presence of their section.
type ConfigData struct {
	Gateway    *GatewayData    `json:"gateway,omitempty"`
	Bus        BusData         `json:"bus"`
	Storage    StorageData     `json:"storage"`
	Aggregator *AggregatorData `json:"aggregator,omitempty"`
	ControlAPI *ControlAPIData `json:"control_api,omitempty"`
	Alarms     []AlarmData     `json:"alarms,omitempty"`
}

// GatewayData holds configuration for the proxy interceptor and the one-time
// gateway proxy-configuration call.
type GatewayData struct {
	// ListenAddr is the local IPv4 address advertised to the gateway as its
	// proxy target. Must match the address configured into the gateway.
	ListenAddr string `json:"listen_addr"`
	// Port is the proxy listening port.
	Port int `json:"port"`
	// GatewayAddr is the gateway's own IP, used to address the proxy
	// configuration datagram. Leave empty to skip the configuration call.
	GatewayAddr string `json:"gateway_addr,omitempty"`
	// ConfigPort is the UDP port the gateway listens on for configuration.
	ConfigPort int `json:"config_port,omitempty"`
	// BufferSize bounds the in-memory publish buffer used while the bus is
	// unreachable. Oldest readings are dropped beyond this bound.
	BufferSize int `json:"buffer_size,omitempty"`
	// MaxClockSkew is the largest device-clock deviation from receipt time
	// before the receipt timestamp is used instead.
	MaxClockSkew time.Duration `json:"max_clock_skew,omitempty"`
}

// BusData holds the MQTT broker connection settings.
type BusData struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
}

// StorageData holds the configuration for the sample store backends. Exactly
// one backend should be configured; the persister is the single writer.
type StorageData struct {
	SQLite      *SQLiteData      `json:"sqlite,omitempty"`
	TimescaleDB *TimescaleDBData `json:"timescaledb,omitempty"`
}

// SQLiteData configures the default file-backed sample store.
type SQLiteData struct {
	Path string `json:"path"`
}

// TimescaleDBData configures the optional Postgres/TimescaleDB sample store.
type TimescaleDBData struct {
	ConnectionString string `json:"connection_string"`
}

// AggregatorData holds the report aggregator settings.
type AggregatorData struct {
	// ReportsDir is where rendered report artifacts are written.
	ReportsDir string `json:"reports_dir"`
	// Timezone is the fixed reference zone for period boundaries.
	Timezone string `json:"timezone,omitempty"`
	// Interval is the scheduled cadence between aggregation runs.
	Interval time.Duration `json:"interval,omitempty"`
	// MinRegenInterval throttles back-to-back regeneration requests.
	MinRegenInterval time.Duration `json:"min_regen_interval,omitempty"`
}

// AlarmData holds one threshold alarm rule. A rule with a device ID covers
// that device only; otherwise it covers its channel on every device. Min and
// Max are each optional, so one-sided thresholds work.
type AlarmData struct {
	// Name is a human-readable label carried into raised alerts.
	Name string `json:"name,omitempty"`
	// Channel is the normalized channel the rule watches.
	Channel string `json:"channel"`
	// DeviceID restricts the rule to one device when set.
	DeviceID string `json:"device_id,omitempty"`
	// Min raises an alert for values strictly below it.
	Min *float64 `json:"min,omitempty"`
	// Max raises an alert for values strictly above it.
	Max *float64 `json:"max,omitempty"`
	// Disabled keeps the rule configured but inert.
	Disabled bool `json:"disabled,omitempty"`
}

// ControlAPIData holds the control API listener settings.
type ControlAPIData struct {
	ListenAddr string `json:"listen_addr,omitempty"`
	Port       int    `json:"port,omitempty"`
}
