package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files.
type YAMLProvider struct {
	filename string
}

// NewYAMLProvider creates a new YAML configuration provider.
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// yamlDuration accepts Go duration strings ("30s", "168h") in YAML fields.
type yamlDuration time.Duration

func (d *yamlDuration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = yamlDuration(parsed)
	return nil
}

type gatewayYAML struct {
	ListenAddr   string       `yaml:"listen_addr"`
	Port         int          `yaml:"port"`
	GatewayAddr  string       `yaml:"gateway_addr,omitempty"`
	ConfigPort   int          `yaml:"config_port,omitempty"`
	BufferSize   int          `yaml:"buffer_size,omitempty"`
	MaxClockSkew yamlDuration `yaml:"max_clock_skew,omitempty"`
}

type busYAML struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
}

type storageYAML struct {
	SQLite *struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite,omitempty"`
	TimescaleDB *struct {
		ConnectionString string `yaml:"connection_string"`
	} `yaml:"timescaledb,omitempty"`
}

type aggregatorYAML struct {
	ReportsDir       string       `yaml:"reports_dir"`
	Timezone         string       `yaml:"timezone,omitempty"`
	Interval         yamlDuration `yaml:"interval,omitempty"`
	MinRegenInterval yamlDuration `yaml:"min_regen_interval,omitempty"`
}

type controlAPIYAML struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
	Port       int    `yaml:"port,omitempty"`
}

type alarmYAML struct {
	Name     string   `yaml:"name,omitempty"`
	Channel  string   `yaml:"channel"`
	DeviceID string   `yaml:"device_id,omitempty"`
	Min      *float64 `yaml:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty"`
	Disabled bool     `yaml:"disabled,omitempty"`
}

// LoadConfig loads the complete configuration from the YAML file.
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	var yamlConfig struct {
		Gateway    *gatewayYAML    `yaml:"gateway,omitempty"`
		Bus        busYAML         `yaml:"bus"`
		Storage    storageYAML     `yaml:"storage"`
		Aggregator *aggregatorYAML `yaml:"aggregator,omitempty"`
		ControlAPI *controlAPIYAML `yaml:"control_api,omitempty"`
		Alarms     []alarmYAML     `yaml:"alarms,omitempty"`
	}

	err = yaml.Unmarshal(cfgFile, &yamlConfig)
	if err != nil {
		return nil, err
	}

	config := &ConfigData{
		Bus: BusData{
			Broker:      yamlConfig.Bus.Broker,
			ClientID:    yamlConfig.Bus.ClientID,
			TopicPrefix: yamlConfig.Bus.TopicPrefix,
			Username:    yamlConfig.Bus.Username,
			Password:    yamlConfig.Bus.Password,
		},
	}

	if yamlConfig.Gateway != nil {
		config.Gateway = &GatewayData{
			ListenAddr:   yamlConfig.Gateway.ListenAddr,
			Port:         yamlConfig.Gateway.Port,
			GatewayAddr:  yamlConfig.Gateway.GatewayAddr,
			ConfigPort:   yamlConfig.Gateway.ConfigPort,
			BufferSize:   yamlConfig.Gateway.BufferSize,
			MaxClockSkew: time.Duration(yamlConfig.Gateway.MaxClockSkew),
		}
	}

	if yamlConfig.Storage.SQLite != nil {
		config.Storage.SQLite = &SQLiteData{
			Path: yamlConfig.Storage.SQLite.Path,
		}
	}
	if yamlConfig.Storage.TimescaleDB != nil {
		config.Storage.TimescaleDB = &TimescaleDBData{
			ConnectionString: yamlConfig.Storage.TimescaleDB.ConnectionString,
		}
	}

	if yamlConfig.Aggregator != nil {
		config.Aggregator = &AggregatorData{
			ReportsDir:       yamlConfig.Aggregator.ReportsDir,
			Timezone:         yamlConfig.Aggregator.Timezone,
			Interval:         time.Duration(yamlConfig.Aggregator.Interval),
			MinRegenInterval: time.Duration(yamlConfig.Aggregator.MinRegenInterval),
		}
	}

	if yamlConfig.ControlAPI != nil {
		config.ControlAPI = &ControlAPIData{
			ListenAddr: yamlConfig.ControlAPI.ListenAddr,
			Port:       yamlConfig.ControlAPI.Port,
		}
	}

	for _, a := range yamlConfig.Alarms {
		if a.Channel == "" {
			return nil, fmt.Errorf("alarm rule %q is missing a channel", a.Name)
		}
		config.Alarms = append(config.Alarms, AlarmData{
			Name:     a.Name,
			Channel:  a.Channel,
			DeviceID: a.DeviceID,
			Min:      a.Min,
			Max:      a.Max,
			Disabled: a.Disabled,
		})
	}

	return config, nil
}

// Close is a no-op for the YAML provider.
func (y *YAMLProvider) Close() error {
	return nil
}
