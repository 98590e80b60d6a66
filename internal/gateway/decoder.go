// Package gateway implements the proxy interceptor that receives the weather
// gateway's redirected cloud uploads, decodes them, and republishes
// normalized readings on the bus.
package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rwilli/localweather/internal/types"
)

// DecodeError marks a malformed report. The offending report is dropped and
// logged; the connection it arrived on is not torn down.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "decode error: " + e.Reason
}

// Decoder turns one framed report into a GatewayReport. The gateway's wire
// format is proprietary and partially unknown, so it stays pluggable behind
// this contract.
type Decoder interface {
	Decode(frame []byte, receivedAt time.Time) (*types.GatewayReport, error)
}

// invalidSentinel is the value the gateway substitutes for a disconnected or
// faulty probe.
const invalidSentinel = -9999.0

// channelSpec maps one raw payload key to its normalized channel.
type channelSpec struct {
	channel string
	family  types.SensorFamily
	unit    string
	round   int // decimal places
}

// channelMap covers the channels the gateway is known to report. Unknown keys
// in a payload are ignored rather than treated as errors, so firmware
// additions don't break decoding.
var channelMap = map[string]channelSpec{
	"temperature1":  {"temp1", types.FamilyTempHumidity, "C", 1},
	"temperature2":  {"temp2", types.FamilyTempHumidity, "C", 1},
	"temperature3":  {"temp3", types.FamilyTempHumidity, "C", 1},
	"temperatureIN": {"temp_in", types.FamilyTempHumidity, "C", 1},
	"humidity1":     {"humidity1", types.FamilyTempHumidity, "%", 0},
	"humidity2":     {"humidity2", types.FamilyTempHumidity, "%", 0},
	"humidity3":     {"humidity3", types.FamilyTempHumidity, "%", 0},
	"humidityIN":    {"humidity_in", types.FamilyTempHumidity, "%", 0},
	"windspeed":     {"wind_speed", types.FamilyWind, "m/s", 1},
	"windgust":      {"wind_gust", types.FamilyWind, "m/s", 1},
	"winddirection": {"wind_dir", types.FamilyWind, "deg", 0},
}

// JSONDecoder decodes the JSON report format the gateway uploads when
// proxied. Channel values arrive as scalars, single-element arrays, or
// numeric strings depending on sensor generation, so extraction is lenient.
type JSONDecoder struct{}

func (d *JSONDecoder) Decode(frame []byte, receivedAt time.Time) (*types.GatewayReport, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(frame, &payload); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	deviceID, _ := payload["id"].(string)
	if deviceID == "" {
		return nil, &DecodeError{Reason: "missing device id"}
	}

	report := &types.GatewayReport{
		DeviceID:   deviceID,
		ReceivedAt: receivedAt,
		BatteryOK:  parseBattery(payload["battery"]),
	}

	if raw, ok := payload["utms"].(string); ok && raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			report.DeviceTime = ts.UTC()
		}
	}

	for key, spec := range channelMap {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		value, ok := extractValue(raw)
		if !ok || value == invalidSentinel {
			continue
		}
		report.Channels = append(report.Channels, types.ChannelValue{
			Channel: spec.channel,
			Value:   roundTo(value, spec.round),
			Unit:    spec.unit,
		})
	}

	if len(report.Channels) == 0 {
		return nil, &DecodeError{Reason: "report carries no known channels"}
	}

	return report, nil
}

// extractValue pulls a numeric value out of a scalar, a single-element
// array, or a numeric string.
func extractValue(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case []interface{}:
		if len(v) == 0 {
			return 0, false
		}
		return extractValue(v[0])
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func parseBattery(raw interface{}) bool {
	s, ok := raw.(string)
	if !ok {
		return false
	}
	return s == "ok" || s == "OK" || s == "Ok"
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow10(places)
	return math.Round(v*factor) / factor
}

// familyFor returns the sensor family of a normalized channel name, or false
// for channels this pipeline does not know.
func familyFor(channel string) (types.SensorFamily, bool) {
	for _, spec := range channelMap {
		if spec.channel == channel {
			return spec.family, true
		}
	}
	return "", false
}

// ChannelsForFamily returns the normalized channel names of one family in a
// stable order, for use by the aggregator.
func ChannelsForFamily(family types.SensorFamily) []string {
	switch family {
	case types.FamilyTempHumidity:
		return []string{"temp1", "temp2", "temp3", "temp_in", "humidity1", "humidity2", "humidity3", "humidity_in"}
	case types.FamilyWind:
		return []string{"wind_speed", "wind_gust", "wind_dir"}
	default:
		return nil
	}
}
