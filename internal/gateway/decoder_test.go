package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/rwilli/localweather/internal/types"
)

func TestJSONDecoderDecode(t *testing.T) {
	receivedAt := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		frame     string
		wantErr   bool
		deviceID  string
		batteryOK bool
		channels  map[string]float64
	}{
		{
			name:      "scalar temperature and humidity",
			frame:     `{"id":"11566802925f","battery":"ok","temperature1":21.37,"humidity1":54.2}`,
			deviceID:  "11566802925f",
			batteryOK: true,
			channels:  map[string]float64{"temp1": 21.4, "humidity1": 54},
		},
		{
			name:     "array wrapped values",
			frame:    `{"id":"abc","battery":"low","windspeed":[3.46],"winddirection":[180.0]}`,
			deviceID: "abc",
			channels: map[string]float64{"wind_speed": 3.5, "wind_dir": 180},
		},
		{
			name:     "numeric string value",
			frame:    `{"id":"abc","temperature2":"19.95"}`,
			deviceID: "abc",
			channels: map[string]float64{"temp2": 20},
		},
		{
			name:     "invalid sentinel channel skipped",
			frame:    `{"id":"abc","temperature1":-9999,"humidity1":60}`,
			deviceID: "abc",
			channels: map[string]float64{"humidity1": 60},
		},
		{
			name:     "unknown keys ignored",
			frame:    `{"id":"abc","rainrate":2.5,"temperatureIN":22.04}`,
			deviceID: "abc",
			channels: map[string]float64{"temp_in": 22},
		},
		{
			name:    "missing device id",
			frame:   `{"temperature1":21.0}`,
			wantErr: true,
		},
		{
			name:    "no known channels",
			frame:   `{"id":"abc","battery":"ok"}`,
			wantErr: true,
		},
		{
			name:    "malformed JSON",
			frame:   `{"id":"abc","temperature1":`,
			wantErr: true,
		},
	}

	d := &JSONDecoder{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := d.Decode([]byte(tt.frame), receivedAt)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got report %+v", report)
				}
				var decodeErr *DecodeError
				if !errors.As(err, &decodeErr) {
					t.Errorf("expected DecodeError, got %T: %v", err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if report.DeviceID != tt.deviceID {
				t.Errorf("device ID = %q, want %q", report.DeviceID, tt.deviceID)
			}
			if report.BatteryOK != tt.batteryOK {
				t.Errorf("battery OK = %v, want %v", report.BatteryOK, tt.batteryOK)
			}
			if !report.ReceivedAt.Equal(receivedAt) {
				t.Errorf("received at = %v, want %v", report.ReceivedAt, receivedAt)
			}
			got := make(map[string]float64, len(report.Channels))
			for _, cv := range report.Channels {
				got[cv.Channel] = cv.Value
			}
			if len(got) != len(tt.channels) {
				t.Fatalf("channels = %v, want %v", got, tt.channels)
			}
			for channel, want := range tt.channels {
				if got[channel] != want {
					t.Errorf("channel %s = %v, want %v", channel, got[channel], want)
				}
			}
		})
	}
}

func TestJSONDecoderDeviceTime(t *testing.T) {
	receivedAt := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	d := &JSONDecoder{}

	report, err := d.Decode([]byte(`{"id":"abc","utms":"2026-03-14T11:58:30Z","temperature1":20.0}`), receivedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 3, 14, 11, 58, 30, 0, time.UTC)
	if !report.DeviceTime.Equal(want) {
		t.Errorf("device time = %v, want %v", report.DeviceTime, want)
	}

	report, err = d.Decode([]byte(`{"id":"abc","utms":"not-a-time","temperature1":20.0}`), receivedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.DeviceTime.IsZero() {
		t.Errorf("unparseable device time should stay zero, got %v", report.DeviceTime)
	}
}

func TestChannelsForFamily(t *testing.T) {
	for _, family := range types.Families() {
		channels := ChannelsForFamily(family)
		if len(channels) == 0 {
			t.Fatalf("family %s has no channels", family)
		}
		for _, channel := range channels {
			got, ok := familyFor(channel)
			if !ok {
				t.Errorf("channel %s has no family mapping", channel)
				continue
			}
			if got != family {
				t.Errorf("channel %s maps to family %s, want %s", channel, got, family)
			}
		}
	}
	if ChannelsForFamily("pressure") != nil {
		t.Error("unknown family should yield no channels")
	}
}
