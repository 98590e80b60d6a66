package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rwilli/localweather/internal/aggregator"
	"github.com/rwilli/localweather/internal/alarm"
	"github.com/rwilli/localweather/internal/storage"
	"github.com/rwilli/localweather/internal/types"
	"github.com/rwilli/localweather/pkg/config"
	"go.uber.org/zap"
)

// fakeAggregator satisfies AggregatorService with canned results.
type fakeAggregator struct {
	runs     atomic.Int64
	delay    time.Duration
	result   *aggregator.RunResult
	lastRun  time.Time
	computed *types.PeriodAggregate
}

func okResult() *aggregator.RunResult {
	periods := make(map[types.PeriodKind]aggregator.PeriodResult)
	for _, kind := range types.PeriodKinds() {
		periods[kind] = aggregator.PeriodResult{OK: true}
	}
	return &aggregator.RunResult{Periods: periods}
}

func (f *fakeAggregator) Run(ctx context.Context) *aggregator.RunResult {
	f.runs.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.result != nil {
		return f.result
	}
	return okResult()
}

func (f *fakeAggregator) LastRun() (time.Time, *aggregator.RunResult) {
	return f.lastRun, f.result
}

func (f *fakeAggregator) Compute(ctx context.Context, family types.SensorFamily, kind types.PeriodKind, now time.Time) (*types.PeriodAggregate, error) {
	if f.computed == nil {
		return nil, errors.New("no aggregate")
	}
	return f.computed, nil
}

// fakeSampleStore serves canned latest samples.
type fakeSampleStore struct {
	latest []types.Sample
	err    error
}

func (s *fakeSampleStore) StoreSample(ctx context.Context, sm types.Sample) (bool, error) {
	return false, errors.New("read-only in tests")
}

func (s *fakeSampleStore) SamplesInRange(ctx context.Context, channels []string, start, end time.Time) ([]types.Sample, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []types.Sample
	for _, sm := range s.latest {
		for _, c := range channels {
			if sm.Channel == c {
				out = append(out, sm)
			}
		}
	}
	return out, nil
}

func (s *fakeSampleStore) LatestSamples(ctx context.Context) ([]types.Sample, error) {
	return s.latest, s.err
}

func (s *fakeSampleStore) Close() error { return nil }

type fakeStatus struct {
	degraded bool
	depth    int
}

func (s *fakeStatus) Degraded() bool   { return s.degraded }
func (s *fakeStatus) BufferDepth() int { return s.depth }

func newTestController(t *testing.T, agg AggregatorService, store *fakeSampleStore, status StatusSource, alarms *alarm.Evaluator) *Controller {
	t.Helper()
	var wg sync.WaitGroup
	var sampleStore storage.SampleStore
	if store != nil {
		sampleStore = store
	}
	ctrl, err := NewController(context.Background(), &wg, config.ControlAPIData{
		ListenAddr: "127.0.0.1",
		Port:       18001,
	}, sampleStore, agg, alarms, status, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	return ctrl
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

func TestUpdateTriggersRun(t *testing.T) {
	agg := &fakeAggregator{}
	ctrl := newTestController(t, agg, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
	rec := httptest.NewRecorder()
	ctrl.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Errorf("ok = %v, want true", body["ok"])
	}
	if agg.runs.Load() != 1 {
		t.Errorf("aggregator ran %d times, want 1", agg.runs.Load())
	}
}

func TestUpdateRejectsMalformedBody(t *testing.T) {
	agg := &fakeAggregator{}
	ctrl := newTestController(t, agg, nil, nil, nil)

	for _, body := range []string{`{"periods":`, `{"periods":["fortnight"]}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/update", strings.NewReader(body))
		rec := httptest.NewRecorder()
		ctrl.Server.Handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
	// A rejected request must not trigger aggregation.
	if agg.runs.Load() != 0 {
		t.Errorf("aggregator ran %d times for rejected requests", agg.runs.Load())
	}
}

func TestUpdateReportsPeriodFailure(t *testing.T) {
	result := okResult()
	result.Periods[types.PeriodYear] = aggregator.PeriodResult{OK: false, Error: "store offline"}
	agg := &fakeAggregator{result: result}
	ctrl := newTestController(t, agg, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
	rec := httptest.NewRecorder()
	ctrl.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	body := decodeBody(t, rec)
	if body["ok"] != false {
		t.Errorf("ok = %v, want false", body["ok"])
	}
}

func TestStatus(t *testing.T) {
	ts := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	store := &fakeSampleStore{latest: []types.Sample{
		{DeviceID: "dev1", Channel: "temp1", Timestamp: ts, Value: 21, BatteryOK: true},
		{DeviceID: "dev1", Channel: "humidity1", Timestamp: ts.Add(time.Minute), Value: 55, BatteryOK: false},
		{DeviceID: "dev2", Channel: "wind_speed", Timestamp: ts, Value: 3, BatteryOK: true},
	}}
	agg := &fakeAggregator{result: okResult(), lastRun: ts}
	ctrl := newTestController(t, agg, store, &fakeStatus{degraded: true, depth: 17}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	ctrl.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["degraded"] != true {
		t.Errorf("degraded = %v, want true", body["degraded"])
	}
	if body["buffer_depth"] != float64(17) {
		t.Errorf("buffer_depth = %v, want 17", body["buffer_depth"])
	}
	devices, ok := body["devices"].([]interface{})
	if !ok || len(devices) != 2 {
		t.Fatalf("devices = %v, want 2 entries", body["devices"])
	}
	// dev1's battery status comes from its freshest sample.
	for _, d := range devices {
		entry := d.(map[string]interface{})
		if entry["device_id"] == "dev1" && entry["battery_ok"] != false {
			t.Errorf("dev1 battery_ok = %v, want false", entry["battery_ok"])
		}
	}
}

func TestStatusReportsAlarms(t *testing.T) {
	ts := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	store := &fakeSampleStore{latest: []types.Sample{
		{DeviceID: "dev1", Channel: "temp1", Timestamp: ts, Value: -4, Unit: "C", BatteryOK: true},
		{DeviceID: "dev1", Channel: "humidity1", Timestamp: ts, Value: 55, BatteryOK: true},
	}}
	frostMin := 2.0
	evaluator := alarm.NewEvaluator([]config.AlarmData{
		{Name: "frost", Channel: "temp1", Min: &frostMin},
	})
	agg := &fakeAggregator{result: okResult()}
	ctrl := newTestController(t, agg, store, nil, evaluator)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	ctrl.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["alarms_ok"] != false {
		t.Errorf("alarms_ok = %v, want false", body["alarms_ok"])
	}
	alerts, ok := body["alarms"].([]interface{})
	if !ok || len(alerts) != 1 {
		t.Fatalf("alarms = %v, want 1 entry", body["alarms"])
	}
	entry := alerts[0].(map[string]interface{})
	if entry["name"] != "frost" || entry["violation"] != "below_min" {
		t.Errorf("alert = %v, want frost/below_min", entry)
	}
	if entry["value"] != float64(-4) || entry["limit"] != float64(2) {
		t.Errorf("alert = %v, want value -4 against limit 2", entry)
	}
}

func TestStatusAlarmsOKWhenNothingRaised(t *testing.T) {
	store := &fakeSampleStore{latest: []types.Sample{
		{DeviceID: "dev1", Channel: "temp1", Timestamp: time.Now(), Value: 21, BatteryOK: true},
	}}
	min := 2.0
	evaluator := alarm.NewEvaluator([]config.AlarmData{
		{Name: "frost", Channel: "temp1", Min: &min},
	})
	ctrl := newTestController(t, &fakeAggregator{result: okResult()}, store, nil, evaluator)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	ctrl.Server.Handler.ServeHTTP(rec, req)

	body := decodeBody(t, rec)
	if body["alarms_ok"] != true {
		t.Errorf("alarms_ok = %v, want true", body["alarms_ok"])
	}
	alerts, ok := body["alarms"].([]interface{})
	if !ok || len(alerts) != 0 {
		t.Errorf("alarms = %v, want an empty list", body["alarms"])
	}
}

func TestAggregateValidatesPath(t *testing.T) {
	agg := &fakeAggregator{computed: &types.PeriodAggregate{
		Family: types.FamilyWind,
		Period: types.PeriodDay,
	}}
	ctrl := newTestController(t, agg, nil, nil, nil)

	tests := []struct {
		path string
		want int
	}{
		{"/api/aggregates/wind/day", http.StatusOK},
		{"/api/aggregates/temp_humidity/year", http.StatusOK},
		{"/api/aggregates/pressure/day", http.StatusBadRequest},
		{"/api/aggregates/wind/fortnight", http.StatusBadRequest},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		rec := httptest.NewRecorder()
		ctrl.Server.Handler.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestQueryValidation(t *testing.T) {
	store := &fakeSampleStore{latest: []types.Sample{
		{DeviceID: "dev1", Channel: "temp1", Timestamp: time.Now().UTC(), Value: 21},
		{DeviceID: "dev2", Channel: "temp1", Timestamp: time.Now().UTC(), Value: 22},
	}}
	ctrl := newTestController(t, &fakeAggregator{}, store, nil, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"channel":"temp1","from":"2026-03-12T00:00:00Z","to":"2026-03-13T00:00:00Z"}`, http.StatusOK},
		{"missing channel", `{"from":"2026-03-12T00:00:00Z","to":"2026-03-13T00:00:00Z"}`, http.StatusBadRequest},
		{"inverted range", `{"channel":"temp1","from":"2026-03-13T00:00:00Z","to":"2026-03-12T00:00:00Z"}`, http.StatusBadRequest},
		{"malformed", `{"channel":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			ctrl.Server.Handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestQueryFiltersByDevice(t *testing.T) {
	ts := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	store := &fakeSampleStore{latest: []types.Sample{
		{DeviceID: "dev1", Channel: "temp1", Timestamp: ts, Value: 21},
		{DeviceID: "dev2", Channel: "temp1", Timestamp: ts, Value: 22},
	}}
	ctrl := newTestController(t, &fakeAggregator{}, store, nil, nil)

	body := `{"device_id":"dev2","channel":"temp1","from":"2026-03-12T00:00:00Z","to":"2026-03-13T00:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ctrl.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody(t, rec)
	samples, ok := resp["samples"].([]interface{})
	if !ok || len(samples) != 1 {
		t.Fatalf("samples = %v, want 1 entry", resp["samples"])
	}
	if samples[0].(map[string]interface{})["device_id"] != "dev2" {
		t.Errorf("sample device = %v, want dev2", samples[0])
	}
}

func TestNotFoundUsesJSONEnvelope(t *testing.T) {
	ctrl := newTestController(t, &fakeAggregator{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil)
	rec := httptest.NewRecorder()
	ctrl.Server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	body := decodeBody(t, rec)
	if body["ok"] != false {
		t.Errorf("ok = %v, want false", body["ok"])
	}
}

func TestConcurrentUpdatesShareOneResponseShape(t *testing.T) {
	agg := &fakeAggregator{delay: 20 * time.Millisecond}
	ctrl := newTestController(t, agg, nil, nil, nil)

	var wg sync.WaitGroup
	codes := make([]int, 4)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
			rec := httptest.NewRecorder()
			ctrl.Server.Handler.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, code, http.StatusOK)
		}
	}
}
