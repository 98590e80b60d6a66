package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rwilli/localweather/internal/alarm"
	"github.com/rwilli/localweather/internal/types"
)

// Handlers contains all HTTP handlers for the control API.
type Handlers struct {
	controller *Controller
}

// NewHandlers creates a new handlers instance.
func NewHandlers(ctrl *Controller) *Handlers {
	return &Handlers{controller: ctrl}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "error": message})
}

// updateRequest is the optional body of POST /api/update. An empty body is
// accepted; anything present must be well-formed.
type updateRequest struct {
	Periods []string `json:"periods,omitempty"`
}

// Update triggers an aggregation run over all period kinds. Concurrent
// requests join the in-flight run. The response reports success or failure
// per period kind.
func (h *Handlers) Update(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	if len(body) > 0 {
		var parsed updateRequest
		if err := json.Unmarshal(body, &parsed); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		for _, p := range parsed.Periods {
			if !validPeriod(p) {
				writeError(w, http.StatusBadRequest, "unknown period kind: "+p)
				return
			}
		}
	}

	result := h.controller.aggregator.Run(req.Context())

	status := http.StatusOK
	ok := true
	for _, pr := range result.Periods {
		if !pr.OK {
			ok = false
			status = http.StatusInternalServerError
			break
		}
	}

	writeJSON(w, status, map[string]interface{}{
		"ok":        ok,
		"throttled": result.Throttled,
		"periods":   result.Periods,
	})
}

// deviceStatus summarizes the freshness of one device for the status page.
type deviceStatus struct {
	DeviceID  string    `json:"device_id"`
	BatteryOK bool      `json:"battery_ok"`
	LastSeen  time.Time `json:"last_seen"`
}

// Status reports pipeline health: degraded mode, publish buffer depth, last
// aggregation run, per-device battery and freshness, and any threshold
// alarms raised by the latest samples.
func (h *Handlers) Status(w http.ResponseWriter, req *http.Request) {
	response := map[string]interface{}{"ok": true}

	if h.controller.status != nil {
		response["degraded"] = h.controller.status.Degraded()
		response["buffer_depth"] = h.controller.status.BufferDepth()
	}

	lastRun, lastResult := h.controller.aggregator.LastRun()
	if lastResult != nil {
		response["last_aggregation"] = lastRun.UTC()
		response["last_aggregation_periods"] = lastResult.Periods
	}

	if h.controller.store != nil {
		latest, err := h.controller.store.LatestSamples(req.Context())
		if err != nil {
			h.controller.logger.Errorf("status query failed: %v", err)
			writeError(w, http.StatusInternalServerError, "store query failed")
			return
		}
		devices := make(map[string]*deviceStatus)
		for _, s := range latest {
			d, ok := devices[s.DeviceID]
			if !ok {
				d = &deviceStatus{DeviceID: s.DeviceID, BatteryOK: s.BatteryOK, LastSeen: s.Timestamp}
				devices[s.DeviceID] = d
				continue
			}
			if s.Timestamp.After(d.LastSeen) {
				d.LastSeen = s.Timestamp
				d.BatteryOK = s.BatteryOK
			}
		}
		list := make([]deviceStatus, 0, len(devices))
		for _, d := range devices {
			list = append(list, *d)
		}
		response["devices"] = list

		if h.controller.alarms != nil {
			alerts := h.controller.alarms.Evaluate(latest)
			if alerts == nil {
				alerts = []alarm.Alert{}
			}
			response["alarms"] = alerts
			response["alarms_ok"] = len(alerts) == 0
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// Latest returns the most recent sample per (device, channel).
func (h *Handlers) Latest(w http.ResponseWriter, req *http.Request) {
	if h.controller.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no sample store configured")
		return
	}

	samples, err := h.controller.store.LatestSamples(req.Context())
	if err != nil {
		h.controller.logger.Errorf("latest query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "store query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "samples": samples})
}

// Aggregate computes and returns the current aggregate for one
// (family, period) pair without touching the report artifacts.
func (h *Handlers) Aggregate(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	family := types.SensorFamily(vars["family"])
	if !validFamily(string(family)) {
		writeError(w, http.StatusBadRequest, "unknown sensor family: "+vars["family"])
		return
	}
	period := types.PeriodKind(vars["period"])
	if !validPeriod(string(period)) {
		writeError(w, http.StatusBadRequest, "unknown period kind: "+vars["period"])
		return
	}

	agg, err := h.controller.aggregator.Compute(req.Context(), family, period, time.Now())
	if err != nil {
		h.controller.logger.Errorf("aggregate query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "aggregation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "aggregate": agg})
}

// queryRequest is the body of POST /api/query.
type queryRequest struct {
	DeviceID string    `json:"device_id,omitempty"`
	Channel  string    `json:"channel"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

// Query returns raw samples for one channel in [from, to), optionally
// filtered to one device.
func (h *Handlers) Query(w http.ResponseWriter, req *http.Request) {
	if h.controller.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no sample store configured")
		return
	}

	var q queryRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, 1<<16)).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if q.Channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	if !q.From.Before(q.To) {
		writeError(w, http.StatusBadRequest, "from must precede to")
		return
	}

	samples, err := h.controller.store.SamplesInRange(req.Context(), []string{q.Channel}, q.From, q.To)
	if err != nil {
		h.controller.logger.Errorf("sample query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "store query failed")
		return
	}

	if q.DeviceID != "" {
		filtered := samples[:0]
		for _, s := range samples {
			if s.DeviceID == q.DeviceID {
				filtered = append(filtered, s)
			}
		}
		samples = filtered
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "samples": samples})
}

// NotFound handles unknown routes with the same JSON envelope.
func (h *Handlers) NotFound(w http.ResponseWriter, req *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func validFamily(s string) bool {
	for _, f := range types.Families() {
		if string(f) == s {
			return true
		}
	}
	return false
}

func validPeriod(s string) bool {
	for _, p := range types.PeriodKinds() {
		if string(p) == s {
			return true
		}
	}
	return false
}
