package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"aquasync/internal/models"
	"aquasync/internal/service"
)

func postJSON(t *testing.T, r http.Handler, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	r.ServeHTTP(w, req)
	return w
}

func TestDeviceHandlers_ReportPollAck(t *testing.T) {
	tel := &mockTelemetry{action: models.ActionOn}
	cmds := &mockCommands{
		polled: models.ActionOn,
		cmd:    models.Command{AccountID: "ACC_1", Action: models.ActionOn, State: models.CommandExecuted},
	}
	r := newTestRouter(&service.Service{Telemetry: tel, Commands: cmds})

	// POST status → 200 with the command to apply, no auth needed
	w := postJSON(t, r, "/api/v1/devices/ACC_1/status",
		`{"pump_state":"on","flow_in_L_min":5.0,"flow_out_L_min":4.8,"battery_voltage_V":12.4,"leakage_detected":false}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status push=%d, body=%s", w.Code, w.Body.String())
	}
	var resp CommandResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Command != models.ActionOn || resp.Status != statusOK {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if tel.lastAccount != "ACC_1" {
		t.Fatalf("account from path not forwarded: %q", tel.lastAccount)
	}
	if tel.lastReadings.PumpState != models.PumpOn || tel.lastReadings.FlowInLPM != 5.0 || tel.lastReadings.BatteryVoltage != 12.4 {
		t.Fatalf("readings not normalized: %+v", tel.lastReadings)
	}
	if tel.lastReadings.BatteryPercent != nil {
		t.Fatalf("absent battery_percent must stay nil")
	}

	// GET command → 200
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/devices/ACC_1/command", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("poll=%d, body=%s", w.Code, w.Body.String())
	}
	resp = CommandResponse{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Command != models.ActionOn {
		t.Fatalf("poll command=%q", resp.Command)
	}

	// POST ack → 200 and lowercase action normalized
	w = postJSON(t, r, "/api/v1/devices/ACC_1/command/ack", `{"action":"on"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ack=%d, body=%s", w.Code, w.Body.String())
	}
	if cmds.ackCalls != 1 || cmds.lastAction != models.ActionOn {
		t.Fatalf("ack not forwarded: calls=%d action=%q", cmds.ackCalls, cmds.lastAction)
	}
}

func TestDeviceHandlers_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		tel        *mockTelemetry
		cmds       *mockCommands
		path       string
		body       string
		want       int
		retryAfter bool
	}{
		{"unknown account", &mockTelemetry{reportErr: service.ErrUnknownAccount}, &mockCommands{},
			"/api/v1/devices/NOPE/status", `{"pump_state":"OFF"}`, http.StatusNotFound, false},
		{"store timeout", &mockTelemetry{reportErr: service.ErrStoreTimeout}, &mockCommands{},
			"/api/v1/devices/ACC_1/status", `{"pump_state":"OFF"}`, http.StatusServiceUnavailable, true},
		{"stale ack", &mockTelemetry{}, &mockCommands{err: service.ErrStaleAck},
			"/api/v1/devices/ACC_1/command/ack", `{"action":"ON"}`, http.StatusConflict, false},
		{"ack of NONE", &mockTelemetry{}, &mockCommands{},
			"/api/v1/devices/ACC_1/command/ack", `{"action":"NONE"}`, http.StatusBadRequest, false},
		{"malformed body", &mockTelemetry{}, &mockCommands{},
			"/api/v1/devices/ACC_1/status", `{"flow_in_L_min":"fast"}`, http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&service.Service{Telemetry: tc.tel, Commands: tc.cmds})
			w := postJSON(t, r, tc.path, tc.body, nil)
			if w.Code != tc.want {
				t.Fatalf("status=%d, want %d, body=%s", w.Code, tc.want, w.Body.String())
			}
			if got := w.Header().Get("Retry-After") != ""; got != tc.retryAfter {
				t.Fatalf("Retry-After present=%v, want %v", got, tc.retryAfter)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	r := newTestRouter(&service.Service{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health=%d", w.Code)
	}
}
