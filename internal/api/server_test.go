package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-lifx/internal/bridges/lifx"
	"github.com/nerrad567/gray-logic-lifx/internal/device"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lifx/migrations"
)

const testSerial = "d073d5010203"

// ============================================================================
// Fakes
// ============================================================================

// fakeBridge implements Bridge with canned devices.
type fakeBridge struct {
	mu          sync.Mutex
	devices     map[lifx.Serial]lifx.DeviceStatus
	known       []lifx.KnownDevice
	metrics     lifx.BridgeMetrics
	actionErr   error
	identified  []lifx.Serial
	refreshed   []lifx.Serial
	panicOnList bool
}

func newFakeBridge() *fakeBridge {
	serial, _ := lifx.ParseSerial(testSerial)
	return &fakeBridge{
		devices: map[lifx.Serial]lifx.DeviceStatus{
			serial: {
				Snapshot: lifx.Snapshot{
					Serial: serial.String(),
					Host:   "10.0.0.5",
					Port:   56700,
					Label:  "Kitchen",
					Model:  "LIFX A19",
				},
				Available:  true,
				CycleState: "success",
			},
		},
		metrics: lifx.BridgeMetrics{
			Connected:        true,
			Status:           "healthy",
			DevicesManaged:   1,
			DevicesAvailable: 1,
		},
	}
}

func (f *fakeBridge) Devices() []lifx.DeviceStatus {
	if f.panicOnList {
		panic("boom")
	}
	out := make([]lifx.DeviceStatus, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, d)
	}
	return out
}

func (f *fakeBridge) Device(serial lifx.Serial) (lifx.DeviceStatus, error) {
	d, ok := f.devices[serial]
	if !ok {
		return lifx.DeviceStatus{}, fmt.Errorf("%w: %s", lifx.ErrUnknownDevice, serial)
	}
	return d, nil
}

func (f *fakeBridge) Diagnostics(serial lifx.Serial) (map[string]any, error) {
	d, err := f.Device(serial)
	if err != nil {
		return nil, err
	}
	return map[string]any{"serial": d.Serial, "rssi": -55}, nil
}

func (f *fakeBridge) Identify(_ context.Context, serial lifx.Serial) error {
	if _, err := f.Device(serial); err != nil {
		return err
	}
	if f.actionErr != nil {
		return f.actionErr
	}
	f.mu.Lock()
	f.identified = append(f.identified, serial)
	f.mu.Unlock()
	return nil
}

func (f *fakeBridge) Refresh(_ context.Context, serial lifx.Serial) error {
	if _, err := f.Device(serial); err != nil {
		return err
	}
	if f.actionErr != nil {
		return f.actionErr
	}
	f.mu.Lock()
	f.refreshed = append(f.refreshed, serial)
	f.mu.Unlock()
	return nil
}

func (f *fakeBridge) KnownDevices() []lifx.KnownDevice { return f.known }

func (f *fakeBridge) GetMetrics() lifx.BridgeMetrics { return f.metrics }

// fakeHistory implements HistoryReader.
type fakeHistory struct {
	entries []device.StateHistoryEntry
	err     error
	limit   int
}

func (f *fakeHistory) GetHistory(_ context.Context, _ string, limit int) ([]device.StateHistoryEntry, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	out := make([]device.StateHistoryEntry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

// ============================================================================
// Helpers
// ============================================================================

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

// testServer creates a Server around the given fakes.
func testServer(t *testing.T, bridge Bridge, history HistoryReader, registry *device.Registry) *Server {
	t.Helper()

	deps := Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0},
		Logger:   testLogger(),
		Bridge:   bridge,
		Registry: registry,
		Gatherer: prometheus.NewRegistry(),
		Version:  "test",
	}
	if history != nil {
		deps.History = history
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

// testRegistry opens a migrated SQLite database and returns a registry on it.
func testRegistry(t *testing.T) *device.Registry {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // test cleanup
	})

	all, err := migrations.All()
	if err != nil {
		t.Fatalf("migrations.All() error: %v", err)
	}
	if err := db.Migrate(context.Background(), all); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	return device.NewRegistry(device.NewSQLiteRepository(db.DB))
}

// do sends a request through the full router.
func do(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	var e Error
	decode(t, rec, &e)
	if e.Status != status || e.Code != code {
		t.Errorf("error = %+v, want status %d code %q", e, status, code)
	}
}

// ============================================================================
// Construction and lifecycle
// ============================================================================

func TestNew_Validation(t *testing.T) {
	if _, err := New(Deps{Bridge: newFakeBridge()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without bridge should fail")
	}

	srv, err := New(Deps{Logger: testLogger(), Bridge: newFakeBridge()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if srv.gatherer != prometheus.DefaultGatherer {
		t.Error("gatherer should default to prometheus.DefaultGatherer")
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv := testServer(t, newFakeBridge(), nil, nil)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if srv.Addr() != "" {
		t.Errorf("Addr() before Start = %q, want empty", srv.Addr())
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer srv.Close() //nolint:errcheck // closed explicitly below

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close() //nolint:errcheck // test
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first := testServer(t, newFakeBridge(), nil, nil)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer first.Close() //nolint:errcheck // test cleanup

	_, port, _ := strings.Cut(first.Addr(), ":")
	second := testServer(t, newFakeBridge(), nil, nil)
	fmt.Sscanf(port, "%d", &second.cfg.Port) //nolint:errcheck // test
	if err := second.Start(context.Background()); err == nil {
		second.Close() //nolint:errcheck // test cleanup
		t.Error("Start() on a bound port should fail")
	}
}

func TestServer_CloseBeforeStart(t *testing.T) {
	srv := testServer(t, newFakeBridge(), nil, nil)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start error: %v", err)
	}
}

// ============================================================================
// Health and metrics
// ============================================================================

func TestHandleHealth(t *testing.T) {
	bridge := newFakeBridge()
	bridge.metrics.Status = "degraded"
	srv := testServer(t, bridge, nil, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Status  string             `json:"status"`
		Version string             `json:"version"`
		Bridge  lifx.BridgeMetrics `json:"bridge"`
	}
	decode(t, rec, &body)
	if body.Status != "degraded" || body.Version != "test" {
		t.Errorf("body = %+v", body)
	}
	if !body.Bridge.Connected || body.Bridge.DevicesManaged != 1 {
		t.Errorf("bridge = %+v", body.Bridge)
	}
}

func TestHandleSystem(t *testing.T) {
	srv := testServer(t, newFakeBridge(), nil, testRegistry(t))

	rec := do(t, srv, http.MethodGet, "/api/v1/system")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body SystemMetrics
	decode(t, rec, &body)
	if body.Version != "test" || body.Runtime.Goroutines == 0 {
		t.Errorf("body = %+v", body)
	}
	if body.Bridge.Status != "healthy" {
		t.Errorf("Bridge.Status = %q, want healthy", body.Bridge.Status)
	}
	if body.Registry == nil || body.Registry.Stored != 0 {
		t.Errorf("Registry = %+v, want 0 stored", body.Registry)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lifx_test_total",
		Help: "Test counter.",
	})
	reg.MustRegister(counter)
	counter.Inc()

	srv, err := New(Deps{Logger: testLogger(), Bridge: newFakeBridge(), Gatherer: reg})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	rec := do(t, srv, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "lifx_test_total 1") {
		t.Errorf("metrics body missing counter:\n%s", rec.Body.String())
	}
}

// ============================================================================
// Devices
// ============================================================================

func TestHandleListDevices(t *testing.T) {
	srv := testServer(t, newFakeBridge(), nil, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/devices")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Devices []lifx.DeviceStatus `json:"devices"`
		Count   int                 `json:"count"`
	}
	decode(t, rec, &body)
	if body.Count != 1 || len(body.Devices) != 1 {
		t.Fatalf("body = %+v, want one device", body)
	}
	if body.Devices[0].Label != "Kitchen" || !body.Devices[0].Available {
		t.Errorf("device = %+v", body.Devices[0])
	}
}

func TestHandleGetDevice(t *testing.T) {
	tests := []struct {
		name   string
		serial string
		status int
		code   string
	}{
		{"compact serial", testSerial, http.StatusOK, ""},
		{"colon serial", "d0:73:d5:01:02:03", http.StatusOK, ""},
		{"unknown device", "d073d5ffffff", http.StatusNotFound, ErrCodeNotFound},
		{"malformed serial", "xyz", http.StatusBadRequest, ErrCodeBadRequest},
		{"wildcard serial", "000000000000", http.StatusBadRequest, ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, newFakeBridge(), nil, nil)
			rec := do(t, srv, http.MethodGet, "/api/v1/devices/"+tt.serial)

			if tt.code != "" {
				assertError(t, rec, tt.status, tt.code)
				return
			}
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			var body deviceResponse
			decode(t, rec, &body)
			if body.Serial != "d0:73:d5:01:02:03" {
				t.Errorf("Serial = %q", body.Serial)
			}
			if body.Registry != nil {
				t.Error("Registry should be omitted without a registry")
			}
		})
	}
}

func TestHandleGetDevice_WithRegistryRecord(t *testing.T) {
	registry := testRegistry(t)
	if _, err := registry.RegisterDevice(context.Background(), device.Device{
		Serial: testSerial,
		Host:   "10.0.0.5",
		Label:  "Kitchen",
		Source: device.SourceDiscovery,
	}); err != nil {
		t.Fatalf("RegisterDevice() error: %v", err)
	}
	srv := testServer(t, newFakeBridge(), nil, registry)

	rec := do(t, srv, http.MethodGet, "/api/v1/devices/"+testSerial)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body deviceResponse
	decode(t, rec, &body)
	if body.Registry == nil {
		t.Fatal("Registry record missing")
	}
	if body.Registry.Source != device.SourceDiscovery || body.Registry.Host != "10.0.0.5" {
		t.Errorf("Registry = %+v", body.Registry)
	}
}

func TestHandleGetDiagnostics(t *testing.T) {
	srv := testServer(t, newFakeBridge(), nil, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/devices/"+testSerial+"/diagnostics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["rssi"] != float64(-55) {
		t.Errorf("rssi = %v, want -55", body["rssi"])
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/devices/d073d5ffffff/diagnostics")
	assertError(t, rec, http.StatusNotFound, ErrCodeNotFound)
}

func TestHandleIdentifyAndRefresh(t *testing.T) {
	bridge := newFakeBridge()
	srv := testServer(t, bridge, nil, nil)

	rec := do(t, srv, http.MethodPost, "/api/v1/devices/"+testSerial+"/identify")
	if rec.Code != http.StatusOK {
		t.Fatalf("identify status = %d, want 200", rec.Code)
	}
	rec = do(t, srv, http.MethodPost, "/api/v1/devices/"+testSerial+"/refresh")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", rec.Code)
	}
	var status lifx.DeviceStatus
	decode(t, rec, &status)
	if status.Label != "Kitchen" {
		t.Errorf("refresh returned %+v", status)
	}

	if len(bridge.identified) != 1 || len(bridge.refreshed) != 1 {
		t.Errorf("identified=%d refreshed=%d, want 1 each", len(bridge.identified), len(bridge.refreshed))
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/devices/"+testSerial+"/identify")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET identify status = %d, want 405", rec.Code)
	}
}

func TestBridgeErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unsupported", fmt.Errorf("%w: no infrared", lifx.ErrUnsupported), http.StatusUnprocessableEntity, ErrCodeUnsupported},
		{"timeout", lifx.ErrRequestTimeout, http.StatusGatewayTimeout, ErrCodeDeviceUnreachable},
		{"soft disconnect", lifx.ErrSoftDisconnect, http.StatusGatewayTimeout, ErrCodeDeviceUnreachable},
		{"update failed", fmt.Errorf("refresh: %w", lifx.ErrUpdateFailed), http.StatusGatewayTimeout, ErrCodeDeviceUnreachable},
		{"closed", lifx.ErrClosed, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := newFakeBridge()
			bridge.actionErr = tt.err
			srv := testServer(t, bridge, nil, nil)

			rec := do(t, srv, http.MethodPost, "/api/v1/devices/"+testSerial+"/refresh")
			assertError(t, rec, tt.status, tt.code)
		})
	}
}

func TestHandleListKnownDevices(t *testing.T) {
	bridge := newFakeBridge()
	srv := testServer(t, bridge, nil, nil)

	// nil means discovery is off.
	rec := do(t, srv, http.MethodGet, "/api/v1/discovery")
	assertError(t, rec, http.StatusServiceUnavailable, ErrCodeServiceUnavailable)

	serial, _ := lifx.ParseSerial(testSerial)
	bridge.known = []lifx.KnownDevice{{Serial: serial, Host: "10.0.0.5", Port: 56700, Connected: true}}

	rec = do(t, srv, http.MethodGet, "/api/v1/discovery")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Devices []map[string]any `json:"devices"`
		Count   int              `json:"count"`
	}
	decode(t, rec, &body)
	if body.Count != 1 || body.Devices[0]["serial"] != "d0:73:d5:01:02:03" {
		t.Errorf("body = %+v", body)
	}
}

// ============================================================================
// History
// ============================================================================

func TestHandleGetDeviceHistory(t *testing.T) {
	now := time.Now().UTC()
	history := &fakeHistory{entries: []device.StateHistoryEntry{
		{ID: 2, Serial: "d0:73:d5:01:02:03", State: device.State{"on": true}, Source: "command", CreatedAt: now},
		{ID: 1, Serial: "d0:73:d5:01:02:03", State: device.State{"on": false}, Source: "poll", CreatedAt: now.Add(-time.Hour)},
	}}
	srv := testServer(t, newFakeBridge(), history, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/devices/"+testSerial+"/history")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Serial  string                     `json:"serial"`
		History []device.StateHistoryEntry `json:"history"`
		Count   int                        `json:"count"`
	}
	decode(t, rec, &body)
	if body.Count != 2 || history.limit != defaultHistoryLimit {
		t.Errorf("count = %d limit = %d", body.Count, history.limit)
	}

	since := now.Add(-time.Minute).Format(time.RFC3339Nano)
	rec = do(t, srv, http.MethodGet, "/api/v1/devices/"+testSerial+"/history?limit=10&since="+since)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	decode(t, rec, &body)
	if body.Count != 1 || body.History[0].Source != "command" || history.limit != 10 {
		t.Errorf("filtered body = %+v limit = %d", body, history.limit)
	}
}

func TestHandleGetDeviceHistory_Errors(t *testing.T) {
	tests := []struct {
		name    string
		history HistoryReader
		query   string
		status  int
		code    string
	}{
		{"zero limit", &fakeHistory{}, "?limit=0", http.StatusBadRequest, ErrCodeBadRequest},
		{"limit too large", &fakeHistory{}, "?limit=201", http.StatusBadRequest, ErrCodeBadRequest},
		{"bad since", &fakeHistory{}, "?since=yesterday", http.StatusBadRequest, ErrCodeBadRequest},
		{"no store", nil, "", http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{"store error", &fakeHistory{err: errors.New("disk")}, "", http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, newFakeBridge(), tt.history, nil)
			rec := do(t, srv, http.MethodGet, "/api/v1/devices/"+testSerial+"/history"+tt.query)
			assertError(t, rec, tt.status, tt.code)
		})
	}
}

func TestParseHistoryLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", 50, false},
		{"1", 1, false},
		{"200", 200, false},
		{"201", 0, true},
		{"-3", 0, true},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		got, err := parseHistoryLimit(tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseHistoryLimit(%q) = %d, %v", tt.raw, got, err)
		}
	}
}

// ============================================================================
// Middleware
// ============================================================================

func TestRequestIDMiddleware(t *testing.T) {
	srv := testServer(t, newFakeBridge(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", maxRequestIDLen+1))
	rec = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Errorf("oversized X-Request-ID not replaced: %q", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	bridge := newFakeBridge()
	bridge.panicOnList = true
	srv := testServer(t, bridge, nil, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/devices")
	assertError(t, rec, http.StatusInternalServerError, ErrCodeInternal)
}
