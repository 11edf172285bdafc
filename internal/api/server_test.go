package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/grainwatch/granary-core/internal/command"
	"github.com/grainwatch/granary-core/internal/control"
	"github.com/grainwatch/granary-core/internal/device"
	"github.com/grainwatch/granary-core/internal/infrastructure/config"
	"github.com/grainwatch/granary-core/internal/infrastructure/database"
	"github.com/grainwatch/granary-core/internal/infrastructure/logging"
	"github.com/grainwatch/granary-core/internal/notify"
	"github.com/grainwatch/granary-core/internal/telemetry"
	_ "github.com/grainwatch/granary-core/migrations"
)

// testServer creates a Server with real services backed by in-memory SQLite.
func testServer(t *testing.T) (*Server, *device.Registry) {
	t.Helper()

	db := setupTestDB(t)

	registry := device.NewRegistry(device.NewSQLiteRepository(db))
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	queue := command.NewQueue(command.NewSQLiteStore(db), registry)
	ingest := telemetry.NewService(registry, telemetry.NewSQLiteRepository(db))
	emergency := control.NewEmergencyDispatcher(registry, queue)

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test", "")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:    log,
		Devices:   registry,
		Telemetry: ingest,
		Commands:  queue,
		Emergency: emergency,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Initialise hub for tests
	srv.hub = NewHub(srv.wsCfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)
	t.Cleanup(cancel)

	return srv, registry
}

// setupTestDB opens a temporary database and applies the shipped
// migrations, so the handlers exercise the production schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "granary.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db.DB
}

// seedDevice registers a device and optionally brings it online.
func seedDevice(t *testing.T, registry *device.Registry, name string, online bool) *device.Device {
	t.Helper()

	dev := &device.Device{Name: name, Location: "silo-a"}
	if err := registry.CreateDevice(context.Background(), dev); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if online {
		if err := registry.SetStatus(context.Background(), dev.ID, device.StatusOnline); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		dev.Status = device.StatusOnline
	}
	return dev
}

// asOperator stamps a request with a caller identity header.
func asOperator(req *http.Request) *http.Request {
	req.Header.Set("X-Requester", "operator-7")
	return req
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMetrics(t *testing.T) {
	srv, registry := testServer(t)
	router := srv.buildRouter()
	seedDevice(t, registry, "Silo A Sensor", true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}

	var metrics SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if metrics.Devices.Total != 1 {
		t.Errorf("devices total = %d, want 1", metrics.Devices.Total)
	}
	if metrics.Devices.ByStatus[device.StatusOnline] != 1 {
		t.Errorf("online devices = %d, want 1", metrics.Devices.ByStatus[device.StatusOnline])
	}
	if metrics.Runtime.Goroutines < 1 {
		t.Error("expected goroutine count in runtime metrics")
	}
	if metrics.Queue == nil {
		t.Error("expected queue depth in metrics")
	}
}

func TestIdentity_BearerSubject(t *testing.T) {
	srv, registry := testServer(t)
	router := srv.buildRouter()
	dev := seedDevice(t, registry, "Silo A Sensor", true)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "shift-lead"})
	signed, err := token.SignedString([]byte("gateway-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	body := `{"device_id": "` + dev.ID + `", "kind": "fan_on"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var cmd command.Command
	if err := json.Unmarshal(w.Body.Bytes(), &cmd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cmd.Issuer != "shift-lead" {
		t.Errorf("issuer = %q, want token subject %q", cmd.Issuer, "shift-lead")
	}
}

func TestIdentity_HeaderFallback(t *testing.T) {
	srv, registry := testServer(t)
	router := srv.buildRouter()
	dev := seedDevice(t, registry, "Silo A Sensor", true)

	body := `{"device_id": "` + dev.ID + `", "kind": "fan_on"}`
	req := asOperator(httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(body)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var cmd command.Command
	if err := json.Unmarshal(w.Body.Bytes(), &cmd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cmd.Issuer != "operator-7" {
		t.Errorf("issuer = %q, want %q", cmd.Issuer, "operator-7")
	}
}

func TestIdentity_BodyIssuerIgnored(t *testing.T) {
	srv, registry := testServer(t)
	router := srv.buildRouter()
	dev := seedDevice(t, registry, "Silo A Sensor", true)

	body := `{"device_id": "` + dev.ID + `", "kind": "fan_on", "issuer": "forged"}`
	req := asOperator(httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(body)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var cmd command.Command
	if err := json.Unmarshal(w.Body.Bytes(), &cmd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cmd.Issuer != "operator-7" {
		t.Errorf("issuer = %q, body issuer must not win", cmd.Issuer)
	}
}

func TestIdentity_MissingRejected(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	body := `{"device_id": "dev-1", "kind": "fan_on"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestIdentity_MalformedTokenFallsThrough(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	body := `{"device_id": "dev-1", "kind": "fan_on"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// notifyEvent builds a minimal notification event for hub tests.
func notifyEvent(kind string) notify.Event {
	return notify.Event{
		Kind:     kind,
		Severity: notify.SeverityWarning,
		Message:  "test event",
	}
}

func TestHubNotify_RoutesByKind(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test", "")
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)

	// No clients connected: Notify must still succeed quietly.
	if err := hub.Notify(notifyEvent("high_temperature")); err != nil {
		t.Errorf("Notify(alert) error: %v", err)
	}
	if err := hub.Notify(notifyEvent("command_failed")); err != nil {
		t.Errorf("Notify(command) error: %v", err)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0", hub.ClientCount())
	}
}
