package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/grainwatch/granary-core/internal/command"
	"github.com/grainwatch/granary-core/internal/control"
	"github.com/grainwatch/granary-core/internal/device"
	"github.com/grainwatch/granary-core/internal/infrastructure/config"
	"github.com/grainwatch/granary-core/internal/infrastructure/logging"
	"github.com/grainwatch/granary-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// TelemetryService is the ingest surface the API consumes.
type TelemetryService interface {
	SubmitTelemetry(ctx context.Context, r telemetry.Reading) (*telemetry.Result, error)
	History(ctx context.Context, deviceID string, since time.Time, limit int) ([]telemetry.Reading, error)
	Latest(ctx context.Context, deviceID string) (*telemetry.Reading, error)
}

// CommandService is the command queue surface the API consumes.
type CommandService interface {
	Enqueue(ctx context.Context, req command.Request) (*command.Command, error)
	EnqueueBatch(ctx context.Context, reqs []command.Request) []command.BatchItem
	Get(ctx context.Context, id string) (*command.Command, error)
	Cancel(ctx context.Context, id, requester string) error
	Retry(ctx context.Context, id, requester string) error
	ListPending(ctx context.Context, deviceID string) ([]command.Command, error)
	ListHistory(ctx context.Context, deviceID string, since time.Time, limit int) ([]command.Command, error)
	CountByStatus(ctx context.Context) (map[command.Status]int, error)
}

// EmergencyService triggers facility-wide shutdown sequences.
type EmergencyService interface {
	Shutdown(ctx context.Context, scope control.Scope, requester string) (*control.ShutdownResult, error)
}

// DeviceService is the registry surface the API consumes.
type DeviceService interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	ListDevices(ctx context.Context) ([]device.Device, error)
	ListByStatus(ctx context.Context, status device.Status) ([]device.Device, error)
	CreateDevice(ctx context.Context, d *device.Device) error
	UpdateDevice(ctx context.Context, d *device.Device) error
	DeleteDevice(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status device.Status) error
	GetStats() device.Stats
}

// BusHealth reports broker connectivity for the metrics endpoint.
type BusHealth interface {
	IsConnected() bool
}

// DBStats reports database connection pool statistics for the metrics
// endpoint.
type DBStats interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Devices   DeviceService
	Telemetry TelemetryService
	Commands  CommandService
	Emergency EmergencyService
	Bus       BusHealth // optional, metrics only
	DB        DBStats   // optional, metrics only
	Hub       *Hub      // if set, the server uses this hub instead of creating its own
	Version   string
}

// Server is the HTTP API server for Granary Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	devices     DeviceService
	telemetry   TelemetryService
	commands    CommandService
	emergency   EmergencyService
	bus         BusHealth
	db          DBStats
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, services)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device service is required")
	}
	if deps.Telemetry == nil {
		return nil, fmt.Errorf("telemetry service is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command service is required")
	}
	// Emergency is optional so the server can run read-only during commissioning

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		devices:   deps.Devices,
		telemetry: deps.Telemetry,
		commands:  deps.Commands,
		emergency: deps.Emergency,
		bus:       deps.Bus,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}

	// Use an externally-provided hub if available (needed when the
	// notification fan-out also broadcasts through the hub).
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// Create WebSocket hub (unless one was injected externally)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	// Start listening in background
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
