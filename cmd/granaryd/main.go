// Granary Core - Grain Storage Environmental Monitoring
//
// This is the main entry point for the Granary Core service. It supervises
// the environmental safety loop for a grain-storage facility:
//   - Telemetry ingest from silo sensor units (HTTP and MQTT)
//   - Threshold evaluation against fixed safety ceilings
//   - Auto-control of fans and pumps from per-device comfort bands
//   - Command queue with prioritised dispatch to field gateways
//   - Device liveness monitoring and emergency shutdown
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/grainwatch/granary-core/migrations"

	"github.com/grainwatch/granary-core/internal/api"
	"github.com/grainwatch/granary-core/internal/command"
	"github.com/grainwatch/granary-core/internal/control"
	"github.com/grainwatch/granary-core/internal/device"
	"github.com/grainwatch/granary-core/internal/dispatch"
	"github.com/grainwatch/granary-core/internal/infrastructure/config"
	"github.com/grainwatch/granary-core/internal/infrastructure/database"
	"github.com/grainwatch/granary-core/internal/infrastructure/influxdb"
	"github.com/grainwatch/granary-core/internal/infrastructure/logging"
	"github.com/grainwatch/granary-core/internal/infrastructure/mqtt"
	"github.com/grainwatch/granary-core/internal/notify"
	"github.com/grainwatch/granary-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Granary Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "facility", cfg.Facility.ID)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version, cfg.Facility.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device registry
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("device_registry"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.DeviceCount())

	// Connect to MQTT broker
	bus, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	bus.SetLogger(log.Component("mqtt"))
	bus.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	bus.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	qos := byte(cfg.MQTT.QoS)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetLogger(log)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub is created ahead of the API server so notification
	// fan-out can broadcast through it.
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	// Notification fan-out: broker alert topics, structured log, dashboards.
	sink := notify.NewMultiSink(
		notify.NewMQTTSink(bus, qos),
		notify.NewLogSink(log),
		hub,
	)

	// Command queue
	queue := command.NewQueue(command.NewSQLiteStore(db.DB), registry)
	queue.SetLogger(log.Component("command_queue"))
	queue.SetSink(sink)

	// Control: auto-control loop and emergency dispatcher
	autoControl := control.NewAutoController(queue)
	autoControl.SetLogger(log.Component("auto_control"))

	emergency := control.NewEmergencyDispatcher(registry, queue)
	emergency.SetLogger(log.Component("emergency"))
	emergency.SetSink(sink)

	// Telemetry ingest pipeline
	ingest := telemetry.NewService(registry, telemetry.NewSQLiteRepository(db.DB))
	ingest.SetLogger(log.Component("telemetry"))
	ingest.SetController(autoControl)
	ingest.SetSink(sink)
	if influxClient != nil {
		ingest.SetPointWriter(influxClient)
	}

	// Bridge broker telemetry and command acknowledgements into the core
	busIngest := telemetry.NewBusIngest(bus, ingest, qos)
	busIngest.SetLogger(log.Component("telemetry_ingest"))
	if startErr := busIngest.Start(ctx); startErr != nil {
		return fmt.Errorf("subscribing to telemetry: %w", startErr)
	}

	acks := dispatch.NewAckListener(bus, registry, qos)
	acks.SetLogger(log.Component("ack_listener"))
	acks.SetSink(sink)
	if startErr := acks.Start(ctx); startErr != nil {
		return fmt.Errorf("subscribing to acks: %w", startErr)
	}

	// Dispatch scheduler: claims pending commands and delivers them
	scheduler := dispatch.NewScheduler(queue, registry, dispatch.NewMQTTExecutor(bus, qos), dispatch.SchedulerConfig{
		Interval:   cfg.Control.GetDispatchInterval(),
		ClaimLimit: cfg.Control.ClaimLimit,
	})
	scheduler.SetLogger(log.Component("dispatch"))
	scheduler.Start(ctx)
	defer func() {
		log.Info("stopping dispatch scheduler")
		scheduler.Stop()
	}()

	// Health monitor: marks silent devices offline
	healthMonitor := dispatch.NewHealthMonitor(registry, dispatch.HealthMonitorConfig{
		Interval:           cfg.Control.GetHealthInterval(),
		StalenessThreshold: cfg.Control.GetStalenessThreshold(),
	})
	healthMonitor.SetLogger(log.Component("health_monitor"))
	healthMonitor.SetSink(sink)
	healthMonitor.Start(ctx)
	defer func() {
		log.Info("stopping health monitor")
		healthMonitor.Stop()
	}()

	// HTTP API server
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log.Component("api"),
		Devices:   registry,
		Telemetry: ingest,
		Commands:  queue,
		Emergency: emergency,
		Bus:       bus,
		DB:        db,
		Hub:       hub,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, bus, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Health monitor, dispatch scheduler
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("Granary Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRANARY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRANARY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - bus: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, bus *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := bus.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
