package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/grainwatch/granary-core/internal/infrastructure/config"
)

const defaultConnectTimeout = 10 * time.Second

// Logger is the minimal logging interface the client requires.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client mirrors telemetry into InfluxDB for trend dashboards and
// retention beyond what the operational SQLite database keeps.
//
// Writes go through the non-blocking write API: points are batched by
// the underlying client and flushed on size or interval. Write failures
// arrive on an error channel and are logged; the mirror is best effort
// and never blocks ingest.
//
// All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	connected bool
	mu        sync.RWMutex

	// drains the async error channel
	wg sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// Connect creates a client and verifies the server is reachable.
//
// Parameters:
//   - ctx: Context for the initial health check
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrDisabled when turned off in config, ErrConnectionFailed
//     when the server cannot be reached
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 1
	}

	options := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flushInterval * 1000)) // milliseconds

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if ok, err := client.Ping(pingCtx); err != nil || !ok {
		client.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		return nil, fmt.Errorf("%w: ping returned not ready", ErrConnectionFailed)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		connected: true,
		logger:    noopLogger{},
	}

	// Async write failures surface here; log them so a broken mirror
	// is visible without ever blocking the ingest path.
	c.wg.Add(1)
	go c.drainErrors()

	return c, nil
}

// SetLogger sets a logger for asynchronous write failures.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	if logger != nil {
		c.logger = logger
	}
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) drainErrors() {
	defer c.wg.Done()
	for err := range c.writeAPI.Errors() {
		c.getLogger().Warn("influxdb write failed", "error", err)
	}
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck verifies the server is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ok, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if !ok {
		return fmt.Errorf("influxdb health check: server not ready")
	}
	return nil
}

// Close flushes pending points and shuts the client down.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close() // closes the error channel, ending drainErrors
	c.wg.Wait()
	return nil
}
