package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grainwatch/granary-core/internal/device"
	"github.com/grainwatch/granary-core/internal/notify"
)

// HealthRegistry is the registry surface the health monitor consumes.
type HealthRegistry interface {
	ListByStatus(ctx context.Context, status device.Status) ([]device.Device, error)
	SetStatus(ctx context.Context, id string, status device.Status) error
}

// HealthMonitorConfig holds configuration for the health monitor.
type HealthMonitorConfig struct {
	// Interval is how often device liveness is checked.
	// Default: 5 minutes.
	Interval time.Duration

	// StalenessThreshold is how long a device may go without reporting
	// before it is considered offline. Default: 20 minutes.
	StalenessThreshold time.Duration
}

// HealthMonitor periodically sweeps online devices for ones gone
// silent. A stale device is transitioned to offline and a
// device_offline alert is emitted exactly once per transition; while
// the device stays offline no further alerts are raised, and the next
// accepted reading flips it back to online through the registry.
type HealthMonitor struct {
	devices   HealthRegistry
	sink      notify.Sink
	interval  time.Duration
	staleness time.Duration

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewHealthMonitor creates a health monitor.
func NewHealthMonitor(devices HealthRegistry, cfg HealthMonitorConfig) *HealthMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = 20 * time.Minute
	}
	return &HealthMonitor{
		devices:   devices,
		interval:  cfg.Interval,
		staleness: cfg.StalenessThreshold,
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger attaches a logger. Safe to skip; defaults to no-op.
func (h *HealthMonitor) SetLogger(logger Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// SetSink attaches the notification sink for offline alerts.
func (h *HealthMonitor) SetSink(sink notify.Sink) {
	h.sink = sink
}

// Start begins the periodic liveness sweep.
// Must be called after creation. Call Stop to shut down.
func (h *HealthMonitor) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.run(ctx)
}

// Stop gracefully stops the sweep. Safe to call multiple times.
func (h *HealthMonitor) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
	})
}

func (h *HealthMonitor) run(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs one liveness sweep over all online devices. Exposed
// for tests and for forcing a sweep on demand.
func (h *HealthMonitor) CheckOnce(ctx context.Context) {
	devices, err := h.devices.ListByStatus(ctx, device.StatusOnline)
	if err != nil {
		h.logger.Error("health sweep could not list devices", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, d := range devices {
		// A device that has never reported is measured from creation,
		// so a dead-on-arrival install still surfaces.
		reference := d.CreatedAt
		if d.LastSeen != nil {
			reference = *d.LastSeen
		}

		silence := now.Sub(reference)
		if silence <= h.staleness {
			continue
		}

		if err := h.devices.SetStatus(ctx, d.ID, device.StatusOffline); err != nil {
			h.logger.Error("could not mark device offline",
				"device_id", d.ID, "error", err)
			continue
		}

		h.logger.Warn("device gone silent",
			"device_id", d.ID,
			"silence", silence.Round(time.Second).String())

		h.emitOffline(d, silence)
	}
}

func (h *HealthMonitor) emitOffline(d device.Device, silence time.Duration) {
	if h.sink == nil {
		return
	}

	event := notify.Event{
		Kind:     "device_offline",
		DeviceID: d.ID,
		Severity: notify.SeverityWarning,
		Message: fmt.Sprintf("device %s has not reported for %s",
			d.Name, silence.Round(time.Second)),
		Metadata: map[string]any{
			"location":       d.Location,
			"silent_seconds": int(silence.Seconds()),
		},
		OccurredAt: time.Now().UTC(),
	}
	if err := h.sink.Notify(event); err != nil {
		h.logger.Warn("offline alert not delivered",
			"device_id", d.ID, "error", err)
	}
}
