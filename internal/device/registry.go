package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations. The dispatch scheduler and
// health monitor read from the cache every cycle, so lookups must not
// hit the database on the hot path.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with copies
	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.Copy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.Copy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups
	r.cacheMu.Lock()
	r.cache[id] = d.Copy()
	r.cacheMu.Unlock()

	return d, nil
}

// ListDevices retrieves all devices.
// The returned devices are copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.Copy())
		}
		return devices, nil
	}

	// Fall back to repository
	return r.repo.List(ctx)
}

// ListByStatus retrieves all devices with the given connectivity status.
// The returned devices are copies; callers can safely modify them.
func (r *Registry) ListByStatus(ctx context.Context, status Status) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Filter from cache if populated
	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.Status == status {
				devices = append(devices, *d.Copy())
			}
		}
		return devices, nil
	}

	return r.repo.ListByStatus(ctx, status)
}

// CreateDevice creates a new device.
// It validates the device, generates an ID if needed, applies default
// control configuration for a zero-valued Config, and persists it.
func (r *Registry) CreateDevice(ctx context.Context, d *Device) error {
	// Generate ID if not provided
	if d.ID == "" {
		d.ID = GenerateID()
	}

	// A zero-valued config means the caller did not supply one.
	if d.Config == (Config{}) {
		d.Config = DefaultConfig()
	}

	// Validate
	if err := ValidateDevice(d); err != nil {
		return err
	}

	// Persist
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	r.cache[d.ID] = d.Copy()
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", d.ID, "name", d.Name)
	return nil
}

// UpdateDevice updates an existing device.
// It validates the device and persists the changes.
func (r *Registry) UpdateDevice(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.Copy()
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", d.ID, "name", d.Name)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SetStatus transitions the connectivity status of a device.
// Returns ErrInvalidStatus for an unrecognised status value.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status) error {
	if !ValidStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	if err := r.repo.UpdateStatus(ctx, id, status); err != nil {
		return err
	}

	// Update cache with atomic replacement
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.Copy()
		updated.Status = status
		updated.UpdatedAt = time.Now().UTC()
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Info("device status changed", "id", id, "status", status)
	return nil
}

// MarkSeen records that the device reported telemetry at the given time.
// A device currently offline is transitioned back to online: data flowing
// is the definition of liveness here.
func (r *Registry) MarkSeen(ctx context.Context, id string, seen time.Time) error {
	if err := r.repo.UpdateLastSeen(ctx, id, seen); err != nil {
		return err
	}

	var cameOnline bool

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.Copy()
		ts := seen.UTC()
		updated.LastSeen = &ts
		if updated.Status == StatusOffline {
			updated.Status = StatusOnline
			cameOnline = true
		}
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	if cameOnline {
		if err := r.repo.UpdateStatus(ctx, id, StatusOnline); err != nil {
			return fmt.Errorf("restoring device online: %w", err)
		}
		r.logger.Info("device back online", "id", id)
	}

	return nil
}

// DeviceCount returns the number of cached devices.
func (r *Registry) DeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats holds registry statistics for monitoring.
type Stats struct {
	TotalDevices int            `json:"total_devices"`
	ByStatus     map[Status]int `json:"by_status"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByStatus:     make(map[Status]int),
	}

	for _, d := range r.cache {
		stats.ByStatus[d.Status]++
	}

	return stats
}
