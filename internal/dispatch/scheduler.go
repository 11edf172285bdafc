package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/grainwatch/granary-core/internal/command"
	"github.com/grainwatch/granary-core/internal/device"
)

// Logger is the minimal logging interface the dispatch loops require.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ClaimQueue is the command queue surface the scheduler consumes.
type ClaimQueue interface {
	ClaimNext(ctx context.Context, deviceID string, limit int) ([]command.Command, error)
	MarkExecuted(ctx context.Context, id, response string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// DeviceLister is the registry surface the scheduler consumes.
type DeviceLister interface {
	ListByStatus(ctx context.Context, status device.Status) ([]device.Device, error)
}

// SchedulerConfig holds configuration for the dispatch scheduler.
type SchedulerConfig struct {
	// Interval is how often a dispatch cycle runs. Default: 30 seconds.
	Interval time.Duration

	// ClaimLimit caps how many commands are claimed per device per
	// cycle. Default: 5.
	ClaimLimit int
}

// Scheduler is the periodic dispatch loop. Each cycle it claims
// eligible pending commands for every online device and hands them to
// the Executor, recording the outcome on the command.
//
// Execution runs in the background: a cycle launches one dispatch
// goroutine per device and returns without waiting on them, so a slow
// or hung executor never delays the next tick. A device whose previous
// dispatch is still running is skipped until it finishes, which keeps
// per-device command order intact.
//
// One device's failure never aborts the cycle for the others, and an
// execution failure is recorded as command state, never propagated.
type Scheduler struct {
	queue      ClaimQueue
	devices    DeviceLister
	executor   Executor
	interval   time.Duration
	claimLimit int

	// Devices with a dispatch goroutine still in flight.
	mu   sync.Mutex
	busy map[string]bool

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewScheduler creates a dispatch scheduler.
//
// Parameters:
//   - queue: Command queue to claim from and resolve into
//   - devices: Device registry for the online device list
//   - executor: Delivery mechanism for claimed commands
//   - cfg: Interval and claim limit; zero values get defaults
func NewScheduler(queue ClaimQueue, devices DeviceLister, executor Executor, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = 5
	}
	return &Scheduler{
		queue:      queue,
		devices:    devices,
		executor:   executor,
		interval:   cfg.Interval,
		claimLimit: cfg.ClaimLimit,
		busy:       make(map[string]bool),
		done:       make(chan struct{}),
		logger:     noopLogger{},
	}
}

// SetLogger attaches a logger. Safe to skip; defaults to no-op.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start begins the periodic dispatch loop.
// Must be called after creation. Call Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop gracefully stops the dispatch loop, waiting for in-flight
// dispatch goroutines to finish. Cancel the Start context first so a
// blocked executor returns. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle starts one dispatch pass over all online devices and returns
// as soon as the per-device goroutines are launched; it never waits on
// execution. Exposed so callers can force a pass outside the timer,
// such as right after an emergency dispatch.
func (s *Scheduler) RunCycle(ctx context.Context) {
	devices, err := s.devices.ListByStatus(ctx, device.StatusOnline)
	if err != nil {
		s.logger.Error("dispatch cycle could not list devices", "error", err)
		return
	}

	for _, d := range devices {
		if !s.acquire(d.ID) {
			// Previous dispatch for this device is still running;
			// claiming again now would interleave its command order.
			continue
		}
		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			defer s.release(id)
			s.dispatchDevice(ctx, id)
		}(d.ID)
	}
}

func (s *Scheduler) acquire(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[deviceID] {
		return false
	}
	s.busy[deviceID] = true
	return true
}

func (s *Scheduler) release(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, deviceID)
}

// dispatchDevice claims and executes commands for one device.
// Commands run sequentially per device so priority order is preserved
// on the wire.
func (s *Scheduler) dispatchDevice(ctx context.Context, deviceID string) {
	claimed, err := s.queue.ClaimNext(ctx, deviceID, s.claimLimit)
	if err != nil {
		s.logger.Error("claim failed", "device_id", deviceID, "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}

	s.logger.Debug("dispatching commands", "device_id", deviceID, "count", len(claimed))

	for _, c := range claimed {
		response, err := s.executor.Execute(ctx, c)
		if err != nil {
			if markErr := s.queue.MarkFailed(ctx, c.ID, err.Error()); markErr != nil {
				s.logger.Error("could not record command failure",
					"command_id", c.ID, "error", markErr)
			}
			continue
		}
		if err := s.queue.MarkExecuted(ctx, c.ID, response); err != nil {
			s.logger.Error("could not record command execution",
				"command_id", c.ID, "error", err)
		}
	}
}
