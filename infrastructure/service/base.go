package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-labs/docweave/infrastructure/logging"
)

const healthCheckTimeout = 5 * time.Second

// BaseConfig contains shared configuration for a Runner.
type BaseConfig struct {
	ID      string
	Name    string
	Version string
	Router  *mux.Router
	Logger  *logging.Logger

	// Ping, if set, is invoked by CheckHealth to probe the persistence layer
	// (typically store.Facade.Ping). A nil Ping is treated as always healthy,
	// which is appropriate for components with no backing store.
	Ping func(ctx context.Context) error
}

// BaseService wraps the common process lifecycle (start/stop/hydrate/workers)
// of the docserver process, which hosts the WebSocket endpoints, the SSE
// endpoint, and the revision engine together.
type BaseService struct {
	id      string
	name    string
	version string
	router  *mux.Router

	// Lifecycle management
	stopCh   chan struct{}
	stopOnce sync.Once

	// Extensibility hooks
	hydrate func(context.Context) error
	statsFn func() map[string]any
	ping    func(ctx context.Context) error

	// Worker management
	workers []func(context.Context)

	// Health tracking
	healthMu        sync.RWMutex
	storeHealthy    bool
	lastHealthCheck time.Time
	startTime       time.Time

	logger *logging.Logger
}

// NewBase constructs a BaseService from shared config.
func NewBase(cfg *BaseConfig) *BaseService {
	cfgValue := BaseConfig{}
	if cfg != nil {
		cfgValue = *cfg
	}

	logger := cfgValue.Logger
	if logger == nil {
		serviceName := cfgValue.ID
		if serviceName == "" {
			serviceName = "service"
		}
		logger = logging.NewFromEnv(serviceName)
	}

	router := cfgValue.Router
	if router == nil {
		router = mux.NewRouter()
	}

	return &BaseService{
		id:           cfgValue.ID,
		name:         cfgValue.Name,
		version:      cfgValue.Version,
		router:       router,
		stopCh:       make(chan struct{}),
		ping:         cfgValue.Ping,
		storeHealthy: cfgValue.Ping == nil,
		logger:       logger,
	}
}

func (b *BaseService) ID() string             { return b.id }
func (b *BaseService) Name() string           { return b.name }
func (b *BaseService) Version() string        { return b.version }
func (b *BaseService) Router() *mux.Router    { return b.router }

// Logger returns the service's structured logger.
func (b *BaseService) Logger() *logging.Logger {
	if b == nil {
		return logging.NewFromEnv("service")
	}
	if b.logger != nil {
		return b.logger
	}
	serviceName := b.ID()
	if serviceName == "" {
		serviceName = "service"
	}
	b.logger = logging.NewFromEnv(serviceName)
	return b.logger
}

// WithHydrate sets an optional hydrate hook executed during Start. The
// hydrate function runs after the base service starts but before background
// workers are launched — use it to warm the document cache or replay
// in-flight revisions.
func (b *BaseService) WithHydrate(fn func(context.Context) error) *BaseService {
	b.hydrate = fn
	return b
}

// WithStats sets a statistics provider function for the /info endpoint.
func (b *BaseService) WithStats(fn func() map[string]any) *BaseService {
	b.statsFn = fn
	return b
}

// AddWorker registers a background worker started after hydrate completes.
// Workers receive the context and should respect context cancellation and
// StopChan().
func (b *BaseService) AddWorker(fn func(context.Context)) *BaseService {
	b.workers = append(b.workers, fn)
	return b
}

type tickerWorkerConfig struct {
	name           string
	runImmediately bool
}

// TickerWorkerOption configures AddTickerWorker behavior.
type TickerWorkerOption func(*tickerWorkerConfig)

// WithTickerWorkerName sets a friendly name used in error logs.
func WithTickerWorkerName(name string) TickerWorkerOption {
	return func(cfg *tickerWorkerConfig) {
		cfg.name = name
	}
}

// WithTickerWorkerImmediate causes the worker to run once immediately on
// start, before waiting for the first ticker interval.
func WithTickerWorkerImmediate() TickerWorkerOption {
	return func(cfg *tickerWorkerConfig) {
		cfg.runImmediately = true
	}
}

// AddTickerWorker registers a periodic background worker that calls fn every
// interval until the context is cancelled or the service stops.
func (b *BaseService) AddTickerWorker(interval time.Duration, fn func(context.Context) error, opts ...TickerWorkerOption) *BaseService {
	cfg := tickerWorkerConfig{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	worker := func(ctx context.Context) {
		logWorkerError := func(err error) {
			if err == nil {
				return
			}
			entry := b.Logger().WithContext(ctx).WithError(err)
			if cfg.name != "" {
				entry = entry.WithField("worker", cfg.name)
			}
			entry.Warn("worker error")
		}

		if cfg.runImmediately {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			default:
			}

			if err := fn(ctx); err != nil {
				logWorkerError(err)
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					logWorkerError(err)
				}
			}
		}
	}
	b.workers = append(b.workers, worker)
	return b
}

// StopChan exposes the stop channel for worker goroutines.
func (b *BaseService) StopChan() <-chan struct{} {
	return b.stopCh
}

// Start runs hydrate once, then spins up registered workers.
func (b *BaseService) Start(ctx context.Context) error {
	b.healthMu.Lock()
	if b.startTime.IsZero() {
		b.startTime = time.Now()
	}
	b.healthMu.Unlock()

	if b.hydrate != nil {
		if err := b.hydrate(ctx); err != nil {
			return fmt.Errorf("hydrate: %w", err)
		}
	}

	for _, w := range b.workers {
		worker := w
		go worker(ctx)
	}
	return nil
}

// Stop signals workers to exit. It is idempotent.
func (b *BaseService) Stop() error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	return nil
}

// WorkerCount returns the number of registered workers.
func (b *BaseService) WorkerCount() int {
	return len(b.workers)
}

// Workers is an alias for WorkerCount.
func (b *BaseService) Workers() int {
	return b.WorkerCount()
}

// CheckHealth refreshes the cached health state by probing the store.
func (b *BaseService) CheckHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	storeHealthy := true
	if b.ping != nil {
		if err := b.ping(ctx); err != nil {
			storeHealthy = false
		}
	}

	b.healthMu.Lock()
	b.storeHealthy = storeHealthy
	b.lastHealthCheck = time.Now()
	b.healthMu.Unlock()
}

// HealthStatus returns the aggregated health status string.
func (b *BaseService) HealthStatus() string {
	b.CheckHealth()
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()
	return b.healthStatusLocked()
}

// HealthDetails returns a map describing the most recent health state.
func (b *BaseService) HealthDetails() map[string]any {
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()

	details := map[string]any{
		"store_connected": b.storeHealthy,
	}

	if !b.lastHealthCheck.IsZero() {
		details["last_check"] = b.lastHealthCheck.Format(time.RFC3339)
	} else {
		details["last_check"] = ""
	}

	uptime := time.Duration(0)
	if !b.startTime.IsZero() {
		uptime = time.Since(b.startTime)
	}
	details["uptime"] = uptime.String()

	if b.statsFn != nil {
		details["statistics"] = b.statsFn()
	}

	return details
}

func (b *BaseService) healthStatusLocked() string {
	if !b.storeHealthy {
		return "unhealthy"
	}
	return "healthy"
}

// =============================================================================
// Interface Compliance
// =============================================================================

var _ Runner = (*BaseService)(nil)
var _ HealthChecker = (*BaseService)(nil)
