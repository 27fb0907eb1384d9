package service

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	sllogging "github.com/r3e-labs/docweave/infrastructure/logging"
	slmetrics "github.com/r3e-labs/docweave/infrastructure/metrics"
	slmiddleware "github.com/r3e-labs/docweave/infrastructure/middleware"
	"github.com/r3e-labs/docweave/internal/config"
)

// Factory builds a Runner from the process-wide shared dependencies.
type Factory func(deps *SharedDeps) (Runner, error)

// RunOption configures optional Run behavior.
type RunOption func(*runConfig)

type runConfig struct {
	shutdownTimeout time.Duration
}

// WithShutdownTimeout overrides the default 30s graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) RunOption {
	return func(cfg *runConfig) { cfg.shutdownTimeout = d }
}

// Run is the document engine's process entrypoint. It loads configuration,
// builds the shared dependencies, constructs the Runner via factory, applies
// standard middleware, starts the HTTP/WebSocket server, and blocks until a
// termination signal triggers a graceful shutdown.
func Run(factory Factory, opts ...RunOption) {
	rc := runConfig{shutdownTimeout: 30 * time.Second}
	for _, o := range opts {
		o(&rc)
	}
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := sllogging.New("docserver", cfg.LogLevel, cfg.LogFormat)

	var metricsCollector *slmetrics.Metrics
	if cfg.MetricsEnabled {
		metricsCollector = slmetrics.Init("docserver")
	}

	deps := &SharedDeps{
		Config:  cfg,
		Logger:  logger,
		Metrics: metricsCollector,
	}

	svc, err := factory(deps)
	if err != nil {
		log.Fatalf("failed to construct service: %v", err)
	}

	applyMiddleware(svc, logger, metricsCollector)

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("failed to start service: %v", err)
	}

	server := &http.Server{
		Addr:              ":" + itoa(cfg.HTTPPort),
		Handler:           svc.Router(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// WriteTimeout is intentionally left at zero: the session protocol
		// and SSE fan-out hold connections open far longer than any sane
		// fixed deadline, and rely on heartbeat/stall-timeout logic instead.
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.WithFields(map[string]interface{}{"port": cfg.HTTPPort}).Info("docserver listening")
		if listenErr := server.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			log.Fatalf("server error: %v", listenErr)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, rc.shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http server shutdown error")
	}
	if err := svc.Stop(); err != nil {
		logger.WithError(err).Error("service stop error")
	}
	logger.Logger.Info("docserver stopped")
}

func applyMiddleware(svc Runner, logger *sllogging.Logger, metricsCollector *slmetrics.Metrics) {
	svc.Router().Use(slmiddleware.LoggingMiddleware(logger))
	svc.Router().Use(slmiddleware.NewRecoveryMiddleware(logger).Handler)
	if metricsCollector != nil {
		svc.Router().Use(slmiddleware.MetricsMiddleware("docserver", metricsCollector))
		svc.Router().Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	svc.Router().Use(slmiddleware.NewBodyLimitMiddleware(0).Handler)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
