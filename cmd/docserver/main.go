// Command docserver is the collaborative document engine's process
// entrypoint: it wires the persistence façade, Document Cache, Session
// Registry, Revision Engine, and Event Bus together and serves the
// WebSocket/SSE/operational endpoints described in §6.
package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/r3e-labs/docweave/infrastructure/service"
	"github.com/r3e-labs/docweave/internal/config"
	"github.com/r3e-labs/docweave/internal/doccache"
	"github.com/r3e-labs/docweave/internal/eventbus"
	"github.com/r3e-labs/docweave/internal/eventbus/pgrelay"
	"github.com/r3e-labs/docweave/internal/httpapi"
	"github.com/r3e-labs/docweave/internal/revision"
	"github.com/r3e-labs/docweave/internal/session"
	"github.com/r3e-labs/docweave/internal/sse"
	"github.com/r3e-labs/docweave/internal/store"
	"github.com/r3e-labs/docweave/internal/store/memstore"
	"github.com/r3e-labs/docweave/internal/store/postgres"
)

const (
	serviceID      = "docserver"
	serviceName    = "docweave collaborative document engine"
	serviceVersion = "0.1.0"
)

func main() {
	service.Run(build)
}

// docServer adapts the collaborative-document components to
// service.Runner, layering their own Start/Stop semantics (the revision
// engine's cron sweep, the cache's eviction ticker, the pgrelay listener)
// on top of BaseService's generic worker lifecycle.
type docServer struct {
	*service.BaseService
	cache       *doccache.Cache
	revision    *revision.Engine
	relay       *pgrelay.Relay
	closeFacade func() error
}

func (d *docServer) Start(ctx context.Context) error {
	if err := d.BaseService.Start(ctx); err != nil {
		return err
	}
	return d.revision.Start()
}

func (d *docServer) Stop() error {
	d.revision.Stop()
	d.cache.Close()
	if d.relay != nil {
		_ = d.relay.Close()
	}
	if d.closeFacade != nil {
		_ = d.closeFacade()
	}
	return d.BaseService.Stop()
}

func build(deps *service.SharedDeps) (service.Runner, error) {
	cfg := deps.Config

	facade, pgStore, err := openFacade(cfg)
	if err != nil {
		return nil, err
	}

	cache := doccache.New(facade, doccache.Config{
		IdleTimeout:   cfg.IdleTimeout,
		MaxHotDocs:    cfg.MaxHotDocs,
		SweepInterval: doccache.DefaultConfig().SweepInterval,
	})

	hub := session.NewHub(facade, cache, session.IdentityAuthenticator{}, session.Config{
		AuthGrace:          cfg.AuthGrace,
		HeartbeatInterval:  cfg.HeartbeatInterval,
		HeartbeatMisses:    cfg.HeartbeatMisses,
		MaxSessionsPerDoc:  cfg.MaxSessionsPerDoc,
		MaxOutboundQueue:   cfg.MaxOutboundQueue,
		AwarenessEcho:      cfg.AwarenessEcho,
		PermissionCacheTTL: session.DefaultConfig().PermissionCacheTTL,
		UpdateRatePerSec:   session.DefaultConfig().UpdateRatePerSec,
		UpdateRateBurst:    session.DefaultConfig().UpdateRateBurst,
	})

	revisionEngine := revision.New(facade, cache, revision.Config{
		UpdateThreshold:        cfg.UpdateThreshold,
		TimeThreshold:          cfg.TimeThreshold,
		IdleThreshold:          cfg.IdleThreshold,
		PruneUpdatesOnSnapshot: cfg.PruneUpdatesOnSnapshot,
		SweepSchedule:          revision.DefaultConfig().SweepSchedule,
	}, deps.Logger, cfg.MaxHotDocs)

	hub.SetRevisionRecorder(revisionEngine)
	revisionEngine.SetBroadcaster(hub.BroadcastUpdate)

	bus := eventbus.New(eventbus.Config{HandlerTimeout: eventbus.DefaultHandlerTimeout})
	bus.OnHandlerError(func(topic string, err error) {
		deps.Logger.WithFields(map[string]interface{}{"topic": topic, "error": err}).
			Warn("eventbus: subscriber failed")
	})
	viewers := eventbus.NewViewerCounter(bus, cfg.ViewerCountInterval)

	var relay *pgrelay.Relay
	if pgStore != nil {
		origin := uuid.NewString()
		relay, err = pgrelay.New(pgStore.DB(), cfg.DatabaseURL, bus, origin)
		if err != nil {
			return nil, fmt.Errorf("docserver: start event relay: %w", err)
		}
		relay.OnError(func(err error) {
			deps.Logger.WithError(err).Warn("pgrelay: listener error")
		})
	}

	sseHandler := sse.NewHandler(bus, sse.Config{
		Keepalive:          cfg.SSEKeepalive,
		StallTimeout:       cfg.SSEStallTimeout,
		OutboundBufferSize: cfg.MaxTopicSubscribers,
	})

	base := service.NewBase(&service.BaseConfig{
		ID:      serviceID,
		Name:    serviceName,
		Version: serviceVersion,
		Logger:  deps.Logger,
		Ping:    facade.Ping,
	})
	base.WithStats(func() map[string]any {
		return map[string]any{
			"event_bus_relay_enabled": relay != nil,
		}
	})
	base.RegisterStandardRoutes()
	base.Router().HandleFunc("/healthz", service.HealthHandler(base)).Methods("GET")

	api := httpapi.New(hub, sseHandler, viewers)
	api.Register(base.Router())

	srv := &docServer{
		BaseService: base,
		cache:       cache,
		revision:    revisionEngine,
		relay:       relay,
	}
	if pgStore != nil {
		srv.closeFacade = func() error { return pgStore.DB().Close() }
	}
	return srv, nil
}

// openFacade selects the persistence façade: Postgres when DATABASE_URL is
// configured, otherwise an in-memory store for local development — the
// in-memory store never satisfies production's DATABASE_URL requirement,
// enforced separately by config.Validate.
func openFacade(cfg *config.Config) (store.Facade, *postgres.Store, error) {
	if cfg.DatabaseURL == "" {
		return memstore.New(), nil, nil
	}
	pgStore, err := postgres.Open(cfg.DatabaseURL, cfg.DBMaxConnections, cfg.DBIdleTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("docserver: open database: %w", err)
	}
	return pgStore, pgStore, nil
}
