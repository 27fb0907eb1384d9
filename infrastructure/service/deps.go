package service

import (
	"github.com/r3e-labs/docweave/infrastructure/logging"
	"github.com/r3e-labs/docweave/infrastructure/metrics"
	"github.com/r3e-labs/docweave/internal/config"
)

// SharedDeps holds the process-wide dependencies every runnable component
// (the WebSocket server, the SSE gateway, the revision-engine worker) is
// constructed from. Domain-specific collaborators — the persistence façade,
// the document cache, the session registry, the event bus — are assembled
// by cmd/docserver and passed to each component's own constructor directly;
// keeping them out of SharedDeps avoids a dependency cycle between this
// generic bootstrap package and the domain packages it starts.
type SharedDeps struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}
