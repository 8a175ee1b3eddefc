package health

import (
	"context"
	"time"

	corehealth "facturacl/ms_facturacion_marketplace/internal/core/health"
)

// Metadata contains immutable metadata about the running service.
type Metadata struct {
	Service     string
	Version     string
	Environment string
}

// Pinger checks a dependency's reachability. pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Service exposes health-check use cases to adapters.
type Service struct {
	meta      Metadata
	db        Pinger
	startedAt time.Time
}

// NewService creates a health service. db may be nil, in which case the
// database check reports "disabled".
func NewService(meta Metadata, db Pinger) *Service {
	return &Service{
		meta:      meta,
		db:        db,
		startedAt: time.Now().UTC(),
	}
}

// Status returns the current availability snapshot, including a database
// ping. A failing ping degrades the overall status but never errors: the
// endpoint must always answer.
func (s *Service) Status(ctx context.Context) corehealth.Status {
	uptime := time.Since(s.startedAt)
	status := corehealth.Status{
		Service:     s.meta.Service,
		Version:     s.meta.Version,
		Environment: s.meta.Environment,
		Status:      "UP",
		Database:    "disabled",
		StartedAt:   s.startedAt,
		Uptime:      uptime.String(),
		UptimeSecs:  int64(uptime.Seconds()),
	}
	if s.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.db.Ping(pingCtx); err != nil {
			status.Status = "DEGRADED"
			status.Database = "down"
		} else {
			status.Database = "up"
		}
	}
	return status
}
