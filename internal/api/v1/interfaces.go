// Package v1 is the read-side operations API: ingest throughput,
// per-client quota state, live sessions, and stored encounters.
package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/loothing/lodestone/internal/auth"
	"github.com/loothing/lodestone/internal/domain"
	"github.com/loothing/lodestone/internal/ingest"
	"github.com/loothing/lodestone/internal/session"
)

// IngestStats exposes coordinator throughput counters.
type IngestStats interface {
	Stats() ingest.GlobalStats
}

// SessionDirectory exposes the live session registry.
type SessionDirectory interface {
	Stats() session.Stats
	ByClient(clientID string) []*session.Session
}

// QuotaStats exposes quota-layer counters.
type QuotaStats interface {
	Stats() auth.Stats
	ClientStats(clientID string) (auth.ClientStats, error)
}

// EncounterReader lists stored encounters.
type EncounterReader interface {
	ListRecent(ctx context.Context, tenantID *uuid.UUID, limit int) ([]*domain.Encounter, error)
}
