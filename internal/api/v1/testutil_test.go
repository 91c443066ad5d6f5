package v1_test

import (
	"context"

	"github.com/google/uuid"

	"github.com/loothing/lodestone/internal/auth"
	"github.com/loothing/lodestone/internal/domain"
	"github.com/loothing/lodestone/internal/ingest"
	"github.com/loothing/lodestone/internal/server/middleware"
	"github.com/loothing/lodestone/internal/session"
)

// ---------------------------------------------------------------------------
// Context helpers — inject an authenticated credential for DoCtx
// ---------------------------------------------------------------------------

func authedCtx(clientID string, tenantID *uuid.UUID) context.Context {
	ctx := context.Background()
	ctx = context.WithValue(ctx, middleware.ContextKeyAuth, &auth.AuthResult{
		CredentialID: uuid.New(),
		ClientID:     clientID,
		TenantID:     tenantID,
		Capabilities: []string{domain.CapabilityQuery},
	})
	ctx = context.WithValue(ctx, middleware.ContextKeyClientID, clientID)
	return ctx
}

// ---------------------------------------------------------------------------
// Mock stats providers
// ---------------------------------------------------------------------------

type mockIngestStats struct {
	stats ingest.GlobalStats
}

func (m *mockIngestStats) Stats() ingest.GlobalStats { return m.stats }

type mockSessionDirectory struct {
	stats    session.Stats
	byClient map[string][]*session.Session
}

func (m *mockSessionDirectory) Stats() session.Stats { return m.stats }

func (m *mockSessionDirectory) ByClient(clientID string) []*session.Session {
	return m.byClient[clientID]
}

type mockQuotaStats struct {
	stats           auth.Stats
	clientStatsFunc func(clientID string) (auth.ClientStats, error)
}

func (m *mockQuotaStats) Stats() auth.Stats { return m.stats }

func (m *mockQuotaStats) ClientStats(clientID string) (auth.ClientStats, error) {
	return m.clientStatsFunc(clientID)
}

// ---------------------------------------------------------------------------
// Mock EncounterReader
// ---------------------------------------------------------------------------

type mockEncounterReader struct {
	listRecentFunc func(ctx context.Context, tenantID *uuid.UUID, limit int) ([]*domain.Encounter, error)
}

func (m *mockEncounterReader) ListRecent(ctx context.Context, tenantID *uuid.UUID, limit int) ([]*domain.Encounter, error) {
	return m.listRecentFunc(ctx, tenantID, limit)
}
