package domain

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Capabilities a credential may carry. A streaming client needs
// CapabilityStream; CapabilityQuery covers the read-side API and
// CapabilityAdmin the administrative surface (managed elsewhere).
const (
	CapabilityStream = "stream"
	CapabilityQuery  = "query"
	CapabilityAdmin  = "admin"
)

// Credential identifies one client principal. The raw secret is never
// stored; SecretHash holds a salted argon2id digest and KeyPrefix the
// first characters of the raw key for lookup.
type Credential struct {
	ID          uuid.UUID
	KeyPrefix   string
	SecretHash  string
	ClientID    string
	TenantID    *uuid.UUID // nil for single-tenant deployments
	Description string

	Capabilities []string

	// Quota parameters enforced by the rate limiter.
	EventsPerMinute int
	MaxConnections  int

	Active     bool
	CreatedAt  time.Time
	LastUsedAt *time.Time

	// Cumulative usage counters, updated out of the hot path.
	TotalEvents      int64
	TotalConnections int64
}

// HasCapability reports whether the credential grants the given capability.
func (c *Credential) HasCapability(capability string) bool {
	return slices.Contains(c.Capabilities, capability)
}

type CredentialRepository interface {
	Create(ctx context.Context, cred *Credential) error
	GetByID(ctx context.Context, id uuid.UUID) (*Credential, error)
	GetByPrefix(ctx context.Context, prefix string) (*Credential, error)
	GetByClientID(ctx context.Context, clientID string) (*Credential, error)
	UpdateLastUsed(ctx context.Context, id uuid.UUID) error
	AddUsage(ctx context.Context, id uuid.UUID, events, connections int64) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}
