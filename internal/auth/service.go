package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/loothing/lodestone/internal/domain"
)

// QuotaLimits are the per-credential ceilings enforced by CheckQuota.
type QuotaLimits struct {
	EventsPerMinute int `json:"events_per_minute"`
	MaxConnections  int `json:"max_connections"`
}

// AuthResult is the outcome of a successful authentication.
type AuthResult struct {
	CredentialID uuid.UUID
	ClientID     string
	TenantID     *uuid.UUID
	Capabilities []string
	Quota        QuotaLimits
}

// HasCapability reports whether the authenticated credential grants the
// given capability.
func (r *AuthResult) HasCapability(capability string) bool {
	for _, c := range r.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// quotaWindow holds the rolling counters for one client id. Created
// lazily on the first quota check and reclaimed by SweepStale.
type quotaWindow struct {
	burst *rate.Limiter

	eventsThisMinute int
	minuteStart      time.Time

	lastRequest time.Time
}

// Config tunes the rate limiter.
type Config struct {
	// BurstPerSecond is the fixed per-second request ceiling applied to
	// every client before the per-credential checks.
	BurstPerSecond int
	// SweepInterval drives the background stale-window sweep.
	SweepInterval time.Duration
	// SweepMaxAge is the idle age beyond which a quota window is dropped.
	SweepMaxAge time.Duration
}

// Service validates streaming credentials and enforces per-client
// quotas. All quota state is held behind one mutex; the critical
// sections never perform I/O.
type Service struct {
	creds domain.CredentialRepository
	cfg   Config

	mu          sync.Mutex
	windows     map[string]*quotaWindow
	connections map[string]map[uuid.UUID]struct{} // client id -> live session ids
}

// NewService creates the credential/quota service.
func NewService(creds domain.CredentialRepository, cfg Config) *Service {
	if cfg.BurstPerSecond <= 0 {
		cfg.BurstPerSecond = 100
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	if cfg.SweepMaxAge <= 0 {
		cfg.SweepMaxAge = 24 * time.Hour
	}
	return &Service{
		creds:       creds,
		cfg:         cfg,
		windows:     make(map[string]*quotaWindow),
		connections: make(map[string]map[uuid.UUID]struct{}),
	}
}

// Authenticate validates a raw streaming secret. The secret is looked up
// by its prefix and compared against the stored salted hash; the raw
// value is never logged. On success the credential's last-used timestamp
// is updated (fire and forget).
func (s *Service) Authenticate(ctx context.Context, secret string) (*AuthResult, error) {
	if len(secret) < secretPrefixLen {
		return nil, fmt.Errorf("auth.Authenticate: %w", ErrUnauthenticated)
	}

	cred, err := s.creds.GetByPrefix(ctx, secret[:secretPrefixLen])
	if err != nil {
		return nil, fmt.Errorf("auth.Authenticate: %w", ErrUnauthenticated)
	}

	if !verifySecret(secret, cred.SecretHash) {
		return nil, fmt.Errorf("auth.Authenticate: %w", ErrUnauthenticated)
	}

	if !cred.Active {
		return nil, fmt.Errorf("auth.Authenticate: credential revoked: %w", ErrUnauthenticated)
	}

	if updateErr := s.creds.UpdateLastUsed(ctx, cred.ID); updateErr != nil {
		log.Warn().Err(updateErr).Str("credential_id", cred.ID.String()).Msg("auth.Authenticate: failed to update last_used_at")
	}

	return &AuthResult{
		CredentialID: cred.ID,
		ClientID:     cred.ClientID,
		TenantID:     cred.TenantID,
		Capabilities: cred.Capabilities,
		Quota: QuotaLimits{
			EventsPerMinute: cred.EventsPerMinute,
			MaxConnections:  cred.MaxConnections,
		},
	}, nil
}

// CheckQuota evaluates, in order: the per-second burst ceiling, the
// per-minute event ceiling, and (when newSession is non-nil) the
// connection ceiling. On success the event counter is incremented and
// the new session's connection slot reserved in the same critical
// section, so concurrent connections of one client cannot race past
// either ceiling. A nil return means allowed; a reserved slot is
// released with UntrackConnection.
func (s *Service) CheckQuota(clientID string, quota QuotaLimits, eventCount int, newSession *uuid.UUID) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	win := s.windows[clientID]
	if win == nil {
		win = &quotaWindow{
			burst:       rate.NewLimiter(rate.Limit(s.cfg.BurstPerSecond), s.cfg.BurstPerSecond),
			minuteStart: now,
		}
		s.windows[clientID] = win
	}
	win.lastRequest = now

	// Burst protection: every inbound request consumes one token
	// regardless of the later checks, matching the request-counter
	// semantics of the window model.
	if !win.burst.AllowN(now, 1) {
		return &RateLimitError{Kind: DeniedBurst, ClientID: clientID}
	}

	// Event rate: fixed one-minute window, reset only when the clock
	// crosses the boundary, never retroactively.
	if now.Sub(win.minuteStart) >= time.Minute {
		win.eventsThisMinute = 0
		win.minuteStart = now
	}
	if quota.EventsPerMinute > 0 && win.eventsThisMinute+eventCount > quota.EventsPerMinute {
		return &RateLimitError{Kind: DeniedEventRate, ClientID: clientID}
	}

	if newSession != nil {
		if quota.MaxConnections > 0 && len(s.connections[clientID]) >= quota.MaxConnections {
			return &RateLimitError{Kind: DeniedConnectionLimit, ClientID: clientID}
		}
	}

	win.eventsThisMinute += eventCount
	if newSession != nil {
		set := s.connections[clientID]
		if set == nil {
			set = make(map[uuid.UUID]struct{})
			s.connections[clientID] = set
		}
		set[*newSession] = struct{}{}
	}
	return nil
}

// UntrackConnection removes a live connection. Idempotent.
func (s *Service) UntrackConnection(clientID string, sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.connections[clientID]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(s.connections, clientID)
	}
}

// ActiveConnections returns the live connection count for a client.
func (s *Service) ActiveConnections(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections[clientID])
}

// Revoke flips the credential's activation flag. Open sessions are not
// force-closed; the flag only gates future authentications.
func (s *Service) Revoke(ctx context.Context, credentialID uuid.UUID) error {
	if err := s.creds.SetActive(ctx, credentialID, false); err != nil {
		return fmt.Errorf("auth.Revoke: %w", err)
	}
	log.Info().Str("credential_id", credentialID.String()).Msg("credential revoked")
	return nil
}

// CheckCapability reports whether the client's active credential grants
// the given capability.
func (s *Service) CheckCapability(ctx context.Context, clientID, capability string) (bool, error) {
	cred, err := s.creds.GetByClientID(ctx, clientID)
	if err != nil {
		return false, fmt.Errorf("auth.CheckCapability: %w", ErrUnknownClient)
	}
	if !cred.Active {
		return false, nil
	}
	return cred.HasCapability(capability), nil
}

// RecordUsage adds to the credential's cumulative usage counters.
// Called off the hot path (connection teardown).
func (s *Service) RecordUsage(ctx context.Context, credentialID uuid.UUID, events, connections int64) {
	if err := s.creds.AddUsage(ctx, credentialID, events, connections); err != nil {
		log.Warn().Err(err).Str("credential_id", credentialID.String()).Msg("auth.RecordUsage: failed to record usage")
	}
}

// SweepStale drops quota windows whose last request is older than
// maxAge. Purely memory-bound housekeeping; an active client always has
// a recent window and is never affected. Returns the number dropped.
func (s *Service) SweepStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for clientID, win := range s.windows {
		if win.lastRequest.Before(cutoff) {
			delete(s.windows, clientID)
			dropped++
		}
	}

	if dropped > 0 {
		log.Info().Int("dropped", dropped).Msg("swept stale quota windows")
	}
	return dropped
}

// Run drives the periodic stale-window sweep until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepStale(s.cfg.SweepMaxAge)
		}
	}
}

// ClientStats is a point-in-time view of one client's quota state.
type ClientStats struct {
	ClientID          string `json:"client_id"`
	EventsThisMinute  int    `json:"events_this_minute"`
	ActiveConnections int    `json:"active_connections"`
}

// Stats summarizes quota state across all clients.
type Stats struct {
	TrackedClients   int `json:"tracked_clients"`
	QuotaWindows     int `json:"quota_windows"`
	TotalConnections int `json:"total_connections"`
}

// ClientStats returns quota state for one client id, or ErrUnknownClient
// when no window exists.
func (s *Service) ClientStats(clientID string) (ClientStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	win, ok := s.windows[clientID]
	if !ok {
		return ClientStats{}, fmt.Errorf("auth.ClientStats: %w", ErrUnknownClient)
	}

	return ClientStats{
		ClientID:          clientID,
		EventsThisMinute:  win.eventsThisMinute,
		ActiveConnections: len(s.connections[clientID]),
	}, nil
}

// Stats returns aggregate quota-state counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, set := range s.connections {
		total += len(set)
	}

	return Stats{
		TrackedClients:   len(s.connections),
		QuotaWindows:     len(s.windows),
		TotalConnections: total,
	}
}
