package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/loothing/lodestone/internal/domain"
)

// ErrCapacityExceeded is returned by Create when the registry is at its
// server-wide session ceiling. Independent of per-client quotas.
var ErrCapacityExceeded = errors.New("session: capacity exceeded")

// Config tunes the registry.
type Config struct {
	MaxSessions   int
	SweepInterval time.Duration
	IdleAfter     time.Duration // traffic silence before a session flips to IDLE
	StaleAfter    time.Duration // heartbeat silence before forced teardown
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 100
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = time.Hour
	}
	return c
}

// Registry tracks all live sessions and reclaims stale ones. Eviction
// of a stale session goes through the OnEvict hook so the owning
// connection's graceful-drain teardown path runs; the hook is invoked
// outside the registry lock.
type Registry struct {
	cfg     Config
	onEvict func(*Session)

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry creates a registry. onEvict may be nil.
func NewRegistry(cfg Config, onEvict func(*Session)) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		onEvict:  onEvict,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Create registers a new session. Fails with ErrCapacityExceeded at the
// hard ceiling. An existing session with the same id is replaced, never
// silently leaked.
func (r *Registry) Create(clientID string, sessionID uuid.UUID, cred *domain.Credential) (*Session, error) {
	r.mu.Lock()

	if existing, ok := r.sessions[sessionID]; ok {
		log.Warn().Str("session_id", sessionID.String()).Msg("session already exists, replacing")
		existing.MarkDisconnected()
		delete(r.sessions, sessionID)
	}

	if len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return nil, fmt.Errorf("session.Registry.Create: %w", ErrCapacityExceeded)
	}

	s := New(clientID, sessionID, cred)
	r.sessions[sessionID] = s
	r.mu.Unlock()

	log.Info().Str("client_id", clientID).Str("session_id", sessionID.String()).Msg("session created")
	return s, nil
}

// Get returns the session for an id, or nil.
func (r *Registry) Get(sessionID uuid.UUID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

// ByClient returns all sessions for one client id.
func (r *Registry) ByClient(clientID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Session
	for _, s := range r.sessions {
		if s.ClientID == clientID {
			out = append(out, s)
		}
	}
	return out
}

// Remove deletes a session, marking it DISCONNECTED. Idempotent.
func (r *Registry) Remove(sessionID uuid.UUID) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	s.MarkDisconnected()
	log.Info().Str("session_id", sessionID.String()).Msg("session removed")
	return true
}

// Sweep marks idle sessions IDLE and evicts sessions that are
// DISCONNECTED or stale beyond the heartbeat threshold, regardless of
// status. Returns the number evicted.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	var evict []*Session
	for id, s := range r.sessions {
		switch {
		case s.Status() == StatusDisconnected || s.IsStale(r.cfg.StaleAfter):
			delete(r.sessions, id)
			evict = append(evict, s)
		case s.IsIdle(r.cfg.IdleAfter):
			s.MarkIdle()
		}
	}
	r.mu.Unlock()

	for _, s := range evict {
		if r.onEvict != nil {
			r.onEvict(s)
		}
		s.MarkDisconnected()
	}

	if len(evict) > 0 {
		log.Info().Int("evicted", len(evict)).Msg("swept stale sessions")
	}
	return len(evict)
}

// Run drives the periodic sweep until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Stats summarizes registry state.
type Stats struct {
	TotalSessions int            `json:"total_sessions"`
	MaxSessions   int            `json:"max_sessions"`
	StatusCounts  map[string]int `json:"status_counts"`
	ActiveClients int            `json:"active_clients"`
	TotalEvents   uint64         `json:"total_events_processed"`
}

// Stats returns a snapshot of registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[string]int)
	clients := make(map[string]struct{})
	var events uint64
	for _, s := range r.sessions {
		snap := s.Snapshot()
		counts[snap.Status]++
		clients[s.ClientID] = struct{}{}
		events += snap.Metrics.TotalEvents
	}

	return Stats{
		TotalSessions: len(r.sessions),
		MaxSessions:   r.cfg.MaxSessions,
		StatusCounts:  counts,
		ActiveClients: len(clients),
		TotalEvents:   events,
	}
}
