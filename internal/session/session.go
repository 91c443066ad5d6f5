// Package session tracks the server-side state of one logical client
// stream and the registry of all live streams.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loothing/lodestone/internal/domain"
)

// Status is the session state machine. Transitions are monotonic except
// ACTIVE <-> IDLE; DISCONNECTED and ERROR are terminal.
type Status int

const (
	StatusConnecting Status = iota
	StatusActive
	StatusIdle
	StatusDisconnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusActive:
		return "active"
	case StatusIdle:
		return "idle"
	case StatusDisconnected:
		return "disconnected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

func (s Status) terminal() bool {
	return s == StatusDisconnected || s == StatusError
}

// Metadata is the negotiated session metadata from start_session.
type Metadata struct {
	ClientVersion string
	CharacterName string
	Realm         string
	Region        string
}

// Metrics are the per-session performance counters.
type Metrics struct {
	TotalEvents       uint64  `json:"total_events"`
	EventsPerSecond   float64 `json:"events_per_second"`
	BytesReceived     uint64  `json:"bytes_received"`
	ParseErrors       uint64  `json:"parse_errors"`
	BufferUtilization float64 `json:"buffer_utilization"`
	LagMillis         float64 `json:"lag_ms"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Session is one live client stream. All mutation goes through methods
// holding the session mutex; none of them suspend.
type Session struct {
	ClientID  string
	ID        uuid.UUID
	Cred      *domain.Credential
	CreatedAt time.Time

	mu            sync.Mutex
	meta          Metadata
	status        Status
	lastActivity  time.Time
	lastHeartbeat time.Time

	// Acknowledgment bookkeeping.
	lastAck     uint64
	ackSeen     bool
	pendingSeqs map[uint64]struct{}

	// Recently referenced character GUIDs.
	characters map[string]struct{}

	// Session-local minute window, independent of the client-wide
	// limiter so one session cannot starve quota accounting for its
	// siblings under the same credential.
	eventsThisMinute int
	minuteStart      time.Time

	metrics Metrics
}

// New creates a session in CONNECTING state.
func New(clientID string, id uuid.UUID, cred *domain.Credential) *Session {
	now := time.Now()
	return &Session{
		ClientID:      clientID,
		ID:            id,
		Cred:          cred,
		CreatedAt:     now,
		status:        StatusConnecting,
		lastActivity:  now,
		lastHeartbeat: now,
		minuteStart:   now,
		pendingSeqs:   make(map[uint64]struct{}),
		characters:    make(map[string]struct{}),
	}
}

// Touch records inbound traffic: refreshes activity and wakes an IDLE
// session back to ACTIVE.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
	if s.status == StatusIdle {
		s.status = StatusActive
	}
}

// Heartbeat refreshes the liveness timestamp.
func (s *Session) Heartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.lastHeartbeat = now
	s.lastActivity = now
	if s.status == StatusIdle {
		s.status = StatusActive
	}
}

// Activate moves a CONNECTING or IDLE session to ACTIVE and applies the
// negotiated metadata. No-op on terminal states.
func (s *Session) Activate(meta Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.terminal() {
		return
	}
	if meta != (Metadata{}) {
		s.meta = meta
	}
	s.status = StatusActive
}

// MarkIdle flips ACTIVE to IDLE. Called only by the registry sweep; a
// session that never activated stays in CONNECTING until it does.
func (s *Session) MarkIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusActive {
		s.status = StatusIdle
	}
}

// MarkDisconnected moves to the DISCONNECTED terminal state. Idempotent;
// an ERROR session stays in ERROR.
func (s *Session) MarkDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusError {
		s.status = StatusDisconnected
	}
}

// MarkError moves to the ERROR terminal state.
func (s *Session) MarkError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.terminal() {
		s.status = StatusError
	}
}

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Meta returns the negotiated metadata.
func (s *Session) Meta() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// AllowEvent consumes one slot of the session-local minute window.
// The window resets exactly when the clock crosses the boundary.
func (s *Session) AllowEvent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.minuteStart) >= time.Minute {
		s.eventsThisMinute = 0
		s.minuteStart = now
	}

	limit := 0
	if s.Cred != nil {
		limit = s.Cred.EventsPerMinute
	}
	if limit > 0 && s.eventsThisMinute >= limit {
		return false
	}

	s.eventsThisMinute++
	return true
}

// RecordLine tracks one buffered line against session metrics and the
// pending-acknowledgment set.
func (s *Session) RecordLine(sequence uint64, byteLen int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.lastActivity = now
	if s.status == StatusIdle {
		s.status = StatusActive
	}

	s.metrics.TotalEvents++
	s.metrics.BytesReceived += uint64(byteLen)
	s.pendingSeqs[sequence] = struct{}{}

	uptime := now.Sub(s.CreatedAt).Seconds()
	s.metrics.UptimeSeconds = uptime
	if uptime >= 1 {
		s.metrics.EventsPerSecond = float64(s.metrics.TotalEvents) / uptime
	}
}

// AcknowledgeSequence removes the sequence from the pending set and
// raises the high-water mark. Monotonic: repeats and out-of-order
// acknowledgments are no-ops, never errors.
func (s *Session) AcknowledgeSequence(sequence uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pendingSeqs, sequence)
	if !s.ackSeen || sequence > s.lastAck {
		s.lastAck = sequence
		s.ackSeen = true
	}
}

// LastAck returns the acknowledgment high-water mark.
func (s *Session) LastAck() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAck
}

// PendingSequences returns the count of not-yet-acknowledged sequences.
func (s *Session) PendingSequences() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingSeqs)
}

// RecordParseError counts one failed line.
func (s *Session) RecordParseError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.ParseErrors++
}

// SetBufferHealth pushes buffer utilization and lag into the metrics.
func (s *Session) SetBufferHealth(utilizationPercent, lagMillis float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.BufferUtilization = utilizationPercent
	s.metrics.LagMillis = lagMillis
}

// AddCharacters records recently referenced character GUIDs.
func (s *Session) AddCharacters(guids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range guids {
		s.characters[g] = struct{}{}
	}
}

// CharacterCount returns the number of tracked character GUIDs.
func (s *Session) CharacterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.characters)
}

// IsIdle reports no traffic for at least threshold.
func (s *Session) IsIdle(threshold time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity) > threshold
}

// IsStale reports no heartbeat for at least threshold.
func (s *Session) IsStale(threshold time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastHeartbeat) > threshold
}

// Snapshot is a point-in-time serializable view of the session.
type Snapshot struct {
	ClientID      string    `json:"client_id"`
	SessionID     uuid.UUID `json:"session_id"`
	Status        string    `json:"status"`
	ClientVersion string    `json:"client_version,omitempty"`
	CharacterName string    `json:"character_name,omitempty"`
	Realm         string    `json:"realm,omitempty"`
	Region        string    `json:"region,omitempty"`
	LastAck       uint64    `json:"last_sequence_ack"`
	PendingSeqs   int       `json:"pending_sequences"`
	Characters    int       `json:"characters_tracked"`
	Metrics       Metrics   `json:"metrics"`
}

// Snapshot captures the session for stats surfaces.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.metrics
	m.UptimeSeconds = time.Since(s.CreatedAt).Seconds()

	return Snapshot{
		ClientID:      s.ClientID,
		SessionID:     s.ID,
		Status:        s.status.String(),
		ClientVersion: s.meta.ClientVersion,
		CharacterName: s.meta.CharacterName,
		Realm:         s.meta.Realm,
		Region:        s.meta.Region,
		LastAck:       s.lastAck,
		PendingSeqs:   len(s.pendingSeqs),
		Characters:    len(s.characters),
		Metrics:       m,
	}
}
