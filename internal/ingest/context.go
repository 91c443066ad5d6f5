package ingest

import (
	"sync"
	"time"

	"github.com/loothing/lodestone/internal/buffer"
	"github.com/loothing/lodestone/internal/domain"
	"github.com/loothing/lodestone/internal/session"
)

// Tokenizer splits a raw line into fields. Empty result means the line
// carries nothing parseable and is skipped silently.
type Tokenizer interface {
	Tokenize(line string) []string
}

// EventParser turns tokens into a domain event.
type EventParser interface {
	Parse(tokens []string) (*domain.Event, error)
}

// Segmenter groups events into bounded encounters. Process returns any
// units the event completed; Finalize flushes the in-flight one at
// teardown.
type Segmenter interface {
	Process(ev *domain.Event) []*domain.Encounter
	Live() *domain.EncounterUpdate
	Finalize() []*domain.Encounter
}

// processingContext binds one session to its parser, segmenter, storage
// handle and line buffer. The mutex serializes batch processing against
// teardown; everything inside it is CPU-only.
type processingContext struct {
	id      string
	session *session.Session
	buf     *buffer.Buffer

	mu         sync.Mutex
	parser     EventParser
	seg        Segmenter
	lastUpdate *domain.EncounterUpdate
	pending    []*domain.Encounter
	lastStore  time.Time

	processed   uint64
	parseErrors uint64
	startedAt   time.Time
}

// ContextStats is the per-context slice of the global statistics.
type ContextStats struct {
	ContextID     string                  `json:"context_id"`
	ClientID      string                  `json:"client_id"`
	Status        string                  `json:"status"`
	UptimeSeconds float64                 `json:"uptime_seconds"`
	Processed     uint64                  `json:"total_processed"`
	ParseErrors   uint64                  `json:"parse_errors"`
	Buffer        buffer.Stats            `json:"buffer"`
	PendingUnits  int                     `json:"pending_units"`
	LastUpdate    *domain.EncounterUpdate `json:"live_encounter,omitempty"`
}

func (c *processingContext) stats() ContextStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ContextStats{
		ContextID:     c.id,
		ClientID:      c.session.ClientID,
		Status:        c.session.Status().String(),
		UptimeSeconds: time.Since(c.startedAt).Seconds(),
		Processed:     c.processed,
		ParseErrors:   c.parseErrors,
		Buffer:        c.buf.Stats(),
		PendingUnits:  len(c.pending),
		LastUpdate:    c.lastUpdate,
	}
}
