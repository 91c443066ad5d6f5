// Package ingest coordinates per-session stream processing: it owns one
// processing context per active session, feeds buffered lines through
// tokenize/parse/segment on a bounded worker pool, emits live-encounter
// notices, and persists completed encounters.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/loothing/lodestone/internal/auth"
	"github.com/loothing/lodestone/internal/buffer"
	"github.com/loothing/lodestone/internal/domain"
	"github.com/loothing/lodestone/internal/session"
)

// ErrNoContext is returned by ProcessLine for unknown context ids.
var ErrNoContext = errors.New("ingest: no processing context")

// QuotaGate is the client-wide quota check consulted before buffering.
type QuotaGate interface {
	CheckQuota(clientID string, quota auth.QuotaLimits, eventCount int, newSession *uuid.UUID) error
}

// Config tunes the coordinator.
type Config struct {
	Buffer          buffer.Config
	Workers         int
	QueueDepth      int
	StoreInterval   time.Duration // periodic completed-unit persistence
	MetricsInterval time.Duration // buffer-health push into session metrics
}

func (c Config) withDefaults() Config {
	if c.StoreInterval <= 0 {
		c.StoreInterval = 30 * time.Second
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 5 * time.Second
	}
	return c
}

// Coordinator owns all processing contexts. Cross-context state lives
// behind one mutex with short, CPU-only critical sections; batch work
// runs on the worker pool, never under the coordinator lock.
type Coordinator struct {
	cfg       Config
	tokenizer Tokenizer
	newParser func() EventParser
	newSeg    func() Segmenter
	storage   domain.EncounterStorage
	quota     QuotaGate
	pool      *pool

	notices chan *domain.EncounterNotice

	mu       sync.Mutex
	contexts map[string]*processingContext

	statsMu     sync.Mutex
	totalLines  uint64
	totalEvents uint64
	totalErrors uint64
	startedAt   time.Time
}

// NewCoordinator wires the coordinator. The tokenizer is shared across
// contexts; parser and segmenter factories produce one instance per
// context.
func NewCoordinator(cfg Config, tokenizer Tokenizer, newParser func() EventParser, newSeg func() Segmenter, storage domain.EncounterStorage, quota QuotaGate) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:       cfg,
		tokenizer: tokenizer,
		newParser: newParser,
		newSeg:    newSeg,
		storage:   storage,
		quota:     quota,
		pool:      newPool(cfg.Workers, cfg.QueueDepth),
		notices:   make(chan *domain.EncounterNotice, 256),
		contexts:  make(map[string]*processingContext),
		startedAt: time.Now(),
	}
}

// Notices is the stream of encounter updates, consumed by the
// notification fanout loop.
func (c *Coordinator) Notices() <-chan *domain.EncounterNotice {
	return c.notices
}

// ContextID derives the context key for a session.
func ContextID(s *session.Session) string {
	return s.ClientID + ":" + s.ID.String()
}

// CreateContext allocates a fresh parser, segmenter and line buffer for
// the session and starts the buffer's flush loop. An existing context
// for the same session is torn down first and logged as a replacement.
func (c *Coordinator) CreateContext(s *session.Session) (string, error) {
	id := ContextID(s)

	pctx := &processingContext{
		id:        id,
		session:   s,
		parser:    c.newParser(),
		seg:       c.newSeg(),
		lastStore: time.Now(),
		startedAt: time.Now(),
	}
	pctx.buf = buffer.New(c.cfg.Buffer, func(batch []buffer.Line) error {
		return c.pool.Do(context.Background(), func() error {
			c.processBatch(pctx, batch)
			return nil
		})
	})

	// Swap in one critical section so two concurrent creates for the
	// same session cannot both land in the map; the loser's context is
	// torn down after the lock is released.
	c.mu.Lock()
	replaced := c.contexts[id]
	c.contexts[id] = pctx
	c.mu.Unlock()

	if replaced != nil {
		log.Warn().Str("context_id", id).Msg("processing context already exists, replacing")
		c.teardownContext(replaced)
	}

	pctx.buf.Start()

	log.Info().Str("context_id", id).Msg("processing context created")
	return id, nil
}

// ProcessLine routes one log line into its context's buffer. The
// client-wide quota gate runs first, then the session-local minute
// limiter; a denial returns the rate-limit error without buffering.
// On success the assigned sequence number is returned.
func (c *Coordinator) ProcessLine(contextID, line string, timestamp time.Time, sequence *uint64) (uint64, error) {
	c.mu.Lock()
	pctx := c.contexts[contextID]
	c.mu.Unlock()
	if pctx == nil {
		return 0, fmt.Errorf("ingest.ProcessLine: %s: %w", contextID, ErrNoContext)
	}

	s := pctx.session
	quota := auth.QuotaLimits{}
	if s.Cred != nil {
		quota = auth.QuotaLimits{
			EventsPerMinute: s.Cred.EventsPerMinute,
			MaxConnections:  s.Cred.MaxConnections,
		}
	}

	if err := c.quota.CheckQuota(s.ClientID, quota, 1, nil); err != nil {
		return 0, fmt.Errorf("ingest.ProcessLine: %w", err)
	}

	if !s.AllowEvent() {
		return 0, fmt.Errorf("ingest.ProcessLine: %w", &auth.RateLimitError{Kind: auth.DeniedEventRate, ClientID: s.ClientID})
	}

	seq, err := pctx.buf.Add(line, timestamp, sequence)
	if err != nil {
		return 0, fmt.Errorf("ingest.ProcessLine: %w", err)
	}

	s.RecordLine(seq, len(line))
	return seq, nil
}

// processBatch runs on a pool worker. Per-line failures are counted and
// never abort the batch; at most one coalesced encounter notice is
// emitted per batch per context.
func (c *Coordinator) processBatch(pctx *processingContext, batch []buffer.Line) {
	pctx.mu.Lock()
	defer pctx.mu.Unlock()

	var processed, failed uint64
	var charGUIDs []string

	for _, line := range batch {
		tokens := c.tokenizer.Tokenize(line.Text)
		if len(tokens) == 0 {
			continue
		}

		ev, err := pctx.parser.Parse(tokens)
		if err != nil {
			failed++
			pctx.session.RecordParseError()
			log.Debug().Err(err).Str("context_id", pctx.id).Msg("line parse failed")
			continue
		}
		if ev == nil {
			continue
		}

		completed := pctx.seg.Process(ev)
		pctx.pending = append(pctx.pending, completed...)
		for _, unit := range completed {
			c.emitUnitNotice(pctx, unit)
			for _, p := range unit.Participants {
				charGUIDs = append(charGUIDs, p.GUID)
			}
		}

		pctx.session.AcknowledgeSequence(line.Sequence)
		processed++
	}

	if len(charGUIDs) > 0 {
		pctx.session.AddCharacters(charGUIDs...)
	}

	pctx.processed += processed
	pctx.parseErrors += failed

	c.statsMu.Lock()
	c.totalLines += uint64(len(batch))
	c.totalEvents += processed
	c.totalErrors += failed
	c.statsMu.Unlock()

	// One coalesced live-encounter notice per batch.
	if live := pctx.seg.Live(); live != nil && !live.Equal(pctx.lastUpdate) {
		pctx.lastUpdate = live
		c.emitNotice(pctx, live)
	}

	// Periodic persistence of completed units.
	if len(pctx.pending) > 0 && time.Since(pctx.lastStore) >= c.cfg.StoreInterval {
		c.storePendingLocked(pctx)
	}
}

// emitUnitNotice announces a completed unit (kill or wipe).
func (c *Coordinator) emitUnitNotice(pctx *processingContext, unit *domain.Encounter) {
	status := domain.EncounterWiped
	if unit.Success {
		status = domain.EncounterDefeated
	}
	c.emitNotice(pctx, &domain.EncounterUpdate{
		Kind:             unit.Kind,
		Name:             unit.Name,
		Difficulty:       unit.Difficulty,
		Status:           status,
		StartTime:        unit.StartTime,
		Duration:         unit.Duration,
		ParticipantCount: len(unit.Participants),
	})
}

// emitNotice is non-blocking: when the fanout loop falls behind the
// notice is dropped with a warning. Notifications are best-effort
// hints, never a delivery guarantee.
func (c *Coordinator) emitNotice(pctx *processingContext, update *domain.EncounterUpdate) {
	notice := &domain.EncounterNotice{
		ClientID:  pctx.session.ClientID,
		SessionID: pctx.session.ID,
		Update:    update,
	}
	if pctx.session.Cred != nil {
		notice.TenantID = pctx.session.Cred.TenantID
	}

	select {
	case c.notices <- notice:
	default:
		log.Warn().Str("context_id", pctx.id).Msg("notice channel full, encounter update dropped")
	}
}

// storePendingLocked persists accumulated completed units in one storage
// call. Storage failures are logged and the units dropped; at-least-once
// retry is the storage collaborator's responsibility. Caller holds
// pctx.mu.
func (c *Coordinator) storePendingLocked(pctx *processingContext) {
	units := pctx.pending
	pctx.pending = nil
	pctx.lastStore = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sourceLabel := "stream:" + pctx.id
	stored, err := c.storage.StoreCompletedUnits(ctx, units, sourceLabel, tenantOf(pctx.session))
	if err != nil {
		log.Error().Err(err).Str("context_id", pctx.id).Int("units", len(units)).Msg("storing completed encounters failed")
		return
	}
	log.Info().Str("context_id", pctx.id).Int("stored", stored).Msg("stored completed encounters")
}

// StopContext synchronously drains the buffer, finalizes the segmenter,
// persists remaining completed units in a single storage call, and
// removes the context. Idempotent; returns false when no context exists.
func (c *Coordinator) StopContext(contextID string) bool {
	c.mu.Lock()
	pctx, ok := c.contexts[contextID]
	if ok {
		delete(c.contexts, contextID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	c.teardownContext(pctx)

	log.Info().Str("context_id", contextID).Msg("processing context stopped")
	return true
}

// teardownContext drains, finalizes and stores a context that is no
// longer reachable from the map. The batch handler still holds a
// reference to pctx, which stays valid after removal.
func (c *Coordinator) teardownContext(pctx *processingContext) {
	pctx.buf.Stop()

	pctx.mu.Lock()
	pctx.pending = append(pctx.pending, pctx.seg.Finalize()...)
	if len(pctx.pending) > 0 {
		c.storePendingLocked(pctx)
	}
	pctx.mu.Unlock()

	pctx.session.MarkDisconnected()
}

// Stop tears down every context and shuts the pool and notice channel.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.contexts))
	for id := range c.contexts {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.StopContext(id)
	}

	c.pool.Stop()
	close(c.notices)
}

// RunMetrics periodically pushes buffer health into session metrics
// until ctx is cancelled.
func (c *Coordinator) RunMetrics(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			ctxs := make([]*processingContext, 0, len(c.contexts))
			for _, pctx := range c.contexts {
				ctxs = append(ctxs, pctx)
			}
			c.mu.Unlock()

			for _, pctx := range ctxs {
				stats := pctx.buf.Stats()
				pctx.session.SetBufferHealth(stats.UtilizationPercent, stats.LagSeconds*1000)
			}
		}
	}
}

// GlobalStats aggregates processing counters across live contexts.
type GlobalStats struct {
	ActiveContexts   int                     `json:"active_contexts"`
	TotalLines       uint64                  `json:"total_lines"`
	TotalEvents      uint64                  `json:"total_events"`
	TotalParseErrors uint64                  `json:"total_parse_errors"`
	LinesPerSecond   float64                 `json:"lines_per_sec"`
	EventsPerSecond  float64                 `json:"events_per_sec"`
	ErrorRatePercent float64                 `json:"error_rate"`
	UptimeSeconds    float64                 `json:"uptime_seconds"`
	Contexts         map[string]ContextStats `json:"contexts,omitempty"`
}

// Stats returns the aggregated processing statistics.
func (c *Coordinator) Stats() GlobalStats {
	c.statsMu.Lock()
	lines, events, errs := c.totalLines, c.totalEvents, c.totalErrors
	c.statsMu.Unlock()

	c.mu.Lock()
	perContext := make(map[string]ContextStats, len(c.contexts))
	ctxs := make([]*processingContext, 0, len(c.contexts))
	for _, pctx := range c.contexts {
		ctxs = append(ctxs, pctx)
	}
	c.mu.Unlock()

	for _, pctx := range ctxs {
		perContext[pctx.id] = pctx.stats()
	}

	uptime := time.Since(c.startedAt).Seconds()
	if uptime < 1 {
		uptime = 1
	}

	errorRate := 0.0
	if lines > 0 {
		errorRate = float64(errs) / float64(lines) * 100
	}

	return GlobalStats{
		ActiveContexts:   len(perContext),
		TotalLines:       lines,
		TotalEvents:      events,
		TotalParseErrors: errs,
		LinesPerSecond:   float64(lines) / uptime,
		EventsPerSecond:  float64(events) / uptime,
		ErrorRatePercent: errorRate,
		UptimeSeconds:    uptime,
		Contexts:         perContext,
	}
}

func tenantOf(s *session.Session) *uuid.UUID {
	if s.Cred == nil {
		return nil
	}
	return s.Cred.TenantID
}
