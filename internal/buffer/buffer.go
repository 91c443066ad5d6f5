// Package buffer provides the bounded per-connection line buffer that
// decouples client push rate from parsing throughput. Overflow evicts
// the oldest unflushed line instead of blocking the producer; the loss
// is surfaced through Stats.
package buffer

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrStopped is returned by Add after Stop has completed.
var ErrStopped = errors.New("buffer: stopped")

// Line is one buffered log line. Immutable once created; owned by the
// buffer until handed to the batch handler.
type Line struct {
	Sequence   uint64
	Timestamp  time.Time
	Text       string
	ReceivedAt time.Time

	// requeued marks entries returned to the buffer after a handler
	// failure; they are exempt from overflow eviction until flushed
	// again.
	requeued bool
}

// Handler receives one extracted, ordered batch per flush. A non-nil
// error re-queues the batch at the front of the buffer.
type Handler func(batch []Line) error

// Config tunes one buffer.
type Config struct {
	MaxSize       int           // hard occupancy cap
	BatchSize     int           // size-based flush trigger
	FlushInterval time.Duration // time-based flush trigger
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 5000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.BatchSize > c.MaxSize {
		c.BatchSize = c.MaxSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	return c
}

// Stats is a point-in-time view of buffer state.
type Stats struct {
	Size               int     `json:"current_size"`
	MaxSize            int     `json:"max_size"`
	UtilizationPercent float64 `json:"utilization_percent"`
	TotalAdded         uint64  `json:"total_added"`
	TotalFlushed       uint64  `json:"total_flushed"`
	Pending            uint64  `json:"pending"`
	Overflows          uint64  `json:"overflows"`
	LagSeconds         float64 `json:"lag_seconds"`
}

// Buffer is a bounded FIFO of log lines with size- and time-triggered
// batch flushing. Add never blocks and never suspends; all expensive
// work happens in the handler, outside the lock, on the flush goroutine.
type Buffer struct {
	cfg     Config
	handler Handler

	mu        sync.Mutex
	entries   []Line
	seq       uint64
	added     uint64
	flushed   uint64
	overflows uint64
	lastFlush time.Time
	stopped   bool

	trigger  chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a buffer. Start must be called before lines are flushed.
func New(cfg Config, handler Handler) *Buffer {
	return &Buffer{
		cfg:       cfg.withDefaults(),
		handler:   handler,
		lastFlush: time.Now(),
		trigger:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the flush goroutine.
func (b *Buffer) Start() {
	go b.flushLoop()
}

// Stop halts the flush goroutine and performs one final forced flush of
// everything still buffered. Idempotent.
func (b *Buffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		<-b.done

		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		if _, err := b.flush(true); err != nil {
			log.Warn().Err(err).Msg("buffer: final flush failed, re-queued lines dropped")
		}
	})
}

// Add enqueues one line and returns its sequence number, assigning a
// monotonically increasing one when the caller supplied none. When the
// buffer is at capacity the oldest evictable entry is dropped and the
// overflow counter incremented; the new line is always accepted.
func (b *Buffer) Add(text string, timestamp time.Time, sequence *uint64) (uint64, error) {
	now := time.Now()
	if timestamp.IsZero() {
		timestamp = now
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return 0, ErrStopped
	}

	var seq uint64
	if sequence != nil {
		seq = *sequence
		if seq >= b.seq {
			b.seq = seq + 1
		}
	} else {
		seq = b.seq
		b.seq++
	}

	if len(b.entries) >= b.cfg.MaxSize {
		b.evictOldestLocked()
	}

	b.entries = append(b.entries, Line{
		Sequence:   seq,
		Timestamp:  timestamp,
		Text:       text,
		ReceivedAt: now,
	})
	b.added++

	full := len(b.entries) >= b.cfg.BatchSize
	b.mu.Unlock()

	if full {
		select {
		case b.trigger <- struct{}{}:
		default:
		}
	}

	return seq, nil
}

// evictOldestLocked drops the oldest entry that is not protected by a
// handler-failure re-queue. When every entry is protected the oldest is
// dropped regardless, keeping the occupancy bound hard.
func (b *Buffer) evictOldestLocked() {
	idx := 0
	for i := range b.entries {
		if !b.entries[i].requeued {
			idx = i
			break
		}
	}
	b.entries = append(b.entries[:idx], b.entries[idx+1:]...)
	b.overflows++
}

func (b *Buffer) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-b.trigger:
		case <-ticker.C:
		}

		if _, err := b.flush(false); err != nil {
			log.Error().Err(err).Msg("buffer: batch handler failed, batch re-queued")
		}
	}
}

// flush extracts up to BatchSize entries (all of them when forced) and
// invokes the handler exactly once with the ordered batch. On handler
// failure the batch is returned to the front of the buffer and the
// flush counters rolled back.
func (b *Buffer) flush(force bool) (int, error) {
	b.mu.Lock()
	available := len(b.entries)
	if available == 0 {
		b.mu.Unlock()
		return 0, nil
	}

	if !force && available < b.cfg.BatchSize && time.Since(b.lastFlush) < b.cfg.FlushInterval {
		b.mu.Unlock()
		return 0, nil
	}

	take := available
	if !force && take > b.cfg.BatchSize {
		take = b.cfg.BatchSize
	}

	batch := make([]Line, take)
	copy(batch, b.entries[:take])
	b.entries = append(b.entries[:0], b.entries[take:]...)
	b.flushed += uint64(take)
	b.lastFlush = time.Now()
	b.mu.Unlock()

	if err := b.handler(batch); err != nil {
		b.mu.Lock()
		for i := range batch {
			batch[i].requeued = true
		}
		b.entries = append(batch, b.entries...)
		b.flushed -= uint64(take)
		b.mu.Unlock()
		return 0, err
	}

	return take, nil
}

// Flush forces an immediate flush of everything buffered.
func (b *Buffer) Flush() (int, error) {
	return b.flush(true)
}

// Size returns current occupancy.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Stats returns a snapshot of buffer counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	lag := 0.0
	if len(b.entries) > 0 {
		lag = time.Since(b.entries[0].ReceivedAt).Seconds()
	}

	return Stats{
		Size:               len(b.entries),
		MaxSize:            b.cfg.MaxSize,
		UtilizationPercent: float64(len(b.entries)) / float64(b.cfg.MaxSize) * 100,
		TotalAdded:         b.added,
		TotalFlushed:       b.flushed,
		Pending:            b.added - b.flushed,
		Overflows:          b.overflows,
		LagSeconds:         lag,
	}
}
