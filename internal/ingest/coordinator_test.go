package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loothing/lodestone/internal/auth"
	"github.com/loothing/lodestone/internal/buffer"
	"github.com/loothing/lodestone/internal/domain"
	"github.com/loothing/lodestone/internal/parser"
	"github.com/loothing/lodestone/internal/segment"
	"github.com/loothing/lodestone/internal/session"
)

type allowAllGate struct{}

func (allowAllGate) CheckQuota(string, auth.QuotaLimits, int, *uuid.UUID) error { return nil }

type denyGate struct{ err error }

func (g denyGate) CheckQuota(string, auth.QuotaLimits, int, *uuid.UUID) error { return g.err }

type fakeStorage struct {
	mu     sync.Mutex
	calls  int
	units  []*domain.Encounter
	labels []string
}

func (s *fakeStorage) StoreCompletedUnits(_ context.Context, units []*domain.Encounter, sourceLabel string, _ *uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.units = append(s.units, units...)
	s.labels = append(s.labels, sourceLabel)
	return len(units), nil
}

func (s *fakeStorage) stats() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, len(s.units)
}

func newTestCoordinator(storage *fakeStorage, gate QuotaGate) *Coordinator {
	cfg := Config{
		Buffer: buffer.Config{
			MaxSize:       100,
			BatchSize:     1,
			FlushInterval: 10 * time.Millisecond,
		},
		Workers:         2,
		StoreInterval:   time.Hour,
		MetricsInterval: time.Hour,
	}
	return NewCoordinator(cfg, parser.NewTokenizer(),
		func() EventParser { return parser.NewParser() },
		func() Segmenter { return segment.NewSegmenter() },
		storage, gate)
}

func newStreamSession(eventsPerMinute int) *session.Session {
	return session.New("guild-hub", uuid.New(), &domain.Credential{
		ClientID:        "guild-hub",
		EventsPerMinute: eventsPerMinute,
		MaxConnections:  3,
	})
}

const (
	lineEncounterStart = "9/15/2025 21:30:00.000-4  ENCOUNTER_START,2902,Ulgrax the Devourer,16,20,2657"
	lineLogVersion     = "9/15/2025 21:30:05.000-4  COMBAT_LOG_VERSION,22,ADVANCED_LOG_ENABLED,1"
	lineSpellDamage    = `9/15/2025 21:30:10.000-4  SPELL_DAMAGE,Player-1302-AAAA,"Varok",0x511,0x0,Creature-1,"Ulgrax the Devourer",0xa48,0x0,260708,"Sweeping Strikes",0x1,50000`
	lineEncounterEnd   = "9/15/2025 21:31:30.000-4  ENCOUNTER_END,2902,Ulgrax the Devourer,16,20,1"
)

// awaitNotice drains the notice channel until a notice with the wanted
// status arrives.
func awaitNotice(t *testing.T, c *Coordinator, status string) *domain.EncounterNotice {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-c.Notices():
			if n.Update.Status == status {
				return n
			}
		case <-deadline:
			t.Fatalf("no %s notice within deadline", status)
			return nil
		}
	}
}

func TestCoordinator_ProcessLine(t *testing.T) {
	t.Parallel()

	t.Run("unknown context", func(t *testing.T) {
		t.Parallel()
		c := newTestCoordinator(&fakeStorage{}, allowAllGate{})
		defer c.Stop()

		_, err := c.ProcessLine("guild-hub:missing", "line", time.Time{}, nil)
		assert.ErrorIs(t, err, ErrNoContext)
	})

	t.Run("client-wide quota denial", func(t *testing.T) {
		t.Parallel()
		c := newTestCoordinator(&fakeStorage{}, denyGate{err: &auth.RateLimitError{Kind: auth.DeniedBurst, ClientID: "guild-hub"}})
		defer c.Stop()

		s := newStreamSession(0)
		id, err := c.CreateContext(s)
		require.NoError(t, err)

		_, err = c.ProcessLine(id, lineSpellDamage, time.Time{}, nil)
		rle, ok := auth.AsRateLimit(err)
		require.True(t, ok)
		assert.Equal(t, auth.DeniedBurst, rle.Kind)
		assert.Zero(t, c.Stats().TotalLines)
	})

	t.Run("session minute window denial", func(t *testing.T) {
		t.Parallel()
		c := newTestCoordinator(&fakeStorage{}, allowAllGate{})
		defer c.Stop()

		s := newStreamSession(2)
		id, err := c.CreateContext(s)
		require.NoError(t, err)

		_, err = c.ProcessLine(id, lineSpellDamage, time.Time{}, nil)
		require.NoError(t, err)
		_, err = c.ProcessLine(id, lineSpellDamage, time.Time{}, nil)
		require.NoError(t, err)

		_, err = c.ProcessLine(id, lineSpellDamage, time.Time{}, nil)
		rle, ok := auth.AsRateLimit(err)
		require.True(t, ok)
		assert.Equal(t, auth.DeniedEventRate, rle.Kind)
	})

	t.Run("assigns sequences and records lines", func(t *testing.T) {
		t.Parallel()
		c := newTestCoordinator(&fakeStorage{}, allowAllGate{})
		defer c.Stop()

		s := newStreamSession(0)
		id, err := c.CreateContext(s)
		require.NoError(t, err)

		seq1, err := c.ProcessLine(id, lineEncounterStart, time.Time{}, nil)
		require.NoError(t, err)
		seq2, err := c.ProcessLine(id, lineSpellDamage, time.Time{}, nil)
		require.NoError(t, err)

		assert.Equal(t, seq1+1, seq2)
		assert.Equal(t, uint64(2), s.Snapshot().Metrics.TotalEvents)
	})
}

func TestCoordinator_Pipeline(t *testing.T) {
	t.Parallel()

	storage := &fakeStorage{}
	c := newTestCoordinator(storage, allowAllGate{})
	defer c.Stop()

	s := newStreamSession(0)
	id, err := c.CreateContext(s)
	require.NoError(t, err)

	var lastSeq uint64
	for _, line := range []string{lineEncounterStart, lineSpellDamage, lineEncounterEnd} {
		lastSeq, err = c.ProcessLine(id, line, time.Time{}, nil)
		require.NoError(t, err)
	}

	// The completed kill is announced.
	notice := awaitNotice(t, c, domain.EncounterDefeated)
	assert.Equal(t, "guild-hub", notice.ClientID)
	assert.Equal(t, s.ID, notice.SessionID)
	assert.Equal(t, "Ulgrax the Devourer", notice.Update.Name)
	assert.Equal(t, "Mythic", notice.Update.Difficulty)
	assert.Equal(t, 1, notice.Update.ParticipantCount)

	// Processed lines get acknowledged back onto the session.
	require.Eventually(t, func() bool {
		return s.LastAck() == lastSeq && s.PendingSequences() == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, s.CharacterCount())

	// Teardown drains and persists everything in one storage call.
	require.True(t, c.StopContext(id))

	calls, units := storage.stats()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, units)
	assert.Contains(t, storage.labels[0], "stream:guild-hub:")
	assert.True(t, storage.units[0].Success)
	assert.Equal(t, session.StatusDisconnected, s.Status())

	stats := c.Stats()
	assert.Zero(t, stats.ActiveContexts)
	assert.Equal(t, uint64(3), stats.TotalLines)
	assert.Equal(t, uint64(3), stats.TotalEvents)
	assert.Zero(t, stats.TotalParseErrors)
}

func TestCoordinator_CoalescedNotices(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(&fakeStorage{}, allowAllGate{})
	defer c.Stop()

	s := newStreamSession(0)
	id, err := c.CreateContext(s)
	require.NoError(t, err)

	_, err = c.ProcessLine(id, lineEncounterStart, time.Time{}, nil)
	require.NoError(t, err)
	first := awaitNotice(t, c, domain.EncounterInProgress)
	assert.Zero(t, first.Update.ParticipantCount)

	// A line that does not change the observable encounter state emits
	// no further update.
	_, err = c.ProcessLine(id, lineLogVersion, time.Time{}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return c.Stats().TotalLines == 2
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case n := <-c.Notices():
		t.Fatalf("unexpected notice: %+v", n.Update)
	case <-time.After(100 * time.Millisecond):
	}

	// A new participant changes the state and is announced.
	_, err = c.ProcessLine(id, lineSpellDamage, time.Time{}, nil)
	require.NoError(t, err)
	second := awaitNotice(t, c, domain.EncounterInProgress)
	assert.Equal(t, 1, second.Update.ParticipantCount)
}

func TestCoordinator_ParseErrors(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(&fakeStorage{}, allowAllGate{})
	defer c.Stop()

	s := newStreamSession(0)
	id, err := c.CreateContext(s)
	require.NoError(t, err)

	_, err = c.ProcessLine(id, "not a date  SPELL_DAMAGE,x", time.Time{}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Stats().TotalParseErrors == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, uint64(1), s.Snapshot().Metrics.ParseErrors)
	assert.Zero(t, c.Stats().TotalEvents)
}

func TestCoordinator_StopContext(t *testing.T) {
	t.Parallel()

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()
		c := newTestCoordinator(&fakeStorage{}, allowAllGate{})
		defer c.Stop()

		s := newStreamSession(0)
		id, err := c.CreateContext(s)
		require.NoError(t, err)

		assert.True(t, c.StopContext(id))
		assert.False(t, c.StopContext(id))
	})

	t.Run("unknown context", func(t *testing.T) {
		t.Parallel()
		c := newTestCoordinator(&fakeStorage{}, allowAllGate{})
		defer c.Stop()

		assert.False(t, c.StopContext("guild-hub:missing"))
	})

	t.Run("open encounter sealed as abandoned", func(t *testing.T) {
		t.Parallel()
		storage := &fakeStorage{}
		c := newTestCoordinator(storage, allowAllGate{})
		defer c.Stop()

		s := newStreamSession(0)
		id, err := c.CreateContext(s)
		require.NoError(t, err)

		_, err = c.ProcessLine(id, lineEncounterStart, time.Time{}, nil)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return c.Stats().TotalLines == 1
		}, 2*time.Second, 10*time.Millisecond)

		require.True(t, c.StopContext(id))

		calls, units := storage.stats()
		assert.Equal(t, 1, calls)
		require.Equal(t, 1, units)
		assert.False(t, storage.units[0].Success)
	})
}

func TestCoordinator_CreateContext(t *testing.T) {
	t.Parallel()

	t.Run("replaces existing context for the session", func(t *testing.T) {
		t.Parallel()
		c := newTestCoordinator(&fakeStorage{}, allowAllGate{})
		defer c.Stop()

		s := newStreamSession(0)
		first, err := c.CreateContext(s)
		require.NoError(t, err)
		second, err := c.CreateContext(s)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, c.Stats().ActiveContexts)
	})

	t.Run("concurrent creates leave a single context", func(t *testing.T) {
		t.Parallel()
		c := newTestCoordinator(&fakeStorage{}, allowAllGate{})
		defer c.Stop()

		s := newStreamSession(0)
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.CreateContext(s)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, c.Stats().ActiveContexts)
	})

	t.Run("sessions get distinct contexts", func(t *testing.T) {
		t.Parallel()
		c := newTestCoordinator(&fakeStorage{}, allowAllGate{})
		defer c.Stop()

		a, err := c.CreateContext(newStreamSession(0))
		require.NoError(t, err)
		b, err := c.CreateContext(newStreamSession(0))
		require.NoError(t, err)

		assert.NotEqual(t, a, b)
		assert.Equal(t, 2, c.Stats().ActiveContexts)
	})
}
