package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loothing/lodestone/internal/domain"
)

func newTestSession(eventsPerMinute int) *Session {
	return New("guild-hub", uuid.New(), &domain.Credential{
		ClientID:        "guild-hub",
		EventsPerMinute: eventsPerMinute,
	})
}

func TestSession_StatusTransitions(t *testing.T) {
	t.Parallel()

	t.Run("starts connecting", func(t *testing.T) {
		t.Parallel()
		s := newTestSession(0)
		assert.Equal(t, StatusConnecting, s.Status())
	})

	t.Run("activate applies metadata", func(t *testing.T) {
		t.Parallel()
		s := newTestSession(0)
		s.Activate(Metadata{ClientVersion: "1.2.0", CharacterName: "Thrall", Realm: "Draenor", Region: "eu"})

		assert.Equal(t, StatusActive, s.Status())
		assert.Equal(t, "Thrall", s.Meta().CharacterName)
	})

	t.Run("activate without metadata keeps existing", func(t *testing.T) {
		t.Parallel()
		s := newTestSession(0)
		s.Activate(Metadata{CharacterName: "Thrall"})
		s.Activate(Metadata{})

		assert.Equal(t, "Thrall", s.Meta().CharacterName)
	})

	t.Run("idle wakes on touch", func(t *testing.T) {
		t.Parallel()
		s := newTestSession(0)
		s.Activate(Metadata{})
		s.MarkIdle()
		require.Equal(t, StatusIdle, s.Status())

		s.Touch()
		assert.Equal(t, StatusActive, s.Status())
	})

	t.Run("idle wakes on heartbeat", func(t *testing.T) {
		t.Parallel()
		s := newTestSession(0)
		s.Activate(Metadata{})
		s.MarkIdle()

		s.Heartbeat()
		assert.Equal(t, StatusActive, s.Status())
	})

	t.Run("idle needs activation first", func(t *testing.T) {
		t.Parallel()
		s := newTestSession(0)
		require.Equal(t, StatusConnecting, s.Status())

		s.MarkIdle()
		assert.Equal(t, StatusConnecting, s.Status())
	})

	t.Run("disconnected is terminal", func(t *testing.T) {
		t.Parallel()
		s := newTestSession(0)
		s.MarkDisconnected()

		s.Activate(Metadata{})
		assert.Equal(t, StatusDisconnected, s.Status())

		s.MarkIdle()
		assert.Equal(t, StatusDisconnected, s.Status())
	})

	t.Run("error sticks through disconnect", func(t *testing.T) {
		t.Parallel()
		s := newTestSession(0)
		s.MarkError()
		require.Equal(t, StatusError, s.Status())

		s.MarkDisconnected()
		assert.Equal(t, StatusError, s.Status())
	})

	t.Run("status strings", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "connecting", StatusConnecting.String())
		assert.Equal(t, "active", StatusActive.String())
		assert.Equal(t, "idle", StatusIdle.String())
		assert.Equal(t, "disconnected", StatusDisconnected.String())
		assert.Equal(t, "error", StatusError.String())
		assert.Equal(t, "unknown", Status(99).String())
	})
}

func TestSession_AllowEvent(t *testing.T) {
	t.Parallel()

	t.Run("enforces per-minute ceiling", func(t *testing.T) {
		t.Parallel()
		s := newTestSession(3)

		for range 3 {
			assert.True(t, s.AllowEvent())
		}
		assert.False(t, s.AllowEvent())
	})

	t.Run("zero limit means unlimited", func(t *testing.T) {
		t.Parallel()
		s := newTestSession(0)

		for range 100 {
			require.True(t, s.AllowEvent())
		}
	})

	t.Run("nil credential means unlimited", func(t *testing.T) {
		t.Parallel()
		s := New("guild-hub", uuid.New(), nil)

		for range 100 {
			require.True(t, s.AllowEvent())
		}
	})
}

func TestSession_Acknowledgments(t *testing.T) {
	t.Parallel()

	t.Run("high-water mark is monotonic", func(t *testing.T) {
		t.Parallel()
		s := newTestSession(0)

		s.AcknowledgeSequence(5)
		assert.Equal(t, uint64(5), s.LastAck())

		s.AcknowledgeSequence(3)
		assert.Equal(t, uint64(5), s.LastAck())

		s.AcknowledgeSequence(9)
		assert.Equal(t, uint64(9), s.LastAck())
	})

	t.Run("sequence zero is acknowledgeable", func(t *testing.T) {
		t.Parallel()
		s := newTestSession(0)

		s.RecordLine(0, 10)
		require.Equal(t, 1, s.PendingSequences())

		s.AcknowledgeSequence(0)
		assert.Equal(t, uint64(0), s.LastAck())
		assert.Equal(t, 0, s.PendingSequences())
	})

	t.Run("pending set drains as lines are acked", func(t *testing.T) {
		t.Parallel()
		s := newTestSession(0)

		for seq := uint64(1); seq <= 4; seq++ {
			s.RecordLine(seq, 20)
		}
		require.Equal(t, 4, s.PendingSequences())

		s.AcknowledgeSequence(1)
		s.AcknowledgeSequence(2)
		assert.Equal(t, 2, s.PendingSequences())

		// Repeat ack is a no-op.
		s.AcknowledgeSequence(2)
		assert.Equal(t, 2, s.PendingSequences())
	})
}

func TestSession_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestSession(0)
	s.RecordLine(1, 120)
	s.RecordLine(2, 80)
	s.RecordParseError()
	s.SetBufferHealth(45.5, 120)
	s.AddCharacters("Player-1302-0A1B2C3D", "Player-1302-0A1B2C3D", "Creature-0-559")

	snap := s.Snapshot()
	assert.Equal(t, "guild-hub", snap.ClientID)
	assert.Equal(t, uint64(2), snap.Metrics.TotalEvents)
	assert.Equal(t, uint64(200), snap.Metrics.BytesReceived)
	assert.Equal(t, uint64(1), snap.Metrics.ParseErrors)
	assert.InDelta(t, 45.5, snap.Metrics.BufferUtilization, 0.01)
	assert.Equal(t, 2, snap.Characters)
	assert.Equal(t, 2, snap.PendingSeqs)
}

func TestSession_IdleStale(t *testing.T) {
	t.Parallel()

	s := newTestSession(0)

	assert.False(t, s.IsIdle(time.Minute))
	assert.False(t, s.IsStale(time.Minute))

	time.Sleep(5 * time.Millisecond)
	assert.True(t, s.IsIdle(time.Millisecond))
	assert.True(t, s.IsStale(time.Millisecond))

	s.Heartbeat()
	assert.False(t, s.IsStale(time.Minute))
}
