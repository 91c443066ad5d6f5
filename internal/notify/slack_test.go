package notify_test

import (
	"context"
	"errors"
	"testing"

	slacklib "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loothing/lodestone/internal/domain"
	"github.com/loothing/lodestone/internal/notify"
)

type fakeSlack struct {
	err   error
	calls int
}

func (f *fakeSlack) PostMessageContext(_ context.Context, _ string, _ ...slacklib.MsgOption) (string, string, error) {
	f.calls++
	if f.err != nil {
		return "", "", f.err
	}
	return "C123", "1724900000.000100", nil
}

func TestSlackAnnouncer_Notify(t *testing.T) {
	t.Parallel()

	t.Run("announces defeats", func(t *testing.T) {
		t.Parallel()

		api := &fakeSlack{}
		a := notify.NewSlackAnnouncer(api, "C123")

		err := a.Notify(t.Context(), testNotice(domain.EncounterDefeated))
		require.NoError(t, err)
		assert.Equal(t, 1, api.calls)
	})

	t.Run("announces wipes", func(t *testing.T) {
		t.Parallel()

		api := &fakeSlack{}
		a := notify.NewSlackAnnouncer(api, "C123")

		err := a.Notify(t.Context(), testNotice(domain.EncounterWiped))
		require.NoError(t, err)
		assert.Equal(t, 1, api.calls)
	})

	t.Run("skips in-progress updates", func(t *testing.T) {
		t.Parallel()

		api := &fakeSlack{}
		a := notify.NewSlackAnnouncer(api, "C123")

		err := a.Notify(t.Context(), testNotice(domain.EncounterInProgress))
		require.NoError(t, err)
		assert.Equal(t, 0, api.calls)
	})

	t.Run("skips abandoned updates", func(t *testing.T) {
		t.Parallel()

		api := &fakeSlack{}
		a := notify.NewSlackAnnouncer(api, "C123")

		err := a.Notify(t.Context(), testNotice(domain.EncounterAbandoned))
		require.NoError(t, err)
		assert.Equal(t, 0, api.calls)
	})

	t.Run("propagates API errors", func(t *testing.T) {
		t.Parallel()

		api := &fakeSlack{err: errors.New("channel_not_found")}
		a := notify.NewSlackAnnouncer(api, "C123")

		err := a.Notify(t.Context(), testNotice(domain.EncounterDefeated))
		assert.Error(t, err)
	})
}

type fakePublisher struct {
	err     error
	channel string
	payload []byte
}

func (f *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	f.channel = channel
	f.payload = payload
	return f.err
}

func TestRedisRelay_Notify(t *testing.T) {
	t.Parallel()

	t.Run("publishes on client channel", func(t *testing.T) {
		t.Parallel()

		pub := &fakePublisher{}
		relay := notify.NewRedisRelay(pub)

		err := relay.Notify(t.Context(), testNotice(domain.EncounterInProgress))
		require.NoError(t, err)
		assert.Equal(t, "encounters:guild-hub", pub.channel)
		assert.Contains(t, string(pub.payload), "Fyrakk the Blazing")
	})

	t.Run("propagates publish errors", func(t *testing.T) {
		t.Parallel()

		pub := &fakePublisher{err: errors.New("connection refused")}
		relay := notify.NewRedisRelay(pub)

		err := relay.Notify(t.Context(), testNotice(domain.EncounterDefeated))
		assert.Error(t, err)
	})
}
