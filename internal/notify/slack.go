package notify

import (
	"context"
	"fmt"
	"time"

	slacklib "github.com/slack-go/slack"

	"github.com/loothing/lodestone/internal/domain"
)

// SlackAPI abstracts the subset of the Slack client used by the
// announcer. This allows testing without real HTTP calls.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error)
}

// SlackAnnouncer posts kill and wipe callouts to a Slack channel.
// In-progress updates are skipped; they would flood the channel.
type SlackAnnouncer struct {
	api       SlackAPI
	channelID string
}

// Compile-time interface check.
var _ Listener = (*SlackAnnouncer)(nil) //nolint:gochecknoglobals // compile-time check

// NewSlackAnnouncer creates the announcer for the given channel.
func NewSlackAnnouncer(api SlackAPI, channelID string) *SlackAnnouncer {
	return &SlackAnnouncer{api: api, channelID: channelID}
}

func (a *SlackAnnouncer) Name() string { return "slack" }

func (a *SlackAnnouncer) Notify(ctx context.Context, notice *domain.EncounterNotice) error {
	u := notice.Update
	if u.Status != domain.EncounterDefeated && u.Status != domain.EncounterWiped {
		return nil
	}

	text := formatCallout(notice.ClientID, u)
	_, _, err := a.api.PostMessageContext(ctx, a.channelID, slacklib.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify.SlackAnnouncer.Notify: %w", err)
	}

	return nil
}

func formatCallout(clientID string, u *domain.EncounterUpdate) string {
	verb := "wiped on"
	emoji := ":skull:"
	if u.Status == domain.EncounterDefeated {
		verb = "defeated"
		emoji = ":trophy:"
	}

	name := u.Name
	if u.Difficulty != "" {
		name = name + " (" + u.Difficulty + ")"
	}

	return fmt.Sprintf("%s %s %s %s in %s with %d participants",
		emoji, clientID, verb, name, u.Duration.Round(time.Second), u.ParticipantCount)
}
