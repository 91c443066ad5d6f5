package v1_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/loothing/lodestone/internal/api/v1"
	"github.com/loothing/lodestone/internal/auth"
	"github.com/loothing/lodestone/internal/ingest"
	"github.com/loothing/lodestone/internal/session"
)

// ---------------------------------------------------------------------------
// GET /stats
// ---------------------------------------------------------------------------

func TestGetStats(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterStatsRoutes(api,
			&mockIngestStats{stats: ingest.GlobalStats{ActiveContexts: 3, TotalLines: 120000, TotalEvents: 118500}},
			&mockSessionDirectory{stats: session.Stats{TotalSessions: 3, MaxSessions: 100, ActiveClients: 2}},
			&mockQuotaStats{stats: auth.Stats{TrackedClients: 2, QuotaWindows: 2, TotalConnections: 3}},
		)

		resp := api.Get("/stats")
		require.Equal(t, http.StatusOK, resp.Code)

		var body v1.GlobalStatsBody
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, 3, body.Ingest.ActiveContexts)
		assert.Equal(t, uint64(120000), body.Ingest.TotalLines)
		assert.Equal(t, 3, body.Sessions.TotalSessions)
		assert.Equal(t, 2, body.Quota.TrackedClients)
	})
}

// ---------------------------------------------------------------------------
// GET /clients/{clientID}/stats
// ---------------------------------------------------------------------------

func TestGetClientStats(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		live := session.New("guild-hub", uuid.New(), nil)
		live.Activate(session.Metadata{CharacterName: "Varok", Realm: "Draenor"})

		_, api := humatest.New(t)
		v1.RegisterStatsRoutes(api,
			&mockIngestStats{},
			&mockSessionDirectory{byClient: map[string][]*session.Session{"guild-hub": {live}}},
			&mockQuotaStats{clientStatsFunc: func(clientID string) (auth.ClientStats, error) {
				return auth.ClientStats{ClientID: clientID, EventsThisMinute: 42, ActiveConnections: 1}, nil
			}},
		)

		resp := api.Get("/clients/guild-hub/stats")
		require.Equal(t, http.StatusOK, resp.Code)

		var body v1.ClientStatsBody
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, "guild-hub", body.Quota.ClientID)
		assert.Equal(t, 42, body.Quota.EventsThisMinute)
		require.Len(t, body.Sessions, 1)
		assert.Equal(t, "active", body.Sessions[0].Status)
		assert.Equal(t, "Varok", body.Sessions[0].CharacterName)
	})

	t.Run("unknown_client", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterStatsRoutes(api,
			&mockIngestStats{},
			&mockSessionDirectory{},
			&mockQuotaStats{clientStatsFunc: func(string) (auth.ClientStats, error) {
				return auth.ClientStats{}, auth.ErrUnknownClient
			}},
		)

		resp := api.Get("/clients/nobody/stats")
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("quota_error", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterStatsRoutes(api,
			&mockIngestStats{},
			&mockSessionDirectory{},
			&mockQuotaStats{clientStatsFunc: func(string) (auth.ClientStats, error) {
				return auth.ClientStats{}, errors.New("stats backend down")
			}},
		)

		resp := api.Get("/clients/guild-hub/stats")
		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}
