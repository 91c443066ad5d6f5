package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/loothing/lodestone/internal/auth"
	"github.com/loothing/lodestone/internal/ingest"
	"github.com/loothing/lodestone/internal/session"
)

type GetStatsInput struct{}

type GlobalStatsBody struct {
	Ingest   ingest.GlobalStats `json:"ingest"`
	Sessions session.Stats      `json:"sessions"`
	Quota    auth.Stats         `json:"quota"`
}

type GetStatsOutput struct {
	Body *GlobalStatsBody
}

type GetClientStatsInput struct {
	ClientID string `path:"clientID" doc:"Client identifier"`
}

type ClientStatsBody struct {
	Quota    auth.ClientStats   `json:"quota"`
	Sessions []session.Snapshot `json:"sessions"`
}

type GetClientStatsOutput struct {
	Body *ClientStatsBody
}

func RegisterStatsRoutes(api huma.API, ingestStats IngestStats, sessions SessionDirectory, quota QuotaStats) {
	huma.Register(api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Get server-wide ingest, session, and quota statistics",
		Tags:        []string{"Stats"},
	}, func(_ context.Context, _ *GetStatsInput) (*GetStatsOutput, error) {
		return &GetStatsOutput{Body: &GlobalStatsBody{
			Ingest:   ingestStats.Stats(),
			Sessions: sessions.Stats(),
			Quota:    quota.Stats(),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client-stats",
		Method:      http.MethodGet,
		Path:        "/clients/{clientID}/stats",
		Summary:     "Get quota state and live sessions for one client",
		Tags:        []string{"Stats"},
	}, func(_ context.Context, input *GetClientStatsInput) (*GetClientStatsOutput, error) {
		clientQuota, err := quota.ClientStats(input.ClientID)
		if err != nil {
			if errors.Is(err, auth.ErrUnknownClient) {
				return nil, huma.Error404NotFound("unknown client")
			}
			return nil, huma.Error500InternalServerError("failed to read client stats", err)
		}

		live := sessions.ByClient(input.ClientID)
		snaps := make([]session.Snapshot, 0, len(live))
		for _, s := range live {
			snaps = append(snaps, s.Snapshot())
		}

		return &GetClientStatsOutput{Body: &ClientStatsBody{
			Quota:    clientQuota,
			Sessions: snaps,
		}}, nil
	})
}
