package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/loothing/lodestone/internal/domain"
	"github.com/loothing/lodestone/internal/server/middleware"
)

type ListEncountersInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500" doc:"Maximum number of encounters to return"`
}

// EncounterView is the API shape of a stored encounter.
type EncounterView struct {
	ID              uuid.UUID             `json:"id"`
	Kind            string                `json:"kind"`
	Name            string                `json:"name"`
	Difficulty      string                `json:"difficulty,omitempty"`
	Success         bool                  `json:"success"`
	StartTime       time.Time             `json:"start_time"`
	EndTime         time.Time             `json:"end_time"`
	DurationSeconds float64               `json:"duration_seconds"`
	Participants    []*domain.Participant `json:"participants,omitempty"`
	EventCount      int64                 `json:"event_count"`
}

type ListEncountersOutput struct {
	Body struct {
		Encounters []EncounterView `json:"encounters"`
	}
}

func RegisterEncounterRoutes(api huma.API, encounters EncounterReader) {
	huma.Register(api, huma.Operation{
		OperationID: "list-encounters",
		Method:      http.MethodGet,
		Path:        "/encounters",
		Summary:     "List recently stored encounters",
		Tags:        []string{"Encounters"},
	}, func(ctx context.Context, input *ListEncountersInput) (*ListEncountersOutput, error) {
		var tenantID *uuid.UUID
		if result, ok := middleware.AuthFromContext(ctx); ok {
			tenantID = result.TenantID
		}

		units, err := encounters.ListRecent(ctx, tenantID, input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list encounters", err)
		}

		out := &ListEncountersOutput{}
		out.Body.Encounters = make([]EncounterView, 0, len(units))
		for _, u := range units {
			out.Body.Encounters = append(out.Body.Encounters, EncounterView{
				ID:              u.ID,
				Kind:            u.Kind,
				Name:            u.Name,
				Difficulty:      u.Difficulty,
				Success:         u.Success,
				StartTime:       u.StartTime,
				EndTime:         u.EndTime,
				DurationSeconds: u.Duration.Seconds(),
				Participants:    u.Participants,
				EventCount:      u.EventCount,
			})
		}

		return out, nil
	})
}
