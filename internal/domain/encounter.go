package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Encounter kinds.
const (
	EncounterKindRaid       = "raid"
	EncounterKindMythicPlus = "mythic_plus"
)

// Live encounter statuses carried on EncounterUpdate.
const (
	EncounterInProgress = "in_progress"
	EncounterDefeated   = "defeated"
	EncounterWiped      = "wiped"
	EncounterAbandoned  = "abandoned"
)

// Participant aggregates one character's contribution to an encounter.
type Participant struct {
	GUID        string
	Name        string
	DamageDone  int64
	HealingDone int64
	Deaths      int
}

// Encounter is a completed, bounded unit ready for persistence.
type Encounter struct {
	ID         uuid.UUID
	Kind       string
	Name       string
	Difficulty string
	Success    bool
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration

	Participants []*Participant
	EventCount   int64
}

// EncounterUpdate is the live-encounter summary emitted to notification
// listeners. TopDamage maps up to five character names to damage per second.
type EncounterUpdate struct {
	Kind             string             `json:"unit_type"`
	Name             string             `json:"name"`
	Difficulty       string             `json:"difficulty,omitempty"`
	Status           string             `json:"status"`
	StartTime        time.Time          `json:"start_time"`
	Duration         time.Duration      `json:"duration"`
	ParticipantCount int                `json:"participant_count"`
	TopDamage        map[string]float64 `json:"top_metrics,omitempty"`
}

// Equal reports whether two updates describe the same observable state.
// TopDamage values shift every batch, so only the shape of the encounter
// is compared; this is what coalesces intra-batch churn.
func (u *EncounterUpdate) Equal(other *EncounterUpdate) bool {
	if other == nil {
		return false
	}
	return u.Kind == other.Kind &&
		u.Name == other.Name &&
		u.Status == other.Status &&
		u.StartTime.Equal(other.StartTime) &&
		u.ParticipantCount == other.ParticipantCount
}

// EncounterNotice routes an update to interested listeners.
type EncounterNotice struct {
	ClientID  string           `json:"client_id"`
	SessionID uuid.UUID        `json:"session_id"`
	TenantID  *uuid.UUID       `json:"tenant_id,omitempty"`
	Update    *EncounterUpdate `json:"update"`
}

// EncounterStorage persists completed encounters. Delivery is
// at-least-once; retries on failure are the implementation's concern.
type EncounterStorage interface {
	StoreCompletedUnits(ctx context.Context, units []*Encounter, sourceLabel string, tenantID *uuid.UUID) (int, error)
}
