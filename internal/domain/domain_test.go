package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCredential_HasCapability(t *testing.T) {
	t.Parallel()

	cred := &Credential{Capabilities: []string{CapabilityStream, CapabilityQuery}}

	assert.True(t, cred.HasCapability(CapabilityStream))
	assert.True(t, cred.HasCapability(CapabilityQuery))
	assert.False(t, cred.HasCapability(CapabilityAdmin))
	assert.False(t, cred.HasCapability(""))
}

func TestEncounterUpdate_Equal(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 9, 15, 21, 30, 0, 0, time.UTC)
	base := func() *EncounterUpdate {
		return &EncounterUpdate{
			Kind:             EncounterKindRaid,
			Name:             "Ulgrax the Devourer",
			Status:           EncounterInProgress,
			StartTime:        start,
			ParticipantCount: 20,
			TopDamage:        map[string]float64{"Varok": 125000},
		}
	}

	t.Run("same shape", func(t *testing.T) {
		t.Parallel()
		assert.True(t, base().Equal(base()))
	})

	t.Run("nil other", func(t *testing.T) {
		t.Parallel()
		assert.False(t, base().Equal(nil))
	})

	t.Run("top damage churn is ignored", func(t *testing.T) {
		t.Parallel()
		other := base()
		other.TopDamage = map[string]float64{"Varok": 999999, "Liadrin": 80000}
		assert.True(t, base().Equal(other))
	})

	t.Run("duration churn is ignored", func(t *testing.T) {
		t.Parallel()
		other := base()
		other.Duration = 90 * time.Second
		assert.True(t, base().Equal(other))
	})

	tests := []struct {
		name   string
		mutate func(*EncounterUpdate)
	}{
		{"status change", func(u *EncounterUpdate) { u.Status = EncounterDefeated }},
		{"name change", func(u *EncounterUpdate) { u.Name = "The Bloodbound Horror" }},
		{"kind change", func(u *EncounterUpdate) { u.Kind = EncounterKindMythicPlus }},
		{"start time change", func(u *EncounterUpdate) { u.StartTime = start.Add(time.Minute) }},
		{"participant change", func(u *EncounterUpdate) { u.ParticipantCount = 21 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			other := base()
			tt.mutate(other)
			assert.False(t, base().Equal(other))
		})
	}
}
