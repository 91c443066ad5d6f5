// Package segment turns a stream of events into bounded encounters.
// ENCOUNTER_START/ENCOUNTER_END delimit raid encounters and
// CHALLENGE_MODE_START/CHALLENGE_MODE_END keystone runs; damage, healing
// and death events between the boundaries accumulate per participant.
package segment

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loothing/lodestone/internal/domain"
)

type liveEncounter struct {
	kind         string
	name         string
	difficulty   string
	start        time.Time
	last         time.Time
	events       int64
	participants map[string]*domain.Participant
}

// Segmenter tracks at most one live encounter per stream. Not safe for
// concurrent use; each processing context owns exactly one instance and
// serializes batches through it.
type Segmenter struct {
	current *liveEncounter

	encountersCompleted int
	eventsProcessed     int64
}

// NewSegmenter creates an empty segmenter.
func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// Process feeds one event through the segmenter and returns any
// encounters it completed. Usually nil; an ENCOUNTER_END produces one,
// and an ENCOUNTER_START while another encounter is open closes the
// stale one as abandoned first.
func (s *Segmenter) Process(ev *domain.Event) []*domain.Encounter {
	if ev == nil {
		return nil
	}
	s.eventsProcessed++

	switch ev.Type {
	case "ENCOUNTER_START":
		return s.open(ev, domain.EncounterKindRaid, raidName(ev.Params), raidDifficulty(ev.Params))

	case "CHALLENGE_MODE_START":
		return s.open(ev, domain.EncounterKindMythicPlus, keystoneName(ev.Params), keystoneLevel(ev.Params))

	case "ENCOUNTER_END":
		return s.close(ev, encounterSuccess(ev.Params, 4))

	case "CHALLENGE_MODE_END":
		return s.close(ev, encounterSuccess(ev.Params, 1))

	case "UNIT_DIED":
		if s.current != nil && isPlayer(ev.DestGUID) {
			s.touch(ev)
			s.participant(ev.DestGUID, ev.DestName).Deaths++
		}

	default:
		if s.current == nil {
			return nil
		}
		s.touch(ev)
		if ev.Amount <= 0 || !isPlayer(ev.SourceGUID) {
			return nil
		}
		p := s.participant(ev.SourceGUID, ev.SourceName)
		if strings.HasSuffix(ev.Type, "_DAMAGE") {
			p.DamageDone += ev.Amount
		} else if strings.HasSuffix(ev.Type, "_HEAL") {
			p.HealingDone += ev.Amount
		}
	}

	return nil
}

// Live returns the in-progress encounter summary, or nil when no
// encounter is open.
func (s *Segmenter) Live() *domain.EncounterUpdate {
	if s.current == nil {
		return nil
	}
	return s.summary(domain.EncounterInProgress)
}

// Finalize closes any in-flight encounter as abandoned and returns the
// resulting completed units. Called at stream teardown.
func (s *Segmenter) Finalize() []*domain.Encounter {
	if s.current == nil {
		return nil
	}
	unit := s.seal(s.current.last, false)
	s.current = nil
	return []*domain.Encounter{unit}
}

// Stats counters for observability.
type Stats struct {
	EventsProcessed     int64 `json:"events_processed"`
	EncountersCompleted int   `json:"encounters_completed"`
	EncounterOpen       bool  `json:"encounter_open"`
}

// Stats returns segmenter counters.
func (s *Segmenter) Stats() Stats {
	return Stats{
		EventsProcessed:     s.eventsProcessed,
		EncountersCompleted: s.encountersCompleted,
		EncounterOpen:       s.current != nil,
	}
}

func (s *Segmenter) open(ev *domain.Event, kind, name, difficulty string) []*domain.Encounter {
	var completed []*domain.Encounter
	if s.current != nil {
		// A new boundary with one still open means the end event was
		// lost; close the stale encounter as abandoned.
		completed = append(completed, s.seal(ev.Timestamp, false))
	}

	s.current = &liveEncounter{
		kind:         kind,
		name:         name,
		difficulty:   difficulty,
		start:        ev.Timestamp,
		last:         ev.Timestamp,
		participants: make(map[string]*domain.Participant),
	}
	return completed
}

func (s *Segmenter) close(ev *domain.Event, success bool) []*domain.Encounter {
	if s.current == nil {
		return nil
	}
	unit := s.seal(ev.Timestamp, success)
	s.current = nil
	return []*domain.Encounter{unit}
}

func (s *Segmenter) seal(end time.Time, success bool) *domain.Encounter {
	cur := s.current
	if end.Before(cur.start) {
		end = cur.last
	}

	parts := make([]*domain.Participant, 0, len(cur.participants))
	for _, p := range cur.participants {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].DamageDone > parts[j].DamageDone })

	s.encountersCompleted++
	return &domain.Encounter{
		ID:           uuid.New(),
		Kind:         cur.kind,
		Name:         cur.name,
		Difficulty:   cur.difficulty,
		Success:      success,
		StartTime:    cur.start,
		EndTime:      end,
		Duration:     end.Sub(cur.start),
		Participants: parts,
		EventCount:   cur.events,
	}
}

func (s *Segmenter) touch(ev *domain.Event) {
	s.current.events++
	if ev.Timestamp.After(s.current.last) {
		s.current.last = ev.Timestamp
	}
}

func (s *Segmenter) participant(guid, name string) *domain.Participant {
	p, ok := s.current.participants[guid]
	if !ok {
		p = &domain.Participant{GUID: guid, Name: name}
		s.current.participants[guid] = p
	}
	return p
}

func (s *Segmenter) summary(status string) *domain.EncounterUpdate {
	cur := s.current
	duration := cur.last.Sub(cur.start)

	top := make(map[string]float64)
	type ranked struct {
		name string
		dps  float64
	}
	var all []ranked
	secs := duration.Seconds()
	if secs < 1 {
		secs = 1
	}
	for _, p := range cur.participants {
		if p.DamageDone > 0 {
			all = append(all, ranked{p.Name, float64(p.DamageDone) / secs})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dps > all[j].dps })
	for i, r := range all {
		if i >= 5 {
			break
		}
		top[r.name] = r.dps
	}

	return &domain.EncounterUpdate{
		Kind:             cur.kind,
		Name:             cur.name,
		Difficulty:       cur.difficulty,
		Status:           status,
		StartTime:        cur.start,
		Duration:         duration,
		ParticipantCount: len(cur.participants),
		TopDamage:        top,
	}
}

func isPlayer(guid string) bool {
	return strings.HasPrefix(guid, "Player-")
}

// ENCOUNTER_START params: encounterID, name, difficultyID, groupSize, instanceID.
func raidName(params []string) string {
	if len(params) > 1 {
		return params[1]
	}
	return "Unknown"
}

func raidDifficulty(params []string) string {
	if len(params) > 2 {
		switch params[2] {
		case "14":
			return "Normal"
		case "15":
			return "Heroic"
		case "16":
			return "Mythic"
		case "17":
			return "LFR"
		}
		return params[2]
	}
	return ""
}

// CHALLENGE_MODE_START params: zoneName, instanceID, challengeModeID, keystoneLevel.
func keystoneName(params []string) string {
	if len(params) > 0 {
		return params[0]
	}
	return "Unknown"
}

func keystoneLevel(params []string) string {
	if len(params) > 3 {
		if lvl, err := strconv.Atoi(params[3]); err == nil {
			return "+" + strconv.Itoa(lvl)
		}
	}
	return ""
}

// encounterSuccess reads the success flag at the given param index
// ("1" = kill / timed).
func encounterSuccess(params []string, idx int) bool {
	return len(params) > idx && params[idx] == "1"
}
