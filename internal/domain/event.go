package domain

import "time"

// Event is one parsed combat log event. Params carries the raw fields
// after the positional unit/spell fields for event types the parser does
// not model explicitly; the segmenter reads what it needs from them.
type Event struct {
	Timestamp time.Time
	Type      string

	SourceGUID string
	SourceName string
	DestGUID   string
	DestName   string

	SpellID   int64
	SpellName string

	// Amount is the damage or healing value for *_DAMAGE / *_HEAL events.
	Amount int64

	Params []string
}
