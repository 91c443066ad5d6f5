package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loothing/lodestone/internal/domain"
)

// Parse errors.
var (
	ErrBadTimestamp = errors.New("parser: bad timestamp")
	ErrShortLine    = errors.New("parser: too few fields")
)

// timestampLayout matches the log's "month/day/year time-zoneoffset"
// prefix, e.g. "9/15/2025 21:30:21.462-4".
const timestampLayout = "1/2/2006 15:04:05.000-7"

// Parser converts token slices into events. Stateless and safe for
// concurrent use; each processing context still gets its own instance
// so future stateful parsing (aura tracking) stays isolated.
type Parser struct{}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse builds an event from tokens produced by Tokenize. Tokens are
// [timestamp, eventType, fields...]. Returns nil without error for
// token slices the tokenizer already rejected (empty input).
func (p *Parser) Parse(tokens []string) (*domain.Event, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens) < 2 {
		return nil, fmt.Errorf("parser.Parse: %w", ErrShortLine)
	}

	ts, err := time.Parse(timestampLayout, tokens[0])
	if err != nil {
		return nil, fmt.Errorf("parser.Parse: %q: %w", tokens[0], ErrBadTimestamp)
	}

	ev := &domain.Event{
		Timestamp: ts,
		Type:      tokens[1],
	}

	fields := tokens[2:]

	// Encounter and keystone boundary events have bespoke layouts; the
	// segmenter reads them from Params.
	if isBoundary(ev.Type) {
		ev.Params = fields
		return ev, nil
	}

	// Standard unit preamble: sourceGUID, sourceName, sourceFlags,
	// sourceRaidFlags, destGUID, destName, destFlags, destRaidFlags.
	if len(fields) < 8 {
		return nil, fmt.Errorf("parser.Parse: %s: %w", ev.Type, ErrShortLine)
	}
	ev.SourceGUID = fields[0]
	ev.SourceName = fields[1]
	ev.DestGUID = fields[4]
	ev.DestName = fields[5]
	rest := fields[8:]

	// Spell events carry spellId, spellName, spellSchool next.
	if strings.HasPrefix(ev.Type, "SPELL_") || strings.HasPrefix(ev.Type, "RANGE_") {
		if len(rest) < 3 {
			return nil, fmt.Errorf("parser.Parse: %s: %w", ev.Type, ErrShortLine)
		}
		ev.SpellID, _ = strconv.ParseInt(rest[0], 10, 64)
		ev.SpellName = rest[1]
		rest = rest[3:]
	}

	// Damage and heal suffixes put the amount first in the payload.
	if strings.HasSuffix(ev.Type, "_DAMAGE") || strings.HasSuffix(ev.Type, "_HEAL") {
		if len(rest) < 1 {
			return nil, fmt.Errorf("parser.Parse: %s: %w", ev.Type, ErrShortLine)
		}
		amount, parseErr := strconv.ParseInt(rest[0], 10, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("parser.Parse: %s amount %q: %w", ev.Type, rest[0], parseErr)
		}
		ev.Amount = amount
	}

	ev.Params = rest
	return ev, nil
}

func isBoundary(eventType string) bool {
	switch eventType {
	case "ENCOUNTER_START", "ENCOUNTER_END",
		"CHALLENGE_MODE_START", "CHALLENGE_MODE_END",
		"ZONE_CHANGE", "MAP_CHANGE", "COMBAT_LOG_VERSION":
		return true
	}
	return false
}
