// Package parser turns raw combat log lines into domain events. The
// line format is a timestamp, two spaces, then comma-separated fields
// with optional double-quoting:
//
//	9/15/2025 21:30:21.462-4  SPELL_DAMAGE,Player-1234,"Name",...
package parser

import "strings"

// Tokenizer splits one raw line into fields. Stateless and safe for
// concurrent use.
type Tokenizer struct{}

// NewTokenizer creates a tokenizer.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{}
}

// Tokenize splits a line into tokens: the timestamp string first, then
// the comma-separated fields with quotes stripped. Returns nil for
// blank lines and lines without the timestamp separator.
func (t *Tokenizer) Tokenize(line string) []string {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil
	}

	ts, rest, ok := strings.Cut(line, "  ")
	if !ok || ts == "" || rest == "" {
		return nil
	}

	tokens := []string{ts}

	// Comma split honoring double-quoted fields. Quotes may wrap names
	// containing commas; embedded quotes do not occur in the format.
	var field strings.Builder
	inQuote := false
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case c == ',' && !inQuote:
			tokens = append(tokens, field.String())
			field.Reset()
		default:
			field.WriteByte(c)
		}
	}
	tokens = append(tokens, field.String())

	return tokens
}
