package auth

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when a streaming secret is empty,
// malformed, or does not match an active credential.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// ErrUnknownClient is returned by CheckCapability and stats lookups for
// client ids without an active credential.
var ErrUnknownClient = errors.New("auth: unknown client")

// DenialKind distinguishes the rate-limit checks so clients can tell
// "slow down" from "try again later" from "out of connection slots".
type DenialKind string

const (
	DeniedBurst           DenialKind = "burst"
	DeniedEventRate       DenialKind = "event_rate"
	DeniedConnectionLimit DenialKind = "connection_limit"
)

// RateLimitError reports a quota denial and its kind.
type RateLimitError struct {
	Kind     DenialKind
	ClientID string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("auth: rate limited (%s) for client %s", e.Kind, e.ClientID)
}

// AsRateLimit unwraps err into a *RateLimitError if it is one.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
