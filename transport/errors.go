package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known HTTP outcomes. Check with errors.Is; the
// wrapped message carries the server-provided reason when one was sent.
var (
	// ErrUnauthorized indicates the bearer credential was missing or
	// rejected (401). The collaborator owns authentication; the client only
	// reports the state.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the conversation or resource does not exist (404).
	ErrNotFound = errors.New("not found")

	// ErrRateLimited indicates the server throttled the request (429).
	ErrRateLimited = errors.New("rate limited")
)

// StatusError reports a non-2xx response outside the sentinel set.
type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Reason)
}
