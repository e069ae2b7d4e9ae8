package retry

import (
	"time"

	"github.com/teranos/remit/errors"
)

// AuthFailure says what to do when an attempt fails for want of a usable PIN
type AuthFailure string

const (
	// AuthFailurePause pauses at once without consuming retry budget
	AuthFailurePause AuthFailure = "pause"
	// AuthFailureRetry treats it like any transient failure
	AuthFailureRetry AuthFailure = "retry"
)

// ParseAuthFailure parses a configured policy name
func ParseAuthFailure(s string) (AuthFailure, error) {
	switch AuthFailure(s) {
	case AuthFailurePause, AuthFailureRetry:
		return AuthFailure(s), nil
	case "":
		return AuthFailurePause, nil
	}
	return "", errors.NewInvalidRequestError("unknown auth failure policy %q", s)
}

// Policy is the escalation table
type Policy struct {
	// Delays before each retry; the last entry repeats
	Delays      []time.Duration
	MaxAttempts int
	AuthFailure AuthFailure
}

// DefaultPolicy retries after 5, 15 and 60 minutes and pauses on the third
// consecutive failure
func DefaultPolicy() Policy {
	return Policy{
		Delays:      []time.Duration{5 * time.Minute, 15 * time.Minute, 60 * time.Minute},
		MaxAttempts: 3,
		AuthFailure: AuthFailurePause,
	}
}

// Delay returns the wait before retrying after the attempt-th consecutive
// failure (1-based)
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Delays) {
		i = len(p.Delays) - 1
	}
	return p.Delays[i]
}
