package schedule

import (
	"fmt"
	"time"
)

// PauseDecision is the outcome of EvaluatePause
type PauseDecision struct {
	Blocked bool
	Reason  string
	// ShouldAutoClear means the pause window has ended and the caller
	// should persist clearing it
	ShouldAutoClear bool
}

// EvaluatePause decides whether s may settle at now. It has no side effects.
func EvaluatePause(s *Schedule, now time.Time) PauseDecision {
	if s.Status == StatusPaused {
		return PauseDecision{Blocked: true, Reason: "status is paused"}
	}

	p := s.Pause
	if p == nil || !p.Enabled {
		return PauseDecision{}
	}

	if !now.Before(p.Start) && !now.After(p.End) {
		reason := p.Reason
		if reason == "" {
			reason = fmt.Sprintf("paused from %s until %s", p.Start.UTC().Format(time.RFC3339), p.End.UTC().Format(time.RFC3339))
		}
		return PauseDecision{Blocked: true, Reason: reason}
	}

	if now.After(p.End) {
		return PauseDecision{ShouldAutoClear: true}
	}

	return PauseDecision{}
}
