package occurrence

import (
	"time"

	"github.com/teranos/remit/errors"
)

// maxExclusionSteps bounds the exclusion loop. Each step moves at least an
// hour forward, so this covers more than a year of consecutive exclusions.
const maxExclusionSteps = 24 * 400

// ErrNoAllowedSlot means the exclusions rejected every candidate within the
// search horizon. Validate prevents this for well-formed configuration.
var ErrNoAllowedSlot = errors.New("no allowed occurrence slot")

// Next returns the first instant after ref at which the schedule is due.
// The result is in UTC and is never before ref.
func Next(ref time.Time, rule Rule, ex Exclusions) (time.Time, error) {
	if rule == nil {
		return time.Time{}, errors.NewInvalidRequestError("rule is required")
	}
	ref = ref.UTC()
	t := rule.candidate(ref)

	for i := 0; i < maxExclusionSteps; i++ {
		next, moved := ex.step(t)
		if !moved {
			return t, nil
		}
		t = next
	}
	return time.Time{}, errors.Wrapf(ErrNoAllowedSlot, "after %d steps from %s", maxExclusionSteps, ref.Format(time.RFC3339))
}

// Validate checks a rule and its exclusions together
func Validate(rule Rule, ex Exclusions) error {
	if rule == nil {
		return errors.NewInvalidRequestError("rule is required")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := ex.Validate(); err != nil {
		return err
	}

	// An hourly window that only covers excluded hours still terminates
	// (the hour step walks out of it) but never fires inside the window.
	if h, ok := rule.(HourlyRule); ok && len(ex.Hours) > 0 {
		w := h.window()
		excluded := map[int]bool{}
		for _, hr := range ex.Hours {
			excluded[hr] = true
		}
		open := false
		for hr := w.StartHour; hr < w.EndHour; hr++ {
			if !excluded[hr] {
				open = true
				break
			}
		}
		if !open {
			return errors.NewInvalidRequestError("exclusions remove every hour of the window [%d, %d]", w.StartHour, w.EndHour)
		}
	}
	return nil
}
