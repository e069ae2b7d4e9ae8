// Package occurrence computes when a recurring transfer is next due.
//
// Everything here is pure date math in UTC: no I/O, no clock. Callers pass
// the reference instant explicitly, usually "now" at settlement time.
package occurrence

import (
	"strings"

	"github.com/teranos/remit/errors"
)

// Frequency is how often a schedule recurs
type Frequency string

const (
	Hourly    Frequency = "hourly"
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	BiWeekly  Frequency = "bi-weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
	Custom    Frequency = "custom"
)

// Frequencies lists every supported frequency in display order
var Frequencies = []Frequency{Hourly, Daily, Weekly, BiWeekly, Monthly, Quarterly, Yearly, Custom}

// ParseFrequency accepts the canonical names plus "biweekly"
func ParseFrequency(s string) (Frequency, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "biweekly" {
		return BiWeekly, nil
	}
	for _, f := range Frequencies {
		if string(f) == s {
			return f, nil
		}
	}
	return "", errors.NewInvalidRequestError("unknown frequency %q", s)
}

// IsSimple reports whether f is a fixed calendar interval
func (f Frequency) IsSimple() bool {
	switch f {
	case Daily, Weekly, BiWeekly, Monthly, Quarterly, Yearly:
		return true
	}
	return false
}

// calendarStep returns the (years, months, days) added by one interval of f.
func (f Frequency) calendarStep() (years, months, days int) {
	switch f {
	case Daily:
		return 0, 0, 1
	case Weekly:
		return 0, 0, 7
	case BiWeekly:
		return 0, 0, 14
	case Monthly:
		return 0, 1, 0
	case Quarterly:
		return 0, 3, 0
	case Yearly:
		return 1, 0, 0
	}
	return 0, 0, 0
}
