package occurrence

import (
	"time"

	"github.com/teranos/remit/errors"
)

// DateLayout is the calendar-date format used for excluded dates
const DateLayout = "2006-01-02"

// Exclusions removes instants from a schedule's candidate set
type Exclusions struct {
	Weekdays     []time.Weekday `json:"weekdays,omitempty"`
	Hours        []int          `json:"hours,omitempty"`
	Dates        []string       `json:"dates,omitempty"`
	SkipWeekends bool           `json:"skip_weekends,omitempty"`
}

// IsZero reports whether no exclusion is configured
func (e Exclusions) IsZero() bool {
	return len(e.Weekdays) == 0 && len(e.Hours) == 0 && len(e.Dates) == 0 && !e.SkipWeekends
}

// Validate rejects malformed values and any combination that leaves no
// weekday or no hour of the day available, which would make Next loop forever.
func (e Exclusions) Validate() error {
	days := map[time.Weekday]bool{}
	for _, d := range e.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return errors.NewInvalidRequestError("invalid weekday %d", d)
		}
		days[d] = true
	}
	if e.SkipWeekends {
		days[time.Saturday] = true
		days[time.Sunday] = true
	}
	if len(days) == 7 {
		return errors.NewInvalidRequestError("exclusions remove every weekday")
	}

	hours := map[int]bool{}
	for _, h := range e.Hours {
		if h < 0 || h > 23 {
			return errors.NewInvalidRequestError("invalid hour %d", h)
		}
		hours[h] = true
	}
	if len(hours) == 24 {
		return errors.NewInvalidRequestError("exclusions remove every hour")
	}

	for _, s := range e.Dates {
		if _, err := time.Parse(DateLayout, s); err != nil {
			return errors.NewInvalidRequestError("invalid excluded date %q: want YYYY-MM-DD", s)
		}
	}
	return nil
}

// Allows reports whether t passes every exclusion
func (e Exclusions) Allows(t time.Time) bool {
	t = t.UTC()
	return !e.weekdayExcluded(t) && !e.weekend(t) && !e.hourExcluded(t) && !e.dateExcluded(t)
}

func (e Exclusions) weekdayExcluded(t time.Time) bool {
	for _, d := range e.Weekdays {
		if t.Weekday() == d {
			return true
		}
	}
	return false
}

func (e Exclusions) weekend(t time.Time) bool {
	return e.SkipWeekends && (t.Weekday() == time.Saturday || t.Weekday() == time.Sunday)
}

func (e Exclusions) hourExcluded(t time.Time) bool {
	for _, h := range e.Hours {
		if t.Hour() == h {
			return true
		}
	}
	return false
}

func (e Exclusions) dateExcluded(t time.Time) bool {
	day := t.Format(DateLayout)
	for _, s := range e.Dates {
		if s == day {
			return true
		}
	}
	return false
}

// step applies the first matching exclusion and reports whether t moved.
// The checks run in a fixed order: weekday, weekend, hour, date.
func (e Exclusions) step(t time.Time) (time.Time, bool) {
	switch {
	case e.weekdayExcluded(t):
		return nextMidnight(t), true
	case e.weekend(t):
		if t.Weekday() == time.Saturday {
			return midnight(t).AddDate(0, 0, 2), true
		}
		return midnight(t).AddDate(0, 0, 1), true
	case e.hourExcluded(t):
		return t.Add(time.Hour), true
	case e.dateExcluded(t):
		return nextMidnight(t), true
	}
	return t, false
}
