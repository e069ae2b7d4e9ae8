package commands

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/pulse/occurrence"
)

// ruleFlags are the schedule create flags that shape the recurrence rule
type ruleFlags struct {
	Frequency string
	Times     []string
	Interval  int
	Window    string // "START-END" in whole UTC hours, hourly only
}

// buildRule turns rule flags into a frequency and its rule
func buildRule(f ruleFlags) (occurrence.Frequency, occurrence.Rule, error) {
	freq, err := occurrence.ParseFrequency(f.Frequency)
	if err != nil {
		return "", nil, err
	}

	switch freq {
	case occurrence.Hourly:
		if len(f.Times) > 0 {
			return "", nil, errors.NewInvalidRequestError("--times does not apply to hourly schedules")
		}
		rule := occurrence.HourlyRule{Interval: f.Interval}
		if rule.Interval == 0 {
			rule.Interval = 1
		}
		if f.Window != "" {
			w, err := parseWindow(f.Window)
			if err != nil {
				return "", nil, err
			}
			rule.Window = &w
		}
		return freq, rule, nil
	case occurrence.Custom:
		if f.Interval != 0 || f.Window != "" {
			return "", nil, errors.NewInvalidRequestError("--interval and --window only apply to hourly schedules")
		}
		return freq, occurrence.CustomRule{Times: f.Times}, nil
	}

	if f.Interval != 0 || f.Window != "" {
		return "", nil, errors.NewInvalidRequestError("--interval and --window only apply to hourly schedules")
	}
	return freq, occurrence.SimpleRule{Every: freq, Times: f.Times}, nil
}

// parseWindow parses "9-17" into an hourly window
func parseWindow(s string) (occurrence.Window, error) {
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return occurrence.Window{}, errors.NewInvalidRequestError("invalid window %q: want START-END", s)
	}
	startHour, err1 := strconv.Atoi(strings.TrimSpace(start))
	endHour, err2 := strconv.Atoi(strings.TrimSpace(end))
	if err1 != nil || err2 != nil {
		return occurrence.Window{}, errors.NewInvalidRequestError("invalid window %q: want START-END", s)
	}
	w := occurrence.Window{StartHour: startHour, EndHour: endHour}
	return w, w.Validate()
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// parseWeekdays accepts short or long English day names
func parseWeekdays(names []string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, n := range names {
		d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, errors.NewInvalidRequestError("unknown weekday %q", n)
		}
		out = append(out, d)
	}
	return out, nil
}

// buildExclusions assembles and validates exclusion flags
func buildExclusions(weekdays []string, hours []int, dates []string, skipWeekends bool) (occurrence.Exclusions, error) {
	days, err := parseWeekdays(weekdays)
	if err != nil {
		return occurrence.Exclusions{}, err
	}
	ex := occurrence.Exclusions{
		Weekdays:     days,
		Hours:        hours,
		Dates:        dates,
		SkipWeekends: skipWeekends,
	}
	return ex, ex.Validate()
}

// parseInstant accepts RFC3339 or a bare date (midnight UTC)
func parseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(occurrence.DateLayout, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errors.NewInvalidRequestError("invalid time %q: want RFC3339 or YYYY-MM-DD", s)
}

// parseAmount rejects anything but a positive decimal
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, errors.NewInvalidRequestError("invalid amount %q", s)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, errors.NewInvalidRequestError("amount must be positive, got %s", d)
	}
	return d, nil
}
