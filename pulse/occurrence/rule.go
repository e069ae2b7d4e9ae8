package occurrence

import (
	"encoding/json"
	"time"

	"github.com/teranos/remit/errors"
)

// Rule is the frequency-specific recurrence configuration.
// Implementations: SimpleRule, HourlyRule, CustomRule.
type Rule interface {
	Frequency() Frequency
	Validate() error
	// candidate is the next instant before exclusions are applied
	candidate(ref time.Time) time.Time
}

// SimpleRule recurs on a fixed calendar interval (daily through yearly).
// Times pins the time of day; only the earliest entry is used. With no
// times the reference instant's own time of day is kept.
type SimpleRule struct {
	Every Frequency `json:"kind"`
	Times []string  `json:"times,omitempty"`
}

func (r SimpleRule) Frequency() Frequency { return r.Every }

func (r SimpleRule) Validate() error {
	if !r.Every.IsSimple() {
		return errors.NewInvalidRequestError("%q is not a calendar frequency", r.Every)
	}
	_, err := parseSortedTimes(r.Times)
	return err
}

func (r SimpleRule) candidate(ref time.Time) time.Time {
	y, mo, d := r.Every.calendarStep()
	var next time.Time
	if mo != 0 || y != 0 {
		next = addMonths(ref, y*12+mo)
	} else {
		next = ref.AddDate(0, 0, d)
	}

	times, _ := parseSortedTimes(r.Times)
	if len(times) > 0 {
		next = times[0].on(next)
	}
	return next
}

// Window bounds hourly occurrences to [StartHour, EndHour) in UTC
type Window struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// FullDay is the window used when an hourly rule configures none
var FullDay = Window{StartHour: 0, EndHour: 24}

func (w Window) Validate() error {
	if w.StartHour < 0 || w.EndHour > 24 || w.StartHour >= w.EndHour {
		return errors.NewInvalidRequestError("invalid window [%d, %d]: want 0 <= start < end <= 24", w.StartHour, w.EndHour)
	}
	return nil
}

// HourlyRule recurs every Interval hours inside Window. Zero means one hour.
type HourlyRule struct {
	Interval int     `json:"interval"`
	Window   *Window `json:"window,omitempty"`
}

func (r HourlyRule) Frequency() Frequency { return Hourly }

func (r HourlyRule) Validate() error {
	if r.Interval < 0 || r.Interval > 24 {
		return errors.NewInvalidRequestError("hourly interval %d out of range 1-24 (0 defaults to 1)", r.Interval)
	}
	return r.window().Validate()
}

func (r HourlyRule) interval() int {
	if r.Interval <= 0 {
		return 1
	}
	return r.Interval
}

func (r HourlyRule) window() Window {
	if r.Window == nil {
		return FullDay
	}
	return *r.Window
}

func (r HourlyRule) candidate(ref time.Time) time.Time {
	next := ref.Add(time.Duration(r.interval()) * time.Hour)
	w := r.window()
	start := WallTime{Hour: w.StartHour}
	switch {
	case next.Hour() < w.StartHour:
		return start.on(next)
	case next.Hour() >= w.EndHour:
		return start.on(next).AddDate(0, 0, 1)
	}
	return next
}

// CustomRule fires at each listed UTC time of day
type CustomRule struct {
	Times []string `json:"times"`
}

func (r CustomRule) Frequency() Frequency { return Custom }

func (r CustomRule) Validate() error {
	if len(r.Times) == 0 {
		return errors.NewInvalidRequestError("custom frequency needs at least one time")
	}
	_, err := parseSortedTimes(r.Times)
	return err
}

func (r CustomRule) candidate(ref time.Time) time.Time {
	times, _ := parseSortedTimes(r.Times)
	if len(times) == 0 {
		return ref.AddDate(0, 0, 1)
	}
	now := secondsOfDay(ref)
	for _, w := range times {
		if w.seconds() > now {
			return w.on(ref)
		}
	}
	return times[0].on(ref).AddDate(0, 0, 1)
}

// DefaultRule is the rule for a frequency with no extra configuration
func DefaultRule(f Frequency) Rule {
	switch f {
	case Hourly:
		return HourlyRule{Interval: 1}
	case Custom:
		return CustomRule{}
	}
	return SimpleRule{Every: f}
}

// ruleEnvelope is the stored form of a Rule. Kind is the frequency.
type ruleEnvelope struct {
	Kind     Frequency `json:"kind"`
	Times    []string  `json:"times,omitempty"`
	Interval int       `json:"interval,omitempty"`
	Window   *Window   `json:"window,omitempty"`
}

// MarshalRule encodes r with its frequency as the discriminator
func MarshalRule(r Rule) ([]byte, error) {
	var env ruleEnvelope
	switch v := r.(type) {
	case SimpleRule:
		env = ruleEnvelope{Kind: v.Every, Times: v.Times}
	case HourlyRule:
		env = ruleEnvelope{Kind: Hourly, Interval: v.Interval, Window: v.Window}
	case CustomRule:
		env = ruleEnvelope{Kind: Custom, Times: v.Times}
	default:
		return nil, errors.Newf("unsupported rule type %T", r)
	}
	return json.Marshal(env)
}

// UnmarshalRule decodes a rule written by MarshalRule
func UnmarshalRule(data []byte) (Rule, error) {
	var env ruleEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "failed to decode rule")
	}
	switch {
	case env.Kind == Hourly:
		return HourlyRule{Interval: env.Interval, Window: env.Window}, nil
	case env.Kind == Custom:
		return CustomRule{Times: env.Times}, nil
	case env.Kind.IsSimple():
		return SimpleRule{Every: env.Kind, Times: env.Times}, nil
	}
	return nil, errors.NewInvalidRequestError("unknown rule kind %q", env.Kind)
}
