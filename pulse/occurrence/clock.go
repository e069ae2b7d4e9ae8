package occurrence

import (
	"fmt"
	"sort"
	"time"

	"github.com/teranos/remit/errors"
)

// WallTime is a UTC time of day, parsed from "HH:MM"
type WallTime struct {
	Hour   int
	Minute int
}

// ParseWallTime parses "HH:MM" (24h, UTC)
func ParseWallTime(s string) (WallTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return WallTime{}, errors.NewInvalidRequestError("invalid time %q: want HH:MM", s)
	}
	return WallTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (w WallTime) String() string {
	return fmt.Sprintf("%02d:%02d", w.Hour, w.Minute)
}

func (w WallTime) seconds() int {
	return w.Hour*3600 + w.Minute*60
}

// on returns the instant at w on t's UTC calendar day
func (w WallTime) on(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, w.Hour, w.Minute, 0, 0, time.UTC)
}

// parseSortedTimes parses and sorts "HH:MM" strings ascending
func parseSortedTimes(raw []string) ([]WallTime, error) {
	out := make([]WallTime, 0, len(raw))
	for _, s := range raw {
		w, err := ParseWallTime(s)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seconds() < out[j].seconds() })
	return out, nil
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nextMidnight(t time.Time) time.Time {
	return midnight(t).AddDate(0, 0, 1)
}

func secondsOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// addMonths adds n calendar months, clamping the day to the target month's
// last day so Jan 31 + 1 month is Feb 28/29 rather than Mar 2/3.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC).AddDate(0, n, 0)
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
