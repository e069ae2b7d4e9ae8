package occurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/remit/errors"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNextDailyPinsToScheduleTime(t *testing.T) {
	next, err := Next(at("2024-01-01T23:00:00Z"), SimpleRule{Every: Daily, Times: []string{"09:00"}}, Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, at("2024-01-02T09:00:00Z"), next)
}

func TestNextSimpleFrequencies(t *testing.T) {
	ref := at("2024-01-31T10:15:30Z")

	tests := []struct {
		rule Rule
		want string
	}{
		{SimpleRule{Every: Daily}, "2024-02-01T10:15:30Z"},
		{SimpleRule{Every: Weekly}, "2024-02-07T10:15:30Z"},
		{SimpleRule{Every: BiWeekly}, "2024-02-14T10:15:30Z"},
		{SimpleRule{Every: Monthly}, "2024-02-29T10:15:30Z"},
		{SimpleRule{Every: Quarterly}, "2024-04-30T10:15:30Z"},
		{SimpleRule{Every: Yearly}, "2025-01-31T10:15:30Z"},
		// Only the earliest time is used
		{SimpleRule{Every: Daily, Times: []string{"18:30", "07:45"}}, "2024-02-01T07:45:00Z"},
	}

	for _, tt := range tests {
		t.Run(string(tt.rule.Frequency()), func(t *testing.T) {
			next, err := Next(ref, tt.rule, Exclusions{})
			require.NoError(t, err)
			assert.Equal(t, at(tt.want), next)
		})
	}
}

func TestNextYearlyFromLeapDay(t *testing.T) {
	next, err := Next(at("2024-02-29T12:00:00Z"), SimpleRule{Every: Yearly}, Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, at("2025-02-28T12:00:00Z"), next)
}

func TestNextConvertsToUTC(t *testing.T) {
	tz := time.FixedZone("UTC+5", 5*3600)
	ref := time.Date(2024, 1, 2, 3, 0, 0, 0, tz) // 2024-01-01T22:00Z

	next, err := Next(ref, SimpleRule{Every: Daily}, Exclusions{})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, next.Location())
	assert.Equal(t, at("2024-01-02T22:00:00Z"), next)
}

func TestNextHourly(t *testing.T) {
	window := &Window{StartHour: 8, EndHour: 18}

	tests := []struct {
		name string
		ref  string
		rule HourlyRule
		want string
	}{
		{"past window end snaps to next day start", "2024-03-05T19:00:00Z", HourlyRule{Interval: 2, Window: window}, "2024-03-06T08:00:00Z"},
		{"at window end snaps to next day start", "2024-03-05T16:20:00Z", HourlyRule{Interval: 2, Window: window}, "2024-03-06T08:00:00Z"},
		{"before window start snaps same day", "2024-03-05T04:30:00Z", HourlyRule{Interval: 1, Window: window}, "2024-03-05T08:00:00Z"},
		{"inside window keeps minutes", "2024-03-05T09:40:00Z", HourlyRule{Interval: 3, Window: window}, "2024-03-05T12:40:00Z"},
		{"default interval is one hour", "2024-03-05T09:40:00Z", HourlyRule{}, "2024-03-05T10:40:00Z"},
		{"wraps midnight without a window", "2024-03-05T23:30:00Z", HourlyRule{Interval: 1}, "2024-03-06T00:30:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := Next(at(tt.ref), tt.rule, Exclusions{})
			require.NoError(t, err)
			assert.Equal(t, at(tt.want), next)
		})
	}
}

func TestNextCustom(t *testing.T) {
	rule := CustomRule{Times: []string{"17:00", "08:30", "12:00"}}

	tests := []struct {
		ref  string
		want string
	}{
		{"2024-06-10T07:00:00Z", "2024-06-10T08:30:00Z"},
		{"2024-06-10T08:30:00Z", "2024-06-10T12:00:00Z"}, // strictly after
		{"2024-06-10T12:00:01Z", "2024-06-10T17:00:00Z"},
		{"2024-06-10T17:00:00Z", "2024-06-11T08:30:00Z"},
		{"2024-06-10T23:59:00Z", "2024-06-11T08:30:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			next, err := Next(at(tt.ref), rule, Exclusions{})
			require.NoError(t, err)
			assert.Equal(t, at(tt.want), next)
		})
	}
}

func TestNextExclusions(t *testing.T) {
	t.Run("saturday candidate advances to monday midnight", func(t *testing.T) {
		ex := Exclusions{Weekdays: []time.Weekday{time.Saturday, time.Sunday}, SkipWeekends: true}
		// Friday 10:00 + 1 day lands on Saturday 2024-01-06
		next, err := Next(at("2024-01-05T10:00:00Z"), SimpleRule{Every: Daily}, ex)
		require.NoError(t, err)
		assert.Equal(t, at("2024-01-08T00:00:00Z"), next)
	})

	t.Run("skip weekends alone jumps saturday by two days", func(t *testing.T) {
		next, err := Next(at("2024-01-05T10:00:00Z"), SimpleRule{Every: Daily}, Exclusions{SkipWeekends: true})
		require.NoError(t, err)
		assert.Equal(t, at("2024-01-08T00:00:00Z"), next)
	})

	t.Run("skip weekends moves sunday one day", func(t *testing.T) {
		next, err := Next(at("2024-01-06T10:00:00Z"), SimpleRule{Every: Daily}, Exclusions{SkipWeekends: true})
		require.NoError(t, err)
		assert.Equal(t, at("2024-01-08T00:00:00Z"), next)
	})

	t.Run("excluded hour steps forward an hour", func(t *testing.T) {
		next, err := Next(at("2024-01-02T09:00:00Z"), SimpleRule{Every: Daily}, Exclusions{Hours: []int{9, 10}})
		require.NoError(t, err)
		assert.Equal(t, at("2024-01-03T11:00:00Z"), next)
	})

	t.Run("weekday skip re-triggers hour exclusion", func(t *testing.T) {
		ex := Exclusions{Weekdays: []time.Weekday{time.Wednesday}, Hours: []int{0, 1}}
		next, err := Next(at("2024-01-02T09:00:00Z"), SimpleRule{Every: Daily}, ex)
		require.NoError(t, err)
		// Wed 09:00 -> Thu 00:00 -> 01:00 -> 02:00
		assert.Equal(t, at("2024-01-04T02:00:00Z"), next)
	})

	t.Run("excluded date skips to next midnight", func(t *testing.T) {
		ex := Exclusions{Dates: []string{"2024-12-25"}}
		next, err := Next(at("2024-12-24T15:00:00Z"), SimpleRule{Every: Daily}, ex)
		require.NoError(t, err)
		assert.Equal(t, at("2024-12-26T00:00:00Z"), next)
	})

	t.Run("unsatisfiable exclusions return an error", func(t *testing.T) {
		ex := Exclusions{Weekdays: []time.Weekday{0, 1, 2, 3, 4, 5, 6}}
		_, err := Next(at("2024-01-01T00:00:00Z"), SimpleRule{Every: Daily}, ex)
		assert.True(t, errors.Is(err, ErrNoAllowedSlot))
	})
}

func TestNextRequiresRule(t *testing.T) {
	_, err := Next(time.Now(), nil, Exclusions{})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		ex      Exclusions
		wantErr bool
	}{
		{"simple ok", SimpleRule{Every: Monthly, Times: []string{"09:00"}}, Exclusions{}, false},
		{"simple with hourly frequency", SimpleRule{Every: Hourly}, Exclusions{}, true},
		{"bad time", SimpleRule{Every: Daily, Times: []string{"9am"}}, Exclusions{}, true},
		{"hourly ok", HourlyRule{Interval: 4, Window: &Window{StartHour: 8, EndHour: 18}}, Exclusions{}, false},
		{"hourly interval too large", HourlyRule{Interval: 25}, Exclusions{}, true},
		{"hourly zero interval defaults", HourlyRule{}, Exclusions{}, false},
		{"hourly negative interval", HourlyRule{Interval: -1}, Exclusions{}, true},
		{"hourly inverted window", HourlyRule{Interval: 1, Window: &Window{StartHour: 18, EndHour: 8}}, Exclusions{}, true},
		{"hourly window fully excluded", HourlyRule{Interval: 1, Window: &Window{StartHour: 8, EndHour: 10}}, Exclusions{Hours: []int{8, 9}}, true},
		{"custom empty", CustomRule{}, Exclusions{}, true},
		{"custom ok", CustomRule{Times: []string{"06:00"}}, Exclusions{}, false},
		{"every weekday excluded", SimpleRule{Every: Daily}, Exclusions{Weekdays: []time.Weekday{1, 2, 3, 4, 5}, SkipWeekends: true}, true},
		{"five weekdays excluded", SimpleRule{Every: Daily}, Exclusions{Weekdays: []time.Weekday{1, 2, 3, 4, 5}}, false},
		{"every hour excluded", SimpleRule{Every: Daily}, Exclusions{Hours: allHours()}, true},
		{"bad date", SimpleRule{Every: Daily}, Exclusions{Dates: []string{"25/12/2024"}}, true},
		{"bad weekday", SimpleRule{Every: Daily}, Exclusions{Weekdays: []time.Weekday{9}}, true},
		{"nil rule", nil, Exclusions{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rule, tt.ex)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidRequestError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func allHours() []int {
	out := make([]int, 24)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestRuleEncoding(t *testing.T) {
	rules := []Rule{
		SimpleRule{Every: Quarterly, Times: []string{"09:00"}},
		HourlyRule{Interval: 2, Window: &Window{StartHour: 8, EndHour: 18}},
		CustomRule{Times: []string{"08:00", "20:00"}},
	}
	for _, r := range rules {
		data, err := MarshalRule(r)
		require.NoError(t, err)
		decoded, err := UnmarshalRule(data)
		require.NoError(t, err)
		assert.Equal(t, r, decoded)
	}

	_, err := UnmarshalRule([]byte(`{"kind":"fortnightly"}`))
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestParseFrequency(t *testing.T) {
	f, err := ParseFrequency("Bi-Weekly")
	require.NoError(t, err)
	assert.Equal(t, BiWeekly, f)

	f, err = ParseFrequency("biweekly")
	require.NoError(t, err)
	assert.Equal(t, BiWeekly, f)

	_, err = ParseFrequency("sometimes")
	assert.Error(t, err)
}

func TestHourlyIntervalErrorNamesDefault(t *testing.T) {
	err := HourlyRule{Interval: 30}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0 defaults to 1")
}
