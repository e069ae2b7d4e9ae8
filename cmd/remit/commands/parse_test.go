package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/pulse/occurrence"
)

func TestBuildRule(t *testing.T) {
	tests := []struct {
		name     string
		flags    ruleFlags
		wantFreq occurrence.Frequency
		wantRule occurrence.Rule
		wantErr  bool
	}{
		{
			name:     "daily with time",
			flags:    ruleFlags{Frequency: "daily", Times: []string{"09:00"}},
			wantFreq: occurrence.Daily,
			wantRule: occurrence.SimpleRule{Every: occurrence.Daily, Times: []string{"09:00"}},
		},
		{
			name:     "biweekly alias",
			flags:    ruleFlags{Frequency: "biweekly"},
			wantFreq: occurrence.BiWeekly,
			wantRule: occurrence.SimpleRule{Every: occurrence.BiWeekly},
		},
		{
			name:     "hourly defaults to every hour",
			flags:    ruleFlags{Frequency: "hourly"},
			wantFreq: occurrence.Hourly,
			wantRule: occurrence.HourlyRule{Interval: 1},
		},
		{
			name:     "hourly with window",
			flags:    ruleFlags{Frequency: "hourly", Interval: 2, Window: "9-17"},
			wantFreq: occurrence.Hourly,
			wantRule: occurrence.HourlyRule{Interval: 2, Window: &occurrence.Window{StartHour: 9, EndHour: 17}},
		},
		{
			name:     "custom",
			flags:    ruleFlags{Frequency: "custom", Times: []string{"08:00", "20:00"}},
			wantFreq: occurrence.Custom,
			wantRule: occurrence.CustomRule{Times: []string{"08:00", "20:00"}},
		},
		{name: "unknown frequency", flags: ruleFlags{Frequency: "fortnightly"}, wantErr: true},
		{name: "interval on daily", flags: ruleFlags{Frequency: "daily", Interval: 2}, wantErr: true},
		{name: "times on hourly", flags: ruleFlags{Frequency: "hourly", Times: []string{"09:00"}}, wantErr: true},
		{name: "inverted window", flags: ruleFlags{Frequency: "hourly", Window: "17-9"}, wantErr: true},
		{name: "malformed window", flags: ruleFlags{Frequency: "hourly", Window: "nine"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			freq, rule, err := buildRule(tt.flags)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidRequestError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFreq, freq)
			assert.Equal(t, tt.wantRule, rule)
		})
	}
}

func TestBuildExclusions(t *testing.T) {
	ex, err := buildExclusions([]string{"Sat", "sunday"}, []int{12}, []string{"2024-12-25"}, false)
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Saturday, time.Sunday}, ex.Weekdays)
	assert.Equal(t, []int{12}, ex.Hours)
	assert.Equal(t, []string{"2024-12-25"}, ex.Dates)

	_, err = buildExclusions([]string{"someday"}, nil, nil, false)
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = buildExclusions([]string{"mon", "tue", "wed", "thu", "fri"}, nil, nil, true)
	assert.Error(t, err, "every weekday excluded")

	_, err = buildExclusions(nil, nil, []string{"25/12/2024"}, false)
	assert.Error(t, err)
}

func TestParseInstant(t *testing.T) {
	got, err := parseInstant("2024-03-04T09:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC), got)

	got, err = parseInstant("2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), got)

	_, err = parseInstant("next tuesday")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestParseAmount(t *testing.T) {
	d, err := parseAmount(" 25.50 ")
	require.NoError(t, err)
	assert.Equal(t, "25.5", d.String())

	for _, bad := range []string{"0", "-1", "ten"} {
		_, err := parseAmount(bad)
		assert.Error(t, err, bad)
	}
}
