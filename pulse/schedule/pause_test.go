package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluatePause(t *testing.T) {
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	window := func(start, end time.Time, reason string) *PauseWindow {
		return &PauseWindow{Enabled: true, Start: start, End: end, Reason: reason}
	}

	tests := []struct {
		name   string
		status Status
		pause  *PauseWindow
		want   PauseDecision
	}{
		{"no pause", StatusActive, nil, PauseDecision{}},
		{"status paused", StatusPaused, nil, PauseDecision{Blocked: true, Reason: "status is paused"}},
		{"status paused ignores expired window", StatusPaused, window(now.Add(-48*time.Hour), now.Add(-24*time.Hour), ""),
			PauseDecision{Blocked: true, Reason: "status is paused"}},
		{"inside window", StatusActive, window(now.Add(-time.Hour), now.Add(time.Hour), "holiday"),
			PauseDecision{Blocked: true, Reason: "holiday"}},
		{"window start is inclusive", StatusActive, window(now, now.Add(time.Hour), "holiday"),
			PauseDecision{Blocked: true, Reason: "holiday"}},
		{"window end is inclusive", StatusActive, window(now.Add(-time.Hour), now, "holiday"),
			PauseDecision{Blocked: true, Reason: "holiday"}},
		{"generated reason", StatusActive, window(now.Add(-time.Hour), now.Add(time.Hour), ""),
			PauseDecision{Blocked: true, Reason: "paused from 2024-07-01T11:00:00Z until 2024-07-01T13:00:00Z"}},
		{"expired window auto clears", StatusActive, window(now.Add(-2*time.Hour), now.Add(-time.Second), "holiday"),
			PauseDecision{ShouldAutoClear: true}},
		{"future window", StatusActive, window(now.Add(time.Hour), now.Add(2*time.Hour), "holiday"), PauseDecision{}},
		{"disabled window", StatusActive, &PauseWindow{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}, PauseDecision{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := newDailySchedule("s1", now)
			sc.Status = tt.status
			sc.Pause = tt.pause
			assert.Equal(t, tt.want, EvaluatePause(sc, now))
		})
	}
}
