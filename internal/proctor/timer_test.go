package proctor

import (
	"testing"
	"time"
)

func TestTimerCountsDownAndExpiresOnce(t *testing.T) {
	var warnings, expiries int
	var warnedAt int
	tm := NewTimer(30*time.Second, func(left int) { warnings++; warnedAt = left }, func() { expiries++ })

	tm.Start(60, 60)
	for i := 1; i <= 60; i++ {
		before := tm.Left()
		tm.Tick()
		if tm.Left() != before-1 {
			t.Fatalf("tick %d: left %d -> %d, want decrement by 1", i, before, tm.Left())
		}
	}
	if tm.State() != TimerExpired || tm.Left() != 0 {
		t.Fatalf("state = %s left = %d, want expired at 0", tm.State(), tm.Left())
	}

	for i := 0; i < 10; i++ {
		tm.Tick()
	}
	if expiries != 1 {
		t.Errorf("expiries = %d, want exactly 1", expiries)
	}
	if warnings != 1 || warnedAt != 30 {
		t.Errorf("warnings = %d at %d, want 1 at 30", warnings, warnedAt)
	}
}

func TestTimerStartClamps(t *testing.T) {
	tests := []struct {
		name        string
		total, left int
		wantLeft    int
		wantState   TimerState
	}{
		{"within range", 100, 40, 40, TimerRunning},
		{"left above total", 100, 500, 100, TimerRunning},
		{"negative left", 100, -3, 0, TimerExpired},
		{"zero", 10, 0, 0, TimerExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expired := 0
			tm := NewTimer(30*time.Second, nil, func() { expired++ })
			tm.Start(tt.total, tt.left)
			if tm.Left() != tt.wantLeft || tm.State() != tt.wantState {
				t.Errorf("left = %d state = %s, want %d %s", tm.Left(), tm.State(), tt.wantLeft, tt.wantState)
			}
			if tt.wantState == TimerExpired && expired != 1 {
				t.Errorf("expired = %d, want 1", expired)
			}
		})
	}
}

func TestTimerStopSilencesCallbacks(t *testing.T) {
	fired := false
	tm := NewTimer(30*time.Second, func(int) { fired = true }, func() { fired = true })
	tm.Start(31, 31)
	tm.Stop()
	for i := 0; i < 40; i++ {
		tm.Tick()
	}
	if fired || tm.State() != TimerIdle || tm.Left() != 31 {
		t.Errorf("stopped timer moved: fired=%v state=%s left=%d", fired, tm.State(), tm.Left())
	}
}
