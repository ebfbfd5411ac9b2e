package proctor

import "time"

// TimerState is the lifecycle of the exam countdown.
type TimerState int

const (
	TimerIdle TimerState = iota
	TimerRunning
	TimerWarning
	TimerExpired
)

func (s TimerState) String() string {
	switch s {
	case TimerRunning:
		return "running"
	case TimerWarning:
		return "warning"
	case TimerExpired:
		return "expired"
	default:
		return "idle"
	}
}

// Timer is the exam countdown. It holds no goroutine of its own: the owner
// calls Tick once per second.
type Timer struct {
	state  TimerState
	total  int
	left   int
	warnAt int

	onWarning func(left int)
	onExpire  func()
}

// NewTimer creates an idle Timer. onWarning fires once, on the first tick
// that leaves warnAt or less on the clock; onExpire fires once, when the
// countdown reaches zero.
func NewTimer(warnAt time.Duration, onWarning func(left int), onExpire func()) *Timer {
	return &Timer{
		warnAt:    int(warnAt / time.Second),
		onWarning: onWarning,
		onExpire:  onExpire,
	}
}

// Start begins the countdown with left of total seconds remaining. left is
// clamped to [0, total]; a countdown that starts at zero expires immediately.
func (t *Timer) Start(total, left int) {
	if total < 0 {
		total = 0
	}
	if left > total {
		left = total
	}
	if left < 0 {
		left = 0
	}
	t.total, t.left = total, left
	t.state = TimerRunning

	if t.left == 0 {
		t.expire()
	}
}

// Tick removes one second. Ticks outside running and warning are no-ops.
func (t *Timer) Tick() {
	if t.state != TimerRunning && t.state != TimerWarning {
		return
	}
	t.left--

	if t.left <= 0 {
		t.left = 0
		t.expire()
		return
	}
	if t.state == TimerRunning && t.left <= t.warnAt {
		t.state = TimerWarning
		if t.onWarning != nil {
			t.onWarning(t.left)
		}
	}
}

func (t *Timer) expire() {
	t.state = TimerExpired
	if t.onExpire != nil {
		t.onExpire()
	}
}

// Stop halts the countdown without firing callbacks.
func (t *Timer) Stop() {
	t.state = TimerIdle
}

func (t *Timer) State() TimerState { return t.state }
func (t *Timer) Left() int         { return t.left }
func (t *Timer) Total() int        { return t.total }
