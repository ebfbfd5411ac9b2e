package proctor

import (
	"context"
	"time"

	"github.com/stemsi/exstem-proctor/internal/actionlog"
)

// MonitorState is the state of the proctoring guards.
type MonitorState int

const (
	// MonitorDisarmed: no guard reacts to anything.
	MonitorDisarmed MonitorState = iota
	// MonitorWatching: guards armed, student in the exam.
	MonitorWatching
	// MonitorGrace: the student left fullscreen and the return countdown
	// is running.
	MonitorGrace
)

func (s MonitorState) String() string {
	switch s {
	case MonitorWatching:
		return "watching"
	case MonitorGrace:
		return "grace"
	default:
		return "disarmed"
	}
}

// monitor owns the fullscreen, visibility and input guards, the behavioral
// heartbeat and the grace window. It lives on the session loop.
type monitor struct {
	s     *Session
	state MonitorState

	fullscreen   bool
	exitAttempts int
	graceLeft    int
	// exiting is set while the session's own exit awaits the shim's
	// confirmation; entering while a re-enter request is pending.
	exiting  bool
	entering bool
	// Fullscreen exits reported up to this instant follow the session's own
	// confirmed exit and are not violations.
	intentionalUntil time.Time

	unsubscribe     func()
	cancelGrace     func()
	cancelHeartbeat func()
}

func (m *monitor) graceSeconds() int {
	return int(m.s.cfg.GraceWindow / time.Second)
}

func (m *monitor) arm() {
	if m.state != MonitorDisarmed {
		return
	}
	m.state = MonitorWatching
	m.unsubscribe = m.s.subscribe(m.handle)
	m.cancelHeartbeat = m.s.sched.Every(m.s.cfg.ActionHeartbeat, func(now time.Time) {
		m.s.actions.Append(actionlog.Heartbeat(now))
	})
	m.s.notify(Notice{Type: NoticeGuards, Armed: true, Blocked: BlockedShortcuts})
}

func (m *monitor) disarm() {
	if m.state == MonitorDisarmed {
		return
	}
	m.closeGrace()
	m.state = MonitorDisarmed
	m.unsubscribe()
	m.cancelHeartbeat()
	m.s.notify(Notice{Type: NoticeGuards, Armed: false})
}

func (m *monitor) handle(e Event) {
	if m.state == MonitorDisarmed {
		return
	}
	now := m.s.clock.Now()

	switch e.Type {
	case EventFullscreenChange:
		m.onFullscreenChange(e.Fullscreen, now)

	case EventVisibilityChange:
		if e.Hidden {
			m.s.actions.Append(actionlog.TabHidden(now))
			m.s.toast(LevelError, "tab_hidden", nil, false)
		} else {
			m.s.actions.Append(actionlog.TabVisible(now))
		}

	case EventKeyDown:
		if !isDevtoolsShortcut(e) {
			return
		}
		block(e)
		m.s.actions.Append(actionlog.DevtoolsAttempt(now))
		m.s.toast(LevelError, "devtools_blocked", nil, false)

	case EventContextMenu:
		block(e)
		m.s.actions.Append(actionlog.RightClickAttempt(now))
		m.s.toast(LevelError, "right_click_blocked", nil, false)

	case EventCopy:
		block(e)
		m.s.actions.Append(actionlog.CopyAttempt(now))
		m.s.toast(LevelError, "copy_blocked", nil, false)
	}
}

func block(e Event) {
	if e.PreventDefault != nil {
		e.PreventDefault()
	}
}

func (m *monitor) onFullscreenChange(fullscreen bool, now time.Time) {
	was := m.fullscreen
	m.fullscreen = fullscreen

	if fullscreen {
		if m.state == MonitorGrace {
			m.returned(now)
		}
		return
	}

	// Only leaving fullscreen is an exit, and never the session's own.
	if !was || m.exiting || m.state != MonitorWatching || !now.After(m.intentionalUntil) {
		return
	}

	m.exitAttempts++
	m.s.actions.Append(actionlog.FullscreenExit(now, m.exitAttempts))
	m.s.log.Warn().Int("attempt", m.exitAttempts).Msg("Fullscreen exited")
	m.openGrace()
}

func (m *monitor) openGrace() {
	m.state = MonitorGrace
	m.graceLeft = m.graceSeconds()
	m.notifyGrace(true)

	m.cancelGrace = m.s.sched.Every(time.Second, func(time.Time) {
		if m.state != MonitorGrace {
			return
		}
		m.graceLeft--
		if m.graceLeft > 0 {
			m.notifyGrace(true)
			return
		}
		m.s.log.Warn().Msg("Grace window expired")
		m.closeGrace()
		m.s.submission.trigger(TriggerGrace)
	})
}

// closeGrace hides the overlay without recording a return.
func (m *monitor) closeGrace() {
	if m.state != MonitorGrace {
		return
	}
	m.cancelGrace()
	m.cancelGrace = nil
	m.state = MonitorWatching
	m.notifyGrace(false)
}

// returnToExam is the student's "return to fullscreen" action. The window
// stays open until fullscreen is actually granted.
func (m *monitor) returnToExam() {
	if m.state != MonitorGrace || m.entering {
		return
	}
	m.enterFullscreen()
}

func (m *monitor) returned(now time.Time) {
	after := m.graceSeconds() - m.graceLeft
	m.closeGrace()
	m.s.actions.Append(actionlog.ReturnedToFullscreen(now, after))
	m.s.log.Info().Int("after_seconds", after).Msg("Returned to fullscreen")
}

func (m *monitor) enterFullscreen() {
	m.entering = true
	display := m.s.display
	m.s.run(func(ctx context.Context) func() {
		err := display.EnterFullscreen(ctx)
		return func() {
			m.entering = false
			if err != nil {
				m.s.log.Warn().Err(err).Msg("Re-entering fullscreen failed")
				m.s.toast(LevelError, "fullscreen_denied", nil, false)
				return
			}
			m.fullscreen = true
			switch {
			case m.state == MonitorGrace:
				m.returned(m.s.clock.Now())
			case m.s.submission.state != SubmitIdle:
				// The window expired while the request was pending and the
				// submission already wants the page out of fullscreen.
				m.exitFullscreen()
			}
		}
	})
}

// exitFullscreen leaves fullscreen on the session's own behalf. Exit events
// reported before the shim confirms, or shortly after, are not violations.
func (m *monitor) exitFullscreen() {
	if !m.fullscreen || m.exiting {
		return
	}
	m.exiting = true
	m.fullscreen = false

	display := m.s.display
	m.s.run(func(ctx context.Context) func() {
		err := display.ExitFullscreen(ctx)
		return func() {
			m.exiting = false
			if err != nil {
				m.s.log.Debug().Err(err).Msg("Exit fullscreen failed")
			}
			m.intentionalUntil = m.s.clock.Now().Add(m.s.cfg.IntentionalExit)
		}
	})
}

func (m *monitor) notifyGrace(open bool) {
	left := m.graceLeft
	m.s.notify(Notice{Type: NoticeGrace, Open: open, Seconds: &left})
}

// ─── Per-question time tracking ─────────────────────────────────────

// questionClock measures how long the student stays on each question.
type questionClock struct {
	running    bool
	questionID int
	since      time.Time
}

func (c *questionClock) start(questionID int, now time.Time) {
	c.running = true
	c.questionID = questionID
	c.since = now
}

// flush records the time spent on the current question and restarts the
// measurement at now.
func (c *questionClock) flush(log *actionlog.Log, now time.Time) {
	if !c.running {
		return
	}
	log.Append(actionlog.TimeSpent(now, c.questionID, now.Sub(c.since)))
	c.since = now
}

func (c *questionClock) stop() {
	c.running = false
}
