package proctor

import (
	"context"
	"time"
)

// SubmitState is the state of the submission pipeline.
type SubmitState int

const (
	SubmitIdle SubmitState = iota
	SubmitSubmitting
	SubmitRetryPending
	SubmitSubmitted
	// SubmitAbandoned: the session stopped before submitting (page unload,
	// dropped connection or shutdown) and the final submission was handed to
	// the beacon.
	SubmitAbandoned
)

func (s SubmitState) String() string {
	switch s {
	case SubmitSubmitting:
		return "submitting"
	case SubmitRetryPending:
		return "retry_pending"
	case SubmitSubmitted:
		return "submitted"
	case SubmitAbandoned:
		return "abandoned"
	default:
		return "idle"
	}
}

// Trigger names what asked for a submission.
type Trigger string

const (
	TriggerUser   Trigger = "user"
	TriggerTimer  Trigger = "timer"
	TriggerGrace  Trigger = "grace"
	TriggerRetry  Trigger = "retry"
	TriggerOnline Trigger = "online"
	TriggerUnload Trigger = "unload"
	// TriggerDetach: the shim connection went away, or the agent is
	// shutting down, before the attempt was submitted.
	TriggerDetach Trigger = "detach"
)

// submission delivers the final answers exactly once. At most one submit
// call is in flight; failures park the pipeline in retry_pending until the
// retry job or a reconnect tries again.
type submission struct {
	s     *Session
	state SubmitState

	// first is the trigger of the first attempt; it decides the success
	// message even when a retry finishes the job.
	first    Trigger
	attempts int

	cancelRetry func()
}

// trigger starts a submit attempt. It reports false when the pipeline is
// busy or finished.
func (p *submission) trigger(t Trigger) bool {
	if p.state != SubmitIdle && p.state != SubmitRetryPending {
		p.s.log.Debug().Str("trigger", string(t)).Str("state", p.state.String()).Msg("Submit ignored")
		return false
	}
	if p.state == SubmitIdle {
		p.first = t
	}

	p.s.monitor.closeGrace()
	p.s.monitor.exitFullscreen()
	payload := p.s.progress(true)

	if !p.s.online {
		p.s.log.Warn().Str("trigger", string(t)).Msg("Offline, submission deferred")
		p.park("submit_offline")
		return true
	}

	p.setState(SubmitSubmitting)
	p.attempts++
	p.s.log.Info().Str("trigger", string(t)).Int("attempt", p.attempts).Msg("Submitting exam")

	s := p.s
	csrf := s.csrf
	b := s.backend
	s.run(func(ctx context.Context) func() {
		token := csrf
		if token == "" {
			// One refetch; the token may not have arrived at load time.
			fetched, err := b.CSRFToken(ctx)
			if err != nil {
				return func() { p.done("", err) }
			}
			token = fetched
		}
		err := b.SubmitExam(ctx, token, payload)
		return func() { p.done(token, err) }
	})
	return true
}

func (p *submission) done(token string, err error) {
	if p.state != SubmitSubmitting {
		return
	}
	if token != "" && p.s.csrf == "" {
		p.s.csrf = token
	}

	if err != nil {
		p.s.log.Error().Err(err).Int("attempt", p.attempts).Msg("Submission failed")
		p.park("submit_retrying")
		return
	}

	p.stopRetry()
	p.setState(SubmitSubmitted)
	p.s.log.Info().Int("attempts", p.attempts).Msg("Exam submitted")
	p.s.submitted(p.first)
}

// park moves to retry_pending and makes sure the retry job runs.
func (p *submission) park(code string) {
	p.setState(SubmitRetryPending)
	p.s.toast(LevelError, code, nil, true)

	if p.cancelRetry != nil {
		return
	}
	p.cancelRetry = p.s.sched.Every(p.s.cfg.SubmitRetry, func(time.Time) {
		if p.state == SubmitRetryPending && p.s.online {
			p.trigger(TriggerRetry)
		}
	})
}

// reconnected retries immediately after the network comes back.
func (p *submission) reconnected() {
	if p.state != SubmitRetryPending {
		return
	}
	p.s.toast(LevelSuccess, "online_retrying", nil, false)
	p.trigger(TriggerOnline)
}

// unload hands the final submission to the beacon while the page goes away.
// It only fires while the attempt runs, no submit is in flight and the
// browser reports being online.
func (p *submission) unload() bool {
	if p.state != SubmitIdle && p.state != SubmitRetryPending {
		return false
	}
	if !p.s.online {
		p.s.log.Warn().Msg("Offline at unload, final submission skipped")
		return false
	}
	return p.handToBeacon(TriggerUnload)
}

// detach hands the attempt to the beacon when the session is about to close
// without having submitted it. Unlike unload it also covers a submit in
// flight, whose response the session will never see; the backend applies a
// replayed submission once.
func (p *submission) detach() bool {
	switch p.state {
	case SubmitIdle, SubmitSubmitting, SubmitRetryPending:
		return p.handToBeacon(TriggerDetach)
	}
	return false
}

func (p *submission) handToBeacon(t Trigger) bool {
	if p.s.beacon == nil {
		p.s.log.Warn().Str("trigger", string(t)).Msg("No beacon configured, final submission skipped")
		return false
	}

	job := BeaconJob{
		ExamID:   p.s.examID,
		UserID:   p.s.identity.UserID,
		CSRF:     p.s.csrf,
		Cookie:   p.s.cookie,
		Progress: p.s.progress(true),
	}
	p.stopRetry()
	p.setState(SubmitAbandoned)
	p.s.log.Info().Str("trigger", string(t)).Msg("Final submission handed to beacon")
	p.s.beacon.Send(job)
	return true
}

func (p *submission) stopRetry() {
	if p.cancelRetry != nil {
		p.cancelRetry()
		p.cancelRetry = nil
	}
}

func (p *submission) setState(st SubmitState) {
	if p.state == st {
		return
	}
	p.state = st
	p.s.publish()
}
