package proctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/actionlog"
	"github.com/stemsi/exstem-proctor/internal/auth"
	"github.com/stemsi/exstem-proctor/internal/backend"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/sched"
)

// Session errors returned to the caller of a command. Each is also surfaced
// to the student as a toast.
var (
	ErrWrongPhase      = errors.New("not allowed in the current phase")
	ErrNotAcknowledged = errors.New("proctoring rules not acknowledged")
	ErrUnknownQuestion = errors.New("unknown question")
	ErrInvalidOption   = errors.New("option out of range")
	ErrSessionClosed   = errors.New("session closed")
)

// Phase is the page-level lifecycle of an attempt.
type Phase string

const (
	PhaseLoading       Phase = "loading"
	PhasePreview       Phase = "preview"
	PhaseStarting      Phase = "starting"
	PhaseRunning       Phase = "running"
	PhaseSubmitted     Phase = "submitted"
	PhaseSubmittedAway Phase = "submitted_away"
	PhaseResults       Phase = "results"
	PhaseFailed        Phase = "failed"
	PhaseRedirected    Phase = "redirected"
)

// RecordPublisher streams action records to live observers.
type RecordPublisher interface {
	Publish(ctx context.Context, examID string, userID int, r actionlog.Record) error
}

// Options wires a Session to its collaborators. Backend, Display, Events,
// Notifier, Executor and Scheduler are required.
type Options struct {
	ExamID   string
	Identity auth.Identity
	// Cookie is the student's backend session cookie, carried by beacon
	// jobs.
	Cookie string

	Backend   Backend
	Display   Display
	Events    EventSource
	Notifier  Notifier
	Executor  sched.Executor
	Scheduler *sched.Scheduler
	Clock     sched.Clock

	// Tabs defaults to a private in-memory store.
	Tabs     TabStore
	TabToken string

	Beacon    Beacon
	Publisher RecordPublisher
	Localizer Localizer

	Config config.Proctoring
	Logger zerolog.Logger
}

// Session is one student's attempt at one exam.
type Session struct {
	examID   string
	identity auth.Identity
	cookie   string

	backend   Backend
	display   Display
	events    EventSource
	notifier  Notifier
	exec      sched.Executor
	sched     *sched.Scheduler
	clock     sched.Clock
	beacon    Beacon
	localizer Localizer
	cfg       config.Proctoring
	log       zerolog.Logger

	phase    Phase
	status   model.AttemptStatus
	exam     *model.ExamDefinition
	csrf     string
	online   bool
	loadErr  string
	answers  model.AnswerMap
	index    int
	analysis *model.Analysis

	actions    *actionlog.Log
	timer      *Timer
	monitor    *monitor
	tabs       *tabGuard
	autosave   *autosave
	submission *submission
	qclock     questionClock
	published  *publishQueue

	loading         bool
	closed          bool
	unsubscribe     func()
	cancelCountdown func()
}

// New creates a Session in the loading phase. Call Load to begin.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = sched.SystemClock{}
	}
	if opts.Localizer == nil {
		opts.Localizer = idLocalizer{}
	}
	if opts.Tabs == nil {
		opts.Tabs = NewMemoryTabStore()
	}
	if opts.TabToken == "" {
		opts.TabToken = uuid.NewString()
	}

	s := &Session{
		examID:    opts.ExamID,
		identity:  opts.Identity,
		cookie:    opts.Cookie,
		backend:   opts.Backend,
		display:   opts.Display,
		events:    opts.Events,
		notifier:  opts.Notifier,
		exec:      opts.Executor,
		sched:     opts.Scheduler,
		clock:     opts.Clock,
		beacon:    opts.Beacon,
		localizer: opts.Localizer,
		cfg:       opts.Config,
		log:       opts.Logger.With().Str("component", "session").Logger(),
		phase:     PhaseLoading,
		status:    model.AttemptNotStarted,
		online:    true,
		answers:   model.AnswerMap{},
		actions:   actionlog.New(),
	}
	s.timer = NewTimer(s.cfg.EndWarning, s.lowTime, s.expired)
	s.monitor = &monitor{s: s}
	s.autosave = &autosave{s: s}
	s.submission = &submission{s: s}
	key := config.CacheKey.ActiveTabKey(s.examID, s.identity.UserID)
	s.tabs = newTabGuard(s, opts.Tabs, key, opts.TabToken)

	if opts.Publisher != nil {
		s.published = newPublishQueue(opts.Publisher, s.examID, s.identity.UserID, s.log)
		s.actions.Observe(s.published.push)
	}
	return s
}

// ─── Loop plumbing ──────────────────────────────────────────────────

// run executes task off-loop. The continuation is dropped once the session
// is closed.
func (s *Session) run(task func(ctx context.Context) func()) {
	s.exec.Go(func(ctx context.Context) func() {
		cont := task(ctx)
		if cont == nil {
			return nil
		}
		return func() {
			if !s.closed {
				cont()
			}
		}
	})
}

// subscribe attaches fn to the event source; events are handed to fn on the
// loop.
func (s *Session) subscribe(fn func(Event)) func() {
	return s.events.Subscribe(func(e Event) {
		s.exec.Post(func() {
			if !s.closed {
				fn(e)
			}
		})
	})
}

func (s *Session) notify(n Notice) {
	s.notifier.Notify(n)
}

func (s *Session) toast(level Level, code string, data map[string]interface{}, persistent bool) {
	s.notify(Notice{
		Type:       NoticeToast,
		Level:      level,
		Code:       code,
		Message:    s.localizer.Localize(code, data),
		Persistent: persistent,
	})
}

func (s *Session) publish() {
	snap := s.Snapshot()
	s.notify(Notice{Type: NoticeState, State: &snap})
}

func (s *Session) setPhase(p Phase) {
	if s.phase == p {
		return
	}
	s.log.Debug().Str("from", string(s.phase)).Str("to", string(p)).Msg("Phase change")
	s.phase = p
	s.publish()
}

// advance moves the attempt status forward; it never moves backwards.
func (s *Session) advance(st model.AttemptStatus) {
	if s.status.CanAdvanceTo(st) {
		s.status = st
	}
}

// progress snapshots what is sent to the backend. With flush set the time
// spent on the current question is recorded first.
func (s *Session) progress(flush bool) backend.Progress {
	if flush {
		s.qclock.flush(s.actions, s.clock.Now())
	}
	return backend.Progress{
		ExamID:  s.examID,
		Answers: s.answers.Clone(),
		Actions: s.actions.Snapshot(),
	}
}

// ─── Load ───────────────────────────────────────────────────────────

// Load fetches the CSRF token and the exam, and moves to preview, results,
// submitted_away or failed.
func (s *Session) Load() {
	if s.phase != PhaseLoading || s.loading || s.closed {
		return
	}
	s.loading = true
	s.unsubscribe = s.subscribe(s.handleLifecycle)

	b, examID := s.backend, s.examID
	s.run(func(ctx context.Context) func() {
		csrf, csrfErr := b.CSRFToken(ctx)
		exam, err := b.GetExam(ctx, examID)
		return func() { s.loaded(csrf, csrfErr, exam, err) }
	})
}

func (s *Session) loaded(csrf string, csrfErr error, exam *backend.Exam, err error) {
	s.loading = false
	if csrfErr != nil {
		s.log.Warn().Err(csrfErr).Msg("CSRF token unavailable")
	}
	s.csrf = csrf

	if err != nil {
		s.log.Error().Err(err).Msg("Loading exam failed")
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			s.loadErr = apiErr.Message
			s.notify(Notice{Type: NoticeToast, Level: LevelError, Code: "load_failed", Message: apiErr.Message})
		} else {
			s.loadErr = s.localizer.Localize("server_error", nil)
			s.toast(LevelError, "server_error", nil, false)
		}
		s.setPhase(PhaseFailed)
		return
	}

	s.exam = &exam.Definition
	s.advance(exam.Status)

	switch exam.Status {
	case model.AttemptCompleted:
		if a, err := model.DecodeAnalysis(exam.Analysis); err == nil {
			s.analysis = a
		} else if !errors.Is(err, model.ErrNoAnalysis) {
			s.log.Warn().Err(err).Msg("Stored analysis unreadable")
		}
		s.setPhase(PhaseResults)

	case model.AttemptInProgress:
		// Leaving the page forfeits the attempt; it is never resumed.
		s.toast(LevelError, "submitted_away", nil, false)
		s.setPhase(PhaseSubmittedAway)

	default:
		s.setPhase(PhasePreview)
	}
}

// ─── Start ──────────────────────────────────────────────────────────

// ConfirmStart starts the attempt once the student has acknowledged the
// proctoring rules. Fullscreen must be granted before the backend is asked
// to start.
func (s *Session) ConfirmStart(acknowledged bool) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.phase != PhasePreview {
		return ErrWrongPhase
	}
	if !acknowledged {
		s.toast(LevelError, "rules_not_acknowledged", nil, false)
		return ErrNotAcknowledged
	}
	if s.csrf == "" {
		s.toast(LevelError, "missing_csrf", nil, false)
		return backend.ErrNoCSRF
	}

	s.setPhase(PhaseStarting)

	display := s.display
	s.run(func(ctx context.Context) func() {
		err := display.EnterFullscreen(ctx)
		return func() { s.fullscreenGranted(err) }
	})
	return nil
}

func (s *Session) fullscreenGranted(err error) {
	if err != nil {
		s.log.Warn().Err(err).Msg("Fullscreen denied, start aborted")
		s.toast(LevelError, "fullscreen_denied", nil, false)
		s.setPhase(PhasePreview)
		return
	}
	s.monitor.fullscreen = true

	b, csrf, examID := s.backend, s.csrf, s.examID
	s.run(func(ctx context.Context) func() {
		res, err := b.StartExam(ctx, csrf, examID)
		return func() { s.started(res, err) }
	})
}

func (s *Session) started(res *backend.StartResult, err error) {
	if err != nil {
		s.log.Warn().Err(err).Msg("Start rejected")
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			s.notify(Notice{Type: NoticeToast, Level: LevelError, Code: "start_rejected", Message: apiErr.Message})
		} else {
			s.toast(LevelError, "start_failed", nil, false)
		}
		s.monitor.exitFullscreen()
		s.setPhase(PhasePreview)
		return
	}

	now := s.clock.Now()
	total := s.exam.TotalSeconds()
	left := res.TimeLeft
	if left <= 0 {
		left = total
	}
	if left > total {
		total = left
	}

	s.advance(model.AttemptInProgress)
	s.actions.Append(actionlog.ExamStarted(now))
	s.setPhase(PhaseRunning)
	s.log.Info().Int("time_left", left).Int("total", total).Msg("Exam started")

	s.monitor.arm()
	s.tabs.arm(s.lostTab)
	s.autosave.start()
	if len(s.exam.Questions) > 0 {
		s.qclock.start(s.exam.Questions[s.index].ID, now)
	}

	s.cancelCountdown = s.sched.Every(time.Second, func(time.Time) {
		s.timer.Tick()
		if s.phase == PhaseRunning {
			s.notifyTimer()
		}
	})
	s.timer.Start(total, left)
	s.toast(LevelSuccess, "exam_started", nil, false)
	s.notifyTimer()
}

func (s *Session) notifyTimer() {
	left := s.timer.Left()
	s.notify(Notice{Type: NoticeTimer, Seconds: &left})
}

func (s *Session) lowTime(int) {
	s.toast(LevelError, "low_time", map[string]interface{}{"Seconds": int(s.cfg.EndWarning / time.Second)}, false)
}

func (s *Session) expired() {
	s.log.Info().Msg("Time is up")
	s.submission.trigger(TriggerTimer)
}

// ─── Commands while running ─────────────────────────────────────────

func (s *Session) answerable() bool {
	if s.phase != PhaseRunning {
		return false
	}
	st := s.submission.state
	return st == SubmitIdle || st == SubmitSubmitting || st == SubmitRetryPending
}

// SelectAnswer records the student's choice for a question.
func (s *Session) SelectAnswer(questionID, option int) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !s.answerable() {
		return ErrWrongPhase
	}
	q, ok := s.exam.Question(questionID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownQuestion, questionID)
	}
	if option < 0 || option >= len(q.Options) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidOption, option, len(q.Options))
	}

	s.answers[questionID] = option
	s.actions.Append(actionlog.AnswerSelected(s.clock.Now(), questionID, option))
	return nil
}

// Navigate moves to the question at index, clamped to the question list.
// It returns the index actually shown.
func (s *Session) Navigate(index int) (int, error) {
	if s.closed {
		return s.index, ErrSessionClosed
	}
	if !s.answerable() {
		return s.index, ErrWrongPhase
	}
	n := len(s.exam.Questions)
	if index < 0 {
		index = 0
	}
	if index > n-1 {
		index = n - 1
	}
	if index == s.index {
		return s.index, nil
	}

	now := s.clock.Now()
	s.qclock.flush(s.actions, now)
	s.actions.Append(actionlog.Navigate(now, s.index, index))
	s.index = index
	s.qclock.start(s.exam.Questions[index].ID, now)
	return index, nil
}

// Submit is the student's confirmed submission.
func (s *Session) Submit() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.phase != PhaseRunning {
		return ErrWrongPhase
	}
	if !s.submission.trigger(TriggerUser) {
		return ErrWrongPhase
	}
	return nil
}

// ReturnToFullscreen is the only action offered during the grace window.
func (s *Session) ReturnToFullscreen() {
	if s.closed || s.phase != PhaseRunning {
		return
	}
	s.monitor.returnToExam()
}

// ─── Lifecycle events ───────────────────────────────────────────────

func (s *Session) handleLifecycle(e Event) {
	switch e.Type {
	case EventOnline:
		s.online = true
		s.toast(LevelSuccess, "online", nil, false)
		if s.phase == PhaseRunning {
			s.submission.reconnected()
		}

	case EventOffline:
		s.online = false
		s.toast(LevelError, "offline", nil, false)

	case EventBeforeUnload:
		if s.phase != PhaseRunning {
			return
		}
		if s.submission.unload() {
			s.stopRunning(true)
		}
	}
}

// submitted finishes a successful submission.
func (s *Session) submitted(first Trigger) {
	s.advance(model.AttemptCompleted)
	s.stopRunning(true)
	s.setPhase(PhaseSubmitted)

	if first == TriggerUser {
		s.toast(LevelSuccess, "submitted_user", nil, false)
	} else {
		s.toast(LevelSuccess, "submitted_auto", nil, false)
	}
	s.fetchAnalysis()
}

func (s *Session) fetchAnalysis() {
	if s.csrf == "" {
		return
	}
	b, csrf, examID := s.backend, s.csrf, s.examID
	s.run(func(ctx context.Context) func() {
		a, err := b.AnalyzeExam(ctx, csrf, examID)
		return func() {
			if err != nil {
				s.log.Warn().Err(err).Msg("Analysis unavailable")
				s.toast(LevelError, "analysis_failed", nil, false)
				return
			}
			s.analysis = a
			s.publish()
		}
	})
}

// lostTab tears the attempt down without submitting; another tab owns it.
func (s *Session) lostTab() {
	if s.phase != PhaseRunning {
		return
	}
	s.toast(LevelError, "other_tab", nil, false)
	s.stopRunning(false)
	s.submission.stopRetry()
	s.setPhase(PhaseRedirected)
	s.notify(Notice{Type: NoticeRedirect, Location: "/"})
}

// stopRunning cancels every job and guard that only lives while running.
func (s *Session) stopRunning(releaseTab bool) {
	if s.cancelCountdown != nil {
		s.cancelCountdown()
		s.cancelCountdown = nil
	}
	s.qclock.stop()
	s.monitor.disarm()
	s.tabs.disarm(releaseTab)
	s.autosave.stop()
}

// Close detaches everything. A running attempt that was not submitted yet
// is handed to the beacon first. The session does nothing afterwards.
func (s *Session) Close() {
	if s.closed {
		return
	}
	if s.phase == PhaseRunning {
		s.submission.detach()
	}
	s.stopRunning(true)
	s.submission.stopRetry()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.closed = true
	if s.published != nil {
		s.published.close()
	}
	s.log.Debug().Str("phase", string(s.phase)).Msg("Session closed")
}

// ─── View model ─────────────────────────────────────────────────────

// Snapshot is the view model the shim renders.
type Snapshot struct {
	Phase        Phase               `json:"phase"`
	Status       model.AttemptStatus `json:"exam_status"`
	ExamID       string              `json:"exam_id"`
	Title        string              `json:"title,omitempty"`
	Questions    []model.Question    `json:"questions,omitempty"`
	CurrentIndex int                 `json:"current_index"`
	Answers      model.AnswerMap     `json:"answers"`
	TimeLeft     int                 `json:"time_left"`
	TotalTime    int                 `json:"total_time"`
	Timer        string              `json:"timer"`
	Monitor      string              `json:"monitor"`
	Fullscreen   bool                `json:"fullscreen"`
	ExitAttempts int                 `json:"exit_attempts"`
	GraceLeft    int                 `json:"grace_left,omitempty"`
	Submission   string              `json:"submission"`
	Online       bool                `json:"online"`
	Error        string              `json:"error,omitempty"`
	Analysis     *model.Analysis     `json:"analysis,omitempty"`
}

// Snapshot returns the current view model.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		Phase:        s.phase,
		Status:       s.status,
		ExamID:       s.examID,
		CurrentIndex: s.index,
		Answers:      s.answers.Clone(),
		TimeLeft:     s.timer.Left(),
		TotalTime:    s.timer.Total(),
		Timer:        s.timer.State().String(),
		Monitor:      s.monitor.state.String(),
		Fullscreen:   s.monitor.fullscreen,
		ExitAttempts: s.monitor.exitAttempts,
		Submission:   s.submission.state.String(),
		Online:       s.online,
		Error:        s.loadErr,
		Analysis:     s.analysis,
	}
	if s.monitor.state == MonitorGrace {
		snap.GraceLeft = s.monitor.graceLeft
	}
	if s.exam != nil {
		snap.Title = s.exam.Title
		if snap.TotalTime == 0 {
			snap.TotalTime = s.exam.TotalSeconds()
			if s.phase == PhasePreview {
				snap.TimeLeft = snap.TotalTime
			}
		}
		if s.phase == PhaseRunning || s.phase == PhasePreview {
			snap.Questions = s.exam.Questions
		}
	}
	return snap
}

// Actions returns a copy of the action log.
func (s *Session) Actions() []actionlog.Record {
	return s.actions.Snapshot()
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	return s.phase
}
