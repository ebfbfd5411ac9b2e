// Package proctor runs one timed exam attempt: loading, the start handshake,
// the countdown, the proctoring guards, autosave and the submission pipeline.
//
// A Session is driven by a single event loop (sched.Executor). All of its
// methods must be called on that loop; blocking calls to the backend, the
// display and the tab store run off-loop and report back through it.
package proctor

import (
	"context"

	"github.com/stemsi/exstem-proctor/internal/backend"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Backend is the subset of the exam backend a session uses.
type Backend interface {
	CSRFToken(ctx context.Context) (string, error)
	GetExam(ctx context.Context, examID string) (*backend.Exam, error)
	StartExam(ctx context.Context, csrf, examID string) (*backend.StartResult, error)
	SaveProgress(ctx context.Context, csrf string, p backend.Progress) error
	SubmitExam(ctx context.Context, csrf string, p backend.Progress) error
	AnalyzeExam(ctx context.Context, csrf, examID string) (*model.Analysis, error)
}

// Display controls the student's fullscreen state.
type Display interface {
	// EnterFullscreen asks for fullscreen and returns an error when the
	// request is denied or unsupported.
	EnterFullscreen(ctx context.Context) error
	ExitFullscreen(ctx context.Context) error
}

// Beacon delivers a last-chance submission while the page is unloading. Send
// must not block and has no observable result.
type Beacon interface {
	Send(job BeaconJob)
}

// BeaconJob is everything needed to submit on behalf of a departed student.
type BeaconJob struct {
	ExamID   string           `json:"exam_id"`
	UserID   int              `json:"user_id"`
	CSRF     string           `json:"csrf"`
	Cookie   string           `json:"cookie,omitempty"`
	Progress backend.Progress `json:"progress"`
}

// Localizer renders a notice message id in the student's language.
type Localizer interface {
	Localize(id string, data map[string]interface{}) string
}

type idLocalizer struct{}

func (idLocalizer) Localize(id string, _ map[string]interface{}) string { return id }

// ─── Events (browser → session) ─────────────────────────────────────

// EventType is a browser event the shim forwards.
type EventType string

const (
	EventFullscreenChange EventType = "fullscreen_change"
	EventVisibilityChange EventType = "visibility_change"
	EventKeyDown          EventType = "key_down"
	EventContextMenu      EventType = "context_menu"
	EventCopy             EventType = "copy"
	EventOnline           EventType = "online"
	EventOffline          EventType = "offline"
	EventBeforeUnload     EventType = "before_unload"
)

// Event is one forwarded browser event. Only the fields relevant to Type are
// set.
type Event struct {
	Type       EventType `json:"type" validate:"required,oneof=fullscreen_change visibility_change key_down context_menu copy online offline before_unload"`
	Fullscreen bool      `json:"fullscreen"`
	Hidden     bool      `json:"hidden"`
	Key        string    `json:"key"`
	Ctrl       bool      `json:"ctrl"`
	Shift      bool      `json:"shift"`

	// PreventDefault blocks the browser's default handling, when the source
	// can still do so.
	PreventDefault func() `json:"-"`
}

// EventSource delivers browser events. fn may be called from any goroutine.
type EventSource interface {
	Subscribe(fn func(Event)) (unsubscribe func())
}

// BlockedShortcut describes a key combination the input guard suppresses.
type BlockedShortcut struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl,omitempty"`
	Shift bool   `json:"shift,omitempty"`
}

// BlockedShortcuts are the developer-tools shortcuts.
var BlockedShortcuts = []BlockedShortcut{
	{Key: "F12"},
	{Key: "I", Ctrl: true, Shift: true},
	{Key: "J", Ctrl: true, Shift: true},
	{Key: "C", Ctrl: true, Shift: true},
	{Key: "U", Ctrl: true},
}

func isDevtoolsShortcut(e Event) bool {
	for _, s := range BlockedShortcuts {
		if e.Key == s.Key && (!s.Ctrl || e.Ctrl) && (!s.Shift || e.Shift) {
			return true
		}
	}
	return false
}

// ─── Notices (session → browser) ────────────────────────────────────

// NoticeType tells the shim what a notice carries.
type NoticeType string

const (
	NoticeToast    NoticeType = "toast"
	NoticeState    NoticeType = "state"
	NoticeTimer    NoticeType = "timer"
	NoticeGrace    NoticeType = "grace"
	NoticeRedirect NoticeType = "redirect"
	NoticeGuards   NoticeType = "guards"
)

// Level is the severity of a toast.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is one message pushed to the shim.
type Notice struct {
	Type NoticeType `json:"type"`

	// Toast
	Level      Level  `json:"level,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	Persistent bool   `json:"persistent,omitempty"`

	// Timer: seconds left on the exam. Grace: seconds left in the window,
	// with Open false once it closes.
	Seconds *int `json:"seconds,omitempty"`
	Open    bool `json:"open,omitempty"`

	// Redirect
	Location string `json:"location,omitempty"`

	// Guards
	Armed   bool              `json:"armed,omitempty"`
	Blocked []BlockedShortcut `json:"blocked,omitempty"`

	// State
	State *Snapshot `json:"state,omitempty"`
}

// Notifier receives notices. Notify is called on the session loop and must
// not block.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }
