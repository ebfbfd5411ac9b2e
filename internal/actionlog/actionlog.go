package actionlog

import (
	"sync"
	"time"
)

// Kind enumerates the behavioral events recorded during an attempt.
type Kind string

const (
	KindExamStarted          Kind = "exam_started"
	KindAnswerSelected       Kind = "answer_selected"
	KindNavigate             Kind = "navigate"
	KindTimeSpent            Kind = "time_spent"
	KindHeartbeat            Kind = "heartbeat"
	KindTabHidden            Kind = "tab_hidden"
	KindTabVisible           Kind = "tab_visible"
	KindFullscreenExit       Kind = "fullscreen_exit"
	KindReturnedToFullscreen Kind = "returned_to_fullscreen"
	KindDevtoolsAttempt      Kind = "devtools_attempt"
	KindRightClickAttempt    Kind = "right_click_attempt"
	KindCopyAttempt          Kind = "copy_attempt"
)

// Record is one entry of the action log. Only the payload fields relevant to
// Kind are set; the rest are omitted on the wire.
type Record struct {
	Kind         Kind   `json:"type"`
	Timestamp    int64  `json:"timestamp"`
	QuestionID   *int   `json:"questionId,omitempty"`
	OptionIndex  *int   `json:"optionIndex,omitempty"`
	From         *int   `json:"from,omitempty"`
	To           *int   `json:"to,omitempty"`
	DurationMs   *int64 `json:"durationMs,omitempty"`
	Attempt      *int   `json:"attempt,omitempty"`
	AfterSeconds *int   `json:"after_seconds,omitempty"`
}

// Time returns the record timestamp as a time.Time.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

func ptr[T any](v T) *T { return &v }

// ─── Constructors ───────────────────────────────────────────────────

func ExamStarted(at time.Time) Record {
	return Record{Kind: KindExamStarted, Timestamp: at.UnixMilli()}
}

func AnswerSelected(at time.Time, questionID, optionIndex int) Record {
	return Record{
		Kind:        KindAnswerSelected,
		Timestamp:   at.UnixMilli(),
		QuestionID:  ptr(questionID),
		OptionIndex: ptr(optionIndex),
	}
}

func Navigate(at time.Time, from, to int) Record {
	return Record{Kind: KindNavigate, Timestamp: at.UnixMilli(), From: ptr(from), To: ptr(to)}
}

func TimeSpent(at time.Time, questionID int, spent time.Duration) Record {
	return Record{
		Kind:       KindTimeSpent,
		Timestamp:  at.UnixMilli(),
		QuestionID: ptr(questionID),
		DurationMs: ptr(spent.Milliseconds()),
	}
}

func Heartbeat(at time.Time) Record {
	return Record{Kind: KindHeartbeat, Timestamp: at.UnixMilli()}
}

func TabHidden(at time.Time) Record {
	return Record{Kind: KindTabHidden, Timestamp: at.UnixMilli()}
}

func TabVisible(at time.Time) Record {
	return Record{Kind: KindTabVisible, Timestamp: at.UnixMilli()}
}

// FullscreenExit records the attempt-th involuntary exit from fullscreen.
func FullscreenExit(at time.Time, attempt int) Record {
	return Record{Kind: KindFullscreenExit, Timestamp: at.UnixMilli(), Attempt: ptr(attempt)}
}

// ReturnedToFullscreen records a return within the grace window, afterSeconds
// after the window opened.
func ReturnedToFullscreen(at time.Time, afterSeconds int) Record {
	return Record{Kind: KindReturnedToFullscreen, Timestamp: at.UnixMilli(), AfterSeconds: ptr(afterSeconds)}
}

func DevtoolsAttempt(at time.Time) Record {
	return Record{Kind: KindDevtoolsAttempt, Timestamp: at.UnixMilli()}
}

func RightClickAttempt(at time.Time) Record {
	return Record{Kind: KindRightClickAttempt, Timestamp: at.UnixMilli()}
}

func CopyAttempt(at time.Time) Record {
	return Record{Kind: KindCopyAttempt, Timestamp: at.UnixMilli()}
}

// ─── Log ────────────────────────────────────────────────────────────

// Log is the append-only action buffer of one attempt. Records are never
// removed, rewritten or deduplicated.
type Log struct {
	mu        sync.Mutex
	records   []Record
	observers []func(Record)
}

// New creates an empty Log.
func New() *Log {
	return &Log{records: make([]Record, 0, 64)}
}

// Observe registers fn to be called after every append. Observers run
// synchronously on the appending goroutine and must not block.
func (l *Log) Observe(fn func(Record)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// Append adds r to the log and returns the stored record. A timestamp older
// than the previous record is raised to it so the sequence stays
// non-decreasing.
func (l *Log) Append(r Record) Record {
	l.mu.Lock()
	if n := len(l.records); n > 0 && r.Timestamp < l.records[n-1].Timestamp {
		r.Timestamp = l.records[n-1].Timestamp
	}
	l.records = append(l.records, r)
	observers := l.observers
	l.mu.Unlock()

	for _, fn := range observers {
		fn(r)
	}
	return r
}

// Snapshot returns a copy of every record appended so far.
func (l *Log) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Count returns how many records of the given kind were appended.
func (l *Log) Count(kind Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.records {
		if r.Kind == kind {
			n++
		}
	}
	return n
}
