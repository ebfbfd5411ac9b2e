package proctor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/backend"
	"github.com/stemsi/exstem-proctor/internal/backend/backendtest"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var errTransient = &backend.APIError{Status: 503, Message: "temporarily unavailable"}

func TestUserSubmitSucceeds(t *testing.T) {
	h := newHarness(t, oneQuestionExam(10*time.Minute))
	h.start()
	h.s.SelectAnswer(7, 0)

	if err := h.s.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if h.s.Snapshot().Submission != "submitting" {
		t.Fatalf("state = %s, want submitting", h.s.Snapshot().Submission)
	}
	// A second trigger while the first is in flight is dropped.
	if err := h.s.Submit(); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("second submit err = %v", err)
	}
	h.loop.Flush()

	if len(h.backend.submits) != 1 {
		t.Fatalf("submits = %d, want 1", len(h.backend.submits))
	}
	if h.s.Phase() != PhaseSubmitted || h.toasts("submitted_user") != 1 {
		t.Errorf("phase = %s", h.s.Phase())
	}
	if h.display.exits != 1 {
		t.Errorf("fullscreen exits = %d, want 1", h.display.exits)
	}
	if err := h.s.Submit(); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("submit after success err = %v", err)
	}
}

func TestSubmitRetriesOnFixedInterval(t *testing.T) {
	h := newHarness(t, oneQuestionExam(10*time.Minute))
	h.backend.submitErrs = []error{errTransient, errTransient}
	h.start()

	h.s.Submit()
	h.loop.Flush()
	if got := h.s.Snapshot().Submission; got != "retry_pending" {
		t.Fatalf("state = %s, want retry_pending", got)
	}
	if h.toasts("submit_retrying") != 1 {
		t.Error("retry notice missing")
	}
	for _, n := range h.notices {
		if n.Code == "submit_retrying" && !n.Persistent {
			t.Error("retry notice should be persistent")
		}
	}

	// Answering continues while the retry is pending.
	if err := h.s.SelectAnswer(7, 2); err != nil {
		t.Errorf("answer during retry: %v", err)
	}

	h.step(14)
	if len(h.backend.submits) != 1 {
		t.Fatalf("retried early: %d submits", len(h.backend.submits))
	}
	h.step(1)
	if len(h.backend.submits) != 2 {
		t.Fatalf("submits = %d at 15s, want 2", len(h.backend.submits))
	}
	h.step(15)
	if len(h.backend.submits) != 3 || h.s.Phase() != PhaseSubmitted {
		t.Fatalf("submits = %d phase = %s", len(h.backend.submits), h.s.Phase())
	}
	if got := h.backend.submits[2].Answers[7]; got != 2 {
		t.Errorf("retry sent stale answers: %v", h.backend.submits[2].Answers)
	}
	if h.toasts("submitted_user") != 1 {
		t.Error("success toast should follow the first trigger")
	}

	h.step(60)
	if len(h.backend.submits) != 3 {
		t.Errorf("retry job kept firing: %d submits", len(h.backend.submits))
	}
}

func TestOfflineSubmitWaitsForReconnect(t *testing.T) {
	h := newHarness(t, oneQuestionExam(10*time.Minute))
	h.start()

	h.events.emit(Event{Type: EventOffline})
	h.s.Submit()
	h.loop.Flush()

	if len(h.backend.submits) != 0 || h.s.Snapshot().Submission != "retry_pending" {
		t.Fatalf("offline submit went out: %d, %s", len(h.backend.submits), h.s.Snapshot().Submission)
	}
	if h.toasts("submit_offline") != 1 {
		t.Error("offline notice missing")
	}

	h.step(45)
	if len(h.backend.submits) != 0 {
		t.Fatalf("retry job fired while offline")
	}

	h.events.emit(Event{Type: EventOnline})
	h.loop.Flush()

	if len(h.backend.submits) != 1 || h.s.Phase() != PhaseSubmitted {
		t.Errorf("submits = %d phase = %s after reconnect", len(h.backend.submits), h.s.Phase())
	}
	if h.toasts("online_retrying") != 1 {
		t.Error("reconnect retry notice missing")
	}
}

func TestTimerExpiryDuringRetryResubmits(t *testing.T) {
	h := newHarness(t, oneQuestionExam(time.Minute))
	h.backend.startRes = &backend.StartResult{TimeLeft: 5}
	h.backend.submitErrs = []error{errTransient}
	h.start()

	h.s.Submit()
	h.loop.Flush()
	h.step(5)

	if len(h.backend.submits) != 2 || h.s.Phase() != PhaseSubmitted {
		t.Errorf("submits = %d phase = %s, want expiry to resubmit", len(h.backend.submits), h.s.Phase())
	}
}

func TestMissingCSRFIsRefetchedOnSubmit(t *testing.T) {
	h := newHarness(t, oneQuestionExam(10*time.Minute))
	h.start()
	h.s.csrf = ""
	h.backend.csrf = "fresh"

	h.s.Submit()
	h.loop.Flush()

	if h.s.Phase() != PhaseSubmitted || h.s.csrf != "fresh" {
		t.Errorf("phase = %s csrf = %q", h.s.Phase(), h.s.csrf)
	}
}

func TestUnloadHandsSubmissionToBeacon(t *testing.T) {
	t.Run("online", func(t *testing.T) {
		h := newHarness(t, oneQuestionExam(10*time.Minute))
		h.start()
		h.s.SelectAnswer(7, 1)

		h.events.emit(Event{Type: EventBeforeUnload})

		if len(h.beacon.jobs) != 1 {
			t.Fatalf("beacon jobs = %d", len(h.beacon.jobs))
		}
		job := h.beacon.jobs[0]
		if job.ExamID != "exam-1" || job.UserID != 11 || job.CSRF != "tok" || job.Progress.Answers[7] != 1 {
			t.Errorf("job = %+v", job)
		}
		if h.s.Snapshot().Submission != "abandoned" || h.sched.Len() != 0 {
			t.Errorf("state = %s jobs = %d", h.s.Snapshot().Submission, h.sched.Len())
		}
		h.events.emit(Event{Type: EventBeforeUnload})
		if len(h.beacon.jobs) != 1 {
			t.Error("second unload sent another beacon")
		}
	})

	t.Run("offline", func(t *testing.T) {
		h := newHarness(t, oneQuestionExam(10*time.Minute))
		h.start()
		h.events.emit(Event{Type: EventOffline})
		h.events.emit(Event{Type: EventBeforeUnload})
		if len(h.beacon.jobs) != 0 {
			t.Error("beacon sent while offline")
		}
	})

	t.Run("submit in flight", func(t *testing.T) {
		h := newHarness(t, oneQuestionExam(10*time.Minute))
		h.start()
		h.s.Submit()
		h.events.emit(Event{Type: EventBeforeUnload})
		if len(h.beacon.jobs) != 0 {
			t.Error("beacon raced an in-flight submit")
		}
	})

	t.Run("not started", func(t *testing.T) {
		h := newHarness(t, oneQuestionExam(10*time.Minute))
		h.load()
		h.events.emit(Event{Type: EventBeforeUnload})
		if len(h.beacon.jobs) != 0 {
			t.Error("beacon sent before start")
		}
	})
}

// lossyBackend delivers submissions but loses the first responses.
type lossyBackend struct {
	*backend.Client
	lose int
}

func (b *lossyBackend) SubmitExam(ctx context.Context, csrf string, p backend.Progress) error {
	err := b.Client.SubmitExam(ctx, csrf, p)
	if b.lose > 0 {
		b.lose--
		return errors.New("connection reset by peer")
	}
	return err
}

func TestLostSubmitResponseCompletesOnce(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	srv.AddExam("42", &backendtest.Exam{
		Title:           "Chemistry",
		DurationMinutes: 10,
		Questions:       []model.Question{{ID: 1, Text: "H2O?", Options: []string{"water", "salt"}}},
	})

	client := backend.New(srv.URL, 5*time.Second, zerolog.Nop())
	lossy := &lossyBackend{Client: client, lose: 1}

	h := newHarness(t, oneQuestionExam(time.Minute), func(o *Options) {
		o.ExamID = "42"
		o.Backend = lossy
	})
	h.start()
	h.s.SelectAnswer(1, 0)

	h.s.Submit()
	h.loop.Flush()
	if h.s.Snapshot().Submission != "retry_pending" {
		t.Fatalf("state = %s, want retry_pending after the lost response", h.s.Snapshot().Submission)
	}

	h.step(15)

	if h.s.Phase() != PhaseSubmitted {
		t.Fatalf("phase = %s", h.s.Phase())
	}
	a := srv.Attempt("42")
	if a.Submits != 2 || a.Completions != 1 {
		t.Errorf("submits = %d completions = %d, want 2 and 1", a.Submits, a.Completions)
	}
	if a.Status != model.AttemptCompleted || a.Answers[1] != 0 {
		t.Errorf("attempt = %+v", a)
	}
	if h.s.Snapshot().Analysis == nil {
		t.Error("analysis not fetched after the retry succeeded")
	}
}
