package backend_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/actionlog"
	"github.com/stemsi/exstem-proctor/internal/backend"
	"github.com/stemsi/exstem-proctor/internal/backend/backendtest"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func newFixture(t *testing.T) (*backendtest.Server, *backend.Client) {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)

	srv.AddExam("42", &backendtest.Exam{
		Title:           "Physics",
		DurationMinutes: 10,
		Questions: []model.Question{
			{ID: 1, Text: "What is g?", Options: []string{"9.8", "3.1"}},
		},
	})
	return srv, backend.New(srv.URL, 5*time.Second, zerolog.Nop())
}

func TestGetExamConvertsDuration(t *testing.T) {
	_, c := newFixture(t)

	exam, err := c.GetExam(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if exam.Definition.TotalSeconds() != 600 {
		t.Errorf("TotalSeconds = %d, want 600", exam.Definition.TotalSeconds())
	}
	if exam.Status != model.AttemptNotStarted {
		t.Errorf("Status = %s, want not_started", exam.Status)
	}
	if exam.Definition.Title != "Physics" || len(exam.Definition.Questions) != 1 {
		t.Errorf("unexpected definition %+v", exam.Definition)
	}
}

func TestGetExamNotFound(t *testing.T) {
	_, c := newFixture(t)

	_, err := c.GetExam(context.Background(), "nope")
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Exam not found" {
		t.Fatalf("err = %v, want APIError with backend message", err)
	}
}

func TestGetExamAcceptsStringDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","exam":{"title":"T","duration":"2","exam_status":"in_progress",
			"questions":[{"id":3,"question":"q","options":["a","b"]}]}}`))
	}))
	defer srv.Close()

	c := backend.New(srv.URL, time.Second, zerolog.Nop())
	exam, err := c.GetExam(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if exam.Definition.Duration != 2*time.Minute || exam.Status != model.AttemptInProgress {
		t.Errorf("got duration %s status %s", exam.Definition.Duration, exam.Status)
	}
}

func TestGetExamRejectsEmptyQuestionSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","exam":{"title":"T","duration":5,"exam_status":"not_started","questions":[]}}`))
	}))
	defer srv.Close()

	c := backend.New(srv.URL, time.Second, zerolog.Nop())
	if _, err := c.GetExam(context.Background(), "1"); !errors.Is(err, backend.ErrInvalidExam) {
		t.Fatalf("err = %v, want ErrInvalidExam", err)
	}
}

func TestMutatingCallsRequireCSRF(t *testing.T) {
	_, c := newFixture(t)

	if _, err := c.StartExam(context.Background(), "", "42"); !errors.Is(err, backend.ErrNoCSRF) {
		t.Errorf("StartExam without csrf err = %v", err)
	}
	if err := c.SubmitExam(context.Background(), "", backend.Progress{ExamID: "42"}); !errors.Is(err, backend.ErrNoCSRF) {
		t.Errorf("SubmitExam without csrf err = %v", err)
	}
}

func TestFullAttemptAgainstFake(t *testing.T) {
	srv, c := newFixture(t)
	ctx := context.Background()

	csrf, err := c.CSRFToken(ctx)
	if err != nil {
		t.Fatalf("CSRFToken: %v", err)
	}

	start, err := c.StartExam(ctx, csrf, "42")
	if err != nil {
		t.Fatalf("StartExam: %v", err)
	}
	if start.TimeLeft != 600 {
		t.Errorf("TimeLeft = %d, want 600", start.TimeLeft)
	}

	p := backend.Progress{
		ExamID:  "42",
		Answers: model.AnswerMap{1: 0},
		Actions: []actionlog.Record{actionlog.ExamStarted(time.UnixMilli(1))},
	}
	if err := c.SaveProgress(ctx, csrf, p); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	srv.FailSubmits = 1
	err = c.SubmitExam(ctx, csrf, p)
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) || !apiErr.Temporary() {
		t.Fatalf("first submit err = %v, want temporary APIError", err)
	}

	for i := 0; i < 2; i++ {
		if err := c.SubmitExam(ctx, csrf, p); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	a := srv.Attempt("42")
	if a.Completions != 1 || a.Submits != 3 {
		t.Errorf("completions = %d, submits = %d, want 1 and 3", a.Completions, a.Submits)
	}
	if a.Answers[1] != 0 || len(a.Actions) != 1 {
		t.Errorf("stored attempt %+v", a)
	}

	analysis, err := c.AnalyzeExam(ctx, csrf, "42")
	if err != nil {
		t.Fatalf("AnalyzeExam: %v", err)
	}
	if analysis.CheatingSuspicion.Level != "low" {
		t.Errorf("analysis = %+v", analysis)
	}
}

func TestCookieIsForwarded(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("Cookie")
		w.Write([]byte(`{"status":"ok","csrf_token":"x"}`))
	}))
	defer srv.Close()

	c := backend.New(srv.URL, time.Second, zerolog.Nop(), backend.WithCookie("PHPSESSID=abc"))
	if _, err := c.CSRFToken(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cookie := <-got; cookie != "PHPSESSID=abc" {
		t.Errorf("Cookie = %q", cookie)
	}
}
