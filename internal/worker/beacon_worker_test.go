package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/backend"
	"github.com/stemsi/exstem-proctor/internal/backend/backendtest"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

type fixture struct {
	srv   *backendtest.Server
	queue *repository.BeaconRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	srv.AddExam("42", &backendtest.Exam{
		Title:           "Physics",
		DurationMinutes: 10,
		Questions:       []model.Question{{ID: 1, Text: "g?", Options: []string{"9.8", "10"}}},
	})
	srv.SetStatus("42", model.AttemptInProgress)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return &fixture{srv: srv, queue: repository.NewBeaconRepository(rdb)}
}

func (f *fixture) worker(submit Submitter) *BeaconWorker {
	if submit == nil {
		submit = BackendSubmitter(f.srv.URL, 5*time.Second, zerolog.Nop())
	}
	w := NewBeaconWorker(f.queue, submit, zerolog.Nop())
	w.RetryDelay = 0
	return w
}

func job() proctor.BeaconJob {
	return proctor.BeaconJob{
		ExamID:   "42",
		UserID:   7,
		CSRF:     backendtest.CSRFToken,
		Progress: backend.Progress{ExamID: "42", Answers: model.AnswerMap{1: 0}},
	}
}

func (f *fixture) queued(t *testing.T) int64 {
	t.Helper()
	n, err := f.queue.Len(context.Background())
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	return n
}

func TestBeaconWorkerDelivers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.queue.Push(ctx, repository.QueuedBeacon{Job: job()})

	f.worker(nil).processNext(ctx)

	a := f.srv.Attempt("42")
	if a.Status != model.AttemptCompleted || a.Completions != 1 || a.Answers[1] != 0 {
		t.Errorf("attempt = %+v", a)
	}
	if f.queued(t) != 0 {
		t.Error("delivered job left in queue")
	}
}

func TestBeaconWorkerRequeuesTransientFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.srv.FailSubmits = 1
	f.queue.Push(ctx, repository.QueuedBeacon{Job: job()})
	w := f.worker(nil)

	w.processNext(ctx)
	if f.queued(t) != 1 {
		t.Fatalf("failed job not requeued")
	}
	q, _ := f.queue.TryPop(ctx)
	if q.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", q.Attempts)
	}
	f.queue.Push(ctx, *q)

	w.processNext(ctx)
	if a := f.srv.Attempt("42"); a.Submits != 2 || a.Completions != 1 {
		t.Errorf("submits = %d completions = %d", a.Submits, a.Completions)
	}
}

func TestBeaconWorkerDropsJobs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		max      int
		rounds   int
		wantCall int
	}{
		{"permanent error", &backend.APIError{Status: 403, Message: "invalid csrf"}, 5, 1, 1},
		{"missing csrf", backend.ErrNoCSRF, 5, 1, 1},
		{"attempts exhausted", &backend.APIError{Status: 503}, 3, 3, 3},
		{"transport errors exhausted", errors.New("connection refused"), 2, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			calls := 0
			w := f.worker(func(context.Context, *repository.QueuedBeacon) error {
				calls++
				return tt.err
			})
			w.MaxAttempts = tt.max

			f.queue.Push(ctx, repository.QueuedBeacon{Job: job()})
			for i := 0; i < tt.rounds; i++ {
				w.processNext(ctx)
			}

			if calls != tt.wantCall {
				t.Errorf("calls = %d, want %d", calls, tt.wantCall)
			}
			if f.queued(t) != 0 {
				t.Error("job still queued")
			}
		})
	}
}

func TestBeaconWorkerDrainsOnShutdown(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.queue.Push(ctx, repository.QueuedBeacon{Job: job()})
	f.queue.Push(ctx, repository.QueuedBeacon{Job: job()})

	calls := 0
	w := f.worker(func(context.Context, *repository.QueuedBeacon) error {
		calls++
		return nil
	})
	cancel()
	w.Start(ctx)

	if calls != 2 || f.queued(t) != 0 {
		t.Errorf("calls = %d queued = %d after shutdown", calls, f.queued(t))
	}
}

func TestQueueBeaconEnqueues(t *testing.T) {
	f := newFixture(t)
	b := NewQueueBeacon(f.queue, zerolog.Nop())

	b.Send(job())
	b.Wait()

	q, err := f.queue.TryPop(context.Background())
	if err != nil || q == nil {
		t.Fatalf("TryPop = %v, %v", q, err)
	}
	if q.Attempts != 0 || q.Job.UserID != 7 {
		t.Errorf("queued = %+v", q)
	}
}

func TestDirectBeaconSubmits(t *testing.T) {
	f := newFixture(t)
	b := NewDirectBeacon(BackendSubmitter(f.srv.URL, 5*time.Second, zerolog.Nop()), zerolog.Nop())

	b.Send(job())
	b.Wait()

	if a := f.srv.Attempt("42"); a.Completions != 1 {
		t.Errorf("completions = %d", a.Completions)
	}
}
