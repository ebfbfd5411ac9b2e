package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/backend"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

const (
	PollTimeout        = 1 * time.Second // Must be >= 1s to satisfy Redis
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 5 * time.Second
	drainTimeout       = 10 * time.Second
)

// Submitter delivers one queued submission to the backend.
type Submitter func(ctx context.Context, q *repository.QueuedBeacon) error

// BackendSubmitter submits as the departed user by replaying their cookie
// and CSRF token against the backend at baseURL.
func BackendSubmitter(baseURL string, timeout time.Duration, log zerolog.Logger) Submitter {
	return func(ctx context.Context, q *repository.QueuedBeacon) error {
		client := backend.New(baseURL, timeout, log, backend.WithCookie(q.Job.Cookie))
		return client.SubmitExam(ctx, q.Job.CSRF, q.Job.Progress)
	}
}

// BeaconWorker consumes the unload submit queue and delivers each job to
// the backend, requeueing transient failures.
type BeaconWorker struct {
	queue  *repository.BeaconRepository
	submit Submitter
	log    zerolog.Logger

	MaxAttempts int
	RetryDelay  time.Duration
}

// NewBeaconWorker creates a new BeaconWorker.
func NewBeaconWorker(queue *repository.BeaconRepository, submit Submitter, log zerolog.Logger) *BeaconWorker {
	return &BeaconWorker{
		queue:       queue,
		submit:      submit,
		log:         log.With().Str("component", "beacon_worker").Logger(),
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *BeaconWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *BeaconWorker) processNext(ctx context.Context) {
	q, err := w.queue.Pop(ctx, PollTimeout)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if q == nil {
		return
	}

	if err := w.deliver(ctx, q); err != nil {
		select {
		case <-ctx.Done():
		case <-time.After(w.RetryDelay):
		}
	}
}

// deliver submits one job and requeues it when the failure may be
// transient. The returned error is the submit error, if any.
func (w *BeaconWorker) deliver(ctx context.Context, q *repository.QueuedBeacon) error {
	log := w.log.With().
		Str("exam_id", q.Job.ExamID).
		Int("user_id", q.Job.UserID).
		Int("attempt", q.Attempts+1).
		Logger()

	err := w.submit(ctx, q)
	if err == nil {
		log.Info().Msg("Unload submission delivered")
		return nil
	}

	q.Attempts++
	if !retryable(err) || q.Attempts >= w.MaxAttempts {
		log.Error().Err(err).Msg("Unload submission dropped")
		return err
	}

	log.Warn().Err(err).Dur("retry_in", w.RetryDelay).Msg("Unload submission failed, requeueing")
	// Push back to queue for retry.
	if pushErr := w.queue.Push(context.WithoutCancel(ctx), *q); pushErr != nil {
		log.Error().Err(pushErr).Msg("Requeue failed, submission lost")
	}
	return err
}

// drain processes all remaining items in the queue before shutdown.
func (w *BeaconWorker) drain(ctx context.Context) {
	drained := 0
	for ctx.Err() == nil {
		q, err := w.queue.TryPop(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("Drain pop error")
			break
		}
		if q == nil {
			break
		}
		if err := w.deliver(ctx, q); err != nil {
			// Whatever was requeued waits for the next agent.
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

func retryable(err error) bool {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, backend.ErrNoCSRF)
}
