package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// SendTimeout bounds a beacon's single network call. Beacons run detached
// from the session that fired them, which is already gone.
const SendTimeout = 10 * time.Second

// QueueBeacon hands final submissions of sessions that went away to the
// BeaconWorker through Redis so they survive an agent restart.
type QueueBeacon struct {
	queue *repository.BeaconRepository
	log   zerolog.Logger
	wg    sync.WaitGroup
}

// NewQueueBeacon creates a new QueueBeacon.
func NewQueueBeacon(queue *repository.BeaconRepository, log zerolog.Logger) *QueueBeacon {
	return &QueueBeacon{queue: queue, log: log.With().Str("component", "queue_beacon").Logger()}
}

// Send enqueues the job without blocking the caller.
func (b *QueueBeacon) Send(job proctor.BeaconJob) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
		defer cancel()
		if err := b.queue.Push(ctx, repository.QueuedBeacon{Job: job}); err != nil {
			b.log.Error().Err(err).Str("exam_id", job.ExamID).Int("user_id", job.UserID).Msg("Beacon enqueue failed")
		}
	}()
}

// Wait blocks until every pending Send has finished.
func (b *QueueBeacon) Wait() { b.wg.Wait() }

// DirectBeacon submits immediately, once, with no retry. It is the
// fallback when no Redis is configured.
type DirectBeacon struct {
	submit Submitter
	log    zerolog.Logger
	wg     sync.WaitGroup
}

// NewDirectBeacon creates a new DirectBeacon.
func NewDirectBeacon(submit Submitter, log zerolog.Logger) *DirectBeacon {
	return &DirectBeacon{submit: submit, log: log.With().Str("component", "direct_beacon").Logger()}
}

// Send submits the job in the background.
func (b *DirectBeacon) Send(job proctor.BeaconJob) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
		defer cancel()
		log := b.log.With().Str("exam_id", job.ExamID).Int("user_id", job.UserID).Logger()
		if err := b.submit(ctx, &repository.QueuedBeacon{Job: job}); err != nil {
			log.Warn().Err(err).Msg("Beacon submission failed")
			return
		}
		log.Info().Msg("Beacon submission delivered")
	}()
}

// Wait blocks until every pending Send has finished.
func (b *DirectBeacon) Wait() { b.wg.Wait() }
