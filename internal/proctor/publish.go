package proctor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/actionlog"
)

const (
	publishBuffer  = 256
	publishTimeout = 2 * time.Second
)

// publishQueue streams one session's action records to a RecordPublisher
// from a single goroutine, so observers see them in log order.
type publishQueue struct {
	pub    RecordPublisher
	examID string
	userID int
	log    zerolog.Logger

	mu      sync.Mutex
	stopped bool
	records chan actionlog.Record
	done    chan struct{}
}

func newPublishQueue(pub RecordPublisher, examID string, userID int, log zerolog.Logger) *publishQueue {
	q := &publishQueue{
		pub:     pub,
		examID:  examID,
		userID:  userID,
		log:     log,
		records: make(chan actionlog.Record, publishBuffer),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// push queues r without blocking the session loop. Records are dropped
// while the publisher is this far behind.
func (q *publishQueue) push(r actionlog.Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	select {
	case q.records <- r:
	default:
		q.log.Warn().Str("kind", string(r.Kind)).Msg("Publish queue full, record dropped")
	}
}

// close stops accepting records. Queued records are still published.
func (q *publishQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	close(q.records)
}

func (q *publishQueue) run() {
	defer close(q.done)
	for r := range q.records {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := q.pub.Publish(ctx, q.examID, q.userID, r); err != nil {
			q.log.Debug().Err(err).Msg("Publish action failed")
		}
		cancel()
	}
}
