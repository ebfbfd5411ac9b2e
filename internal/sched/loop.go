package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Executor is what a session needs from its event loop: a way to run a
// callback on the loop goroutine, and a way to run blocking work off it whose
// continuation comes back to the loop.
type Executor interface {
	Post(fn func())
	Go(task func(ctx context.Context) func())
}

// Loop is a single-goroutine event loop. Everything posted to it, every
// continuation returned by Go tasks and every scheduler tick runs serially on
// the goroutine that called Run.
type Loop struct {
	sched *Scheduler
	log   zerolog.Logger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

// NewLoop creates a Loop whose scheduler reads time from clock.
func NewLoop(clock Clock, log zerolog.Logger) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		sched:  NewScheduler(clock),
		log:    log.With().Str("component", "event_loop").Logger(),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Scheduler returns the loop's scheduler. Only touch it from the loop.
func (l *Loop) Scheduler() *Scheduler {
	return l.sched
}

// Post queues fn for the loop goroutine. Posting to a stopped loop is a no-op.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Go runs task on its own goroutine with a context that is cancelled when the
// loop stops. A non-nil continuation is posted back to the loop.
func (l *Loop) Go(task func(ctx context.Context) func()) {
	l.tasks.Add(1)
	go func() {
		defer l.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				l.log.Error().Interface("panic", r).Msg("Task panicked")
			}
		}()
		if cont := task(l.ctx); cont != nil {
			l.Post(cont)
		}
	}()
}

// Run processes posted callbacks and scheduler ticks until ctx is done. It
// stops the scheduler, cancels in-flight tasks and waits for them to return.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(Resolution)
	defer ticker.Stop()

	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()

		l.sched.Stop()
		l.cancel()
		l.tasks.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			l.drain()
			return
		case <-ticker.C:
			l.sched.Tick()
		case <-l.wake:
			l.drain()
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
	}
}
