// Package schedtest provides a virtual clock and a manually driven loop so
// session behavior can be tested tick by tick.
package schedtest

import (
	"context"
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/sched"
)

// Clock is a virtual clock that only moves when told to.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Loop is a synchronous sched.Executor. Posted callbacks run immediately
// (queued if a callback is already running); Go tasks wait until Flush.
type Loop struct {
	queue    []func()
	draining bool
	tasks    []func(ctx context.Context) func()
}

// NewLoop creates an empty Loop.
func NewLoop() *Loop {
	return &Loop{}
}

func (l *Loop) Post(fn func()) {
	l.queue = append(l.queue, fn)
	if l.draining {
		return
	}
	l.draining = true
	for len(l.queue) > 0 {
		next := l.queue[0]
		l.queue = l.queue[1:]
		next()
	}
	l.draining = false
}

func (l *Loop) Go(task func(ctx context.Context) func()) {
	l.tasks = append(l.tasks, task)
}

// Pending reports how many Go tasks have not run yet.
func (l *Loop) Pending() int {
	return len(l.tasks)
}

// RunNext runs the oldest pending task and applies its continuation. It
// reports false when nothing was pending.
func (l *Loop) RunNext() bool {
	if len(l.tasks) == 0 {
		return false
	}
	task := l.tasks[0]
	l.tasks = l.tasks[1:]
	if cont := task(context.Background()); cont != nil {
		l.Post(cont)
	}
	return true
}

// Flush runs pending tasks, including ones they spawn, until none remain.
func (l *Loop) Flush() {
	for l.RunNext() {
	}
}

// Drop discards pending tasks without running them, as if their responses
// never arrived.
func (l *Loop) Drop() {
	l.tasks = nil
}

// Step advances clock by one scheduler resolution and ticks s, n times.
func Step(c *Clock, s *sched.Scheduler, n int) {
	for i := 0; i < n; i++ {
		c.Advance(sched.Resolution)
		s.Tick()
	}
}
