package sched

import "time"

// Clock abstracts wall-clock reads so sessions can run on virtual time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Resolution is the scheduler tick.
const Resolution = time.Second

type job struct {
	period    int
	remaining int
	fn        func(now time.Time)
	cancelled bool
}

// Scheduler multiplexes every periodic job of a session onto one tick per
// second. It is not safe for concurrent use; drive it from a single loop.
type Scheduler struct {
	clock Clock
	jobs  []*job
}

// NewScheduler creates a Scheduler reading time from clock.
func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Every registers fn to run every period, rounded up to whole ticks. The first
// run happens period after registration. The returned func cancels the job;
// it is safe to call more than once and from inside fn.
func (s *Scheduler) Every(period time.Duration, fn func(now time.Time)) (cancel func()) {
	ticks := int((period + Resolution - 1) / Resolution)
	if ticks < 1 {
		ticks = 1
	}
	j := &job{period: ticks, remaining: ticks, fn: fn}
	s.jobs = append(s.jobs, j)
	return func() { s.remove(j) }
}

func (s *Scheduler) remove(j *job) {
	if j.cancelled {
		return
	}
	j.cancelled = true
	for i, cur := range s.jobs {
		if cur == j {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return
		}
	}
}

// Tick advances every job by one tick and runs the ones that are due, in
// registration order. Jobs registered during a tick start counting on the
// next one.
func (s *Scheduler) Tick() {
	if len(s.jobs) == 0 {
		return
	}
	now := s.clock.Now()
	due := make([]*job, len(s.jobs))
	copy(due, s.jobs)

	for _, j := range due {
		if j.cancelled {
			continue
		}
		j.remaining--
		if j.remaining > 0 {
			continue
		}
		j.remaining = j.period
		j.fn(now)
	}
}

// Len reports the number of live jobs.
func (s *Scheduler) Len() int {
	return len(s.jobs)
}

// Stop cancels every job.
func (s *Scheduler) Stop() {
	for _, j := range s.jobs {
		j.cancelled = true
	}
	s.jobs = nil
}
