package proctor

import (
	"context"
	"time"
)

// autosave pushes the in-progress answers and action log on a fixed
// interval. It is best-effort: failures are logged and the next tick sends
// fresher state.
type autosave struct {
	s *Session

	inFlight bool
	cancel   func()

	saves    int
	failures int
}

func (a *autosave) start() {
	if a.cancel != nil {
		return
	}
	a.save()
	a.cancel = a.s.sched.Every(a.s.cfg.AutosaveInterval, func(time.Time) { a.save() })
}

func (a *autosave) stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	a.cancel = nil
}

func (a *autosave) save() {
	if a.inFlight {
		a.s.log.Debug().Msg("Autosave skipped, previous save still in flight")
		return
	}
	csrf := a.s.csrf
	if csrf == "" {
		return
	}

	a.inFlight = true
	p := a.s.progress(false)
	b := a.s.backend
	a.s.run(func(ctx context.Context) func() {
		err := b.SaveProgress(ctx, csrf, p)
		return func() {
			a.inFlight = false
			if err != nil {
				a.failures++
				a.s.log.Warn().Err(err).Msg("Autosave failed")
				return
			}
			a.saves++
		}
	})
}
