package proctor

import (
	"context"
	"sync"
	"time"
)

// TabStore is the coordination store behind the single-active-tab guard. It
// carries an advisory signal, not a lock: each key holds the token of the tab
// that last claimed it and a beat timestamp any holder may refresh.
type TabStore interface {
	// Claim writes token as the holder of key unless a different token's
	// beat is fresher than freshness at now. It returns the current holder
	// and whether the claim succeeded.
	Claim(ctx context.Context, key, token string, now time.Time, freshness time.Duration) (holder string, ok bool, err error)
	// Beat refreshes the beat timestamp of key.
	Beat(ctx context.Context, key string, now time.Time) error
	// Holder reads the current token and beat. found is false for a missing
	// key.
	Holder(ctx context.Context, key string) (token string, beat time.Time, found bool, err error)
	// Release deletes key if token still holds it.
	Release(ctx context.Context, key, token string) error
}

// ─── In-memory store ────────────────────────────────────────────────

type tabEntry struct {
	token string
	beat  time.Time
}

// MemoryTabStore is a process-local TabStore.
type MemoryTabStore struct {
	mu      sync.Mutex
	entries map[string]tabEntry
}

// NewMemoryTabStore creates an empty MemoryTabStore.
func NewMemoryTabStore() *MemoryTabStore {
	return &MemoryTabStore{entries: make(map[string]tabEntry)}
}

func (m *MemoryTabStore) Claim(_ context.Context, key, token string, now time.Time, freshness time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && e.token != token && now.Sub(e.beat) < freshness {
		return e.token, false, nil
	}
	m.entries[key] = tabEntry{token: token, beat: now}
	return token, true, nil
}

func (m *MemoryTabStore) Beat(_ context.Context, key string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		e.beat = now
		m.entries[key] = e
	}
	return nil
}

func (m *MemoryTabStore) Holder(_ context.Context, key string) (string, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	return e.token, e.beat, ok, nil
}

func (m *MemoryTabStore) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && e.token == token {
		delete(m.entries, key)
	}
	return nil
}

// ─── Guard ──────────────────────────────────────────────────────────

const releaseTimeout = 2 * time.Second

// tabGuard keeps one session's claim alive and watches for a competing tab.
// It runs on the session loop; store calls go off-loop.
type tabGuard struct {
	s     *Session
	store TabStore
	key   string
	token string

	armed      bool
	cancelBeat func()
	cancelScan func()
}

func newTabGuard(s *Session, store TabStore, key, token string) *tabGuard {
	return &tabGuard{s: s, store: store, key: key, token: token}
}

// arm claims the key and starts the beat and check cycles. onLost is called
// on the loop when another tab holds a fresh claim.
func (g *tabGuard) arm(onLost func()) {
	if g.armed {
		return
	}
	g.armed = true

	cfg := g.s.cfg
	now := g.s.clock.Now()
	g.s.exec.Go(func(ctx context.Context) func() {
		holder, ok, err := g.store.Claim(ctx, g.key, g.token, now, cfg.TabFreshness)
		return func() {
			if err != nil {
				g.s.log.Warn().Err(err).Msg("Tab claim failed")
				return
			}
			if !ok && g.armed {
				g.s.log.Warn().Str("holder", holder).Msg("Attempt already open in another tab")
				onLost()
			}
		}
	})

	g.cancelBeat = g.s.sched.Every(cfg.TabBeatInterval, func(now time.Time) {
		g.s.exec.Go(func(ctx context.Context) func() {
			if err := g.store.Beat(ctx, g.key, now); err != nil {
				g.s.log.Debug().Err(err).Msg("Tab beat failed")
			}
			return nil
		})
	})

	g.cancelScan = g.s.sched.Every(cfg.TabCheckInterval, func(now time.Time) {
		g.s.exec.Go(func(ctx context.Context) func() {
			token, beat, found, err := g.store.Holder(ctx, g.key)
			return func() {
				if err != nil || !found || !g.armed {
					return
				}
				if token != "" && token != g.token && now.Sub(beat) < cfg.TabFreshness {
					g.s.log.Warn().Str("holder", token).Msg("Another tab took over the attempt")
					onLost()
				}
			}
		})
	})
}

// disarm stops the cycles. When release is set the claim is dropped if this
// session still holds it.
func (g *tabGuard) disarm(release bool) {
	if !g.armed {
		return
	}
	g.armed = false
	g.cancelBeat()
	g.cancelScan()

	if !release {
		return
	}
	store, key, token := g.store, g.key, g.token
	g.s.exec.Go(func(ctx context.Context) func() {
		// The loop may be shutting down; the release should still land.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := store.Release(ctx, key, token); err != nil {
			g.s.log.Debug().Err(err).Msg("Tab release failed")
		}
		return nil
	})
}
