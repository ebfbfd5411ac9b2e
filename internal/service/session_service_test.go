package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/auth"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/sched"
	"github.com/stemsi/exstem-proctor/internal/sched/schedtest"
)

func newSession(loop sched.Executor, id auth.Identity) *proctor.Session {
	return proctor.New(proctor.Options{
		ExamID:    "42",
		Identity:  id,
		Notifier:  proctor.NotifierFunc(func(proctor.Notice) {}),
		Executor:  loop,
		Scheduler: sched.NewScheduler(sched.SystemClock{}),
		Config:    config.DefaultProctoring(),
		Logger:    zerolog.Nop(),
	})
}

func TestSessionServiceSnapshots(t *testing.T) {
	svc := NewSessionService()
	loop := schedtest.NewLoop()

	ana := auth.Identity{UserID: 9, Name: "Ana", Role: auth.RoleStudent}
	budi := auth.Identity{UserID: 3, Name: "Budi", Role: auth.RoleStudent}
	unregAna := svc.Register("42", "tab-a", ana, newSession(loop, ana), loop)
	svc.Register("42", "tab-b", budi, newSession(loop, budi), loop)
	svc.Register("43", "tab-c", budi, newSession(loop, budi), loop)

	if n := svc.Count("42"); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}

	snaps := svc.Snapshots(context.Background(), "42")
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	if snaps[0].UserID != 3 || snaps[1].UserID != 9 || snaps[1].Name != "Ana" {
		t.Errorf("snapshots not sorted by user: %+v", snaps)
	}
	if snaps[0].Phase != proctor.PhaseLoading || !snaps[0].Online {
		t.Errorf("snapshot = %+v", snaps[0])
	}

	unregAna()
	if n := svc.Count("42"); n != 1 {
		t.Errorf("Count after unregister = %d, want 1", n)
	}
}

// stalledLoop never runs what is posted to it.
type stalledLoop struct{}

func (stalledLoop) Post(func())                          {}
func (stalledLoop) Go(func(ctx context.Context) func()) {}

func TestSessionServiceSkipsStalledSessions(t *testing.T) {
	svc := NewSessionService()
	loop := schedtest.NewLoop()
	id := auth.Identity{UserID: 1}

	svc.Register("42", "ok", id, newSession(loop, id), loop)
	svc.Register("42", "stalled", id, newSession(stalledLoop{}, id), stalledLoop{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	snaps := svc.Snapshots(ctx, "42")

	if len(snaps) != 1 || snaps[0].Tab != "ok" {
		t.Errorf("snapshots = %+v, want only the responsive session", snaps)
	}
}

func TestSessionServiceCloseAll(t *testing.T) {
	svc := NewSessionService()
	loop := schedtest.NewLoop()
	id := auth.Identity{UserID: 1}

	first := newSession(loop, id)
	second := newSession(loop, id)
	svc.Register("42", "a", id, first, loop)
	svc.Register("43", "b", id, second, loop)
	svc.Register("43", "stalled", id, newSession(stalledLoop{}, id), stalledLoop{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if n := svc.CloseAll(ctx); n != 2 {
		t.Errorf("closed = %d, want 2", n)
	}

	for _, s := range []*proctor.Session{first, second} {
		if err := s.Submit(); !errors.Is(err, proctor.ErrSessionClosed) {
			t.Errorf("Submit after CloseAll err = %v", err)
		}
	}
}
