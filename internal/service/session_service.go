package service

import (
	"context"
	"sort"
	"sync"

	"github.com/stemsi/exstem-proctor/internal/auth"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/sched"
)

// StudentSnapshot is what a proctor sees of one live attempt.
type StudentSnapshot struct {
	UserID       int           `json:"user_id"`
	Name         string        `json:"name"`
	Tab          string        `json:"tab"`
	Phase        proctor.Phase `json:"phase"`
	TimeLeft     int           `json:"time_left"`
	Answered     int           `json:"answered_count"`
	Total        int           `json:"total_questions"`
	ExitAttempts int           `json:"exit_attempts"`
	Monitor      string        `json:"monitor"`
	Submission   string        `json:"submission"`
	Online       bool          `json:"online"`
	Actions      int           `json:"action_count"`
}

type liveSession struct {
	identity auth.Identity
	tab      string
	session  *proctor.Session
	exec     sched.Executor
}

// SessionService tracks the sessions this agent is running, grouped by exam.
type SessionService struct {
	mu       sync.Mutex
	sessions map[string]map[string]*liveSession // exam_id → tab → session
}

// NewSessionService creates a new SessionService.
func NewSessionService() *SessionService {
	return &SessionService{sessions: make(map[string]map[string]*liveSession)}
}

// Register adds a running session. Call the returned func when it closes.
func (s *SessionService) Register(examID, tab string, id auth.Identity, session *proctor.Session, exec sched.Executor) (unregister func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTab, ok := s.sessions[examID]
	if !ok {
		byTab = make(map[string]*liveSession)
		s.sessions[examID] = byTab
	}
	byTab[tab] = &liveSession{identity: id, tab: tab, session: session, exec: exec}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(byTab, tab)
		if len(byTab) == 0 {
			delete(s.sessions, examID)
		}
	}
}

// Count returns the number of live sessions for an exam.
func (s *SessionService) Count(examID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions[examID])
}

// Snapshots reads every live session of an exam. Each read runs on the
// session's own loop; sessions that do not answer before ctx is done are
// left out.
func (s *SessionService) Snapshots(ctx context.Context, examID string) []StudentSnapshot {
	s.mu.Lock()
	live := make([]*liveSession, 0, len(s.sessions[examID]))
	for _, ls := range s.sessions[examID] {
		live = append(live, ls)
	}
	s.mu.Unlock()

	results := make(chan StudentSnapshot, len(live))
	for _, ls := range live {
		ls.exec.Post(func() {
			snap := ls.session.Snapshot()
			results <- StudentSnapshot{
				UserID:       ls.identity.UserID,
				Name:         ls.identity.Name,
				Tab:          ls.tab,
				Phase:        snap.Phase,
				TimeLeft:     snap.TimeLeft,
				Answered:     len(snap.Answers),
				Total:        len(snap.Questions),
				ExitAttempts: snap.ExitAttempts,
				Monitor:      snap.Monitor,
				Submission:   snap.Submission,
				Online:       snap.Online,
				Actions:      len(ls.session.Actions()),
			}
		})
	}

	out := make([]StudentSnapshot, 0, len(live))
	for range live {
		select {
		case snap := <-results:
			out = append(out, snap)
		case <-ctx.Done():
			sortSnapshots(out)
			return out
		}
	}
	sortSnapshots(out)
	return out
}

// CloseAll closes every live session on its own loop, handing running
// attempts to the beacon. It returns how many sessions confirmed before ctx
// was done.
func (s *SessionService) CloseAll(ctx context.Context) int {
	s.mu.Lock()
	var live []*liveSession
	for _, byTab := range s.sessions {
		for _, ls := range byTab {
			live = append(live, ls)
		}
	}
	s.mu.Unlock()

	closed := make(chan struct{}, len(live))
	for _, ls := range live {
		ls.exec.Post(func() {
			ls.session.Close()
			closed <- struct{}{}
		})
	}

	n := 0
	for range live {
		select {
		case <-closed:
			n++
		case <-ctx.Done():
			return n
		}
	}
	return n
}

func sortSnapshots(out []StudentSnapshot) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Tab < out[j].Tab
	})
}
