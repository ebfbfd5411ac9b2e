package model

// AttemptStatus is the server-side lifecycle of one user's attempt.
type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "not_started"
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptNotStarted, AttemptInProgress, AttemptCompleted:
		return true
	}
	return false
}

func (s AttemptStatus) rank() int {
	switch s {
	case AttemptInProgress:
		return 1
	case AttemptCompleted:
		return 2
	default:
		return 0
	}
}

// CanAdvanceTo reports whether moving from s to next keeps the status
// monotonic. Staying put is allowed.
func (s AttemptStatus) CanAdvanceTo(next AttemptStatus) bool {
	return next.rank() >= s.rank()
}

// AnswerMap maps question id to the selected option index. Keys are only
// ever added or overwritten.
type AnswerMap map[int]int

// Clone returns an independent copy.
func (a AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
