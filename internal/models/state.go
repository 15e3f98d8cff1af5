package models

import "strings"

// State is the lifecycle state of a replication task as last reported by the
// job-control API. The zero value means the state has never been observed.
type State string

const (
	StateReady    State = "ready"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// ParseState maps a raw job-control status onto a State. Statuses outside the
// known set are reported as not ok and must not be coerced.
func ParseState(raw string) (State, bool) {
	switch s := State(strings.ToLower(strings.TrimSpace(raw))); s {
	case StateReady, StateStarting, StateRunning, StateStopped, StateFailed:
		return s, true
	default:
		return "", false
	}
}

// Startable reports whether a new run may be issued from this state.
func (s State) Startable() bool {
	switch s {
	case StateReady, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	if s == "" {
		return "unobserved"
	}
	return string(s)
}
