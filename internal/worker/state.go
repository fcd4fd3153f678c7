package worker

import (
	"errors"
	"fmt"
)

// State is the lifecycle phase of a worker process. States only move forward:
// Init -> Running -> Success or Failed.
type State int

const (
	StateInit State = iota
	StateRunning
	StateSuccess
	StateFailed
)

var ErrIllegalTransition = errors.New("illegal state transition")

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the worker goroutine has finished.
func (s State) Terminal() bool { return s == StateSuccess || s == StateFailed }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "init":
		*s = StateInit
	case "running":
		*s = StateRunning
	case "success":
		*s = StateSuccess
	case "failed":
		*s = StateFailed
	default:
		return fmt.Errorf("unknown state %q", string(b))
	}
	return nil
}

func canTransition(from, to State) bool {
	switch from {
	case StateInit:
		return to == StateRunning
	case StateRunning:
		return to == StateSuccess || to == StateFailed
	default:
		return false
	}
}
