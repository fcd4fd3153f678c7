package worker

import "time"

const (
	DefaultRunningTimeout = 24 * time.Hour
	DefaultIdleTimeout    = 5 * time.Minute
)

// Policy decides how long a process may go without a heartbeat before it
// is reclaimed. Running processes get RunningTimeout, every other state
// gets IdleTimeout.
type Policy struct {
	RunningTimeout time.Duration
	IdleTimeout    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{RunningTimeout: DefaultRunningTimeout, IdleTimeout: DefaultIdleTimeout}
}

func (p Policy) Threshold(s State) time.Duration {
	if s == StateRunning {
		if p.RunningTimeout <= 0 {
			return DefaultRunningTimeout
		}
		return p.RunningTimeout
	}
	if p.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return p.IdleTimeout
}

// Expired reports whether idle strictly exceeds the threshold for s.
func (p Policy) Expired(s State, idle time.Duration) bool {
	return idle > p.Threshold(s)
}
