// Package prompt lets code running inside a worker ask a question whose
// answer arrives later from a remote client.
package prompt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/taskconsole/internal/metrics"
)

// ErrTimeout is returned by Ask when the asking worker went idle past its
// liveness threshold before an answer arrived.
var ErrTimeout = errors.New("prompt: no answer before idle timeout")

// DefaultRecheck is how often a waiting Ask re-evaluates the idle timeout.
const DefaultRecheck = time.Second

// Status is the outcome of a single TryAsk.
type Status int

const (
	NoAnswer Status = iota
	Answered
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Answered:
		return "answered"
	case TimedOut:
		return "timed_out"
	default:
		return "no_answer"
	}
}

// Target is the asking side of a prompt, normally a worker process.
type Target interface {
	ID() string
	// Emit shows the prompt text to the remote client.
	Emit(text string)
	// Expired reports whether the target idled past its current threshold.
	Expired() bool
	// Kill marks the target not alive and stops it.
	Kill()
}

type slot struct {
	owner Target
	value string
	set   bool
	ready chan struct{} // closed once value is set
}

type Options struct {
	Recheck time.Duration
	Logger  *slog.Logger
}

// Bridge holds at most one pending answer slot per process id.
type Bridge struct {
	mu      sync.Mutex
	slots   map[string]*slot
	recheck time.Duration
	logger  *slog.Logger
}

func NewBridge(opts Options) *Bridge {
	b := &Bridge{
		slots:   make(map[string]*slot),
		recheck: opts.Recheck,
		logger:  opts.Logger,
	}
	if b.recheck <= 0 {
		b.recheck = DefaultRecheck
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "prompt")
	return b
}

// TryAsk is the non-blocking step of a prompt. The first call for an id
// opens a slot and emits text; later calls return the answer once submitted,
// or time out when the target has expired.
func (b *Bridge) TryAsk(t Target, text string) (string, Status) {
	id := t.ID()
	b.mu.Lock()
	s, ok := b.slots[id]
	switch {
	case !ok || s.owner != t:
		b.slots[id] = &slot{owner: t, ready: make(chan struct{})}
		metrics.SetPromptsPending(len(b.slots))
		b.mu.Unlock()
		t.Emit(text)
		return "", NoAnswer
	case s.set:
		delete(b.slots, id)
		metrics.SetPromptsPending(len(b.slots))
		b.mu.Unlock()
		return s.value, Answered
	case t.Expired():
		delete(b.slots, id)
		metrics.SetPromptsPending(len(b.slots))
		b.mu.Unlock()
		t.Kill()
		metrics.IncPromptTimeout()
		b.logger.Warn("Prompt timed out", "process_id", id)
		return "", TimedOut
	}
	b.mu.Unlock()
	return "", NoAnswer
}

// Ask blocks until the prompt is answered, times out, or ctx is done. It
// wakes immediately on Submit and re-checks the timeout every recheck
// interval.
func (b *Bridge) Ask(ctx context.Context, t Target, text string) (string, error) {
	timer := time.NewTimer(b.recheck)
	defer timer.Stop()
	for {
		v, st := b.TryAsk(t, text)
		switch st {
		case Answered:
			return v, nil
		case TimedOut:
			return "", ErrTimeout
		}
		ready := b.readyChan(t)
		if ready == nil {
			continue
		}
		select {
		case <-ready:
		case <-timer.C:
			timer.Reset(b.recheck)
		case <-ctx.Done():
			b.Cancel(t)
			return "", ctx.Err()
		}
	}
}

func (b *Bridge) readyChan(t Target) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.slots[t.ID()]; ok && s.owner == t {
		return s.ready
	}
	return nil
}

// Submit stores value for a pending prompt. It never opens a slot: with no
// pending prompt it does nothing and returns false. A second Submit before
// the answer is consumed replaces the first.
func (b *Bridge) Submit(id, value string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[id]
	if !ok {
		return false
	}
	s.value = value
	if !s.set {
		s.set = true
		close(s.ready)
	}
	return true
}

// Pending reports whether a prompt for id is waiting for an answer.
func (b *Bridge) Pending(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[id]
	return ok && !s.set
}

// Cancel drops the slot t opened, if it still holds one. A slot opened
// under the same id by another target is left alone.
func (b *Bridge) Cancel(t Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.slots[t.ID()]; ok && s.owner == t {
		delete(b.slots, t.ID())
		metrics.SetPromptsPending(len(b.slots))
	}
}

func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}
