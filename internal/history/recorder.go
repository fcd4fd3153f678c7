package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 5 * time.Second
)

// Recorder fans events out to its sinks from a single background goroutine
// so callers holding locks never wait on a backend. Events are dropped, with
// a warning, when the queue is full.
type Recorder struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sinks:   sinks,
		logger:  logger.With("component", "history"),
		timeout: defaultSendTimeout,
		queue:   make(chan Event, defaultQueueSize),
		done:    make(chan struct{}),
	}
	if len(sinks) == 0 {
		close(r.done)
		return r
	}
	go r.run()
	return r
}

// Record enqueues e. It is safe to call on a nil Recorder.
func (r *Recorder) Record(e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("History queue full, dropping event", "type", e.Type, "process_id", e.Record.ProcessID)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := s.Send(ctx, e); err != nil {
				r.logger.Warn("History sink failed", "type", e.Type, "process_id", e.Record.ProcessID, "error", err)
			}
			cancel()
		}
	}
}

// Close drains queued events and closes every sink that is an io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done

	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
