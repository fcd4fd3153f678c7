package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/taskconsole/internal/capture"
	"github.com/loykin/taskconsole/internal/metrics"
	"github.com/loykin/taskconsole/internal/prompt"
)

// Status is a point-in-time snapshot of a process.
type Status struct {
	ID            string    `json:"id"`
	ExternalKey   string    `json:"external_key,omitempty"`
	State         State     `json:"state"`
	Alive         bool      `json:"alive"`
	CreatedAt     time.Time `json:"created_at"`
	LastRefreshAt time.Time `json:"last_refresh_at"`
	Error         string    `json:"error,omitempty"`
}

type Options struct {
	ID          string
	ExternalKey string
	Capture     *capture.Capture
	Policy      Policy
	Now         func() time.Time
	Logger      *slog.Logger
	// OnTransition runs after every state change, outside the process lock.
	OnTransition func(p *Process, from, to State)
}

// Process is one task execution: a state machine, its output capture and
// the liveness data the reaper looks at.
type Process struct {
	id           string
	key          string
	createdAt    time.Time
	capture      *capture.Capture
	policy       Policy
	now          func() time.Time
	logger       *slog.Logger
	onTransition func(*Process, State, State)

	mu          sync.RWMutex
	state       State
	lastRefresh time.Time
	alive       bool
	lastErr     error

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

func New(opts Options) *Process {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := opts.Capture
	if c == nil {
		c = capture.New(capture.Options{Mode: capture.Remote, Logger: logger})
	}
	ctx, cancel := context.WithCancel(context.Background())
	created := now()
	return &Process{
		id:           opts.ID,
		key:          opts.ExternalKey,
		createdAt:    created,
		capture:      c,
		policy:       opts.Policy,
		now:          now,
		logger:       logger.With("process_id", opts.ID),
		onTransition: opts.OnTransition,
		state:        StateInit,
		lastRefresh:  created,
		alive:        true,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

func (p *Process) ID() string                { return p.id }
func (p *Process) ExternalKey() string       { return p.key }
func (p *Process) CreatedAt() time.Time      { return p.createdAt }
func (p *Process) Capture() *capture.Capture { return p.capture }

// Done is closed when the worker goroutine has returned.
func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Process) Alive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.alive
}

func (p *Process) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Heartbeat resets the idle clock.
func (p *Process) Heartbeat() {
	t := p.now()
	p.mu.Lock()
	p.lastRefresh = t
	p.mu.Unlock()
}

func (p *Process) LastRefresh() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRefresh
}

// ExpiredAt reports whether, at now, the process has idled past the
// threshold for its current state.
func (p *Process) ExpiredAt(now time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.policy.Expired(p.state, now.Sub(p.lastRefresh))
}

func (p *Process) Expired() bool { return p.ExpiredAt(p.now()) }

// Emit prints prompt text to the process output.
func (p *Process) Emit(text string) { p.capture.Print(text) }

// Kill marks the process not alive and cancels its context. alive never
// flips back.
func (p *Process) Kill() {
	p.mu.Lock()
	was := p.alive
	p.alive = false
	p.mu.Unlock()
	p.cancel()
	if was {
		p.logger.Info("Process killed")
	}
}

// Stop cancels the worker without touching liveness; used on shutdown.
func (p *Process) Stop() { p.cancel() }

func (p *Process) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Status{
		ID:            p.id,
		ExternalKey:   p.key,
		State:         p.state,
		Alive:         p.alive,
		CreatedAt:     p.createdAt,
		LastRefreshAt: p.lastRefresh,
	}
	if p.lastErr != nil {
		st.Error = p.lastErr.Error()
	}
	return st
}

func (p *Process) transition(to State) error {
	p.mu.Lock()
	from := p.state
	if !canTransition(from, to) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	p.state = to
	p.mu.Unlock()

	metrics.RecordStateTransition(from.String(), to.String())
	p.logger.Debug("State changed", "from", from.String(), "to", to.String())
	if p.onTransition != nil {
		p.onTransition(p, from, to)
	}
	return nil
}

// Run executes pl on the calling goroutine. It is meant to be started once
// in its own goroutine; later calls return immediately. Faults raised by the
// pipeline, panics included, end in StateFailed and never propagate.
func (p *Process) Run(pl Pipeline, asker Asker) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	defer close(p.done)
	if asker != nil {
		defer asker.Cancel(p)
	}
	defer func() { _ = p.capture.Close() }()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Pipeline panicked", "panic", r, "stack", string(debug.Stack()))
			p.fail(fmt.Errorf("panic: %v", r), "panic")
		}
	}()

	if err := p.transition(StateRunning); err != nil {
		p.logger.Warn("Process not started", "error", err)
		return
	}
	env := Env{
		ProcessID:   p.id,
		ExternalKey: p.key,
		Capture:     p.capture,
		Logger:      p.logger,
		Ask: func(ctx context.Context, text string) (string, error) {
			if asker == nil {
				return "", errors.New("no prompt handler attached")
			}
			return asker.Ask(ctx, p, text)
		},
	}
	if err := pl.Run(p.ctx, env); err != nil {
		p.fail(err, failureReason(err, p.Alive()))
		return
	}
	if err := p.transition(StateSuccess); err != nil {
		p.logger.Warn("Could not mark success", "error", err)
		return
	}
	p.logger.Info("Process finished")
}

func failureReason(err error, alive bool) string {
	switch {
	case errors.Is(err, prompt.ErrTimeout):
		return "prompt_timeout"
	case errors.Is(err, context.Canceled) && !alive:
		return "reaped"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case IsFatal(err):
		return "fatal"
	default:
		return "error"
	}
}

func (p *Process) fail(err error, reason string) {
	switch reason {
	case "prompt_timeout":
		p.logger.Warn("Process stopped waiting for input", "error", err)
		p.capture.Print("[yellow]No answer received in time, the task was stopped.[/]")
	case "reaped", "cancelled":
		p.logger.Info("Process cancelled", "reason", reason)
		p.capture.Print("[yellow]Task cancelled.[/]")
	default:
		p.logger.Error("Process failed", "reason", reason, "error", err)
		p.capture.Printf("[bold red]Task failed:[/] %s", capture.Escape(err.Error()))
	}
	metrics.IncFailure(reason)

	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	if terr := p.transition(StateFailed); terr != nil {
		p.logger.Warn("Could not mark failure", "error", terr)
	}
}
