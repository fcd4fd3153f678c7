// Package manager keeps the registry of worker processes: it creates them,
// answers lookups from the serving layer and reaps the ones whose clients
// went silent.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/taskconsole/internal/capture"
	"github.com/loykin/taskconsole/internal/history"
	"github.com/loykin/taskconsole/internal/metrics"
	"github.com/loykin/taskconsole/internal/prompt"
	"github.com/loykin/taskconsole/internal/worker"
)

var (
	ErrExists    = errors.New("process already exists")
	ErrNotFound  = errors.New("process not found")
	ErrInvalidID = errors.New("invalid process id")
	ErrClosed    = errors.New("manager is shut down")
)

const DefaultReapInterval = 5 * time.Second

type Options struct {
	Pipelines      worker.PipelineFactory
	Bridge         *prompt.Bridge
	Policy         worker.Policy
	ReapInterval   time.Duration
	OutputCapacity int
	Now            func() time.Time
	Logger         *slog.Logger
	// ProcessLog opens the plain-text mirror for a process. nil disables mirrors.
	ProcessLog func(id string) io.WriteCloser
	History    *history.Recorder
	// Spawn starts a worker goroutine; defaults to "go run()".
	Spawn func(run func())
}

type entry struct {
	p   *worker.Process
	seq uint64
}

// Manager is the process registry. All methods are safe for concurrent use.
type Manager struct {
	pipelines  worker.PipelineFactory
	bridge     *prompt.Bridge
	policy     worker.Policy
	interval   time.Duration
	capacity   int
	now        func() time.Time
	logger     *slog.Logger
	processLog func(id string) io.WriteCloser
	history    *history.Recorder
	spawn      func(run func())

	mu       sync.RWMutex
	entries  map[string]*entry
	// ids removed from entries; never handed out again
	retired  map[string]struct{}
	seq      uint64
	closed   bool
	reapStop chan struct{}
	reapDone chan struct{}

	wg sync.WaitGroup
}

func New(opts Options) *Manager {
	m := &Manager{
		pipelines:  opts.Pipelines,
		bridge:     opts.Bridge,
		policy:     opts.Policy,
		interval:   opts.ReapInterval,
		capacity:   opts.OutputCapacity,
		now:        opts.Now,
		logger:     opts.Logger,
		processLog: opts.ProcessLog,
		history:    opts.History,
		spawn:      opts.Spawn,
		entries:    make(map[string]*entry),
		retired:    make(map[string]struct{}),
	}
	if m.pipelines == nil {
		m.pipelines = func(string, string) worker.Pipeline { return idlePipeline }
	}
	if m.bridge == nil {
		m.bridge = prompt.NewBridge(prompt.Options{Logger: opts.Logger})
	}
	if m.policy == (worker.Policy{}) {
		m.policy = worker.DefaultPolicy()
	}
	if m.interval <= 0 {
		m.interval = DefaultReapInterval
	}
	if m.capacity <= 0 {
		m.capacity = capture.DefaultCapacity
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "manager")
	if m.spawn == nil {
		m.spawn = func(run func()) { go run() }
	}
	return m
}

// idlePipeline waits for cancellation; used when no factory is configured.
var idlePipeline = worker.PipelineFunc(func(ctx context.Context, _ worker.Env) error {
	<-ctx.Done()
	return ctx.Err()
})

func (m *Manager) Bridge() *prompt.Bridge { return m.bridge }

// Create registers a new process and starts its worker without waiting
// for it.
func (m *Manager) Create(id, externalKey string) (*worker.Process, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(id, externalKey)
}

func (m *Manager) createLocked(id, key string) (*worker.Process, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if m.takenLocked(id) {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	p := m.newProcess(id, key)
	m.seq++
	m.entries[id] = &entry{p: p, seq: m.seq}
	metrics.IncCreated()
	metrics.SetRegistrySize(len(m.entries))

	m.logger.Info("Process created", "process_id", id, "external_key", key)
	m.record(history.EventCreated, p)

	pl := m.pipelines(id, key)
	m.wg.Add(1)
	m.spawn(func() {
		defer m.wg.Done()
		p.Run(pl, m.bridge)
	})
	return p, nil
}

// takenLocked reports whether id is registered or was registered before.
// A reaped worker may still be unwinding and owns its prompt slot and
// mirror under that id.
func (m *Manager) takenLocked(id string) bool {
	if _, ok := m.entries[id]; ok {
		return true
	}
	_, ok := m.retired[id]
	return ok
}

func (m *Manager) retireLocked(id string) {
	delete(m.entries, id)
	m.retired[id] = struct{}{}
}

func (m *Manager) newProcess(id, key string) *worker.Process {
	var mirror io.Writer
	if m.processLog != nil {
		if w := m.processLog(id); w != nil {
			mirror = w
		}
	}
	c := capture.New(capture.Options{
		Mode:     capture.Remote,
		Capacity: m.capacity,
		Mirror:   mirror,
		Logger:   m.logger,
	})
	return worker.New(worker.Options{
		ID:           id,
		ExternalKey:  key,
		Capture:      c,
		Policy:       m.policy,
		Now:          m.now,
		Logger:       m.logger,
		OnTransition: m.onTransition,
	})
}

func (m *Manager) onTransition(p *worker.Process, _, to worker.State) {
	switch to {
	case worker.StateRunning:
		m.record(history.EventRunning, p)
	case worker.StateSuccess:
		m.record(history.EventSucceeded, p)
	case worker.StateFailed:
		m.record(history.EventFailed, p)
	}
}

func (m *Manager) record(t history.EventType, p *worker.Process) {
	if m.history == nil {
		return
	}
	st := p.Status()
	m.history.Record(history.Event{
		Type:       t,
		OccurredAt: m.now(),
		Record: history.Record{
			ProcessID:     st.ID,
			ExternalKey:   st.ExternalKey,
			State:         st.State.String(),
			Alive:         st.Alive,
			CreatedAt:     st.CreatedAt,
			LastRefreshAt: st.LastRefreshAt,
			Error:         st.Error,
		},
	})
}

func (m *Manager) Get(id string) (*worker.Process, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	return e.p, true
}

// LookupByKey returns the id of the oldest alive process created with key.
func (m *Manager) LookupByKey(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupLocked(key)
}

func (m *Manager) lookupLocked(key string) (string, bool) {
	var best *entry
	for _, e := range m.entries {
		if e.p.ExternalKey() != key || !e.p.Alive() {
			continue
		}
		if best == nil || e.seq < best.seq {
			best = e
		}
	}
	if best == nil {
		return "", false
	}
	return best.p.ID(), true
}

// CreateOrGet returns the live process for key, creating one with a fresh
// id when there is none. An empty key always creates.
func (m *Manager) CreateOrGet(key string) (id string, created bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key != "" {
		if id, ok := m.lookupLocked(key); ok {
			return id, false, nil
		}
	}
	id = newID()
	for m.takenLocked(id) {
		id = newID()
	}
	if _, err := m.createLocked(id, key); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Remove drops id from the registry without touching the worker. The id
// cannot be created again.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return false
	}
	m.retireLocked(id)
	metrics.SetRegistrySize(len(m.entries))
	return true
}

func (m *Manager) lookup(id string) (*worker.Process, error) {
	p, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

func (m *Manager) Heartbeat(id string) error {
	p, err := m.lookup(id)
	if err != nil {
		return err
	}
	p.Heartbeat()
	return nil
}

// Submit delivers an answer to the process's pending prompt. It reports
// false when the process is not waiting for one.
func (m *Manager) Submit(id, value string) (bool, error) {
	if _, err := m.lookup(id); err != nil {
		return false, err
	}
	return m.bridge.Submit(id, value), nil
}

func (m *Manager) Status(id string) (worker.Status, error) {
	p, err := m.lookup(id)
	if err != nil {
		return worker.Status{}, err
	}
	return p.Status(), nil
}

func (m *Manager) Output(id string) (string, error) {
	p, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	return p.Capture().FullOutput(), nil
}

func (m *Manager) Update(id string) (string, error) {
	p, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	return p.Capture().Update(), nil
}

// List returns a snapshot of every record in creation order.
func (m *Manager) List() []worker.Status {
	m.mu.RLock()
	es := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		es = append(es, e)
	}
	m.mu.RUnlock()
	sort.Slice(es, func(i, j int) bool { return es[i].seq < es[j].seq })
	out := make([]worker.Status, len(es))
	for i, e := range es {
		out[i] = e.p.Status()
	}
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Shutdown stops the reaper, cancels every worker and waits for their
// goroutines until ctx is done. Create fails afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopReaper()
	m.mu.Lock()
	m.closed = true
	procs := make([]*worker.Process, 0, len(m.entries))
	for _, e := range m.entries {
		procs = append(procs, e.p)
	}
	m.mu.Unlock()
	for _, p := range procs {
		p.Stop()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("Manager shut down", "processes", len(procs))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}
