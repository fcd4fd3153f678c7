package manager

import (
	"sort"
	"time"

	"github.com/loykin/taskconsole/internal/history"
	"github.com/loykin/taskconsole/internal/metrics"
	"github.com/loykin/taskconsole/internal/worker"
)

// Start launches the background reaper. Calling it twice is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.reapStop != nil || m.closed {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	m.reapStop, m.reapDone = stop, done
	interval := m.interval
	m.mu.Unlock()

	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.ReapOnce()
			case <-stop:
				return
			}
		}
	}()
	m.logger.Info("Reaper started", "interval", interval)
}

func (m *Manager) stopReaper() {
	m.mu.Lock()
	stop, done := m.reapStop, m.reapDone
	m.reapStop, m.reapDone = nil, nil
	m.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

type reaped struct {
	p     *worker.Process
	state worker.State
}

// ReapOnce removes every process that idled past its threshold, or that
// was already marked not alive, and returns the removed ids sorted.
func (m *Manager) ReapOnce() []string {
	now := m.now()

	m.mu.RLock()
	var candidates []*worker.Process
	for _, e := range m.entries {
		if !e.p.Alive() || e.p.ExpiredAt(now) {
			candidates = append(candidates, e.p)
		}
	}
	m.mu.RUnlock()
	if len(candidates) == 0 {
		return nil
	}

	var gone []reaped
	m.mu.Lock()
	for _, p := range candidates {
		e, ok := m.entries[p.ID()]
		if !ok || e.p != p {
			continue
		}
		// a heartbeat may have landed since the snapshot
		if p.Alive() && !p.ExpiredAt(now) {
			continue
		}
		gone = append(gone, reaped{p: p, state: p.State()})
		p.Kill()
		m.retireLocked(p.ID())
	}
	size := len(m.entries)
	m.mu.Unlock()
	metrics.SetRegistrySize(size)

	ids := make([]string, 0, len(gone))
	for _, r := range gone {
		ids = append(ids, r.p.ID())
		metrics.IncReaped(r.state.String())
		m.logger.Info("Process reaped",
			"process_id", r.p.ID(),
			"state", r.state.String(),
			"idle", now.Sub(r.p.LastRefresh()).String())
		m.record(history.EventReaped, r.p)
	}
	sort.Strings(ids)
	return ids
}
