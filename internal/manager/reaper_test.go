package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/loykin/taskconsole/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReapOnce_IdleBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		running bool
		advance time.Duration
		removed bool
	}{
		{"init just under", false, 5*time.Minute - time.Second, false},
		{"init exactly at threshold", false, 5 * time.Minute, false},
		{"init just over", false, 5*time.Minute + time.Second, true},
		{"running just under", true, 24*time.Hour - time.Second, false},
		{"running just over", true, 24*time.Hour + time.Second, true},
		{"running past idle threshold", true, 6 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFakeClock()
			var m *Manager
			if tt.running {
				m = New(Options{Now: clk.Now})
				shutdown(t, m)
			} else {
				m = newHeldManager(t, clk, Options{})
			}
			p, err := m.Create("p1", "")
			require.NoError(t, err)
			if tt.running {
				require.Eventually(t, func() bool { return p.State() == worker.StateRunning }, 2*time.Second, time.Millisecond)
			}

			clk.Advance(tt.advance)
			ids := m.ReapOnce()
			_, present := m.Get("p1")
			if tt.removed {
				assert.Equal(t, []string{"p1"}, ids)
				assert.False(t, present)
				assert.False(t, p.Alive())
			} else {
				assert.Empty(t, ids)
				assert.True(t, present)
				assert.True(t, p.Alive())
			}
		})
	}
}

func TestReapOnce_CompletedRecordUsesIdleThreshold(t *testing.T) {
	clk := newFakeClock()
	m := New(Options{Now: clk.Now, Pipelines: func(string, string) worker.Pipeline {
		return worker.PipelineFunc(func(context.Context, worker.Env) error { return nil })
	}})
	shutdown(t, m)

	p, err := m.Create("done", "")
	require.NoError(t, err)
	<-p.Done()
	require.Equal(t, worker.StateSuccess, p.State())

	clk.Advance(5*time.Minute - time.Second)
	assert.Empty(t, m.ReapOnce())
	clk.Advance(2 * time.Second)
	assert.Equal(t, []string{"done"}, m.ReapOnce())
}

func TestReapOnce_RemovesKilledRecords(t *testing.T) {
	m := newHeldManager(t, newFakeClock(), Options{})
	p, _ := m.Create("p1", "")
	p.Kill()
	assert.Equal(t, []string{"p1"}, m.ReapOnce())
	assert.Equal(t, 0, m.Len())
}

func TestReap_HeartbeatScenario(t *testing.T) {
	clk := newFakeClock()
	m := newHeldManager(t, clk, Options{})
	p, err := m.Create("p1", "13800000000")
	require.NoError(t, err)
	require.NoError(t, m.Heartbeat("p1"))

	clk.Advance(4 * time.Minute)
	m.ReapOnce()
	st, err := m.Status("p1")
	require.NoError(t, err)
	assert.True(t, st.Alive)
	id, ok := m.LookupByKey("13800000000")
	require.True(t, ok)
	assert.Equal(t, "p1", id)

	clk.Advance(2 * time.Minute)
	m.ReapOnce()
	assert.False(t, p.Alive())
	_, err = m.Status("p1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok = m.LookupByKey("13800000000")
	assert.False(t, ok)
}

func TestReap_HeartbeatKeepsRecord(t *testing.T) {
	clk := newFakeClock()
	m := newHeldManager(t, clk, Options{})
	_, _ = m.Create("p1", "")
	for i := 0; i < 10; i++ {
		clk.Advance(4 * time.Minute)
		require.NoError(t, m.Heartbeat("p1"))
		assert.Empty(t, m.ReapOnce())
	}
	assert.Equal(t, 1, m.Len())
}

func TestReap_ConcurrentCreationAndSweep(t *testing.T) {
	clk := newFakeClock()
	m := newHeldManager(t, clk, Options{})

	const n = 100
	stop := make(chan struct{})
	var sweeper sync.WaitGroup
	sweeper.Add(1)
	go func() {
		defer sweeper.Done()
		for {
			select {
			case <-stop:
				return
			default:
				m.ReapOnce()
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Create(fmt.Sprintf("p%03d", i), fmt.Sprintf("key-%d", i%10))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	close(stop)
	sweeper.Wait()
	require.Equal(t, n, m.Len())

	clk.Advance(4 * time.Minute)
	keep := make(map[string]bool)
	for i := 0; i < n; i += 2 {
		id := fmt.Sprintf("p%03d", i)
		require.NoError(t, m.Heartbeat(id))
		keep[id] = true
	}
	clk.Advance(2 * time.Minute)

	var (
		mu      sync.Mutex
		removed []string
	)
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := m.ReapOnce()
			mu.Lock()
			removed = append(removed, ids...)
			mu.Unlock()
		}()
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				m.Get(fmt.Sprintf("p%03d", i))
				m.LookupByKey(fmt.Sprintf("key-%d", i%10))
			}
		}()
	}
	wg.Wait()

	sort.Strings(removed)
	require.Len(t, removed, n/2)
	for i, id := range removed {
		assert.False(t, keep[id], "heartbeated process %s was reaped", id)
		if i > 0 {
			assert.NotEqual(t, removed[i-1], id, "process reaped twice")
		}
	}
	assert.Equal(t, n/2, m.Len())
	for id := range keep {
		_, ok := m.Get(id)
		assert.True(t, ok, "missing %s", id)
	}
}

func TestStart_BackgroundReaper(t *testing.T) {
	clk := newFakeClock()
	m := newHeldManager(t, clk, Options{ReapInterval: 5 * time.Millisecond})
	_, _ = m.Create("p1", "")
	m.Start()
	m.Start()

	clk.Advance(10 * time.Minute)
	require.Eventually(t, func() bool { return m.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}
