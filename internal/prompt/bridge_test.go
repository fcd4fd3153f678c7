package prompt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	id      string
	expired atomic.Bool
	killed  atomic.Bool

	mu      sync.Mutex
	emitted []string
}

func (f *fakeTarget) ID() string { return f.id }

func (f *fakeTarget) Emit(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, text)
}

func (f *fakeTarget) Expired() bool { return f.expired.Load() }
func (f *fakeTarget) Kill()         { f.killed.Store(true) }

func (f *fakeTarget) emits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.emitted...)
}

func TestTryAsk_FirstCallOpensSlotAndEmits(t *testing.T) {
	b := NewBridge(Options{})
	tgt := &fakeTarget{id: "p1"}

	v, st := b.TryAsk(tgt, "phone?")
	assert.Equal(t, NoAnswer, st)
	assert.Equal(t, "", v)
	assert.True(t, b.Pending("p1"))
	assert.Equal(t, []string{"phone?"}, tgt.emits())

	// re-asking while waiting does not emit again
	_, st = b.TryAsk(tgt, "phone?")
	assert.Equal(t, NoAnswer, st)
	assert.Len(t, tgt.emits(), 1)
	assert.Equal(t, 1, b.Len())
}

func TestTryAsk_AnswerConsumedOnce(t *testing.T) {
	b := NewBridge(Options{})
	tgt := &fakeTarget{id: "p1"}
	b.TryAsk(tgt, "q")

	require.True(t, b.Submit("p1", "42"))
	v, st := b.TryAsk(tgt, "q")
	assert.Equal(t, Answered, st)
	assert.Equal(t, "42", v)
	assert.Equal(t, 0, b.Len())

	// the next ask is a new question
	v, st = b.TryAsk(tgt, "q2")
	assert.Equal(t, NoAnswer, st)
	assert.Equal(t, "", v)
}

func TestSubmit_WithoutSlotIsNoop(t *testing.T) {
	b := NewBridge(Options{})
	tgt := &fakeTarget{id: "p1"}

	assert.False(t, b.Submit("p1", "early"))
	assert.Equal(t, 0, b.Len())

	v, st := b.TryAsk(tgt, "q")
	assert.Equal(t, NoAnswer, st)
	assert.Equal(t, "", v)
	_, st = b.TryAsk(tgt, "q")
	assert.Equal(t, NoAnswer, st)
}

func TestSubmit_LastWriterWins(t *testing.T) {
	b := NewBridge(Options{})
	tgt := &fakeTarget{id: "p1"}
	b.TryAsk(tgt, "q")
	b.Submit("p1", "first")
	b.Submit("p1", "second")

	v, st := b.TryAsk(tgt, "q")
	assert.Equal(t, Answered, st)
	assert.Equal(t, "second", v)
}

func TestTryAsk_TimeoutKillsTarget(t *testing.T) {
	b := NewBridge(Options{})
	tgt := &fakeTarget{id: "p1"}
	b.TryAsk(tgt, "q")

	tgt.expired.Store(true)
	_, st := b.TryAsk(tgt, "q")
	assert.Equal(t, TimedOut, st)
	assert.True(t, tgt.killed.Load())
	assert.False(t, b.Pending("p1"))
}

func TestTryAsk_AnswerBeatsExpiry(t *testing.T) {
	b := NewBridge(Options{})
	tgt := &fakeTarget{id: "p1"}
	b.TryAsk(tgt, "q")
	b.Submit("p1", "v")
	tgt.expired.Store(true)

	v, st := b.TryAsk(tgt, "q")
	assert.Equal(t, Answered, st)
	assert.Equal(t, "v", v)
	assert.False(t, tgt.killed.Load())
}

func TestAsk_WakesOnSubmit(t *testing.T) {
	b := NewBridge(Options{Recheck: time.Hour})
	tgt := &fakeTarget{id: "p1"}

	got := make(chan string, 1)
	go func() {
		v, err := b.Ask(context.Background(), tgt, "q")
		if err != nil {
			t.Errorf("Ask: %v", err)
		}
		got <- v
	}()

	require.Eventually(t, func() bool { return b.Pending("p1") }, time.Second, time.Millisecond)
	require.True(t, b.Submit("p1", "answer"))

	select {
	case v := <-got:
		assert.Equal(t, "answer", v)
	case <-time.After(2 * time.Second):
		t.Fatal("Ask did not return after Submit")
	}
	assert.Equal(t, 0, b.Len())
}

func TestAsk_TimesOutOnRecheck(t *testing.T) {
	b := NewBridge(Options{Recheck: 5 * time.Millisecond})
	tgt := &fakeTarget{id: "p1"}

	errc := make(chan error, 1)
	go func() {
		_, err := b.Ask(context.Background(), tgt, "q")
		errc <- err
	}()
	require.Eventually(t, func() bool { return b.Pending("p1") }, time.Second, time.Millisecond)
	tgt.expired.Store(true)

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, ErrTimeout))
	case <-time.After(2 * time.Second):
		t.Fatal("Ask did not time out")
	}
	assert.True(t, tgt.killed.Load())
	assert.Equal(t, 0, b.Len())
}

func TestAsk_ContextCancelDropsSlot(t *testing.T) {
	b := NewBridge(Options{Recheck: time.Hour})
	tgt := &fakeTarget{id: "p1"}
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := b.Ask(ctx, tgt, "q")
		errc <- err
	}()
	require.Eventually(t, func() bool { return b.Pending("p1") }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Ask ignored cancellation")
	}
	assert.False(t, b.Pending("p1"))
	assert.False(t, tgt.killed.Load())
}

func TestCancel_LeavesOtherTargetsSlot(t *testing.T) {
	b := NewBridge(Options{})
	stale := &fakeTarget{id: "p1"}
	fresh := &fakeTarget{id: "p1"}

	_, st := b.TryAsk(stale, "q")
	require.Equal(t, NoAnswer, st)
	_, st = b.TryAsk(fresh, "q")
	require.Equal(t, NoAnswer, st)
	assert.Len(t, fresh.emits(), 1)

	b.Cancel(stale)
	assert.True(t, b.Pending("p1"))
	assert.True(t, b.Submit("p1", "v"))
	v, st := b.TryAsk(fresh, "q")
	assert.Equal(t, Answered, st)
	assert.Equal(t, "v", v)

	_, _ = b.TryAsk(fresh, "again")
	b.Cancel(fresh)
	assert.False(t, b.Pending("p1"))
}

func TestBridge_ConcurrentProcesses(t *testing.T) {
	b := NewBridge(Options{Recheck: 10 * time.Millisecond})
	const n = 50
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		tgt := &fakeTarget{id: string(rune('A' + i))}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := b.Ask(context.Background(), tgt, "q")
			if err != nil {
				t.Errorf("Ask %d: %v", i, err)
			}
			results[i] = v
		}(i)
	}
	for i := 0; i < n; i++ {
		id := string(rune('A' + i))
		require.Eventually(t, func() bool { return b.Submit(id, id+"!") }, time.Second, time.Millisecond)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		assert.Equal(t, string(rune('A'+i))+"!", results[i])
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "no_answer", NoAnswer.String())
	assert.Equal(t, "answered", Answered.String())
	assert.Equal(t, "timed_out", TimedOut.String())
}
