package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/taskconsole/internal/capture"
	"github.com/loykin/taskconsole/internal/worker"
)

type scriptedAsk struct {
	answers []string
	prompts []string
}

func (a *scriptedAsk) ask(ctx context.Context, text string) (string, error) {
	a.prompts = append(a.prompts, text)
	if len(a.answers) == 0 {
		<-ctx.Done()
		return "", ctx.Err()
	}
	v := a.answers[0]
	a.answers = a.answers[1:]
	return v, nil
}

func newEnv(key string, a *scriptedAsk) (worker.Env, *bytes.Buffer) {
	var plain bytes.Buffer
	c := capture.New(capture.Options{Mode: capture.Remote, Mirror: &plain})
	return worker.Env{ProcessID: "p1", ExternalKey: key, Capture: c, Ask: a.ask}, &plain
}

func quickItems(names ...string) []Item {
	out := make([]Item, len(names))
	for i, n := range names {
		out[i] = Item{Name: n, Kind: KindDocument}
	}
	return out
}

func TestMaskPhone(t *testing.T) {
	tests := map[string]string{
		"13800001234": "138****1234",
		"1234567":     "123****4567",
		"12345":       "*****",
		"":            "",
	}
	for in, want := range tests {
		assert.Equal(t, want, MaskPhone(in), in)
	}
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		in    string
		want  []int
		quit  bool
		isErr bool
	}{
		{"", []int{0, 1, 2, 3}, false, false},
		{"ALL", []int{0, 1, 2, 3}, false, false},
		{"q", nil, true, false},
		{"2", []int{1}, false, false},
		{"3, 1", []int{2, 0}, false, false},
		{"2-4,3", []int{1, 2, 3}, false, false},
		{"0", nil, false, true},
		{"5", nil, false, true},
		{"3-2", nil, false, true},
		{"two", nil, false, true},
		{"1-x", nil, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			idx, quit, err := parseSelection(tt.in, 4)
			if tt.isErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.quit, quit)
			assert.Equal(t, tt.want, idx)
		})
	}
}

func TestRun_SelectedItems(t *testing.T) {
	s := New(Options{AskAccount: true, Items: quickItems("Intro", "Reading", "Quiz")})
	a := &scriptedAsk{answers: []string{"13800001234", "1,3"}}
	env, plain := newEnv("", a)

	require.NoError(t, s.Factory()("p1", "").Run(context.Background(), env))
	out := plain.String()
	assert.Contains(t, out, "account=138****1234")
	assert.Contains(t, out, "Finished Intro")
	assert.Contains(t, out, "Finished Quiz")
	assert.NotContains(t, out, "Finished Reading")
	assert.Contains(t, out, "(2 finished, 0 skipped)")
	assert.Len(t, a.prompts, 2)
}

func TestRun_EmptyAccountFallsBackToKey(t *testing.T) {
	s := New(Options{AskAccount: true, Items: quickItems("Intro")})
	env, plain := newEnv("13911112222", &scriptedAsk{answers: []string{"", "q"}})
	require.NoError(t, s.Factory()("p1", "13911112222").Run(context.Background(), env))
	assert.Contains(t, plain.String(), "account=139****2222")
	assert.Contains(t, plain.String(), "Nothing selected")
}

func TestRun_InvalidSelectionAsksAgain(t *testing.T) {
	s := New(Options{Items: quickItems("Intro", "Quiz")})
	a := &scriptedAsk{answers: []string{"x", "9", "2"}}
	env, plain := newEnv("", a)

	require.NoError(t, s.Factory()("p1", "").Run(context.Background(), env))
	assert.Len(t, a.prompts, 3)
	assert.Contains(t, plain.String(), `invalid selection "x"`)
	assert.Contains(t, plain.String(), "out of range 1-2")
	assert.Contains(t, plain.String(), "Finished Quiz")
}

func TestRun_RecoverableFailureIsSkipped(t *testing.T) {
	items := quickItems("Intro", "Broken", "Quiz")
	items[1].Fail = true
	s := New(Options{Items: items})
	env, plain := newEnv("", &scriptedAsk{answers: []string{""}})

	require.NoError(t, s.Factory()("p1", "").Run(context.Background(), env))
	out := plain.String()
	assert.Contains(t, out, "Skipped Broken: Broken: task point rejected")
	assert.Contains(t, out, "(2 finished, 1 skipped)")
}

func TestRun_UnknownKindIsRecoverable(t *testing.T) {
	s := New(Options{Items: []Item{{Name: "Exam", Kind: "exam"}, {Name: "Intro", Kind: KindVideo}}})
	env, plain := newEnv("", &scriptedAsk{answers: []string{""}})
	require.NoError(t, s.Factory()("p1", "").Run(context.Background(), env))
	assert.Contains(t, plain.String(), `unsupported item kind "exam"`)
}

func TestRun_ConsecutiveFailuresAreFatal(t *testing.T) {
	items := quickItems("A", "B", "C", "D")
	for i := range items {
		items[i].Fail = true
	}
	s := New(Options{MaxFailures: 2, Items: items})
	env, plain := newEnv("", &scriptedAsk{answers: []string{""}})

	err := s.Factory()("p1", "").Run(context.Background(), env)
	require.Error(t, err)
	assert.True(t, worker.IsFatal(err))
	assert.Equal(t, 2, strings.Count(plain.String(), "Skipped"))
}

func TestRun_BreakerIsPerProcess(t *testing.T) {
	items := quickItems("A")
	items[0].Fail = true
	s := New(Options{MaxFailures: 1, Items: items})
	for i := 0; i < 2; i++ {
		env, _ := newEnv("", &scriptedAsk{answers: []string{""}})
		err := s.Factory()("p1", "").Run(context.Background(), env)
		assert.True(t, worker.IsFatal(err), "run %d: %v", i, err)
	}
}

func TestRun_CancelledDuringItem(t *testing.T) {
	s := New(Options{Items: []Item{{Name: "Long", Kind: KindVideo, Duration: time.Hour}}})
	env, _ := newEnv("", &scriptedAsk{answers: []string{"1"}})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Factory()("p1", "").Run(ctx, env)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v", err)
}

func TestRun_AskErrorAborts(t *testing.T) {
	s := New(Options{AskAccount: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env, _ := newEnv("", &scriptedAsk{})
	assert.ErrorIs(t, s.Factory()("p1", "").Run(ctx, env), context.Canceled)
}

func TestRun_WaitsBetweenItems(t *testing.T) {
	s := New(Options{ItemWait: 30 * time.Millisecond, Items: quickItems("A", "B", "C")})
	env, plain := newEnv("", &scriptedAsk{answers: []string{""}})

	start := time.Now()
	require.NoError(t, s.Factory()("p1", "").Run(context.Background(), env))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 2, strings.Count(plain.String(), "Waiting 30ms"))
}

func TestNew_Defaults(t *testing.T) {
	s := New(Options{})
	assert.Equal(t, DefaultMaxFailures, s.opts.MaxFailures)
	assert.Equal(t, DefaultItems(), s.Items())
}
