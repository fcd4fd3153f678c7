package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/taskconsole/internal/capture"
	"github.com/loykin/taskconsole/internal/worker"
)

type Kind string

const (
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindWork     Kind = "work"
)

func (k Kind) verb() (string, bool) {
	switch k {
	case KindVideo:
		return "Watching", true
	case KindDocument:
		return "Reading", true
	case KindWork:
		return "Answering", true
	}
	return "", false
}

// Item is one task point of the scripted course.
type Item struct {
	Name     string
	Kind     Kind
	Duration time.Duration
	// Fail makes the item fail halfway, for demos and tests.
	Fail bool
}

const progressSteps = 4

// runItem plays an item as a few timed progress steps. Failures are
// recoverable so the caller can skip to the next item.
func runItem(ctx context.Context, out *capture.Capture, it Item) error {
	verb, ok := it.Kind.verb()
	if !ok {
		return worker.Recoverable(fmt.Errorf("%s: unsupported item kind %q", it.Name, it.Kind))
	}
	name := capture.Escape(it.Name)
	out.Printf("[bold]%s[/] %s", verb, name)

	step := it.Duration / progressSteps
	for i := 1; i <= progressSteps; i++ {
		if err := sleep(ctx, step); err != nil {
			return err
		}
		if it.Fail && i == progressSteps/2 {
			return worker.Recoverable(fmt.Errorf("%s: task point rejected", it.Name))
		}
		out.Printf("  [green]%s[/] %d%%", capture.Escape(progressBar(i, progressSteps)), i*100/progressSteps)
	}
	out.Printf("[green]Finished[/] %s", name)
	return nil
}

func progressBar(done, total int) string {
	return "[" + strings.Repeat("#", done) + strings.Repeat("-", total-done) + "]"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseSelection reads answers like "1,3", "2-4", "all" or "q" into
// zero-based item indexes. An empty answer selects everything.
func parseSelection(in string, n int) (idx []int, quit bool, err error) {
	in = strings.ToLower(strings.TrimSpace(in))
	switch in {
	case "q", "quit":
		return nil, true, nil
	case "", "all", "*":
		idx = make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx, false, nil
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(in, ",") {
		part = strings.TrimSpace(part)
		lo, hi, found := strings.Cut(part, "-")
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, false, fmt.Errorf("invalid selection %q", part)
		}
		b := a
		if found {
			if b, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, false, fmt.Errorf("invalid selection %q", part)
			}
		}
		if a < 1 || b > n || a > b {
			return nil, false, fmt.Errorf("selection %q out of range 1-%d", part, n)
		}
		for i := a; i <= b; i++ {
			if !seen[i-1] {
				seen[i-1] = true
				idx = append(idx, i-1)
			}
		}
	}
	return idx, false, nil
}

// MaskPhone hides the middle digits of a phone number.
func MaskPhone(phone string) string {
	if len(phone) < 7 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:3] + "****" + phone[len(phone)-4:]
}
