// Package pipeline provides the scripted demo task run by every worker: a
// short sign-in dialogue, an item selection prompt and timed progress for
// each selected item.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/loykin/taskconsole/internal/capture"
	"github.com/loykin/taskconsole/internal/worker"
)

const DefaultMaxFailures = 3

type Options struct {
	AskAccount bool
	// ItemWait is the pause between two items.
	ItemWait    time.Duration
	MaxFailures int
	Items       []Item
	Logger      *slog.Logger
}

// Script builds one pipeline per process from a fixed item list.
type Script struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Script {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	if len(opts.Items) == 0 {
		opts.Items = DefaultItems()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Script{opts: opts, logger: logger.With("component", "pipeline")}
}

// DefaultItems is the course played when none is configured.
func DefaultItems() []Item {
	return []Item{
		{Name: "Chapter 1 Introduction", Kind: KindVideo, Duration: 4 * time.Second},
		{Name: "Chapter 1 Reading", Kind: KindDocument, Duration: 2 * time.Second},
		{Name: "Chapter 1 Quiz", Kind: KindWork, Duration: 2 * time.Second},
		{Name: "Chapter 2 Lecture", Kind: KindVideo, Duration: 4 * time.Second},
	}
}

func (s *Script) Items() []Item {
	return append([]Item(nil), s.opts.Items...)
}

// Factory returns a worker.PipelineFactory; every process gets its own
// limiter and breaker.
func (s *Script) Factory() worker.PipelineFactory {
	return func(id, _ string) worker.Pipeline { return s.newRun(id) }
}

type run struct {
	s       *Script
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func (s *Script) newRun(id string) *run {
	limit := rate.Inf
	if s.opts.ItemWait > 0 {
		limit = rate.Every(s.opts.ItemWait)
	}
	maxFailures := uint32(s.opts.MaxFailures)
	logger := s.logger.With("process_id", id)
	return &run{
		s:       s,
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name: "items:" + id,
			// stays open for the rest of the run
			Timeout: 24 * time.Hour,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Item breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}),
	}
}

func (r *run) Run(ctx context.Context, env worker.Env) error {
	out := env.Capture
	logger := env.Logger
	if logger == nil {
		logger = r.s.logger
	}
	logo(out)

	if r.s.opts.AskAccount {
		phone, err := env.Ask(ctx, "[yellow]Enter the account phone number (empty to use the linked one)[/]")
		if err != nil {
			return err
		}
		phone = strings.TrimSpace(phone)
		if phone == "" {
			phone = env.ExternalKey
		}
		if phone == "" {
			out.Print("[green]Signed in[/] as guest")
		} else {
			out.Printf("[green]Signed in[/] account=%s", MaskPhone(phone))
		}
	}

	items := r.s.opts.Items
	listItems(out, items)
	var selected []int
	for {
		answer, err := env.Ask(ctx, fmt.Sprintf("[yellow]Select items 1-%d (e.g. 1,3 or 2-4), empty for all, q to quit[/]", len(items)))
		if err != nil {
			return err
		}
		idx, quit, perr := parseSelection(answer, len(items))
		if quit {
			out.Print("[green]Nothing selected, bye.[/]")
			return nil
		}
		if perr != nil {
			out.Printf("[red]%s[/]", capture.Escape(perr.Error()))
			continue
		}
		selected = idx
		break
	}

	var done, failed int
	for n, i := range selected {
		it := items[i]
		if n > 0 && r.s.opts.ItemWait > 0 {
			out.Printf("[green]Waiting %s before the next item[/]", r.s.opts.ItemWait)
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := r.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, runItem(ctx, out, it)
		})
		switch {
		case err == nil:
			done++
		case ctx.Err() != nil:
			return ctx.Err()
		case worker.IsRecoverable(err):
			failed++
			logger.Warn("Item failed, skipping", "item", it.Name, "error", err)
			out.Printf("[red]Skipped[/] %s: %s", capture.Escape(it.Name), capture.Escape(err.Error()))
			if r.breaker.State() == gobreaker.StateOpen {
				return worker.Fatal(fmt.Errorf("%d consecutive items failed, giving up", r.s.opts.MaxFailures))
			}
		default:
			return err
		}
	}
	out.Printf("[bold green]All selected items processed[/] (%d finished, %d skipped)", done, failed)
	return nil
}

func logo(out *capture.Capture) {
	out.Print("[bold red]task[/][green]console[/]\n[dim]scripted course runner[/]\n" + strings.Repeat("-", 37))
}

func listItems(out *capture.Capture, items []Item) {
	var b strings.Builder
	b.WriteString("[bold]Items[/]")
	for i, it := range items {
		fmt.Fprintf(&b, "\n  %2d. [blue]%-8s[/] %s", i+1, it.Kind, capture.Escape(it.Name))
	}
	out.Print(b.String())
}
