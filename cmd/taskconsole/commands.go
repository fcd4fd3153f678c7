package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/loykin/taskconsole"
	"github.com/loykin/taskconsole/pkg/client"
)

func runServe(ctx context.Context, flags *ServeFlags) error {
	cfg, err := loadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}
	logger, closer, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = closer.Close() }()

	svc, err := taskconsole.New(cfg, logger)
	if err != nil {
		return err
	}
	return svc.ListenAndServe(ctx)
}

func runAttended(ctx context.Context, flags *RunFlags, in io.Reader, out io.Writer) error {
	cfg, err := loadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = closer.Close() }()
	return taskconsole.RunAttended(ctx, cfg, logger, flags.Phone, in, out)
}

func runState(ctx context.Context, flags *StateFlags, out io.Writer) error {
	st, err := newClient(flags.APIFlags).State(ctx, flags.ProcessID)
	if err != nil {
		return err
	}
	return printJSON(out, st)
}

func runSend(ctx context.Context, flags *SendFlags, out io.Writer) error {
	accepted, err := newClient(flags.APIFlags).Send(ctx, flags.ProcessID, flags.Value)
	if err != nil {
		return err
	}
	return printJSON(out, map[string]any{"process_id": flags.ProcessID, "accepted": accepted})
}

func runAttach(parent context.Context, flags *AttachFlags, in io.Reader, out io.Writer) error {
	cl := newClient(flags.APIFlags)
	id := flags.ProcessID
	if id == "" {
		var err error
		if id, err = cl.ProcessID(parent, flags.Phone); err != nil {
			return fmt.Errorf("get process id: %w", err)
		}
	}
	if _, err := fmt.Fprintf(out, "Attached to process %s\n", id); err != nil {
		return err
	}
	interval := flags.Heartbeat
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		mu    sync.Mutex
		shown string
	)
	show := func(output string) error {
		text, err := client.PlainText(output)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = io.WriteString(out, newSuffix(shown, text))
		shown = text
		return err
	}

	finished := make(chan client.State, 1)
	go watchProcess(ctx, cl, id, interval, finished, cancel)
	go forwardAnswers(ctx, cl, id, in, min(interval, time.Second))

	err := cl.Stream(ctx, id, func(u client.Update) error {
		if !u.Update {
			return nil
		}
		return show(u.Output)
	})

	select {
	case st := <-finished:
		if output, oerr := cl.Output(parent, id); oerr == nil {
			_ = show(output)
		}
		_, _ = fmt.Fprintf(out, "Process %s finished: %s\n", id, st.State)
		if st.State == "failed" {
			return fmt.Errorf("process %s failed: %s", id, st.Error)
		}
		return nil
	default:
	}
	switch {
	case parent.Err() != nil:
		return nil
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, client.ErrNotFound):
		return fmt.Errorf("process %s is gone", id)
	default:
		return err
	}
}

// watchProcess keeps the process alive with heartbeats and cancels the
// attachment once it has finished or left the registry.
func watchProcess(ctx context.Context, cl *client.Client, id string, interval time.Duration, finished chan<- client.State, cancel context.CancelFunc) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := cl.Heartbeat(ctx, id); errors.Is(err, client.ErrNotFound) {
			cancel()
			return
		}
		st, err := cl.State(ctx, id)
		if err != nil {
			continue
		}
		if st.Gone() {
			cancel()
			return
		}
		if st.Finished() {
			finished <- st
			cancel()
			return
		}
	}
}

// forwardAnswers sends every input line as an answer, retrying until the
// process is waiting for one.
func forwardAnswers(ctx context.Context, cl *client.Client, id string, in io.Reader, retry time.Duration) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Text()
		for {
			accepted, err := cl.Send(ctx, id, line)
			if errors.Is(err, client.ErrNotFound) || ctx.Err() != nil {
				return
			}
			if err == nil && accepted {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
			}
		}
	}
}
