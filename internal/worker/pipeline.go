package worker

import (
	"context"
	"log/slog"

	"github.com/loykin/taskconsole/internal/capture"
	"github.com/loykin/taskconsole/internal/prompt"
)

// AskFunc asks the remote client a question and waits for the answer.
type AskFunc func(ctx context.Context, text string) (string, error)

// Env is what a pipeline gets to talk to the outside world.
type Env struct {
	ProcessID   string
	ExternalKey string
	Capture     *capture.Capture
	Ask         AskFunc
	Logger      *slog.Logger
}

// Pipeline is the task a worker executes. Returning nil ends the worker in
// Success; any error, including a Recoverable one that was not handled,
// ends it in Failed.
type Pipeline interface {
	Run(ctx context.Context, env Env) error
}

type PipelineFunc func(ctx context.Context, env Env) error

func (f PipelineFunc) Run(ctx context.Context, env Env) error { return f(ctx, env) }

// PipelineFactory builds the pipeline for a new process.
type PipelineFactory func(id, externalKey string) Pipeline

// Asker answers prompts raised by a process. *prompt.Bridge implements it
// for remote clients; attended runs read from a terminal instead.
type Asker interface {
	Ask(ctx context.Context, t prompt.Target, text string) (string, error)
	Cancel(t prompt.Target)
}
