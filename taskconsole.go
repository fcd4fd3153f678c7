// Package taskconsole runs long-lived scripted tasks on behalf of remote
// clients. A Service bundles the process registry, the reaper, the prompt
// bridge and the HTTP surface; RunAttended drives the same pipeline against
// a local terminal.
package taskconsole

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loykin/taskconsole/internal/capture"
	"github.com/loykin/taskconsole/internal/config"
	"github.com/loykin/taskconsole/internal/history"
	"github.com/loykin/taskconsole/internal/history/factory"
	"github.com/loykin/taskconsole/internal/manager"
	"github.com/loykin/taskconsole/internal/metrics"
	"github.com/loykin/taskconsole/internal/pipeline"
	"github.com/loykin/taskconsole/internal/prompt"
	"github.com/loykin/taskconsole/internal/server"
	itls "github.com/loykin/taskconsole/internal/tls"
	"github.com/loykin/taskconsole/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.

type Config = config.Config

type Status = worker.Status

type State = worker.State

var (
	ErrNotFound = manager.ErrNotFound
	ErrClosed   = manager.ErrClosed
)

func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads a TOML file; environment overrides apply.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

const shutdownTimeout = 10 * time.Second

// Service is the embeddable task console.
type Service struct {
	cfg      *Config
	logger   *slog.Logger
	mgr      *manager.Manager
	recorder *history.Recorder
	router   *server.Router
	tls      *tls.Config

	mu  sync.Mutex
	srv *http.Server
}

// New wires a Service from cfg. History sinks are opened here; Shutdown
// closes them.
func New(cfg *Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	tlsConfig, err := itls.Setup(cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	sinks, err := factory.NewSinks(cfg.History.Sinks)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	var rec *history.Recorder
	if len(sinks) > 0 {
		rec = history.NewRecorder(logger, sinks...)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			if rec != nil {
				_ = rec.Close()
			}
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		metricsPath = cfg.Metrics.Path
	}

	bridge := prompt.NewBridge(prompt.Options{Recheck: cfg.Registry.PromptRecheck, Logger: logger})
	script := pipeline.New(cfg.Pipeline.Options(logger))
	mgr := manager.New(manager.Options{
		Pipelines:      script.Factory(),
		Bridge:         bridge,
		Policy:         cfg.Registry.Policy(),
		ReapInterval:   cfg.Registry.ReapInterval,
		OutputCapacity: cfg.Registry.OutputCapacity,
		Logger:         logger,
		ProcessLog:     cfg.Log.Logger().ProcessWriter,
		History:        rec,
	})
	router := server.NewRouter(mgr, server.Options{
		BasePath:       cfg.Server.BasePath,
		StreamInterval: cfg.Server.StreamInterval,
		CORSOrigins:    cfg.Server.CORSOrigins,
		MetricsPath:    metricsPath,
		Logger:         logger,
	})
	return &Service{cfg: cfg, logger: logger, mgr: mgr, recorder: rec, router: router, tls: tlsConfig}, nil
}

func (s *Service) Handler() http.Handler { return s.router.Handler() }

// Start launches the background reaper. Calling it twice is harmless.
func (s *Service) Start() { s.mgr.Start() }

func (s *Service) CreateOrGet(externalKey string) (id string, created bool, err error) {
	return s.mgr.CreateOrGet(externalKey)
}

func (s *Service) Status(id string) (Status, error)  { return s.mgr.Status(id) }
func (s *Service) Output(id string) (string, error)  { return s.mgr.Output(id) }
func (s *Service) Heartbeat(id string) error         { return s.mgr.Heartbeat(id) }
func (s *Service) Submit(id, v string) (bool, error) { return s.mgr.Submit(id, v) }
func (s *Service) List() []Status                    { return s.mgr.List() }

// Reap runs one reaper sweep and returns the removed ids.
func (s *Service) Reap() []string { return s.mgr.ReapOnce() }

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Service) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve starts the reaper and serves HTTP, or HTTPS when [server.tls] is
// enabled, on ln until ctx is cancelled, then shuts the service down.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	srv := server.NewServer(ln.Addr().String(), s.Handler())
	if s.tls != nil {
		srv.TLSConfig = s.tls
		ln = tls.NewListener(ln, s.tls)
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()
	s.Start()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", srv.Addr, "base_path", s.cfg.Server.BasePath, "tls", s.tls != nil)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(sctx)
}

// Shutdown stops the HTTP server if one is running, cancels every worker
// and flushes pending history events.
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.mgr.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RunAttended executes the configured pipeline once in the foreground:
// output is rendered to out and prompts are answered from in. It returns the
// pipeline's failure, if any.
func RunAttended(ctx context.Context, cfg *Config, logger *slog.Logger, externalKey string, in io.Reader, out io.Writer) error {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	const id = "local"
	c := capture.New(capture.Options{Mode: capture.Attended, Out: out, Logger: logger})
	p := worker.New(worker.Options{
		ID:          id,
		ExternalKey: externalKey,
		Capture:     c,
		Policy:      cfg.Registry.Policy(),
		Logger:      logger,
	})
	stop := context.AfterFunc(ctx, p.Kill)
	defer stop()

	script := pipeline.New(cfg.Pipeline.Options(logger))
	p.Run(script.Factory()(id, externalKey), newLineAsker(in))
	return p.Err()
}

// lineAsker answers prompts with lines read from a terminal.
type lineAsker struct {
	once  sync.Once
	in    io.Reader
	lines chan string
}

func newLineAsker(in io.Reader) *lineAsker {
	return &lineAsker{in: in, lines: make(chan string)}
}

func (a *lineAsker) Ask(ctx context.Context, t prompt.Target, text string) (string, error) {
	a.once.Do(func() { go a.read() })
	t.Emit(text)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-a.lines:
		if !ok {
			return "", fmt.Errorf("read answer: %w", io.EOF)
		}
		return line, nil
	}
}

func (a *lineAsker) Cancel(prompt.Target) {}

func (a *lineAsker) read() {
	defer close(a.lines)
	sc := bufio.NewScanner(a.in)
	for sc.Scan() {
		a.lines <- strings.TrimRight(sc.Text(), "\r")
	}
}
