package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/loykin/taskconsole/internal/manager"
	"github.com/loykin/taskconsole/internal/metrics"
)

const DefaultStreamInterval = 2 * time.Second

type Options struct {
	BasePath       string
	StreamInterval time.Duration
	// CORSOrigins lists allowed origins; "*" or an empty list allows all.
	CORSOrigins []string
	// MetricsPath mounts the Prometheus handler outside the base path.
	// Empty disables it.
	MetricsPath string
	Logger      *slog.Logger
}

// Router provides embeddable HTTP handlers for remote clients of the
// process manager.
// Endpoints (all under {basePath}):
//
//	GET  /get_process_id              query: phone (optional external key)
//	GET  /get_process_output          query: process_id
//	GET  /comm_stream                 query: process_id (text/event-stream)
//	GET  /update_process_refresh_time query: process_id
//	GET  /send_value                  query: process_id, value (POST form also accepted)
//	GET  /get_process_state           query: process_id
//	GET  /test
//	GET  /debug/processes
//	POST /debug/reap
type Router struct {
	mgr      *manager.Manager
	basePath string
	interval time.Duration
	origins  []string
	metrics  string
	logger   *slog.Logger
}

func NewRouter(mgr *manager.Manager, opts Options) *Router {
	r := &Router{
		mgr:      mgr,
		basePath: sanitizeBase(opts.BasePath),
		interval: opts.StreamInterval,
		origins:  opts.CORSOrigins,
		metrics:  opts.MetricsPath,
		logger:   opts.Logger,
	}
	if r.interval <= 0 {
		r.interval = DefaultStreamInterval
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "server")
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.requestLog(), cors.New(r.corsConfig()))
	if r.metrics != "" {
		g.GET(r.metrics, gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath)
	group.GET("/get_process_id", r.handleProcessID)
	group.GET("/get_process_output", r.handleOutput)
	group.GET("/comm_stream", r.handleStream)
	group.GET("/update_process_refresh_time", r.handleHeartbeat)
	group.GET("/send_value", r.handleSendValue)
	group.POST("/send_value", r.handleSendValue)
	group.GET("/get_process_state", r.handleState)
	group.GET("/test", func(c *gin.Context) { writeOK(c, nil) })
	group.GET("/debug/processes", r.handleDebugProcesses)
	group.POST("/debug/reap", r.handleDebugReap)
	return g
}

func (r *Router) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Cache-Control", "X-Requested-With"}
	allowAll := len(r.origins) == 0
	for _, o := range r.origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = r.origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func (r *Router) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.Debug("Request served",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// NewServer wraps handler in an http.Server. There is no write timeout
// because /comm_stream responses stay open for the life of the client.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

// processID reads and validates the process_id parameter, writing a 400
// response when it is unusable.
func processID(c *gin.Context) (string, bool) {
	id := param(c, "process_id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "process_id required")
		return "", false
	}
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid process_id")
		return "", false
	}
	return id, true
}

func (r *Router) writeManagerError(c *gin.Context, id string, err error) {
	switch {
	case errors.Is(err, manager.ErrNotFound):
		writeError(c, http.StatusNotFound, "No process found with id "+id)
	case errors.Is(err, manager.ErrClosed):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		r.logger.Error("Request failed", "process_id", id, "error", err)
		writeError(c, http.StatusInternalServerError, err.Error())
	}
}

func (r *Router) handleProcessID(c *gin.Context) {
	key := param(c, "phone")
	id, created, err := r.mgr.CreateOrGet(key)
	if err != nil {
		r.writeManagerError(c, "", err)
		return
	}
	r.logger.Info("Process assigned", "process_id", id, "created", created)
	writeOK(c, gin.H{"process_id": id})
}

func (r *Router) handleOutput(c *gin.Context) {
	id, ok := processID(c)
	if !ok {
		return
	}
	out, err := r.mgr.Output(id)
	if err != nil {
		r.writeManagerError(c, id, err)
		return
	}
	writeOK(c, gin.H{"output": out})
}

func (r *Router) handleHeartbeat(c *gin.Context) {
	id, ok := processID(c)
	if !ok {
		return
	}
	if err := r.mgr.Heartbeat(id); err != nil {
		r.writeManagerError(c, id, err)
		return
	}
	writeOK(c, nil)
}

func (r *Router) handleSendValue(c *gin.Context) {
	id, ok := processID(c)
	if !ok {
		return
	}
	accepted, err := r.mgr.Submit(id, param(c, "value"))
	if err != nil {
		r.writeManagerError(c, id, err)
		return
	}
	r.logger.Debug("Value received", "process_id", id, "accepted", accepted)
	writeOK(c, gin.H{"accepted": accepted})
}

// handleState answers for ids that were already reaped too, reporting
// them as gone and not alive.
func (r *Router) handleState(c *gin.Context) {
	id, ok := processID(c)
	if !ok {
		return
	}
	st, err := r.mgr.Status(id)
	if errors.Is(err, manager.ErrNotFound) {
		writeOK(c, gin.H{"process_id": id, "state": "gone", "alive": false})
		return
	}
	if err != nil {
		r.writeManagerError(c, id, err)
		return
	}
	writeOK(c, gin.H{
		"process_id":      st.ID,
		"state":           st.State.String(),
		"alive":           st.Alive,
		"created_at":      st.CreatedAt,
		"last_refresh_at": st.LastRefreshAt,
		"error":           st.Error,
	})
}

// Debug endpoints for troubleshooting

func (r *Router) handleDebugProcesses(c *gin.Context) {
	writeOK(c, gin.H{"processes": r.mgr.List()})
}

func (r *Router) handleDebugReap(c *gin.Context) {
	ids := r.mgr.ReapOnce()
	if ids == nil {
		ids = []string{}
	}
	writeOK(c, gin.H{"reaped": ids})
}
