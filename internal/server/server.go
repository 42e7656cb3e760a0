// Package server exposes the job manager over HTTP: job submission,
// progress streams (server-sent events and websocket), cancellation and
// subtitle editing.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/jobs"
	"github.com/mgpai22/captioner/internal/logging"
	"github.com/mgpai22/captioner/internal/subtitle"
	"github.com/mgpai22/captioner/internal/transcribe"
	"github.com/mgpai22/captioner/internal/video"
)

const (
	defaultPruneInterval = time.Minute
	shutdownTimeout      = 15 * time.Second
)

// Defaults fill in request fields a client leaves out.
type Defaults struct {
	Engine string
	Model  transcribe.ModelSize
	Chunk  subtitle.ChunkOptions
	Style  video.StyleSpec
}

type Options struct {
	Manager  *jobs.Manager
	Defaults Defaults
	// IdleTimeout makes event streams report a timeout after this long
	// without progress; zero disables it.
	IdleTimeout   time.Duration
	PruneInterval time.Duration
	Log           *logging.Logger
}

// Server is the HTTP front end. Handlers only submit, look up and cancel
// jobs, and read their progress channels; no job state lives here.
type Server struct {
	manager       *jobs.Manager
	defaults      Defaults
	idleTimeout   time.Duration
	pruneInterval time.Duration
	log           *logging.Logger
	echo          *echo.Echo
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("captioner", nil)
}

func New(opts Options) (*Server, error) {
	if opts.Manager == nil {
		return nil, errors.New("server needs a job manager")
	}
	s := &Server{
		manager:       opts.Manager,
		defaults:      opts.Defaults,
		idleTimeout:   opts.IdleTimeout,
		pruneInterval: opts.PruneInterval,
		log:           logging.OrNop(opts.Log).Component("server"),
	}
	if s.defaults.Model == "" {
		s.defaults.Model = transcribe.DefaultModel
	}
	if s.defaults.Style == (video.StyleSpec{}) {
		s.defaults.Style = video.DefaultStyle()
	}
	if s.pruneInterval <= 0 {
		s.pruneInterval = defaultPruneInterval
	}
	s.echo = s.initRoutes()
	return s, nil
}

func (s *Server) initRoutes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler(e)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debugw("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	promMdlw.Use(e)

	e.GET("/live", live)
	e.GET("/models", models)

	e.POST("/jobs", s.submitTranscription)
	e.POST("/burn", s.submitBurn)
	e.GET("/jobs", s.listJobs)
	e.GET("/jobs/:id", s.getJob)
	e.DELETE("/jobs/:id", s.cancelJob)
	e.GET("/jobs/:id/events", s.streamEvents)
	e.GET("/jobs/:id/ws", s.streamWebSocket)

	e.GET("/srt", loadSRT)
	e.POST("/srt", saveSRT)

	for _, r := range e.Routes() {
		s.log.Debugw("route", "method", r.Method, "path", r.Path)
	}
	return e
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on bind until ctx ends, then cancels running jobs and shuts
// the listener down gracefully.
func (s *Server) Run(ctx context.Context, bind string) error {
	s.echo.Server.ReadHeaderTimeout = 5 * time.Second

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		s.log.Infow("starting server", "bind", bind)
		if err := s.echo.Start(bind); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to serve on %s: %w", bind, err)
		}
	}()

	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go s.pruneLoop(pruneCtx)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Infow("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// jobs first, so open event streams end with their terminal event
	jobsErr := s.manager.Shutdown(shutdownCtx)
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if jobsErr != nil {
		return fmt.Errorf("failed to stop jobs: %w", jobsErr)
	}
	return nil
}

func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.manager.Prune()
		}
	}
}

// errorHandler renders errors as {"error": ..., "error_kind": ...}.
func (s *Server) errorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			e.DefaultHTTPErrorHandler(err, c)
			return
		}

		status := statusOf(err)
		if status >= http.StatusInternalServerError {
			s.log.Errorw("request failed", "path", c.Path(), "error", err)
		}
		body := errorResponse{Error: failure.Message(err), Kind: failure.KindOf(err)}
		if writeErr := c.JSON(status, body); writeErr != nil {
			s.log.Warnw("failed to write error response", "error", writeErr)
		}
	}
}

type errorResponse struct {
	Error string       `json:"error"`
	Kind  failure.Kind `json:"error_kind,omitempty"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrManagerShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, failure.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
