// Package server hosts the OpenAI-compatible HTTP surface and the upstream
// dispatch pipeline behind it.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tingly-dev/vertex-relay/internal/config"
	"github.com/tingly-dev/vertex-relay/internal/provider"
	"github.com/tingly-dev/vertex-relay/internal/server/middleware"
)

// Server ties the router, backend, and shared state together.
type Server struct {
	cfg     *config.Config
	backend provider.Backend
	version string

	metrics    *Metrics
	profiler   *Profiler
	dispatcher *Dispatcher

	minStreamBuffer int

	engine *gin.Engine
	http   *http.Server
}

// New assembles a server for the given backend.
func New(cfg *config.Config, backend provider.Backend, version string) *Server {
	s := &Server{
		cfg:             cfg,
		backend:         backend,
		version:         version,
		metrics:         &Metrics{},
		profiler:        NewProfiler(cfg),
		minStreamBuffer: cfg.MinStreamBufferSize,
	}
	s.dispatcher = NewDispatcher(backend, s.metrics, cfg)
	s.engine = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())

	r.GET("/", s.handleIndex)
	r.GET("/health", s.handleHealth)
	r.GET("/v1/models", s.handleModels)
	r.POST("/v1/chat/completions", s.handleChatCompletions)
	return r
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until SIGINT/SIGTERM, then drains connections.
func (s *Server) Run() error {
	s.http = &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("listening on %s (model %s, provider %s)", s.cfg.Addr(), s.backend.DisplayModel(), s.backend.ID())
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logrus.Infof("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
