// Package server exposes the dispatch protocol over HTTP: submit, claim,
// complete, reset, download.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/KohakuBlueleaf/DIG/internal/artifact"
	"github.com/KohakuBlueleaf/DIG/internal/storage"
)

// Server wires the task store and artifact sink into a gin engine.
type Server struct {
	store storage.Storage
	sink  *artifact.FileSink
	log   *slog.Logger

	engine     *gin.Engine
	httpServer *http.Server
	metrics    *dispatchMetrics
	startTime  time.Time
}

// New builds the server and registers all routes.
func New(store storage.Storage, sink *artifact.FileSink, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	// Workers and requestors are scripts running anywhere; the protocol has
	// no auth, so the CORS policy is wide open to match.
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	engine.Use(cors.New(corsConfig))

	s := &Server{
		store:     store,
		sink:      sink,
		log:       logger,
		engine:    engine,
		metrics:   newDispatchMetrics(),
		startTime: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.POST("/request", s.handleSubmit)
	s.engine.GET("/task", s.handleClaim)
	s.engine.POST("/complete/:task_id", s.handleComplete)
	s.engine.GET("/reset/:task_id", s.handleReset)
	s.engine.GET("/download/:task_id", s.handleDownload)
	s.engine.GET("/healthz", s.handleHealth)
}

// Handler returns the underlying http.Handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on addr and blocks until the listener fails or Shutdown is
// called. The long read/write timeouts accommodate multi-megabyte image
// uploads from slow workers.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  time.Hour,
		WriteTimeout: time.Hour,
	}
	s.log.Info("dispatch server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
