// Package server assembles the Ember daemon: it boots the kernel from the
// task manifest and serves the HTTP/WebSocket inspection surface over it.
package server

import (
	"context"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/emberos/ember/internal/abi"
	api "github.com/emberos/ember/internal/api/http"
	"github.com/emberos/ember/internal/api/middleware"
	"github.com/emberos/ember/internal/infrastructure/config"
	"github.com/emberos/ember/internal/infrastructure/logging"
	"github.com/emberos/ember/internal/infrastructure/monitoring"
	"github.com/emberos/ember/internal/infrastructure/tracing"
	"github.com/emberos/ember/internal/kernel"
	"github.com/emberos/ember/internal/manifest"
	"github.com/emberos/ember/internal/servers"
	"github.com/emberos/ember/internal/ws"
)

// Server wraps the kernel, the HTTP server, and their shared dependencies.
type Server struct {
	router  *gin.Engine
	kernel  *kernel.Kernel
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics

	http *nethttp.Server
}

// New builds a server from configuration: logger, metrics, kernel, task
// set, routes.
func New(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := monitoring.New(registry)

	k := kernel.New(kernel.Options{
		Logger:      logger,
		Metrics:     metrics,
		EventBuffer: cfg.Kernel.EventBuffer,
	})
	logger.Info("kernel initialized", zap.String("boot_id", k.BootID()))

	entries := servers.Registry(logger)
	known := make(map[string]struct{}, len(entries))
	for name := range entries {
		known[name] = struct{}{}
	}
	m, err := manifest.Load(cfg.Kernel.ManifestPath, known)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	for _, decl := range m.Tasks {
		id, err := k.Spawn(decl.Name, decl.RAM, entries[decl.Server])
		if err != nil {
			return nil, fmt.Errorf("spawn task %q: %w", decl.Name, err)
		}
		logger.Info("task booted",
			zap.String("task", id.String()),
			zap.String("name", decl.Name),
			zap.String("server", decl.Server))
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(tracing.HTTPMiddleware(tracing.New("emberd", logger.Logger)))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	api.NewHandlers(k, logger).Register(router)
	router.GET("/stream", ws.NewHandler(k, logger).HandleConnection)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return &Server{
		router:  router,
		kernel:  k,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Kernel exposes the running kernel, mainly for tests.
func (s *Server) Kernel() *kernel.Kernel { return s.kernel }

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("starting inspection server", zap.String("addr", addr))

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			s.metrics.UpdateUptime()
		}
	}()

	s.http = &nethttp.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.http.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server, kills the task set, and waits for every
// task goroutine to unwind.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown", zap.Error(err))
		}
	}

	for _, snap := range s.kernel.Snapshot() {
		if snap.State != "stopped" && snap.State != "faulted" {
			s.kernel.Kill(taskID(snap))
		}
	}
	s.kernel.Wait()

	s.logger.Sync()
	return nil
}

func taskID(snap kernel.TaskSnapshot) abi.TaskID {
	return abi.TaskID{Index: snap.Index, Generation: snap.Generation}
}
