package daemon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vollocare/autocoder/internal/config"
	"github.com/vollocare/autocoder/internal/engine"
	"github.com/vollocare/autocoder/internal/observability"
	generaterpc "github.com/vollocare/autocoder/internal/rpc/generate"
)

// Server hosts the health, metrics and Generate endpoints.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	runner  generaterpc.Runner
	metrics *observability.Metrics
}

// NewServer constructs a daemon instance.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	metrics := observability.NewMetrics()
	eng, err := engine.FromConfig(cfg, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	runner := &generaterpc.EngineRunner{
		Engine:        eng,
		Locks:         &generaterpc.DirLocks{},
		MaxIterations: cfg.Generation.MaxIterations,
		Logger:        logger,
	}
	return NewServerWithRunner(cfg, logger, runner, metrics), nil
}

// NewServerWithRunner builds a Server around an existing runner.
func NewServerWithRunner(cfg *config.Config, logger *zap.Logger, runner generaterpc.Runner, metrics *observability.Metrics) *Server {
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	return &Server{cfg: cfg, logger: logger, runner: runner, metrics: metrics}
}

// Handler returns the daemon's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.Handle("/generate", generaterpc.NewHandler(s.runner, s.metrics))

	if s.ndjsonOnly() {
		return mux
	}
	path, handler := generaterpc.NewConnectHandler(s.runner, s.metrics)
	mux.Handle(path, handler)
	return h2c.NewHandler(mux, &http2.Server{})
}

func (s *Server) ndjsonOnly() bool {
	return strings.ToLower(strings.TrimSpace(s.cfg.Server.Transport)) == "ndjson"
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting autocoder daemon",
			zap.String("addr", s.cfg.Server.Addr),
			zap.String("transport", s.cfg.Server.Transport),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down autocoder daemon")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.MetricsEnabled {
		http.NotFound(w, r)
		return
	}

	promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
