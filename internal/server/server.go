// Package server exposes the delivery pipeline over HTTP: the download
// endpoint, the admin rate-limit status endpoint, download statistics,
// and a health check.
package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Turtlebole/osu-beatmap-mirror/internal/ratelimit"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/stats"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr      string
	AdminUsername string
	AdminPassword string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:    "0.0.0.0:8080",
		ReadTimeout: 30 * time.Second,
		// Archive deliveries can be hundreds of megabytes.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// Server represents the HTTP API server
type Server struct {
	config          *Config
	logger          *zap.Logger
	server          *http.Server
	stats           *stats.Store
	downloadHandler *DownloadHandler
	statusHandler   *StatusHandler
}

// New creates a new HTTP server
func New(cfg *Config, dl *DownloadHandler, limiter *ratelimit.Limiter, statsStore *stats.Store, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config:          cfg,
		logger:          logger,
		stats:           statsStore,
		downloadHandler: dl,
		statusHandler:   NewStatusHandler(limiter, statsStore, logger),
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Archive delivery
	mux.HandleFunc("/download/", s.downloadHandler.HandleDownload)

	// Admin and statistics endpoints
	adminAuth := BasicAuthMiddleware(cfg.AdminUsername, cfg.AdminPassword, logger)
	mux.HandleFunc("/rate-limit-status", adminAuth(s.statusHandler.HandleRateLimitStatus))
	mux.HandleFunc("/stats", s.statusHandler.HandleStats)

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.stats != nil {
		if err := s.stats.Ping(); err != nil {
			s.logger.Error("health check failed", zap.Error(err))
			http.Error(w, "Database connection failed", http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy","time":"` + time.Now().Format(time.RFC3339) + `"}`))
}
