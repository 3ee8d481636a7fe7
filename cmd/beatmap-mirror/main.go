package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Turtlebole/osu-beatmap-mirror/internal/cache"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/config"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/logger"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/osuapi"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/ratelimit"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/resolver"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/server"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/source"
	"github.com/Turtlebole/osu-beatmap-mirror/internal/stats"
)

const version = "1.0.0"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	zapLogger, err := logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting beatmap mirror",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	// Open statistics database
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = filepath.Join(cfg.Cache.RootDir, "stats.db")
	}
	statsStore, err := stats.Open(dbPath)
	if err != nil {
		zapLogger.Fatal("failed to open statistics database", zap.Error(err), zap.String("path", dbPath))
	}
	defer statsStore.Close()

	// Build the source chain: the authoritative catalog when credentials
	// are configured, then the public mirrors.
	var sources []source.Source
	var apiClient *osuapi.Client
	if cfg.API.ClientID != "" {
		apiClient = osuapi.NewClient(cfg.API.BaseURL, cfg.API.ClientID, cfg.API.ClientSecret)
		sources = append(sources, source.Authoritative(apiClient, cfg.API.GetSourceTimeout()))
		zapLogger.Info("authoritative source enabled", zap.String("base_url", cfg.API.BaseURL))
	} else {
		zapLogger.Info("no API credentials configured, serving from public mirrors only")
	}

	if len(cfg.Mirrors) > 0 {
		for _, m := range cfg.Mirrors {
			sources = append(sources, source.Mirror(m.Name, m.URLTemplate, m.Referer, m.Priority, m.GetTimeout()))
		}
	} else {
		sources = append(sources, source.DefaultMirrors()...)
	}

	// Initialize the archive cache
	archiveCache, err := cache.New(cfg.Cache.RootDir, cfg.Cache.GetMaxAge(), zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to initialize cache", zap.Error(err), zap.String("dir", cfg.Cache.RootDir))
	}

	res := resolver.New(sources, archiveCache, zapLogger)
	limiter := ratelimit.New(cfg.RateLimit.Threshold, cfg.RateLimit.GetWindow())

	// Leave meta nil without credentials; deliveries then use the
	// fallback filename.
	var meta server.MetadataLookup
	if apiClient != nil {
		meta = apiClient
	}
	downloadHandler := server.NewDownloadHandler(res, meta, limiter, statsStore, zapLogger)

	serverCfg := &server.Config{
		BindAddr:      cfg.HTTP.BindAddr,
		AdminUsername: cfg.HTTP.AdminUsername,
		AdminPassword: cfg.HTTP.AdminPassword,
		ReadTimeout:   cfg.HTTP.GetReadTimeout(),
		WriteTimeout:  cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:   cfg.HTTP.GetIdleTimeout(),
	}
	httpServer := server.New(serverCfg, downloadHandler, limiter, statsStore, zapLogger)

	// Start HTTP server
	go func() {
		if err := httpServer.Start(); err != nil {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	zapLogger.Info("beatmap mirror started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("cache_dir", cfg.Cache.RootDir),
		zap.Int("sources", len(sources)),
	)
	<-sigChan

	zapLogger.Info("shutdown signal received, stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}

	zapLogger.Info("beatmap mirror stopped")
}
