// Shunt Server
//
// Serves the file trees of hosted sites, kept current from a remote delta
// service or read straight from a local site folder.
//
// Features:
// - Cursor-based delta sync with a freshness window
// - Memory, file, PostgreSQL and S3 record stores
// - SSE refresh notifications
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/timkendrick/shunt/internal/adapter/local"
	"github.com/timkendrick/shunt/internal/api"
	"github.com/timkendrick/shunt/internal/config"
	"github.com/timkendrick/shunt/internal/events"
	"github.com/timkendrick/shunt/internal/logging"
	"github.com/timkendrick/shunt/internal/metrics"
	"github.com/timkendrick/shunt/internal/record"
	"github.com/timkendrick/shunt/internal/syncer"
	"github.com/timkendrick/shunt/pkg/client"
	"github.com/timkendrick/shunt/pkg/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Shunt server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("source", cfg.Source))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := events.NewBroadcaster()

	var (
		source api.TreeSource
		prefix api.PrefixFunc
	)
	switch cfg.Source {
	case config.SourceLocal:
		source = local.New(afero.NewOsFs(), cfg.LocalSiteRoot)
		prefix = func(key models.AppKey) string { return key.User + "/" + key.App }
		logging.Info("serving local site folders", zap.String("root", cfg.LocalSiteRoot))

	default:
		store, err := record.Open(ctx, cfg.RecordConfig())
		if err != nil {
			logging.Fatal("record store init failed", zap.Error(err))
		}
		defer store.Close()
		logging.Info("record store ready", zap.String("backend", cfg.RecordStore))

		deltaClient := client.New(client.Config{
			BaseURL:        cfg.DeltaURL,
			Token:          cfg.DeltaToken,
			Timeout:        cfg.DeltaTimeout,
			CallsPerMinute: cfg.DeltaCallsPerMinute,
			Logger:         logging.L(),
		})
		if err := deltaClient.Ping(ctx); err != nil {
			// Not fatal: trees are served stale until the remote comes back
			logging.Warn("delta service unreachable", zap.String("url", cfg.DeltaURL), zap.Error(err))
		}

		trees, err := syncer.New(syncer.Config{
			Fetcher:        deltaClient,
			Store:          store,
			TTL:            cfg.CacheTTL,
			MaxPages:       cfg.DeltaMaxPages,
			RefreshTimeout: cfg.RefreshTimeout,
			Broadcaster:    broadcaster,
		})
		if err != nil {
			logging.Fatal("syncer init failed", zap.Error(err))
		}
		source = trees
		prefix = func(key models.AppKey) string { return cfg.SitePrefix(key.User, key.App) }

		go func() {
			ticker := time.NewTicker(1 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					deltaClient.PruneBudget(24 * time.Hour)
				}
			}
		}()
	}

	srv := api.NewServer(source, prefix, broadcaster)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// SSE streams end when ctx is canceled
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}
