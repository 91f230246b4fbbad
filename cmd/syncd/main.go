package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftkit/driftsync/internal/api"
	"github.com/driftkit/driftsync/internal/config"
	"github.com/driftkit/driftsync/internal/engine"
	"github.com/driftkit/driftsync/internal/eventlog"
	"github.com/driftkit/driftsync/internal/remote"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	cfgPath := flag.String("config", "", "Path to sync YAML config (optional; defaults apply)")
	dbPath := flag.String("db", "driftsync.db", "Path to the local event log database")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	var (
		cfg    *config.Config
		loader *config.Loader
	)
	if *cfgPath != "" {
		var err error
		loader, err = config.NewLoader(*cfgPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
		cfg = loader.Config()
	} else {
		cfg = config.Default(*dbPath)
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = *dbPath
	}

	// ── Local event log ───────────────────────────────────────────────────────
	log, err := eventlog.Open(cfg.Storage.Path)
	if err != nil {
		slog.Error("failed to open event log", "path", cfg.Storage.Path, "err", err)
		os.Exit(1)
	}
	defer log.Close()
	slog.Info("event log open", "path", cfg.Storage.Path)

	// ── Remote replica ────────────────────────────────────────────────────────
	var replica remote.Replica
	if cfg.Remote.BaseURL != "" {
		client, err := remote.NewClient(cfg.Remote.BaseURL,
			remote.WithHTTPClient(&http.Client{Timeout: cfg.Remote.Timeout()}))
		if err != nil {
			slog.Error("failed to build remote client", "err", err)
			os.Exit(1)
		}
		replica = client
		slog.Info("remote replica configured", "base_url", cfg.Remote.BaseURL)
	} else {
		replica = remote.NewMemory()
		slog.Warn("no remote configured; using in-memory replica (local development)")
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(log, replica, cfg.Sync)
	eng.OnSyncError(func(err error) {
		slog.Error("sync error", "err", err)
	})
	eng.OnSyncComplete(func(res *engine.Result) {
		slog.Info("sync cycle complete",
			"success", res.Success,
			"synced", len(res.SyncedIDs),
			"failed", len(res.FailedEvents),
			"conflicts", len(res.Conflicts),
			"duration_ms", res.DurationMs,
		)
	})

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	if loader != nil {
		loader.OnChange(func(newCfg *config.Config) {
			eng.UpdateConfig(newCfg.Sync)
			slog.Info("sync config hot-reloaded",
				"batch_size", newCfg.Sync.BatchSize,
				"interval", newCfg.Sync.Interval(),
				"strategy", newCfg.Sync.ConflictStrategy,
			)
		})
		stopWatch, err := loader.Watch()
		if err != nil {
			slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
		} else {
			defer stopWatch()
		}
	}

	eng.Start(ctx)

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(log, eng, cfg.DeviceID)
	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	eng.Stop()
	cancel()
	slog.Info("goodbye")
}
