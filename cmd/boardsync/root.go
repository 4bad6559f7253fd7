package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/boardsync/internal/api"
	"github.com/hyperengineering/boardsync/internal/board"
	"github.com/hyperengineering/boardsync/internal/config"
	"github.com/hyperengineering/boardsync/internal/engine"
	"github.com/hyperengineering/boardsync/internal/event"
	"github.com/hyperengineering/boardsync/internal/snapshot"
	"github.com/hyperengineering/boardsync/internal/types"
	"github.com/hyperengineering/boardsync/internal/worker"
	"github.com/hyperengineering/boardsync/internal/writecache"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "boardsync",
	Short:        "boardsync - board aggregate reconciliation service",
	SilenceUsage: true,
	RunE:         run,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server (default)",
	Args:  cobra.NoArgs,
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireTrigger(); err != nil {
		return err
	}

	// 3. Initialize logger
	slog.SetDefault(newLogger(cfg.Log, os.Stdout))
	slog.Info("configuration loaded",
		"board_id", cfg.Board.BoardID,
		"trigger_column", cfg.Columns.Trigger,
		"aggregate_column", cfg.Columns.Aggregate,
		"kind", cfg.Policy.Kind,
		"baseline", cfg.Policy.Baseline,
		"trigger_policy", cfg.Policy.Trigger,
	)

	// 4. Write-cache, board client and engine
	eng, cache, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("engine initialized", "state_dsn", redactDSN(cfg.State.DSN), "cached_items", cache.Len())

	// 5. Backup storage
	uploader, err := snapshot.NewUploader(cfg.Backup)
	if err != nil {
		cache.Close()
		return err
	}

	// 6. Reconcile queue and HTTP router
	reconciler := worker.NewReconcileWorker(eng, cfg.Queue.Capacity)
	handler := api.NewHandler(api.Deps{
		Normalizer: event.NewNormalizer(cfg.Columns.Trigger, types.Kind(cfg.Policy.Kind)),
		Queue:      reconciler,
		Reconciler: eng,
		Cache:      cache,
		Backups:    uploader,
		BoardID:    cfg.Board.BoardID,
		APIKey:     cfg.Auth.APIKey,
		Debug:      cfg.Server.Debug,
	})
	router := api.NewRouter(handler)
	slog.Info("router initialized", "management_api", cfg.Auth.APIKey != "", "debug", cfg.Server.Debug)

	// 7. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 8. Workers
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "reconcile", reconciler.Run)
	if cfg.Backup.Bucket != "" {
		backups := worker.NewBackupWorker(cache, uploader, cfg.Board.BoardID, time.Duration(cfg.Backup.Interval))
		startWorker(ctx, &wg, "backup", backups.Run)
	}

	// 9. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 10. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 11. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 11a. Stop accepting notifications
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 11b. Wait for the pass in flight
	wg.Wait()

	// 11c. Close write-cache backend
	if err := cache.Close(); err != nil {
		slog.Error("write-cache close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// buildEngine opens the write-cache and wires it with a board client into an
// engine. The caller owns the returned cache.
func buildEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, *writecache.Cache, error) {
	backend, err := writecache.NewBackend(cfg.State.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("write-cache backend: %w", err)
	}
	cache := writecache.Open(ctx, backend)

	client := board.NewClient(board.Options{
		APIURL:     cfg.Board.APIURL,
		APIKey:     cfg.Board.APIKey,
		APIVersion: cfg.Board.APIVersion,
		PageSize:   cfg.Board.PageSize,
		Timeout:    time.Duration(cfg.Board.Timeout),
	})

	eng, err := engine.New(engine.Config{
		BoardID:         cfg.Board.BoardID,
		AggregateColumn: cfg.Columns.Aggregate,
		SourceColumn:    cfg.Columns.Source,
		Kind:            types.Kind(cfg.Policy.Kind),
		Baseline:        engine.Baseline(cfg.Policy.Baseline),
		Trigger:         engine.TriggerPolicy(cfg.Policy.Trigger),
	}, client, cache)
	if err != nil {
		cache.Close()
		return nil, nil, err
	}
	return eng, cache, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn(ctx)
		slog.Info("worker exited", "worker", name)
	}()
}
