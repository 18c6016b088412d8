package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"kgindex/internal/api"
	"kgindex/internal/auth"
	"kgindex/internal/query"
	"kgindex/internal/rebuild"
	"kgindex/internal/watcher"
)

var (
	serveAddr   string
	serveWatch  bool
	serveReload time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP API server",
	Long: `Start the kgindex HTTP API over the committed snapshot. Readers always see
a complete snapshot: rebuilds commit a new file and the server swaps to it
without dropping in-flight queries.

With --watch the server also runs the watch loop and reloads after every
commit. Otherwise it checks for a newer snapshot every --reload interval.

Examples:
  kgindex serve
  kgindex serve --addr :9090 --watch`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default from server.addr)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Run the watch loop inside the server")
	serveCmd.Flags().DurationVar(&serveReload, "reload", 30*time.Second, "Snapshot reload check interval when not watching (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	logger := env.factory.Component("serve")

	addr := env.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := env.engine(ctx, logger)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()
	if !engine.Loaded() {
		logger.Warn("No committed snapshot yet; queries return empty results until a rebuild commits", "path", env.layout.LiveSnapshot())
	}

	registry := prometheus.NewRegistry()
	o, err := env.orchestrator(logger,
		rebuild.WithMetrics(rebuild.NewMetrics(registry)),
		rebuild.WithCommitHook(func(out *rebuild.Outcome) {
			if _, err := engine.Reload(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Reload after commit failed", "graphVersion", out.GraphVersion, "error", err)
			}
		}),
	)
	if err != nil {
		return err
	}

	guard := auth.NewAdminGuard(env.cfg.Server.AdminTokenHash, auth.DefaultRateLimitConfig(), logger)
	if !guard.Configured() {
		logger.Info("Admin endpoints disabled; set server.adminTokenHash to enable POST /rebuild")
	}
	server := api.NewServer(addr, engine, logger,
		api.WithRebuilder(o),
		api.WithAdminGuard(guard),
		api.WithRegistry(registry),
	)

	var loopDone <-chan error
	if serveWatch {
		loop := watcher.New(watchConfig(env.cfg), o, logger)
		loopDone = runLoopInBackground(ctx, loop)
	} else if serveReload > 0 {
		go reloadLoop(ctx, engine, serveReload, logger)
	}

	serverErr := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.ErrOrStderr(), "kgindex HTTP API server listening on http://%s\n", addr)
		serverErr <- server.Start()
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
		if runErr != nil {
			logger.Error("Server error", "error", runErr)
		}
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", "error", err)
			runErr = err
		}
	}

	// A rebuild in progress runs to completion before the loop returns.
	stop()
	if loopDone != nil {
		<-loopDone
	}
	if runErr == nil {
		logger.Info("Server stopped gracefully")
	}
	return runErr
}

// reloadLoop picks up snapshots committed by another process.
func reloadLoop(ctx context.Context, engine *query.Engine, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swapped, err := engine.Reload(ctx); err != nil {
				logger.Debug("Snapshot reload check failed", "error", err)
			} else if swapped {
				logger.Debug("Picked up new snapshot")
			}
		}
	}
}
