package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kgindex/internal/config"
	"kgindex/internal/watcher"
)

var (
	watchInterval time.Duration
	watchNoNotify bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the graph current",
	Long: `Run a quick rebuild immediately and then on every interval until
interrupted. File system events under the corpus roots trigger an early
rebuild. Logs are also written to <stateDir>/logs/watch.log.

Examples:
  kgindex watch
  kgindex watch --interval 5m`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "Poll interval (default from watch.interval)")
	watchCmd.Flags().BoolVar(&watchNoNotify, "no-fsnotify", false, "Disable file system event nudges")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	logger := env.factory.Component("watch")

	o, err := env.orchestrator(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := watcher.New(watchConfig(env.cfg), o, logger)
	logger.Info("Watching corpus", "interval", loop.Interval().String(), "roots", len(env.cfg.Roots))
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("Watch stopped", "stats", loop.Stats())
	return nil
}

// watchConfig applies the --interval and --no-fsnotify flags over the
// configured watch settings.
func watchConfig(cfg *config.Config) watcher.Config {
	wc := watcher.Config{
		Interval: cfg.Watch.Interval,
		FSNotify: cfg.Watch.FSNotify && !watchNoNotify,
		Debounce: time.Duration(cfg.Watch.DebounceMs) * time.Millisecond,
	}
	if watchInterval > 0 {
		wc.Interval = watchInterval
	}
	for _, r := range cfg.Roots {
		wc.Roots = append(wc.Roots, r.Path)
	}
	return wc
}

// runLoopInBackground starts the watch loop and returns a channel closed when
// it exits.
func runLoopInBackground(ctx context.Context, loop *watcher.Loop) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx)
		close(done)
	}()
	return done
}
