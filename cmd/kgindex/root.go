package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"kgindex/internal/config"
	kgerrors "kgindex/internal/errors"
	"kgindex/internal/paths"
	"kgindex/internal/query"
	"kgindex/internal/rebuild"
	"kgindex/internal/slogutil"
	"kgindex/internal/version"
)

var (
	configFlag  string
	verboseFlag int
	quietFlag   bool
	formatFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "kgindex",
	Short: "kgindex - knowledge graph indexer for security research corpora",
	Long: `kgindex scans a corpus of vulnerability guides, protocol docs, deep-dives and
vulnerable contract examples, builds a typed knowledge graph from them and
serves keyword, graph and semantic queries over the committed snapshot.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("kgindex version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: kgindex.yaml in . or .kgindex/)")
	rootCmd.PersistentFlags().CountVarP(&verboseFlag, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress log output")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "human", "Output format (json, human)")
}

// cliEnv is the configuration and logging shared by every command.
type cliEnv struct {
	cfg     *config.Config
	layout  paths.Layout
	level   slog.Level
	logger  *slog.Logger
	factory *slogutil.LoggerFactory
}

// loadEnv reads the config, validates it and builds the console logger.
func loadEnv() (*cliEnv, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	cfg, err := config.LoadConfig(configFlag, cwd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, kgerrors.New(kgerrors.ConfigInvalid, "invalid configuration", err)
	}
	layout, err := paths.NewLayout(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	level := slogutil.LevelFromVerbosity(verboseFlag, quietFlag, slogutil.LevelFromString(cfg.Logging.Level))
	factory := slogutil.NewLoggerFactory(layout, cfg.Logging, level)
	return &cliEnv{
		cfg:     cfg,
		layout:  layout,
		level:   level,
		logger:  factory.Console(),
		factory: factory,
	}, nil
}

func (e *cliEnv) Close() {
	_ = e.factory.Close()
}

// orchestrator creates the rebuild orchestrator from the config.
func (e *cliEnv) orchestrator(logger *slog.Logger, opts ...rebuild.Option) (*rebuild.Orchestrator, error) {
	rc, err := rebuild.ConfigFrom(e.cfg)
	if err != nil {
		return nil, err
	}
	return rebuild.New(rc, logger, opts...)
}

// engine opens the query engine over the live snapshot. A missing snapshot
// is not an error; the engine answers empty until a rebuild commits one.
func (e *cliEnv) engine(ctx context.Context, logger *slog.Logger) (*query.Engine, error) {
	var opts []query.Option
	if e.cfg.Semantic.Endpoint != "" {
		client := query.NewHTTPSemanticClient(e.cfg.Semantic.Endpoint, logger)
		opts = append(opts, query.WithSemantic(client, e.cfg.SemanticTimeout()))
	}
	return query.Open(ctx, e.layout.LiveSnapshot(), logger, opts...)
}

// readEngine opens the engine for a one-shot read command and fails when no
// snapshot has been committed yet.
func (e *cliEnv) readEngine(ctx context.Context) (*query.Engine, error) {
	engine, err := e.engine(ctx, e.logger)
	if err != nil {
		return nil, err
	}
	if !engine.Loaded() {
		_ = engine.Close()
		return nil, errNoSnapshot(e.layout.LiveSnapshot())
	}
	return engine, nil
}
