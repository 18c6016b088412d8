package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"kgindex/internal/config"
	"kgindex/internal/corpus"
	"kgindex/internal/index"
	"kgindex/internal/query"
	"kgindex/internal/rebuild"
	"kgindex/internal/version"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show kgindex status",
	Long: `Display the committed snapshot, whether the corpus changed since it was
built, the index lock holder and the retained backups.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// StatusResponseCLI contains the complete status for CLI output
type StatusResponseCLI struct {
	Version   string                 `json:"version"`
	Snapshot  query.Info             `json:"snapshot"`
	Freshness *index.FreshnessResult `json:"freshness,omitempty"`
	Roots     []config.RootConfig    `json:"roots"`
	Lock      string                 `json:"lock,omitempty"`
	Backups   []rebuild.Backup       `json:"backups"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	ctx := cmd.Context()

	engine, err := env.engine(ctx, env.logger)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	o, err := env.orchestrator(env.logger)
	if err != nil {
		return err
	}
	backups, err := o.Backups()
	if err != nil {
		return fmt.Errorf("listing backups: %w", err)
	}

	resp := &StatusResponseCLI{
		Version:  version.Info(),
		Snapshot: engine.Info(),
		Roots:    env.cfg.Roots,
		Backups:  backups,
	}
	if pid, held := index.HolderPID(env.layout.Root); held {
		resp.Lock = fmt.Sprintf("held by pid %d", pid)
	}
	if fresh, err := freshness(ctx, env); err != nil {
		env.logger.Warn("Cannot check corpus freshness", "error", err)
	} else {
		resp.Freshness = fresh
	}
	return printResponse(cmd, resp)
}

// freshness scans the corpus and compares its fingerprint with the sidecar
// written by the last commit.
func freshness(ctx context.Context, env *cliEnv) (*index.FreshnessResult, error) {
	rc, err := rebuild.ConfigFrom(env.cfg)
	if err != nil {
		return nil, err
	}
	opts := rc.Scan
	opts.SkipPaths = append(opts.SkipPaths, env.layout.Root)
	scan, err := corpus.NewScanner(opts, env.logger).Scan(ctx, rc.Roots)
	if err != nil {
		return nil, err
	}
	meta, err := index.LoadMeta(env.layout.Root)
	if err != nil {
		return nil, err
	}
	result := meta.CheckFreshness(scan.Fingerprint)
	return &result, nil
}
