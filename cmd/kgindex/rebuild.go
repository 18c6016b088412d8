package main

import (
	"github.com/spf13/cobra"

	"kgindex/internal/rebuild"
)

var rebuildQuick bool

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the knowledge graph",
	Long: `Scan the corpus roots, extract entities, infer relations and commit a new
snapshot. The previous snapshot is backed up first; a failed rebuild leaves it
in place.

Examples:
  kgindex rebuild           # Always rebuild
  kgindex rebuild --quick   # Skip when the corpus fingerprint is unchanged`,
	Args: cobra.NoArgs,
	RunE: runRebuild,
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List snapshot backups, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBackups,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Restore a snapshot backup",
	Long: `Replace the live snapshot with a backup listed by 'kgindex backups'. The
current snapshot is itself backed up before it is replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	rebuildCmd.Flags().BoolVar(&rebuildQuick, "quick", false, "Skip the rebuild when the corpus is unchanged")
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(restoreCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	o, err := env.orchestrator(env.logger)
	if err != nil {
		return err
	}
	mode := rebuild.ModeFull
	if rebuildQuick {
		mode = rebuild.ModeQuick
	}
	out, err := o.Run(cmd.Context(), mode)
	if err != nil {
		return err
	}
	return printResponse(cmd, out)
}

// BackupsResponseCLI lists retained backups.
type BackupsResponseCLI struct {
	Dir     string           `json:"dir"`
	Backups []rebuild.Backup `json:"backups"`
}

func runBackups(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	o, err := env.orchestrator(env.logger)
	if err != nil {
		return err
	}
	backups, err := o.Backups()
	if err != nil {
		return err
	}
	return printResponse(cmd, &BackupsResponseCLI{Dir: env.layout.BackupsDir(), Backups: backups})
}

func runRestore(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	o, err := env.orchestrator(env.logger)
	if err != nil {
		return err
	}
	out, err := o.Restore(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printResponse(cmd, out)
}
