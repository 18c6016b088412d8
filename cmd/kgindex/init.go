package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"kgindex/internal/config"
	kgerrors "kgindex/internal/errors"
	"kgindex/internal/paths"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default kgindex.yaml",
	Long: `Write kgindex.yaml with the default corpus roots and settings in the current
directory and create the state directory.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing kgindex.yaml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return kgerrors.New(kgerrors.InternalError, "failed to get current directory", err)
	}
	out := cmd.OutOrStdout()

	configPath := filepath.Join(cwd, config.FileName+".yaml")
	if _, statErr := os.Stat(configPath); statErr == nil && !initForce {
		// Already initialized is success so scripts can run init unconditionally.
		fmt.Fprintf(out, "kgindex already initialized: %s\n", configPath)
		fmt.Fprintln(out, "Run 'kgindex init --force' to overwrite.")
		return nil
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		return kgerrors.New(kgerrors.InternalError, "failed to write config file", err)
	}
	layout, err := paths.NewLayout(filepath.Join(cwd, cfg.StateDir))
	if err != nil {
		return err
	}
	if err := layout.Ensure(); err != nil {
		return kgerrors.New(kgerrors.InternalError, "failed to create state directory", err)
	}

	fmt.Fprintf(out, "Wrote %s\n", configPath)
	fmt.Fprintf(out, "State directory: %s\n\n", layout.Root)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Point roots at your corpus directories")
	fmt.Fprintln(out, "  2. kgindex rebuild")
	fmt.Fprintln(out, "  3. kgindex serve")
	return nil
}
