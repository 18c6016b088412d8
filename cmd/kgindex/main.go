package main

import (
	"fmt"
	"io"
	"os"

	kgerrors "kgindex/internal/errors"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError writes a one-line summary and, for coded errors, the
// suggested fixes.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	code := kgerrors.CodeOf(err)
	if code == kgerrors.InternalError {
		return
	}
	for _, fix := range kgerrors.GetSuggestedFixes(code) {
		switch {
		case fix.Command != "":
			fmt.Fprintf(w, "  -> %s: $ %s\n", fix.Description, fix.Command)
		case fix.Key != "":
			fmt.Fprintf(w, "  -> %s (config key %s)\n", fix.Description, fix.Key)
		}
	}
}

func errNoSnapshot(path string) error {
	return kgerrors.Newf(kgerrors.SnapshotMissing, "no committed snapshot at %s", path)
}
