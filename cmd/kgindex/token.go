package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kgindex/internal/auth"
	kgerrors "kgindex/internal/errors"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate an admin token for POST /rebuild",
	Long: `Generate a random admin token and its bcrypt hash. Put the hash in the
config as server.adminTokenHash (or KGINDEX_ADMIN_TOKEN_HASH) and send the
token as "Authorization: Bearer <token>". The token itself is not stored.

Examples:
  kgindex token
  kgindex token verify kgi_sk_...`,
	Args: cobra.NoArgs,
	RunE: runTokenGenerate,
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Check a token against the configured hash",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenVerify,
}

func init() {
	tokenCmd.AddCommand(tokenVerifyCmd)
	rootCmd.AddCommand(tokenCmd)
}

// TokenResponseCLI carries a freshly generated token.
type TokenResponseCLI struct {
	Token string `json:"token"`
	Hash  string `json:"hash"`
}

func runTokenGenerate(cmd *cobra.Command, args []string) error {
	token, err := auth.GenerateToken()
	if err != nil {
		return err
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}

	if OutputFormat(formatFlag) == FormatJSON {
		return printResponse(cmd, &TokenResponseCLI{Token: token, Hash: hash})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Admin token (shown once, store it securely):")
	fmt.Fprintf(out, "  %s\n\n", token)
	fmt.Fprintln(out, "Add the hash to kgindex.yaml:")
	fmt.Fprintln(out, "  server:")
	fmt.Fprintf(out, "    adminTokenHash: %q\n", hash)
	return nil
}

func runTokenVerify(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	hash := env.cfg.Server.AdminTokenHash
	switch {
	case hash == "":
		return kgerrors.Newf(kgerrors.ConfigInvalid, "server.adminTokenHash is not set")
	case !auth.IsValidHash(hash):
		return kgerrors.Newf(kgerrors.ConfigInvalid, "server.adminTokenHash is not a bcrypt hash")
	case !auth.IsValidTokenFormat(args[0]):
		return kgerrors.Newf(kgerrors.Unauthorized, "malformed token %s", auth.MaskToken(args[0]))
	case !auth.VerifyToken(args[0], hash):
		return kgerrors.Newf(kgerrors.Unauthorized, "token %s does not match server.adminTokenHash", auth.MaskToken(args[0]))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token %s matches the configured hash.\n", auth.MaskToken(args[0]))
	return nil
}
