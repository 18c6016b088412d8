package main

import (
	"strings"

	"github.com/spf13/cobra"

	kgerrors "kgindex/internal/errors"
	"kgindex/internal/extract"
	"kgindex/internal/graph"
	"kgindex/internal/query"
)

var (
	searchLimit    int
	searchSemantic bool

	neighborsKind      string
	neighborsDirection string

	guidesSeverity string
	guidesMinLoss  string
)

var searchCmd = &cobra.Command{
	Use:   "search <keyword...>",
	Short: "Search entities by keyword",
	Long: `Rank entities against the keyword: exact title matches first, then partial
title matches, then attribute matches.

Examples:
  kgindex search reentrancy
  kgindex search uniswap v3 --limit 5
  kgindex search "price oracle" --semantic`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var entityCmd = &cobra.Command{
	Use:   "entity <id>",
	Short: "Show one entity",
	Args:  cobra.ExactArgs(1),
	RunE:  runEntity,
}

var neighborsCmd = &cobra.Command{
	Use:   "neighbors <id>",
	Short: "List entities adjacent to an entity",
	Long: `List entities one edge away, optionally restricted to a relation kind.

Examples:
  kgindex neighbors protocol-version:curated:protocols/uniswap/v3.md --kind SUPERSEDES
  kgindex neighbors guide:curated:03-attack-prevention/reentrancy.md --direction in`,
	Args: cobra.ExactArgs(1),
	RunE: runNeighbors,
}

var chainCmd = &cobra.Command{
	Use:   "chain <family>",
	Short: "Show the version chain of a protocol family, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runChain,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var guidesCmd = &cobra.Command{
	Use:   "guides",
	Short: "List vulnerability guides by severity and estimated loss",
	Long: `List vulnerability guides, largest estimated loss first.

Examples:
  kgindex guides --severity critical
  kgindex guides --min-loss 10M`,
	Args: cobra.NoArgs,
	RunE: runGuides,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", query.DefaultLimit, "Maximum results")
	searchCmd.Flags().BoolVar(&searchSemantic, "semantic", false, "Use the semantic search service, falling back to keyword search")
	neighborsCmd.Flags().StringVar(&neighborsKind, "kind", "", "Relation kind (SUPERSEDES, PAIRS_WITH, EXPLAINS, DEMONSTRATES, PROVIDES_PERSPECTIVE)")
	neighborsCmd.Flags().StringVar(&neighborsDirection, "direction", "out", "Edge direction (out, in, both)")
	guidesCmd.Flags().StringVar(&guidesSeverity, "severity", "", "Only guides with this severity")
	guidesCmd.Flags().StringVar(&guidesMinLoss, "min-loss", "", "Only guides with at least this estimated loss (e.g. 5000000, $10M)")

	for _, c := range []*cobra.Command{searchCmd, entityCmd, neighborsCmd, chainCmd, statsCmd, guidesCmd} {
		rootCmd.AddCommand(c)
	}
}

// SearchResponseCLI holds keyword or semantic search results.
type SearchResponseCLI struct {
	Query    string               `json:"query"`
	Results  []query.SearchResult `json:"results"`
	Degraded bool                 `json:"degraded,omitempty"`
	Reason   string               `json:"reason,omitempty"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	engine, err := env.readEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	q := strings.Join(args, " ")
	resp := &SearchResponseCLI{Query: q}
	if searchSemantic {
		sem := engine.SemanticSearch(cmd.Context(), q, searchLimit)
		resp.Results, resp.Degraded, resp.Reason = sem.Results, sem.Degraded, sem.Reason
	} else {
		resp.Results = engine.Search(cmd.Context(), q, searchLimit)
	}
	return printResponse(cmd, resp)
}

func runEntity(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	engine, err := env.readEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	entity, found := engine.GetEntity(cmd.Context(), args[0])
	if !found {
		return kgerrors.Newf(kgerrors.EntityNotFound, "entity not found: %s", args[0])
	}
	return printResponse(cmd, &entity)
}

func runNeighbors(cmd *cobra.Command, args []string) error {
	var kind graph.RelationKind
	if neighborsKind != "" {
		k, ok := graph.ParseRelationKind(neighborsKind)
		if !ok {
			return kgerrors.Newf(kgerrors.QueryInvalid, "unknown relation kind: %s", neighborsKind)
		}
		kind = k
	}
	dir, ok := graph.ParseDirection(neighborsDirection)
	if !ok {
		return kgerrors.Newf(kgerrors.QueryInvalid, "direction must be out, in or both, got %s", neighborsDirection)
	}

	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	engine, err := env.readEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	resp := engine.GetNeighbors(cmd.Context(), args[0], kind, dir)
	if !resp.Found {
		return kgerrors.Newf(kgerrors.EntityNotFound, "entity not found: %s", args[0])
	}
	return printResponse(cmd, resp)
}

func runChain(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	engine, err := env.readEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	return printResponse(cmd, engine.GetEvolutionChain(cmd.Context(), args[0]))
}

func runStats(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	engine, err := env.readEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	return printResponse(cmd, engine.Stats(cmd.Context()))
}

// GuidesResponseCLI lists filtered vulnerability guides.
type GuidesResponseCLI struct {
	Severity   string         `json:"severity,omitempty"`
	MinLossUSD int64          `json:"minLossUsd,omitempty"`
	Guides     []graph.Entity `json:"guides"`
}

func runGuides(cmd *cobra.Command, args []string) error {
	minLoss, err := parseLoss(guidesMinLoss)
	if err != nil {
		return err
	}

	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()
	engine, err := env.readEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	return printResponse(cmd, &GuidesResponseCLI{
		Severity:   guidesSeverity,
		MinLossUSD: minLoss,
		Guides:     engine.FindGuides(cmd.Context(), guidesSeverity, minLoss),
	})
}

// parseLoss reads an amount such as 5000000, $10M or "1.2 billion".
func parseLoss(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	v, ok := extract.ParseLossUSD(s)
	if !ok {
		return 0, kgerrors.Newf(kgerrors.QueryInvalid, "invalid loss amount: %q", s)
	}
	return v, nil
}
