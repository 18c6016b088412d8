package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kgindex/internal/graph"
	"kgindex/internal/query"
	"kgindex/internal/rebuild"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// formatJSON formats the response as JSON
func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *SearchResponseCLI:
		return formatSearchHuman(v), nil
	case *graph.Entity:
		return formatEntityHuman(v), nil
	case *query.NeighborsResult:
		return formatNeighborsHuman(v), nil
	case *query.EvolutionChain:
		return formatChainHuman(v), nil
	case *query.StatsResponse:
		return formatStatsHuman(v), nil
	case *GuidesResponseCLI:
		return formatGuidesHuman(v), nil
	case *StatusResponseCLI:
		return formatStatusHuman(v), nil
	case *BackupsResponseCLI:
		return formatBackupsHuman(v), nil
	case *rebuild.Outcome:
		return formatOutcomeHuman(v), nil
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

// printResponse writes resp to the command's stdout in the --format style.
func printResponse(cmd *cobra.Command, resp interface{}) error {
	output, err := FormatResponse(resp, OutputFormat(formatFlag))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(output, "\n"))
	return err
}

func header(b *strings.Builder, title string) {
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", 60) + "\n\n")
}

func formatSearchHuman(resp *SearchResponseCLI) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Search Results for: %s", resp.Query))
	if resp.Degraded {
		b.WriteString(fmt.Sprintf("! semantic search unavailable (%s); keyword results shown\n\n", resp.Reason))
	}
	b.WriteString(fmt.Sprintf("Found %d matches\n\n", len(resp.Results)))
	for i, r := range resp.Results {
		b.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, r.Entity.Title, r.Entity.Type))
		b.WriteString(fmt.Sprintf("   ID: %s\n", r.Entity.ID))
		b.WriteString(fmt.Sprintf("   Tier: %d, matched tokens: %d\n\n", r.Tier, r.MatchedTokens))
	}
	return b.String()
}

func formatEntityHuman(e *graph.Entity) string {
	var b strings.Builder
	header(&b, e.Title)
	b.WriteString(fmt.Sprintf("ID: %s\n", e.ID))
	b.WriteString(fmt.Sprintf("Type: %s\n", e.Type))
	b.WriteString(fmt.Sprintf("Provenance: %s\n", e.Provenance))
	b.WriteString(fmt.Sprintf("Source: %s\n", e.Path))
	if e.Attrs != nil {
		if text := e.Attrs.Text(); len(text) > 0 {
			b.WriteString("\n" + strings.Join(text, "\n") + "\n")
		}
	}
	return b.String()
}

func formatNeighborsHuman(resp *query.NeighborsResult) string {
	var b strings.Builder
	kind := string(resp.Kind)
	if kind == "" {
		kind = "all kinds"
	}
	header(&b, fmt.Sprintf("Neighbors of %s (%s, %s)", resp.ID, kind, resp.Direction))
	if len(resp.Neighbors) == 0 {
		b.WriteString("No neighbors.\n")
	}
	for _, n := range resp.Neighbors {
		b.WriteString(fmt.Sprintf("  %s  %s\n", n.ID, n.Title))
	}
	return b.String()
}

func formatChainHuman(c *query.EvolutionChain) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("Evolution of %s", c.Family))
	if len(c.Versions) == 0 {
		b.WriteString("No protocol versions in this family.\n")
	}
	for i, v := range c.Versions {
		if i > 0 {
			b.WriteString("  |\n  v\n")
		}
		b.WriteString(fmt.Sprintf("  %s (%s)\n", v.Title, v.ID))
	}
	return b.String()
}

func formatStatsHuman(s *query.StatsResponse) string {
	var b strings.Builder
	header(&b, "Graph Statistics")
	if !s.Loaded {
		b.WriteString("No snapshot loaded.\n")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("Graph version: %s\n", s.GraphVersion))
	b.WriteString(fmt.Sprintf("Built: %s\n", s.BuiltAt.Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("Source files: %d\n", s.SourceFiles))
	b.WriteString(fmt.Sprintf("Entities: %d, edges: %d\n\n", s.Entities, s.Edges))
	writeCounts(&b, "By type", s.ByType)
	writeCounts(&b, "By relation", s.ByKind)
	writeCounts(&b, "By provenance", s.ByProvenance)
	return b.String()
}

func writeCounts[K ~string](b *strings.Builder, title string, counts map[K]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]K, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	b.WriteString(title + ":\n")
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("  %-22s %d\n", k, counts[k]))
	}
	b.WriteString("\n")
}

func formatGuidesHuman(resp *GuidesResponseCLI) string {
	var b strings.Builder
	header(&b, "Vulnerability Guides")
	b.WriteString(fmt.Sprintf("Found %d guides\n\n", len(resp.Guides)))
	for i, g := range resp.Guides {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, g.Title))
		b.WriteString(fmt.Sprintf("   ID: %s\n", g.ID))
		if attrs, ok := g.Attrs.(*graph.GuideAttrs); ok {
			if sev, ok := graph.Value(attrs.Severity); ok {
				b.WriteString(fmt.Sprintf("   Severity: %s\n", sev))
			}
			if loss, ok := graph.Value(attrs.EstimatedLossUSD); ok {
				b.WriteString(fmt.Sprintf("   Estimated loss: %s\n", formatUSD(loss)))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatStatusHuman(resp *StatusResponseCLI) string {
	var b strings.Builder
	header(&b, fmt.Sprintf("kgindex Status - v%s", resp.Version))

	healthIcon, healthText := "✓", "Snapshot loaded"
	if !resp.Snapshot.Loaded {
		healthIcon, healthText = "✗", "No snapshot"
	}
	b.WriteString(fmt.Sprintf("%s %s\n\n", healthIcon, healthText))

	b.WriteString("Snapshot:\n")
	b.WriteString(fmt.Sprintf("  Path: %s\n", resp.Snapshot.Path))
	if resp.Snapshot.Loaded {
		b.WriteString(fmt.Sprintf("  Graph version: %s\n", resp.Snapshot.GraphVersion))
		b.WriteString(fmt.Sprintf("  Fingerprint: %s\n", shortHash(resp.Snapshot.Fingerprint)))
		b.WriteString(fmt.Sprintf("  Built: %s\n", resp.Snapshot.BuiltAt.Format(time.RFC3339)))
	}
	if f := resp.Freshness; f != nil {
		if f.Fresh {
			b.WriteString(fmt.Sprintf("  Corpus: unchanged (built %s ago)\n", f.Age))
		} else {
			b.WriteString(fmt.Sprintf("  Corpus: stale, %s; run kgindex rebuild\n", f.Reason))
		}
	}
	b.WriteString("\n")

	b.WriteString("Corpus roots:\n")
	for _, r := range resp.Roots {
		b.WriteString(fmt.Sprintf("  %s: %s\n", r.Provenance, r.Path))
	}
	b.WriteString("\n")

	if resp.Lock != "" {
		b.WriteString(fmt.Sprintf("Index lock: %s\n\n", resp.Lock))
	}
	b.WriteString(fmt.Sprintf("Backups: %d\n", len(resp.Backups)))
	if len(resp.Backups) > 0 {
		b.WriteString(fmt.Sprintf("  Latest: %s\n", resp.Backups[0].Name))
	}
	return b.String()
}

func formatBackupsHuman(resp *BackupsResponseCLI) string {
	var b strings.Builder
	header(&b, "Snapshot Backups")
	if len(resp.Backups) == 0 {
		b.WriteString("No backups.\n")
	}
	for _, bk := range resp.Backups {
		b.WriteString(fmt.Sprintf("  %s  %s  %s\n", bk.Name, bk.CreatedAt.Format(time.RFC3339), formatBytes(bk.Size)))
	}
	return b.String()
}

func formatOutcomeHuman(out *rebuild.Outcome) string {
	var b strings.Builder
	if out.Skipped {
		b.WriteString(fmt.Sprintf("Corpus unchanged (fingerprint %s); snapshot kept.\n", shortHash(out.Fingerprint)))
		return b.String()
	}
	b.WriteString(fmt.Sprintf("Committed graph %s (%s mode)\n", out.GraphVersion, out.Mode))
	b.WriteString(fmt.Sprintf("  Files: %d, entities: %d, edges: %d\n", out.Files, out.Entities, out.Edges))
	if out.SkippedFiles > 0 {
		b.WriteString(fmt.Sprintf("  Skipped files: %d\n", out.SkippedFiles))
	}
	if out.Backup != "" {
		b.WriteString(fmt.Sprintf("  Previous snapshot saved as %s\n", out.Backup))
	}
	for _, w := range out.Warnings {
		b.WriteString(fmt.Sprintf("  ! %s %s: %s\n", w.Stage, w.Path, w.Err))
	}
	b.WriteString(fmt.Sprintf("  Took %s\n", out.Duration.Round(time.Millisecond)))
	return b.String()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// formatUSD renders whole dollars with a magnitude suffix.
func formatUSD(v int64) string {
	switch {
	case v >= 1_000_000_000:
		return fmt.Sprintf("$%.1fB", float64(v)/1e9)
	case v >= 1_000_000:
		return fmt.Sprintf("$%.1fM", float64(v)/1e6)
	case v >= 1_000:
		return fmt.Sprintf("$%.1fK", float64(v)/1e3)
	}
	return fmt.Sprintf("$%d", v)
}

// formatBytes formats byte size in human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
