// Package infer derives typed relationships between extracted entities.
package infer

import (
	"fmt"
	"log/slog"

	"kgindex/internal/graph"
)

// Inferencer runs an ordered list of rules over one entity set.
type Inferencer struct {
	rules  []Rule
	logger *slog.Logger
}

// New creates an inferencer. A nil rules list uses DefaultRules.
func New(rules []Rule, logger *slog.Logger) *Inferencer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Inferencer{rules: rules, logger: logger}
}

// Run applies every rule and returns the deduplicated edge set sorted by
// (source, kind, target). A rule error, an edge whose endpoints are not in
// entities, or a malformed SUPERSEDES chain fails the run.
func (in *Inferencer) Run(entities []graph.Entity) ([]graph.Edge, error) {
	ids := make(map[string]bool, len(entities))
	for _, e := range entities {
		ids[e.ID] = true
	}

	var all []graph.Edge
	for _, rule := range in.rules {
		edges, err := rule.Infer(entities)
		if err != nil {
			return nil, fmt.Errorf("%s rule: %w", rule.Kind(), err)
		}
		for _, e := range edges {
			if e.Kind != rule.Kind() {
				return nil, fmt.Errorf("%s rule emitted %s edge %s", rule.Kind(), e.Kind, e)
			}
			if !ids[e.Source] || !ids[e.Target] {
				return nil, fmt.Errorf("%s rule: dangling edge %s", rule.Kind(), e)
			}
			if e.Source == e.Target {
				return nil, fmt.Errorf("%s rule: self loop on %s", rule.Kind(), e.Source)
			}
		}
		in.logger.Debug("Relationship rule applied", "kind", rule.Kind(), "edges", len(edges))
		all = append(all, edges...)
	}

	all = dedupe(all)
	if err := graph.CheckSupersedesChains(all); err != nil {
		return nil, err
	}
	return all, nil
}

func dedupe(edges []graph.Edge) []graph.Edge {
	graph.SortEdges(edges)
	out := edges[:0]
	for _, e := range edges {
		if len(out) > 0 && e == out[len(out)-1] {
			continue
		}
		out = append(out, e)
	}
	return out
}
