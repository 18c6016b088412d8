package extract

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"

	"kgindex/internal/corpus"
	"kgindex/internal/graph"
)

// Rule classifies files whose root-relative path matches Pattern. An empty
// Provenance matches every root.
type Rule struct {
	Name       string           `toml:"name"`
	Pattern    string           `toml:"pattern"`
	Provenance string           `toml:"provenance,omitempty"`
	Type       graph.EntityType `toml:"type"`
}

// Matches reports whether the rule applies to f.
func (r Rule) Matches(f corpus.File) bool {
	if r.Provenance != "" && r.Provenance != f.Provenance {
		return false
	}
	ok, _ := doublestar.Match(r.Pattern, f.RelPath)
	return ok
}

// RuleTable is an ordered rule list; earlier rules take priority.
type RuleTable []Rule

// Classify returns the first rule matching f.
func (t RuleTable) Classify(f corpus.File) (Rule, bool) {
	for _, r := range t {
		if r.Matches(f) {
			return r, true
		}
	}
	return Rule{}, false
}

// Validate checks every rule has a name, a valid pattern and a known type.
func (t RuleTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("rule table is empty")
	}
	names := make(map[string]bool, len(t))
	for i, r := range t {
		if r.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if names[r.Name] {
			return fmt.Errorf("rule %s: duplicate name", r.Name)
		}
		names[r.Name] = true
		if !doublestar.ValidatePattern(r.Pattern) {
			return fmt.Errorf("rule %s: invalid pattern %q", r.Name, r.Pattern)
		}
		if !r.Type.Valid() {
			return fmt.Errorf("rule %s: unknown entity type %q", r.Name, r.Type)
		}
	}
	return nil
}

// DefaultRules encodes the layout of the curated and research knowledge
// bases.
func DefaultRules() RuleTable {
	return RuleTable{
		{Name: "vulnerable-examples", Pattern: "repos/not-so-smart/**/*.sol", Type: graph.TypeExample},
		{Name: "vulnerable-examples-dir", Pattern: "**/vulnerable/**/*.sol", Type: graph.TypeExample},
		{Name: "contract-templates", Pattern: "02-contract-templates/**/*.sol", Type: graph.TypeTemplate},
		{Name: "attack-prevention", Pattern: "03-attack-prevention/**/*.{md,html}", Type: graph.TypeGuide},
		{Name: "protocol-versions", Pattern: "protocols/*/*.md", Type: graph.TypeProtocolVersion},
		{Name: "source-repositories", Pattern: "sources/**/*.{md,html}", Type: graph.TypeRepository},
		{Name: "integration-guides", Pattern: "repos/**/*integration*.md", Type: graph.TypeIntegration},
		{Name: "deep-dives", Pattern: "repos/**/*deep-dive*.md", Type: graph.TypeDeepDive},
		{Name: "architecture-deep-dives", Pattern: "repos/**/*architecture*.md", Type: graph.TypeDeepDive},
	}
}

type rulesFile struct {
	Rules []Rule `toml:"rule"`
}

// LoadRules reads a TOML file of [[rule]] tables. The file replaces the
// default table entirely.
func LoadRules(path string) (RuleTable, error) {
	var f rulesFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("reading rules %s: %w", path, err)
	}
	table := RuleTable(f.Rules)
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return table, nil
}
