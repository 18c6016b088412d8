package rebuild

import (
	"kgindex/internal/config"
	"kgindex/internal/corpus"
	"kgindex/internal/extract"
)

// ConfigFrom maps the loaded kgindex configuration onto orchestrator
// settings, loading the classification rule file when one is configured.
func ConfigFrom(c *config.Config) (Config, error) {
	roots := make([]corpus.Root, 0, len(c.Roots))
	for _, r := range c.Roots {
		roots = append(roots, corpus.Root{Path: r.Path, Provenance: r.Provenance})
	}

	var rules extract.RuleTable
	if c.Extract.RulesFile != "" {
		loaded, err := extract.LoadRules(c.Extract.RulesFile)
		if err != nil {
			return Config{}, err
		}
		rules = loaded
	}

	return Config{
		Roots: roots,
		Scan: corpus.Options{
			Suffixes:     c.Suffixes,
			Exclude:      c.Exclude,
			MaxFileBytes: c.MaxFileBytes,
		},
		StateDir: c.StateDir,
		Rules:    rules,
		Workers:  c.Extract.Workers,
		Retain:   c.Backups.Retain,
	}, nil
}
