// Package extract classifies corpus files into typed entities and parses
// their type-specific attributes.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"kgindex/internal/corpus"
	"kgindex/internal/graph"
)

// Warning is a file-level extraction problem. It never aborts a run.
type Warning struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Outcome is the result of extracting one file: an entity, or a skip when
// no rule matched.
type Outcome struct {
	Entity   *graph.Entity
	Rule     string
	Skipped  bool
	Warnings []Warning
}

// Extractor turns scanned files into entities using a rule table.
type Extractor struct {
	rules  RuleTable
	html   *htmlConverter
	logger *slog.Logger
}

// New creates an extractor. A nil rules table uses DefaultRules.
func New(rules RuleTable, logger *slog.Logger) *Extractor {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Extractor{
		rules:  rules,
		html:   newHTMLConverter(),
		logger: logger,
	}
}

// Rules returns the rule table in priority order.
func (x *Extractor) Rules() RuleTable {
	return x.rules
}

// Extract classifies f and parses its attributes from content. The result
// depends only on f's provenance and path, content, and the rule table.
func (x *Extractor) Extract(f corpus.File, content []byte) Outcome {
	rule, ok := x.rules.Classify(f)
	if !ok {
		return Outcome{Skipped: true}
	}

	out := Outcome{Rule: rule.Name}
	warn := func(err error) {
		out.Warnings = append(out.Warnings, Warning{Path: f.Key(), Err: err.Error()})
	}

	id := graph.EntityID(rule.Type, f.Provenance, f.RelPath)
	title, attrs, err := x.parse(rule.Type, f.RelPath, content)
	if err != nil {
		warn(err)
	}
	if title == "" {
		title = stem(f.RelPath)
	}

	entity, err := graph.NewEntity(id, rule.Type, f.Provenance, f.RelPath, title, attrs)
	if err != nil {
		warn(err)
		entity, err = graph.NewEntity(id, rule.Type, f.Provenance, f.RelPath, stem(f.RelPath), nil)
		if err != nil {
			// only reachable with an invalid rule type, which Validate rejects
			warn(err)
			return Outcome{Skipped: true, Rule: rule.Name, Warnings: out.Warnings}
		}
	}
	out.Entity = &entity
	return out
}

// source is the parsed form of a file, whatever its format.
type source struct {
	doc *Document
	sol *SolidityDoc
}

func (x *Extractor) parse(t graph.EntityType, relPath string, content []byte) (string, graph.Attributes, error) {
	var (
		src      source
		parseErr error
	)
	switch strings.ToLower(path.Ext(relPath)) {
	case ".sol":
		src.sol = ParseSolidity(content)
	case ".html", ".htm":
		src.doc, parseErr = x.html.Parse(content)
	default:
		src.doc, parseErr = ParseMarkdown(content)
	}
	if src.doc == nil && src.sol == nil {
		return "", nil, parseErr
	}

	title := src.title()
	var attrs graph.Attributes
	switch t {
	case graph.TypeGuide:
		attrs = guideAttrs(src)
	case graph.TypeTemplate:
		attrs = templateAttrs(src)
	case graph.TypeDeepDive:
		attrs = deepDiveAttrs(src, relPath, title)
	case graph.TypeIntegration:
		attrs = integrationAttrs(src, relPath, title)
	case graph.TypeProtocolVersion:
		a, err := protocolVersionAttrs(src, relPath, title)
		if err != nil && parseErr == nil {
			parseErr = err
		}
		attrs = a
	case graph.TypeRepository:
		attrs = repositoryAttrs(src)
	case graph.TypeExample:
		attrs = exampleAttrs(src, relPath)
	default:
		return title, nil, fmt.Errorf("no attribute parser for %s", t)
	}
	return title, attrs, parseErr
}

func (s source) title() string {
	if s.sol != nil {
		if s.sol.Title != "" {
			return s.sol.Title
		}
		return s.sol.Contract
	}
	return s.doc.Title
}

func (s source) meta() Metadata {
	if s.sol != nil {
		return s.sol.Tags
	}
	return s.doc.Meta
}

func (s source) lines() int {
	if s.sol != nil {
		return s.sol.LineCount
	}
	return s.doc.LineCount
}

// ReadFunc returns the content of a scanned file.
type ReadFunc func(f corpus.File) ([]byte, error)

// Batch is the output of ExtractAll.
type Batch struct {
	Entities []graph.Entity
	Warnings []Warning
	Skipped  int
}

// ExtractAll extracts every file with at most workers concurrent
// extractions. Entities are sorted by id, so the result does not depend on
// scheduling. Read failures and files whose content no longer matches the
// scanned hash become warnings; only ctx cancellation fails the batch.
func (x *Extractor) ExtractAll(ctx context.Context, files []corpus.File, read ReadFunc, workers int) (*Batch, error) {
	if workers < 1 {
		workers = 1
	}
	outcomes := make([]Outcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, ok := x.rules.Classify(f); !ok {
				outcomes[i] = Outcome{Skipped: true}
				return nil
			}
			content, err := read(f)
			if err != nil {
				outcomes[i] = Outcome{
					Skipped:  true,
					Warnings: []Warning{{Path: f.Key(), Err: err.Error()}},
				}
				return nil
			}
			out := x.Extract(f, content)
			if f.Hash != "" && corpus.HashBytes(content) != f.Hash {
				out.Warnings = append(out.Warnings, Warning{Path: f.Key(), Err: "content changed since scan"})
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := &Batch{}
	for _, o := range outcomes {
		for _, w := range o.Warnings {
			x.logger.Warn("Extraction warning", "path", w.Path, "error", w.Err)
		}
		batch.Warnings = append(batch.Warnings, o.Warnings...)
		if o.Entity == nil {
			batch.Skipped++
			continue
		}
		batch.Entities = append(batch.Entities, *o.Entity)
	}
	graph.SortEntities(batch.Entities)

	x.logger.Debug("Extraction finished",
		"files", len(files),
		"entities", len(batch.Entities),
		"skipped", batch.Skipped,
		"warnings", len(batch.Warnings),
	)
	return batch, nil
}

// ReadFromDisk reads a scanned file from its absolute path.
func ReadFromDisk(f corpus.File) ([]byte, error) {
	return os.ReadFile(f.AbsPath)
}
