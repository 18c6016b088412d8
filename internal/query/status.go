package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"kgindex/internal/graph"
	"kgindex/internal/storage"
)

// StatsResponse summarizes the snapshot being served.
type StatsResponse struct {
	Loaded       bool                       `json:"loaded"`
	Entities     int                        `json:"entities"`
	Edges        int                        `json:"edges"`
	ByType       map[graph.EntityType]int   `json:"byType"`
	ByKind       map[graph.RelationKind]int `json:"byKind"`
	ByProvenance map[string]int             `json:"byProvenance"`
	Fingerprint  string                     `json:"fingerprint,omitempty"`
	BuiltAt      time.Time                  `json:"builtAt,omitempty"`
	GraphVersion string                     `json:"graphVersion,omitempty"`
	SourceFiles  int                        `json:"sourceFiles"`
}

// Stats returns whole-graph counts and the snapshot identity.
func (e *Engine) Stats(ctx context.Context) *StatsResponse {
	res := &StatsResponse{
		ByType:       map[graph.EntityType]int{},
		ByKind:       map[graph.RelationKind]int{},
		ByProvenance: map[string]int{},
	}
	h := e.acquire()
	if h == nil {
		return res
	}
	defer h.release()

	res.Loaded = true
	res.Fingerprint = h.meta.Fingerprint
	res.BuiltAt = h.meta.BuiltAt
	res.GraphVersion = h.meta.GraphVersion
	res.SourceFiles = h.meta.SourceFiles

	s, err := h.reader.Stats(ctx)
	if err != nil {
		e.queryFailed("stats", err)
		s = h.memStats()
	}
	res.Entities = s.Entities
	res.Edges = s.Edges
	res.ByType = s.ByType
	res.ByKind = s.ByKind
	res.ByProvenance = s.ByProvenance
	return res
}

func (h *snapshotHandle) memStats() *storage.Stats {
	s := &storage.Stats{
		Entities:     len(h.snap.Entities),
		Edges:        len(h.snap.Edges),
		ByType:       make(map[graph.EntityType]int),
		ByKind:       make(map[graph.RelationKind]int),
		ByProvenance: make(map[string]int),
	}
	for _, ent := range h.snap.Entities {
		s.ByType[ent.Type]++
		s.ByProvenance[ent.Provenance]++
	}
	for _, edge := range h.snap.Edges {
		s.ByKind[edge.Kind]++
	}
	return s
}

// FindByType returns up to limit entities of type t, sorted by id.
func (e *Engine) FindByType(ctx context.Context, t graph.EntityType, limit int) []graph.Entity {
	out := []graph.Entity{}
	h := e.acquire()
	if h == nil {
		return out
	}
	defer h.release()

	found, err := h.reader.EntitiesByType(ctx, t)
	if err != nil {
		e.queryFailed("entities", err)
		return out
	}
	if limit = clampLimit(limit); len(found) > limit {
		found = found[:limit]
	}
	return append(out, found...)
}

// FindGuides returns guides filtered by severity (case-insensitive, any
// when empty) and a minimum estimated loss in USD (any when zero). Guides
// without a recorded loss are excluded by a positive minimum. Results are
// ordered by estimated loss descending, then id.
func (e *Engine) FindGuides(ctx context.Context, severity string, minLossUSD int64) []graph.Entity {
	out := []graph.Entity{}
	h := e.acquire()
	if h == nil {
		return out
	}
	defer h.release()

	severity = strings.TrimSpace(severity)
	loss := func(ent graph.Entity) int64 {
		a, _ := ent.Attrs.(*graph.GuideAttrs)
		if a == nil {
			return -1
		}
		v, ok := graph.Value(a.EstimatedLossUSD)
		if !ok {
			return -1
		}
		return v
	}
	for _, ent := range h.snap.Entities {
		if ent.Type != graph.TypeGuide {
			continue
		}
		a, _ := ent.Attrs.(*graph.GuideAttrs)
		if severity != "" {
			sev, ok := "", false
			if a != nil {
				sev, ok = graph.Value(a.Severity)
			}
			if !ok || !strings.EqualFold(sev, severity) {
				continue
			}
		}
		if minLossUSD > 0 && loss(ent) < minLossUSD {
			continue
		}
		out = append(out, ent)
	}
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := loss(out[i]), loss(out[j])
		if li != lj {
			return li > lj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RelatedResult is an entity ranked by graph proximity.
type RelatedResult struct {
	Entity graph.Entity `json:"entity"`
	Score  float64      `json:"score"`
	Path   []string     `json:"path,omitempty"`
}

// Related ranks the entities most connected to id with Personalized
// PageRank seeded at id. The seed itself is not returned.
func (e *Engine) Related(ctx context.Context, id string, limit int) []RelatedResult {
	out := []RelatedResult{}
	h := e.acquire()
	if h == nil {
		return out
	}
	defer h.release()
	if _, ok := h.byID[id]; !ok {
		return out
	}

	limit = clampLimit(limit)
	opts := graph.DefaultPPROptions()
	opts.TopK = limit + 1
	ranked, err := h.rank.PPR(ctx, []string{id}, opts)
	if err != nil {
		e.queryFailed("related", err)
		return out
	}
	for _, r := range ranked.Results {
		if r.EntityID == id || r.Score <= 0 {
			continue
		}
		ent, ok := h.byID[r.EntityID]
		if !ok {
			continue
		}
		out = append(out, RelatedResult{Entity: *ent, Score: r.Score, Path: r.Path})
		if len(out) == limit {
			break
		}
	}
	return out
}

// Graph returns every entity and edge of the snapshot being served.
func (e *Engine) Graph() *graph.Snapshot {
	h := e.acquire()
	if h == nil {
		return &graph.Snapshot{Entities: []graph.Entity{}, Edges: []graph.Edge{}}
	}
	defer h.release()
	snap := *h.snap
	return &snap
}

// FullTextResult is one FTS5 hit resolved to its entity.
type FullTextResult struct {
	Entity    graph.Entity `json:"entity"`
	Rank      float64      `json:"rank"`
	MatchType string       `json:"matchType"`
}

// FullText runs a full-text query over titles and attribute text: phrase
// matches first, then prefix matches.
func (e *Engine) FullText(ctx context.Context, q string, limit int) []FullTextResult {
	out := []FullTextResult{}
	h := e.acquire()
	if h == nil {
		return out
	}
	defer h.release()

	hits, err := h.reader.FullText(ctx, q, clampLimit(limit))
	if err != nil {
		e.queryFailed("fulltext", err)
		return out
	}
	for _, hit := range hits {
		if ent, ok := h.byID[hit.ID]; ok {
			out = append(out, FullTextResult{Entity: *ent, Rank: hit.Rank, MatchType: hit.MatchType})
		}
	}
	return out
}
