package query

import (
	"context"
	"sort"

	"kgindex/internal/graph"
)

// GetEntity returns the entity with id. found is false for unknown ids and
// when no snapshot is loaded.
func (e *Engine) GetEntity(ctx context.Context, id string) (entity graph.Entity, found bool) {
	h := e.acquire()
	if h == nil {
		return graph.Entity{}, false
	}
	defer h.release()

	ent, ok, err := h.reader.Entity(ctx, id)
	if err != nil {
		e.queryFailed("entity", err)
		if p, ok := h.byID[id]; ok {
			return *p, true
		}
		return graph.Entity{}, false
	}
	return ent, ok
}

// NeighborsResult lists the entities adjacent to one entity.
type NeighborsResult struct {
	ID        string          `json:"id"`
	Found     bool            `json:"found"`
	Kind      string          `json:"kind,omitempty"`
	Direction graph.Direction `json:"direction"`
	Neighbors []graph.Entity  `json:"neighbors"`
}

// GetNeighbors returns the entities connected to id by edges of kind (every
// kind when empty) in direction dir (outgoing when empty), sorted by id.
func (e *Engine) GetNeighbors(ctx context.Context, id string, kind graph.RelationKind, dir graph.Direction) *NeighborsResult {
	if dir == "" {
		dir = graph.Outgoing
	}
	res := &NeighborsResult{ID: id, Kind: string(kind), Direction: dir, Neighbors: []graph.Entity{}}

	h := e.acquire()
	if h == nil {
		return res
	}
	defer h.release()

	if _, ok := h.byID[id]; !ok {
		return res
	}
	res.Found = true

	neighbors, err := h.reader.Neighbors(ctx, id, kind, dir)
	if err != nil {
		e.queryFailed("neighbors", err)
		neighbors = h.neighbors(id, kind, dir)
	}
	if neighbors != nil {
		res.Neighbors = neighbors
	}
	return res
}

// neighbors answers GetNeighbors from the in-memory adjacency lists.
func (h *snapshotHandle) neighbors(id string, kind graph.RelationKind, dir graph.Direction) []graph.Entity {
	seen := make(map[string]bool)
	collect := func(edges []graph.Edge, other func(graph.Edge) string) {
		for _, edge := range edges {
			if kind != "" && edge.Kind != kind {
				continue
			}
			seen[other(edge)] = true
		}
	}
	if dir == graph.Outgoing || dir == graph.Both {
		collect(h.out[id], func(e graph.Edge) string { return e.Target })
	}
	if dir == graph.Incoming || dir == graph.Both {
		collect(h.in[id], func(e graph.Edge) string { return e.Source })
	}

	out := make([]graph.Entity, 0, len(seen))
	for nid := range seen {
		if p, ok := h.byID[nid]; ok {
			out = append(out, *p)
		}
	}
	graph.SortEntities(out)
	return out
}

// EvolutionChain is a protocol family ordered oldest to newest.
type EvolutionChain struct {
	Family   string         `json:"family"`
	Versions []graph.Entity `json:"versions"`
}

// GetEvolutionChain walks the SUPERSEDES chain of family, compared by
// graph.FamilyKey so spellings that inference groups together match.
// It starts at the oldest member, the one that supersedes nothing, and
// follows incoming SUPERSEDES edges. Disconnected members start chains of
// their own, oldest ordinal first.
func (e *Engine) GetEvolutionChain(ctx context.Context, family string) *EvolutionChain {
	chain := &EvolutionChain{Family: family, Versions: []graph.Entity{}}
	key := graph.FamilyKey(family)
	if key == "" {
		return chain
	}
	h := e.acquire()
	if h == nil {
		return chain
	}
	defer h.release()

	var roots []*graph.Entity
	members := make(map[string]bool)
	for i := range h.snap.Entities {
		ent := &h.snap.Entities[i]
		if ent.Type != graph.TypeProtocolVersion {
			continue
		}
		if k, ok := ent.FamilyKey(); !ok || k != key {
			continue
		}
		members[ent.ID] = true
		if supersedes(h.out[ent.ID]) == "" {
			roots = append(roots, ent)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		oi, _ := roots[i].Ordinal()
		oj, _ := roots[j].Ordinal()
		if oi != oj {
			return oi < oj
		}
		return roots[i].ID < roots[j].ID
	})

	visited := make(map[string]bool)
	for _, root := range roots {
		for id := root.ID; id != "" && members[id] && !visited[id]; id = supersededBy(h.in[id]) {
			visited[id] = true
			chain.Versions = append(chain.Versions, *h.byID[id])
		}
	}
	return chain
}

// supersedes returns the target of the first outgoing SUPERSEDES edge.
func supersedes(out []graph.Edge) string {
	for _, e := range out {
		if e.Kind == graph.Supersedes {
			return e.Target
		}
	}
	return ""
}

// supersededBy returns the source of the first incoming SUPERSEDES edge.
func supersededBy(in []graph.Edge) string {
	for _, e := range in {
		if e.Kind == graph.Supersedes {
			return e.Source
		}
	}
	return ""
}
