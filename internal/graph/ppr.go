package graph

import (
	"context"
	"fmt"
	"sort"
)

// RelationWeights sets how strongly each relation kind propagates relevance.
type RelationWeights map[RelationKind]float64

// DefaultRelationWeights favours structural relations (version lineage,
// pairing) over fan-out relations.
func DefaultRelationWeights() RelationWeights {
	return RelationWeights{
		Supersedes:          1.0,
		PairsWith:           0.9,
		Explains:            0.8,
		Demonstrates:        0.7,
		ProvidesPerspective: 0.5,
	}
}

// PPROptions configures Personalized PageRank computation.
type PPROptions struct {
	// Damping is the probability of following an edge vs teleporting (default: 0.85)
	Damping float64

	// MaxIterations is the maximum number of power iterations (default: 20)
	MaxIterations int

	// Tolerance for convergence detection (default: 1e-6)
	Tolerance float64

	// TopK is the number of top results to return (default: 20)
	TopK int

	// IncludePaths enables backtracking to explain why nodes were reached
	IncludePaths bool
}

// DefaultPPROptions returns sensible defaults for PPR.
func DefaultPPROptions() PPROptions {
	return PPROptions{
		Damping:       0.85,
		MaxIterations: 20,
		Tolerance:     1e-6,
		TopK:          20,
		IncludePaths:  true,
	}
}

// PPRResult is a ranked entity.
type PPRResult struct {
	EntityID string   `json:"entityId"`
	Score    float64  `json:"score"`
	Path     []string `json:"path,omitempty"`
}

// PPROutput contains the full PPR computation result.
type PPROutput struct {
	Results    []PPRResult `json:"results"`
	Iterations int         `json:"iterations"`
	Converged  bool        `json:"converged"`
	SeedNodes  []string    `json:"seedNodes"`
	TotalNodes int         `json:"totalNodes"`
	TotalEdges int         `json:"totalEdges"`
}

// RankGraph is a weighted adjacency view of a snapshot. Relations are
// walked in both directions: relatedness does not depend on which side
// of an edge an entity sits.
type RankGraph struct {
	nodes    []string
	nodeIdx  map[string]int
	outEdges [][]rankEdge
	inEdges  [][]rankEdge
}

type rankEdge struct {
	target int
	weight float64
}

// NewRankGraph builds a rank graph over every entity and edge of s.
func NewRankGraph(s *Snapshot, weights RelationWeights) *RankGraph {
	g := &RankGraph{nodeIdx: make(map[string]int, len(s.Entities))}
	for _, e := range s.Entities {
		g.addNode(e.ID)
	}
	for _, e := range s.Edges {
		w, ok := weights[e.Kind]
		if !ok || w <= 0 {
			continue
		}
		g.addEdge(e.Source, e.Target, w)
		if !e.Kind.Symmetric() {
			g.addEdge(e.Target, e.Source, w)
		}
	}
	return g
}

func (g *RankGraph) addNode(id string) int {
	if idx, ok := g.nodeIdx[id]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, id)
	g.nodeIdx[id] = idx
	g.outEdges = append(g.outEdges, nil)
	g.inEdges = append(g.inEdges, nil)
	return idx
}

func (g *RankGraph) addEdge(src, dst string, weight float64) {
	s, d := g.addNode(src), g.addNode(dst)
	g.outEdges[s] = append(g.outEdges[s], rankEdge{target: d, weight: weight})
	g.inEdges[d] = append(g.inEdges[d], rankEdge{target: s, weight: weight})
}

// NumNodes returns the number of nodes in the graph.
func (g *RankGraph) NumNodes() int {
	return len(g.nodes)
}

// NumEdges returns the number of weighted directed arcs.
func (g *RankGraph) NumEdges() int {
	total := 0
	for _, edges := range g.outEdges {
		total += len(edges)
	}
	return total
}

// PPR computes Personalized PageRank from the seed entities. Results are
// ordered by score descending, then entity id.
func (g *RankGraph) PPR(ctx context.Context, seeds []string, opts PPROptions) (*PPROutput, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no seed nodes provided")
	}
	if opts.Damping <= 0 || opts.Damping >= 1 {
		opts.Damping = 0.85
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 20
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-6
	}
	if opts.TopK <= 0 {
		opts.TopK = 20
	}

	out := &PPROutput{
		Results:    []PPRResult{},
		TotalNodes: g.NumNodes(),
		TotalEdges: g.NumEdges(),
	}

	seedSet := make(map[int]bool, len(seeds))
	for _, s := range seeds {
		if idx, ok := g.nodeIdx[s]; ok && !seedSet[idx] {
			seedSet[idx] = true
			out.SeedNodes = append(out.SeedNodes, s)
		}
	}
	if len(seedSet) == 0 {
		return out, nil
	}

	n := g.NumNodes()
	teleport := make([]float64, n)
	for idx := range seedSet {
		teleport[idx] = 1.0 / float64(len(seedSet))
	}
	scores := make([]float64, n)
	copy(scores, teleport)

	outDegree := make([]float64, n)
	for i, edges := range g.outEdges {
		for _, e := range edges {
			outDegree[i] += e.weight
		}
	}

	next := make([]float64, n)
	for iter := 0; iter < opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out.Iterations = iter + 1

		for i := range next {
			next[i] = 0
		}
		for i, edges := range g.outEdges {
			if outDegree[i] == 0 {
				continue
			}
			contrib := scores[i] / outDegree[i]
			for _, e := range edges {
				next[e.target] += contrib * e.weight
			}
		}

		maxDiff := 0.0
		for i := range next {
			next[i] = opts.Damping*next[i] + (1-opts.Damping)*teleport[i]
			if d := abs(next[i] - scores[i]); d > maxDiff {
				maxDiff = d
			}
		}
		scores, next = next, scores

		if maxDiff < opts.Tolerance {
			out.Converged = true
			break
		}
	}

	ranked := make([]int, 0, n)
	for i, s := range scores {
		if s > 0 {
			ranked = append(ranked, i)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		return g.nodes[a] < g.nodes[b]
	})
	if len(ranked) > opts.TopK {
		ranked = ranked[:opts.TopK]
	}

	for _, idx := range ranked {
		r := PPRResult{EntityID: g.nodes[idx], Score: scores[idx]}
		if opts.IncludePaths && !seedSet[idx] {
			r.Path = g.backtrackPath(idx, seedSet, 5)
		}
		out.Results = append(out.Results, r)
	}
	return out, nil
}

// backtrackPath greedily follows the heaviest unvisited incoming arc from
// target until it reaches a seed, returning the path seed-first.
func (g *RankGraph) backtrackPath(target int, seedSet map[int]bool, maxDepth int) []string {
	path := []string{g.nodes[target]}
	visited := map[int]bool{target: true}
	current := target

	for depth := 0; depth < maxDepth; depth++ {
		best, bestWeight := -1, 0.0
		for _, e := range g.inEdges[current] {
			if visited[e.target] {
				continue
			}
			if e.weight > bestWeight || (e.weight == bestWeight && best >= 0 && g.nodes[e.target] < g.nodes[best]) {
				best, bestWeight = e.target, e.weight
			}
		}
		if best < 0 {
			break
		}
		path = append(path, g.nodes[best])
		visited[best] = true
		if seedSet[best] {
			break
		}
		current = best
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
