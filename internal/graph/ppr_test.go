package graph

import (
	"context"
	"testing"
)

func rankFixture() *Snapshot {
	ent := func(id string, t EntityType) Entity {
		e, err := NewEntity(id, t, "curated", id+".md", id, nil)
		if err != nil {
			panic(err)
		}
		return e
	}
	return &Snapshot{
		Entities: []Entity{
			ent("guide", TypeGuide),
			ent("example", TypeExample),
			ent("repo-a", TypeRepository),
			ent("repo-b", TypeRepository),
			ent("isolated", TypeTemplate),
		},
		Edges: []Edge{
			{Source: "example", Kind: Demonstrates, Target: "guide"},
			{Source: "repo-a", Kind: ProvidesPerspective, Target: "guide"},
			{Source: "repo-b", Kind: ProvidesPerspective, Target: "guide"},
		},
	}
}

func TestPPRBasic(t *testing.T) {
	g := NewRankGraph(rankFixture(), DefaultRelationWeights())

	if g.NumNodes() != 5 {
		t.Errorf("NumNodes() = %d, want 5", g.NumNodes())
	}
	if g.NumEdges() != 6 {
		t.Errorf("NumEdges() = %d, want 6 (each relation walked both ways)", g.NumEdges())
	}

	out, err := g.PPR(context.Background(), []string{"example"}, DefaultPPROptions())
	if err != nil {
		t.Fatalf("PPR failed: %v", err)
	}
	if len(out.Results) < 2 {
		t.Fatalf("expected ranked results, got %+v", out.Results)
	}
	top := map[string]bool{out.Results[0].EntityID: true, out.Results[1].EntityID: true}
	if !top["example"] || !top["guide"] {
		t.Errorf("seed and its direct neighbour should rank highest, got %+v", out.Results[:2])
	}
	for _, r := range out.Results {
		if r.EntityID == "isolated" {
			t.Error("unreachable entity should not be ranked")
		}
	}

	for _, r := range out.Results {
		if r.EntityID == "repo-a" {
			if len(r.Path) < 2 || r.Path[0] != "example" {
				t.Errorf("path to repo-a should start at the seed, got %v", r.Path)
			}
		}
	}
}

func TestPPRDeterministicTies(t *testing.T) {
	g := NewRankGraph(rankFixture(), DefaultRelationWeights())

	out, err := g.PPR(context.Background(), []string{"guide"}, DefaultPPROptions())
	if err != nil {
		t.Fatalf("PPR failed: %v", err)
	}

	var repos []string
	for _, r := range out.Results {
		if r.EntityID == "repo-a" || r.EntityID == "repo-b" {
			repos = append(repos, r.EntityID)
		}
	}
	if len(repos) != 2 || repos[0] != "repo-a" {
		t.Errorf("equal scores should order by id, got %v", repos)
	}
}

func TestPPRUnknownSeeds(t *testing.T) {
	g := NewRankGraph(rankFixture(), DefaultRelationWeights())

	out, err := g.PPR(context.Background(), []string{"missing"}, DefaultPPROptions())
	if err != nil {
		t.Fatalf("PPR failed: %v", err)
	}
	if len(out.Results) != 0 {
		t.Errorf("expected no results, got %d", len(out.Results))
	}

	if _, err := g.PPR(context.Background(), nil, DefaultPPROptions()); err == nil {
		t.Error("expected error without seeds")
	}
}

func TestPPRCancelled(t *testing.T) {
	g := NewRankGraph(rankFixture(), DefaultRelationWeights())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.PPR(ctx, []string{"guide"}, DefaultPPROptions()); err == nil {
		t.Error("expected context error")
	}
}

func TestPPRTopK(t *testing.T) {
	g := NewRankGraph(rankFixture(), DefaultRelationWeights())
	opts := DefaultPPROptions()
	opts.TopK = 2

	out, err := g.PPR(context.Background(), []string{"guide"}, opts)
	if err != nil {
		t.Fatalf("PPR failed: %v", err)
	}
	if len(out.Results) != 2 {
		t.Errorf("len(Results) = %d, want 2", len(out.Results))
	}
}
