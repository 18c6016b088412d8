package query

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"kgindex/internal/corpus"
	"kgindex/internal/graph"
	"kgindex/internal/rebuild"
	"kgindex/internal/slogutil"
	"kgindex/internal/testutil"
)

// buildCorpus commits a snapshot of c and returns the orchestrator.
func buildCorpus(t *testing.T, c *testutil.Corpus) *rebuild.Orchestrator {
	t.Helper()
	o, err := rebuild.New(rebuild.Config{
		Roots:    c.Roots(),
		Scan:     corpus.Options{Suffixes: []string{".md", ".sol"}},
		StateDir: c.StateDir(),
		Workers:  2,
	}, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("rebuild.New: %v", err)
	}
	if _, err := o.Run(context.Background(), rebuild.ModeFull); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	return o
}

func openEngine(t *testing.T, o *rebuild.Orchestrator, opts ...Option) *Engine {
	t.Helper()
	e, err := Open(context.Background(), o.Layout().LiveSnapshot(), slogutil.NewDiscardLogger(), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func resultIDs(results []SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Entity.ID
	}
	return ids
}

func entityIDs(entities []graph.Entity) []string {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	return ids
}

func TestReentrancyScenario(t *testing.T) {
	c := testutil.NewCorpus(t, testutil.Curated, testutil.Research)
	ids := testutil.WriteReentrancy(c)
	e := openEngine(t, buildCorpus(t, c))
	ctx := context.Background()

	stats := e.Stats(ctx)
	if stats.Entities != 5 {
		t.Errorf("entities = %d, want 5", stats.Entities)
	}
	if got := stats.ByKind[graph.ProvidesPerspective]; got != 3 {
		t.Errorf("PROVIDES_PERSPECTIVE edges = %d, want 3", got)
	}
	if got := stats.ByKind[graph.Demonstrates]; got != 1 {
		t.Errorf("DEMONSTRATES edges = %d, want 1", got)
	}

	results := e.Search(ctx, "reentrancy", 0)
	if len(results) != 5 {
		t.Fatalf("Search returned %d results, want 5: %v", len(results), resultIDs(results))
	}
	if results[0].Entity.ID != ids.Guide {
		t.Errorf("first result = %s, want guide %s", results[0].Entity.ID, ids.Guide)
	}
	if results[0].Tier != TierExactTitle {
		t.Errorf("guide tier = %d, want %d", results[0].Tier, TierExactTitle)
	}
	got := resultIDs(results)
	want := ids.All()
	if diff := cmp.Diff(sortedCopy(want), sortedCopy(got)); diff != "" {
		t.Errorf("Search ids mismatch (-want +got):\n%s", diff)
	}

	incoming := e.GetNeighbors(ctx, ids.Guide, graph.ProvidesPerspective, graph.Incoming)
	if diff := cmp.Diff(sortedCopy(ids.Sources), entityIDs(incoming.Neighbors)); diff != "" {
		t.Errorf("perspective sources mismatch (-want +got):\n%s", diff)
	}
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func TestSearchRanking(t *testing.T) {
	c := testutil.NewCorpus(t, testutil.Curated, testutil.Research)
	testutil.WriteReentrancy(c)
	u := testutil.WriteUniswap(c)
	e := openEngine(t, buildCorpus(t, c))
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		limit int
		want  []string
	}{
		{"exact title phrase", "uniswap v3", 4, []string{u.DeepDive, u.Integration, u.V3, u.V2}},
		{"limit applied", "uniswap", 2, []string{u.DeepDive, u.Integration}},
		{"empty query", "   ", 10, []string{}},
		{"punctuation only", "?!", 10, []string{}},
		{"no match", "flashbots", 10, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resultIDs(e.Search(ctx, tt.query, tt.limit))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Search(%q) mismatch (-want +got):\n%s", tt.query, diff)
			}
		})
	}
}

func TestSearchDeterministic(t *testing.T) {
	c := testutil.NewCorpus(t, testutil.Curated, testutil.Research)
	testutil.WriteReentrancy(c)
	testutil.WriteUniswap(c)
	e := openEngine(t, buildCorpus(t, c))
	ctx := context.Background()

	first := e.Search(ctx, "uniswap reentrancy liquidity", 50)
	if len(first) == 0 {
		t.Fatal("expected results")
	}
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(resultIDs(first), resultIDs(e.Search(ctx, "uniswap reentrancy liquidity", 50))); diff != "" {
			t.Fatalf("run %d differs (-first +got):\n%s", i, diff)
		}
	}
}

func TestScoreTiers(t *testing.T) {
	doc := searchDoc{title: "reentrancy attacks", text: "critical external calls"}
	tests := []struct {
		query       string
		wantTier    int
		wantMatched int
	}{
		{"reentrancy", TierExactTitle, 1},
		{"Reentrancy Attacks", TierExactTitle, 2},
		{"entran", TierPartialTitle, 1},
		{"external", TierAttribute, 1},
		{"attacks external", TierPartialTitle, 2},
		{"calls reentr", TierPartialTitle, 2},
		{"oracle", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			tier, matched := doc.score(tokenize(tt.query))
			if tier != tt.wantTier || matched != tt.wantMatched {
				t.Errorf("score(%q) = (%d, %d), want (%d, %d)", tt.query, tier, matched, tt.wantTier, tt.wantMatched)
			}
		})
	}
}

func TestGetEntity(t *testing.T) {
	c := testutil.NewCorpus(t, testutil.Curated, testutil.Research)
	ids := testutil.WriteReentrancy(c)
	e := openEngine(t, buildCorpus(t, c))
	ctx := context.Background()

	ent, found := e.GetEntity(ctx, ids.Guide)
	if !found {
		t.Fatal("guide not found")
	}
	if ent.Title != "Reentrancy Attacks" || ent.Type != graph.TypeGuide {
		t.Errorf("entity = %+v", ent)
	}
	if _, found := e.GetEntity(ctx, "guide:curated:missing.md"); found {
		t.Error("unknown id must not be found")
	}
}

func TestGetNeighborsPairsWithSymmetry(t *testing.T) {
	c := testutil.NewCorpus(t)
	u := testutil.WriteUniswap(c)
	e := openEngine(t, buildCorpus(t, c))
	ctx := context.Background()

	fromDeepDive := e.GetNeighbors(ctx, u.DeepDive, graph.PairsWith, graph.Outgoing)
	fromIntegration := e.GetNeighbors(ctx, u.Integration, graph.PairsWith, graph.Outgoing)
	if diff := cmp.Diff([]string{u.Integration}, entityIDs(fromDeepDive.Neighbors)); diff != "" {
		t.Errorf("deep-dive pairs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{u.DeepDive}, entityIDs(fromIntegration.Neighbors)); diff != "" {
		t.Errorf("integration pairs (-want +got):\n%s", diff)
	}

	tests := []struct {
		name string
		id   string
		kind graph.RelationKind
		dir  graph.Direction
		want []string
	}{
		{"default direction is outgoing", u.V4, graph.Supersedes, "", []string{u.V3}},
		{"incoming", u.V3, graph.Supersedes, graph.Incoming, []string{u.V4}},
		{"both", u.V3, graph.Supersedes, graph.Both, []string{u.V2, u.V4}},
		{"all kinds", u.V3, "", graph.Both, sortedCopy([]string{u.V2, u.V4, u.DeepDive})},
		{"unknown id", "protocol-version:curated:nope.md", "", graph.Both, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.GetNeighbors(ctx, tt.id, tt.kind, tt.dir)
			if diff := cmp.Diff(tt.want, entityIDs(got.Neighbors)); diff != "" {
				t.Errorf("neighbors mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNeighborsMemoryMatchesStore(t *testing.T) {
	c := testutil.NewCorpus(t, testutil.Curated, testutil.Research)
	ids := testutil.WriteReentrancy(c)
	u := testutil.WriteUniswap(c)
	e := openEngine(t, buildCorpus(t, c))
	ctx := context.Background()

	h := e.acquire()
	defer h.release()
	for _, id := range []string{ids.Guide, u.V3, u.DeepDive} {
		for _, dir := range []graph.Direction{graph.Outgoing, graph.Incoming, graph.Both} {
			stored, err := h.reader.Neighbors(ctx, id, "", dir)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(entityIDs(stored), entityIDs(h.neighbors(id, "", dir))); diff != "" {
				t.Errorf("%s %s (-store +memory):\n%s", id, dir, diff)
			}
		}
	}
}

func TestGetEvolutionChain(t *testing.T) {
	c := testutil.NewCorpus(t)
	u := testutil.WriteUniswap(c)
	e := openEngine(t, buildCorpus(t, c))
	ctx := context.Background()

	for _, family := range []string{"Uniswap", "uniswap"} {
		chain := e.GetEvolutionChain(ctx, family)
		if diff := cmp.Diff([]string{u.V2, u.V3, u.V4}, entityIDs(chain.Versions)); diff != "" {
			t.Errorf("chain(%q) mismatch (-want +got):\n%s", family, diff)
		}
	}
	if got := e.GetEvolutionChain(ctx, "aave").Versions; len(got) != 0 {
		t.Errorf("unknown family returned %d versions", len(got))
	}
	if got := e.GetEvolutionChain(ctx, "").Versions; len(got) != 0 {
		t.Errorf("empty family returned %d versions", len(got))
	}
}

func TestGetEvolutionChainMixedFamilySpelling(t *testing.T) {
	c := testutil.NewCorpus(t)
	c.Write(testutil.Curated, "protocols/curve/v1.md", "---\nfamily: Curve Finance\n---\n# Curve V1\n")
	c.Write(testutil.Curated, "protocols/curve/v2.md", "---\nfamily: curve-finance\n---\n# Curve V2\n")
	v1 := graph.EntityID(graph.TypeProtocolVersion, testutil.Curated, "protocols/curve/v1.md")
	v2 := graph.EntityID(graph.TypeProtocolVersion, testutil.Curated, "protocols/curve/v2.md")
	e := openEngine(t, buildCorpus(t, c))
	ctx := context.Background()

	for _, family := range []string{"Curve Finance", "curve-finance", "CURVE_FINANCE"} {
		chain := e.GetEvolutionChain(ctx, family)
		if diff := cmp.Diff([]string{v1, v2}, entityIDs(chain.Versions)); diff != "" {
			t.Errorf("chain(%q) mismatch (-want +got):\n%s", family, diff)
		}
	}
}

func TestSearchNonASCIITitle(t *testing.T) {
	c := testutil.NewCorpus(t)
	c.Write(testutil.Curated, "03-attack-prevention/echec-de-signature.md", "# Échec de signature\n\nUne signature réutilisée.\n")
	id := graph.EntityID(graph.TypeGuide, testutil.Curated, "03-attack-prevention/echec-de-signature.md")
	e := openEngine(t, buildCorpus(t, c))
	ctx := context.Background()

	for _, q := range []string{"échec", "Échec", "ÉCHEC DE SIGNATURE", "réutilisée"} {
		got := resultIDs(e.Search(ctx, q, 0))
		if diff := cmp.Diff([]string{id}, got); diff != "" {
			t.Errorf("Search(%q) mismatch (-want +got):\n%s", q, diff)
		}
	}
}

func TestFindGuides(t *testing.T) {
	c := testutil.NewCorpus(t, testutil.Curated, testutil.Research)
	ids := testutil.WriteReentrancy(c)
	c.Write(testutil.Curated, "03-attack-prevention/oracle-manipulation.md",
		"---\nseverity: high\nestimated_loss: $40M\n---\n# Oracle Manipulation\n")
	oracle := graph.EntityID(graph.TypeGuide, testutil.Curated, "03-attack-prevention/oracle-manipulation.md")
	e := openEngine(t, buildCorpus(t, c))
	ctx := context.Background()

	tests := []struct {
		name     string
		severity string
		minLoss  int64
		want     []string
	}{
		{"all ordered by loss", "", 0, []string{ids.Guide, oracle}},
		{"severity filter", "HIGH", 0, []string{oracle}},
		{"min loss", "", 100_000_000, []string{ids.Guide}},
		{"nothing", "low", 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := entityIDs(e.FindGuides(ctx, tt.severity, tt.minLoss))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FindGuides mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFindByTypeAndFullText(t *testing.T) {
	c := testutil.NewCorpus(t, testutil.Curated, testutil.Research)
	ids := testutil.WriteReentrancy(c)
	e := openEngine(t, buildCorpus(t, c))
	ctx := context.Background()

	repos := e.FindByType(ctx, graph.TypeRepository, 2)
	if diff := cmp.Diff(sortedCopy(ids.Sources)[:2], entityIDs(repos)); diff != "" {
		t.Errorf("FindByType mismatch (-want +got):\n%s", diff)
	}

	hits := e.FullText(ctx, "reentrancy attacks", 10)
	if len(hits) == 0 || hits[0].Entity.ID != ids.Guide {
		t.Fatalf("FullText first hit = %+v, want guide", hits)
	}
	if hits[0].MatchType != "phrase" {
		t.Errorf("MatchType = %q, want phrase", hits[0].MatchType)
	}
	if got := e.FullText(ctx, "", 10); len(got) != 0 {
		t.Errorf("empty full-text query returned %d hits", len(got))
	}
}

func TestRelated(t *testing.T) {
	c := testutil.NewCorpus(t, testutil.Curated, testutil.Research)
	ids := testutil.WriteReentrancy(c)
	e := openEngine(t, buildCorpus(t, c))
	ctx := context.Background()

	related := e.Related(ctx, ids.Guide, 10)
	if len(related) != 4 {
		t.Fatalf("Related returned %d entities, want 4", len(related))
	}
	for _, r := range related {
		if r.Entity.ID == ids.Guide {
			t.Error("seed must not be returned")
		}
		if r.Score <= 0 {
			t.Errorf("%s has score %v", r.Entity.ID, r.Score)
		}
	}
	if got := e.Related(ctx, "guide:curated:nope.md", 10); len(got) != 0 {
		t.Errorf("unknown seed returned %d entities", len(got))
	}
}

type fakeSemantic struct {
	hits []SemanticHit
	err  error
	wait time.Duration
}

func (f fakeSemantic) SemanticSearch(ctx context.Context, query string, limit int) ([]SemanticHit, error) {
	if f.wait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.wait):
		}
	}
	return f.hits, f.err
}

func TestSemanticSearch(t *testing.T) {
	c := testutil.NewCorpus(t, testutil.Curated, testutil.Research)
	ids := testutil.WriteReentrancy(c)
	o := buildCorpus(t, c)
	ctx := context.Background()

	tests := []struct {
		name         string
		semantic     SemanticSearcher
		wantDegraded bool
		wantFirst    string
	}{
		{"not configured", nil, true, ids.Guide},
		{"collaborator error", fakeSemantic{err: errors.New("down")}, true, ids.Guide},
		{"collaborator timeout", fakeSemantic{wait: time.Second}, true, ids.Guide},
		{"collaborator answers", fakeSemantic{hits: []SemanticHit{
			{ID: "guide:curated:unknown.md", Score: 0.99},
			{ID: ids.Example, Score: 0.9},
			{ID: ids.Guide, Score: 0.8},
		}}, false, ids.Example},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.semantic != nil {
				opts = append(opts, WithSemantic(tt.semantic, 20*time.Millisecond))
			}
			e := openEngine(t, o, opts...)
			resp := e.SemanticSearch(ctx, "reentrancy", 5)
			if resp.Degraded != tt.wantDegraded {
				t.Errorf("Degraded = %v, want %v (reason %q)", resp.Degraded, tt.wantDegraded, resp.Reason)
			}
			if len(resp.Results) == 0 || resp.Results[0].Entity.ID != tt.wantFirst {
				t.Fatalf("first result = %v, want %s", resp.Results, tt.wantFirst)
			}
			if !tt.wantDegraded && len(resp.Results) != 2 {
				t.Errorf("unknown ids must be dropped, got %d results", len(resp.Results))
			}
		})
	}
}

func TestHTTPSemanticClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"id":"guide:curated:a.md","score":0.5}]}`))
	}))
	defer srv.Close()

	client := NewHTTPSemanticClient(srv.URL, slogutil.NewDiscardLogger())
	hits, err := client.SemanticSearch(context.Background(), "reentrancy", 3)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if diff := cmp.Diff([]SemanticHit{{ID: "guide:curated:a.md", Score: 0.5}}, hits); diff != "" {
		t.Errorf("hits mismatch (-want +got):\n%s", diff)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	if _, err := NewHTTPSemanticClient(failing.URL, slogutil.NewDiscardLogger()).SemanticSearch(context.Background(), "x", 1); err == nil {
		t.Error("expected error for 503")
	}
}

func TestEngineWithoutSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	e, err := Open(context.Background(), path, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Open without snapshot: %v", err)
	}
	ctx := context.Background()

	if e.Loaded() {
		t.Error("engine must start empty")
	}
	if got := e.Search(ctx, "reentrancy", 10); len(got) != 0 {
		t.Errorf("Search = %v", got)
	}
	if _, found := e.GetEntity(ctx, "x"); found {
		t.Error("GetEntity found an entity")
	}
	if s := e.Stats(ctx); s.Loaded || s.Entities != 0 {
		t.Errorf("Stats = %+v", s)
	}
	if g := e.Graph(); len(g.Entities) != 0 {
		t.Errorf("Graph has %d entities", len(g.Entities))
	}
}

func TestReloadSwapsSnapshot(t *testing.T) {
	c := testutil.NewCorpus(t, testutil.Curated, testutil.Research)
	testutil.WriteReentrancy(c)
	o := buildCorpus(t, c)
	e := openEngine(t, o)
	ctx := context.Background()

	before := e.Info()
	held := e.acquire()

	u := testutil.WriteUniswap(c)
	if _, err := o.Run(ctx, rebuild.ModeQuick); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	swapped, err := e.Reload(ctx)
	if err != nil || !swapped {
		t.Fatalf("Reload = %v, %v; want swap", swapped, err)
	}

	// the old handle stays usable until released
	if _, ok := held.byID[u.V2]; ok {
		t.Error("old handle must not see the new corpus")
	}
	if _, ok, err := held.reader.Entity(ctx, ""); err != nil || ok {
		t.Errorf("old reader closed early: ok=%v err=%v", ok, err)
	}
	held.release()

	after := e.Info()
	if after.GraphVersion == before.GraphVersion {
		t.Errorf("graph version did not change: %s", after.GraphVersion)
	}
	if _, found := e.GetEntity(ctx, u.V2); !found {
		t.Error("new entity not visible after reload")
	}

	swapped, err = e.Reload(ctx)
	if err != nil || swapped {
		t.Errorf("second Reload = %v, %v; want no swap", swapped, err)
	}
}

func TestConcurrentReadsDuringReload(t *testing.T) {
	c := testutil.NewCorpus(t, testutil.Curated, testutil.Research)
	testutil.WriteReentrancy(c)
	o := buildCorpus(t, c)
	e := openEngine(t, o)
	ctx := context.Background()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if n := len(e.Search(ctx, "reentrancy", 20)); n != 5 && n != 6 {
					t.Errorf("partial snapshot observed: %d results", n)
					return
				}
			}
		}()
	}

	c.Write(testutil.Curated, "03-attack-prevention/cross-function-reentrancy.md", "# Cross-Function Reentrancy\n")
	if _, err := o.Run(ctx, rebuild.ModeQuick); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if _, err := e.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	close(stop)
	wg.Wait()

	if n := len(e.Search(ctx, "reentrancy", 20)); n != 6 {
		t.Errorf("after reload Search returned %d, want 6", n)
	}
}
