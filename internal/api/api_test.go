package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"kgindex/internal/auth"
	"kgindex/internal/corpus"
	kgerrors "kgindex/internal/errors"
	"kgindex/internal/query"
	"kgindex/internal/rebuild"
	"kgindex/internal/slogutil"
	"kgindex/internal/testutil"
)

type testEnv struct {
	server  *Server
	engine  *query.Engine
	orch    *rebuild.Orchestrator
	corpus  *testutil.Corpus
	ids     testutil.ReentrancyIDs
	uniswap testutil.UniswapIDs
	token   string
}

// newTestServer builds the reentrancy and uniswap corpus, commits a
// snapshot and serves it.
func newTestServer(t *testing.T, guardLimits auth.RateLimitConfig) *testEnv {
	t.Helper()
	logger := slogutil.NewDiscardLogger()

	c := testutil.NewCorpus(t, testutil.Curated, testutil.Research)
	env := &testEnv{corpus: c, ids: testutil.WriteReentrancy(c), uniswap: testutil.WriteUniswap(c)}

	o, err := rebuild.New(rebuild.Config{
		Roots:    c.Roots(),
		Scan:     corpus.Options{Suffixes: []string{".md", ".sol"}},
		StateDir: c.StateDir(),
	}, logger)
	if err != nil {
		t.Fatalf("rebuild.New: %v", err)
	}
	if _, err := o.Run(context.Background(), rebuild.ModeQuick); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	env.orch = o

	env.engine, err = query.Open(context.Background(), o.Layout().LiveSnapshot(), logger)
	if err != nil {
		t.Fatalf("query.Open: %v", err)
	}
	t.Cleanup(func() { _ = env.engine.Close() })

	env.token, err = auth.GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	hash, err := auth.HashToken(env.token)
	if err != nil {
		t.Fatal(err)
	}
	guard := auth.NewAdminGuard(hash, guardLimits, logger)
	env.server = NewServer(":0", env.engine, logger, WithRebuilder(o), WithAdminGuard(guard))
	return env
}

func (env *testEnv) do(t *testing.T, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	env.server.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %s: %v", w.Body.String(), err)
	}
}

func TestQueryEndpoints(t *testing.T) {
	env := newTestServer(t, auth.RateLimitConfig{})

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantCode   string
	}{
		{"health", "/health", http.StatusOK, ""},
		{"ready", "/ready", http.StatusOK, ""},
		{"status", "/status", http.StatusOK, ""},
		{"root", "/", http.StatusOK, ""},
		{"search", "/search?q=reentrancy", http.StatusOK, ""},
		{"search without q", "/search", http.StatusBadRequest, "QUERY_INVALID"},
		{"search bad limit", "/search?q=x&limit=ten", http.StatusBadRequest, "QUERY_INVALID"},
		{"search negative limit", "/search?q=x&limit=-1", http.StatusBadRequest, "QUERY_INVALID"},
		{"semantic", "/semantic?q=reentrancy", http.StatusOK, ""},
		{"fulltext", "/fulltext?q=uniswap", http.StatusOK, ""},
		{"entity", "/entity?id=" + env.ids.Guide, http.StatusOK, ""},
		{"entity unknown", "/entity?id=guide:curated:nope.md", http.StatusNotFound, "ENTITY_NOT_FOUND"},
		{"entity without id", "/entity", http.StatusBadRequest, "QUERY_INVALID"},
		{"neighbors", "/neighbors?id=" + env.uniswap.V3 + "&direction=both", http.StatusOK, ""},
		{"neighbors bad direction", "/neighbors?id=" + env.uniswap.V3 + "&direction=sideways", http.StatusBadRequest, "QUERY_INVALID"},
		{"neighbors bad kind", "/neighbors?id=" + env.uniswap.V3 + "&kind=FOLLOWS", http.StatusBadRequest, "QUERY_INVALID"},
		{"neighbors unknown", "/neighbors?id=nope", http.StatusNotFound, "ENTITY_NOT_FOUND"},
		{"evolution", "/evolution?family=uniswap", http.StatusOK, ""},
		{"evolution without family", "/evolution", http.StatusBadRequest, "QUERY_INVALID"},
		{"related", "/related?id=" + env.ids.Guide, http.StatusOK, ""},
		{"related unknown", "/related?id=nope", http.StatusNotFound, "ENTITY_NOT_FOUND"},
		{"entities", "/entities?type=protocol-version", http.StatusOK, ""},
		{"entities bad type", "/entities?type=widget", http.StatusBadRequest, "QUERY_INVALID"},
		{"guides", "/guides?severity=critical&minLoss=1000000", http.StatusOK, ""},
		{"guides bad loss", "/guides?minLoss=lots", http.StatusBadRequest, "QUERY_INVALID"},
		{"stats", "/stats", http.StatusOK, ""},
		{"graph", "/graph", http.StatusOK, ""},
		{"metrics", "/metrics", http.StatusOK, ""},
		{"rebuild via GET", "/rebuild", http.StatusMethodNotAllowed, ""},
		{"unknown path", "/symbols", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.target, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantCode != "" {
				var resp ErrorResponse
				decode(t, w, &resp)
				if resp.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
				}
			}
		})
	}
}

func TestSearchEndpointReturnsGuideFirst(t *testing.T) {
	env := newTestServer(t, auth.RateLimitConfig{})

	w := env.do(t, http.MethodGet, "/search?q=reentrancy", nil)
	var resp struct {
		Total   int `json:"total"`
		Results []struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
			Tier int `json:"tier"`
		} `json:"results"`
	}
	decode(t, w, &resp)
	if resp.Total != 5 {
		t.Fatalf("total = %d, want 5", resp.Total)
	}
	if resp.Results[0].Entity.ID != env.ids.Guide {
		t.Errorf("first = %s, want %s", resp.Results[0].Entity.ID, env.ids.Guide)
	}
}

func TestEvolutionEndpoint(t *testing.T) {
	env := newTestServer(t, auth.RateLimitConfig{})

	var chain query.EvolutionChain
	decode(t, env.do(t, http.MethodGet, "/evolution?family=Uniswap", nil), &chain)
	var got []string
	for _, v := range chain.Versions {
		got = append(got, v.ID)
	}
	want := []string{env.uniswap.V2, env.uniswap.V3, env.uniswap.V4}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("chain = %v, want %v", got, want)
	}
}

func TestSemanticEndpointDegrades(t *testing.T) {
	env := newTestServer(t, auth.RateLimitConfig{})

	var resp query.SemanticResponse
	decode(t, env.do(t, http.MethodGet, "/semantic?q=reentrancy", nil), &resp)
	if !resp.Degraded {
		t.Error("semantic search without a collaborator must be degraded")
	}
	if len(resp.Results) != 5 {
		t.Errorf("results = %d, want 5 from keyword fallback", len(resp.Results))
	}
}

func TestRebuildEndpoint(t *testing.T) {
	env := newTestServer(t, auth.RateLimitConfig{})
	bearer := func(tok string) http.Header {
		return http.Header{"Authorization": []string{"Bearer " + tok}}
	}

	tests := []struct {
		name       string
		target     string
		header     http.Header
		wantStatus int
	}{
		{"no token", "/rebuild", nil, http.StatusUnauthorized},
		{"wrong token", "/rebuild", bearer("kgi_sk_wrong"), http.StatusUnauthorized},
		{"bad mode", "/rebuild?mode=partial", bearer(env.token), http.StatusBadRequest},
		{"quick", "/rebuild", bearer(env.token), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.target, tt.header)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}

	before := env.engine.Info().GraphVersion
	env.corpus.Write(testutil.Curated, "03-attack-prevention/oracle-manipulation.md", "# Oracle Manipulation\n")
	w := env.do(t, http.MethodPost, "/rebuild?mode=full", bearer(env.token))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var out rebuild.Outcome
	decode(t, w, &out)
	if out.Skipped {
		t.Error("full rebuild must not skip")
	}
	if got := env.engine.Info().GraphVersion; got == before || got != out.GraphVersion {
		t.Errorf("engine serves %s, outcome %s, before %s", got, out.GraphVersion, before)
	}
	if w := env.do(t, http.MethodGet, "/search?q=oracle", nil); !strings.Contains(w.Body.String(), "oracle-manipulation.md") {
		t.Errorf("new guide not searchable after rebuild: %s", w.Body.String())
	}
}

func TestRebuildEndpointThrottles(t *testing.T) {
	env := newTestServer(t, auth.DefaultRateLimitConfig())

	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		last = env.do(t, http.MethodPost, "/rebuild", nil)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestReadyWithoutSnapshot(t *testing.T) {
	logger := slogutil.NewDiscardLogger()
	engine := query.NewEngine(filepath.Join(t.TempDir(), "graph.db"), logger)
	s := NewServer(":0", engine, logger)

	for target, want := range map[string]int{
		"/ready":   http.StatusServiceUnavailable,
		"/health":  http.StatusOK,
		"/rebuild": http.StatusMethodNotAllowed,
	} {
		w := httptest.NewRecorder()
		s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != want {
			t.Errorf("GET %s = %d, want %d", target, w.Code, want)
		}
	}

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rebuild", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("POST /rebuild without admin hash = %d, want 401", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t, auth.RateLimitConfig{})
	env.do(t, http.MethodGet, "/search?q=uniswap", nil)

	body := env.do(t, http.MethodGet, "/metrics", nil).Body.String()
	for _, want := range []string{
		`kgindex_http_requests_total{code="200",route="GET /search"} 1`,
		`kgindex_searches_total{degraded="false",kind="keyword"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	locked := kgerrors.New(kgerrors.RebuildFailed, "rebuild failed while building",
		kgerrors.Newf(kgerrors.IndexLocked, "held by pid 42"))
	throttled := kgerrors.Newf(kgerrors.Unauthorized, "too many").WithDetails(map[string]int{"retryAfter": 10})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"lock conflict wins", locked, http.StatusConflict},
		{"rebuild failed", kgerrors.Newf(kgerrors.RebuildFailed, "x"), http.StatusInternalServerError},
		{"throttled", throttled, http.StatusTooManyRequests},
		{"unauthorized", kgerrors.Newf(kgerrors.Unauthorized, "x"), http.StatusUnauthorized},
		{"snapshot missing", kgerrors.Newf(kgerrors.SnapshotMissing, "x"), http.StatusServiceUnavailable},
		{"wrapped", fmt.Errorf("ctx: %w", kgerrors.Newf(kgerrors.EntityNotFound, "x")), http.StatusNotFound},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}
