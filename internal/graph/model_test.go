package graph

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewEntity(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		typ     EntityType
		prov    string
		path    string
		attrs   Attributes
		wantErr string
	}{
		{name: "minimal", id: "guide:curated:a.md", typ: TypeGuide, prov: "curated", path: "a.md"},
		{name: "missing id", typ: TypeGuide, prov: "curated", path: "a.md", wantErr: "id is required"},
		{name: "unknown type", id: "x", typ: "essay", prov: "curated", path: "a.md", wantErr: "unknown type"},
		{name: "missing provenance", id: "x", typ: TypeGuide, path: "a.md", wantErr: "provenance"},
		{name: "variant mismatch", id: "x", typ: TypeGuide, prov: "curated", path: "a.md", attrs: &TemplateAttrs{}, wantErr: "template attributes on guide"},
		{name: "negative ordinal", id: "x", typ: TypeProtocolVersion, prov: "research", path: "v.md", attrs: &ProtocolVersionAttrs{Ordinal: Ptr(-1)}, wantErr: "ordinal"},
		{name: "bad release date", id: "x", typ: TypeProtocolVersion, prov: "research", path: "v.md", attrs: &ProtocolVersionAttrs{ReleaseDate: Ptr("May 2021")}, wantErr: "release date"},
		{name: "negative loss", id: "x", typ: TypeExample, prov: "research", path: "e.sol", attrs: &ExampleAttrs{EstimatedLossUSD: Ptr(int64(-5))}, wantErr: "loss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEntity(tt.id, tt.typ, tt.prov, tt.path, "", tt.attrs)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("NewEntity() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEntity() unexpected error: %v", err)
			}
			if e.Attrs == nil || e.Attrs.EntityType() != tt.typ {
				t.Errorf("expected %s attribute variant, got %T", tt.typ, e.Attrs)
			}
		})
	}
}

func TestAbsentAttributesStayAbsent(t *testing.T) {
	e, err := NewEntity("protocol-version:research:uniswap/v2.md", TypeProtocolVersion, "research", "uniswap/v2.md", "Uniswap V2", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.Ordinal(); ok {
		t.Error("ordinal should be absent")
	}
	if _, ok := e.Family(); ok {
		t.Error("family should be absent")
	}
}

func TestEntityJSONRoundTrip(t *testing.T) {
	orig, err := NewEntity("guide:curated:reentrancy.md", TypeGuide, "curated", "reentrancy.md", "Reentrancy",
		&GuideAttrs{Severity: Ptr("CRITICAL"), EstimatedLossUSD: Ptr(int64(60000000)), Keywords: []string{"external call"}})
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"severity":"CRITICAL"`) {
		t.Errorf("unexpected encoding: %s", data)
	}
	if strings.Contains(string(data), "cwe") {
		t.Errorf("absent attribute should be omitted: %s", data)
	}

	var decoded Entity
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if diff := cmp.Diff(orig, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParsers(t *testing.T) {
	if k, ok := ParseRelationKind("pairs-with"); !ok || k != PairsWith {
		t.Errorf("ParseRelationKind(pairs-with) = %v, %v", k, ok)
	}
	if _, ok := ParseRelationKind("LIKES"); ok {
		t.Error("unknown relation kind should not parse")
	}
	if d, ok := ParseDirection(""); !ok || d != Outgoing {
		t.Errorf("ParseDirection(\"\") = %v, %v", d, ok)
	}
	if _, ok := ParseDirection("sideways"); ok {
		t.Error("unknown direction should not parse")
	}
	if typ, ok := ParseEntityType("Deep-Dive"); !ok || typ != TypeDeepDive {
		t.Errorf("ParseEntityType(Deep-Dive) = %v, %v", typ, ok)
	}
}

func TestSnapshotValidate(t *testing.T) {
	mk := func(id string) Entity {
		e, err := NewEntity(id, TypeProtocolVersion, "research", id, id, nil)
		if err != nil {
			t.Fatal(err)
		}
		return e
	}
	entities := []Entity{mk("v2"), mk("v3"), mk("v4")}

	tests := []struct {
		name    string
		edges   []Edge
		wantErr bool
	}{
		{"chain", []Edge{{"v4", Supersedes, "v3"}, {"v3", Supersedes, "v2"}}, false},
		{"dangling target", []Edge{{"v4", Supersedes, "v9"}}, true},
		{"cycle", []Edge{{"v4", Supersedes, "v3"}, {"v3", Supersedes, "v2"}, {"v2", Supersedes, "v4"}}, true},
		{"fork", []Edge{{"v4", Supersedes, "v3"}, {"v4", Supersedes, "v2"}}, true},
		{"self loop", []Edge{{"v4", PairsWith, "v4"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Snapshot{Entities: entities, Edges: tt.edges}
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	dup := &Snapshot{Entities: []Entity{mk("v2"), mk("v2")}}
	if err := dup.Validate(); err == nil {
		t.Error("expected duplicate id error")
	}
}

func TestNextVersion(t *testing.T) {
	tests := map[string]string{
		"":       InitialVersion,
		"1.0.0":  "1.0.1",
		"v2.3.9": "2.3.10",
		"junk":   InitialVersion,
		"1.x.0":  InitialVersion,
	}
	for in, want := range tests {
		if got := NextVersion(in); got != want {
			t.Errorf("NextVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSortEdges(t *testing.T) {
	edges := []Edge{
		{"b", PairsWith, "a"},
		{"a", PairsWith, "b"},
		{"a", Explains, "c"},
	}
	SortEdges(edges)
	want := []Edge{{"a", Explains, "c"}, {"a", PairsWith, "b"}, {"b", PairsWith, "a"}}
	if diff := cmp.Diff(want, edges); diff != "" {
		t.Errorf("SortEdges mismatch (-want +got):\n%s", diff)
	}
}
