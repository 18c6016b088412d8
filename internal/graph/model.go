// Package graph defines the entity/relationship model of a knowledge-graph
// snapshot and the graph algorithms run over it.
package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// EntityType is the closed set of entity kinds.
type EntityType string

const (
	TypeGuide           EntityType = "guide"
	TypeTemplate        EntityType = "template"
	TypeDeepDive        EntityType = "deep-dive"
	TypeIntegration     EntityType = "integration-guide"
	TypeProtocolVersion EntityType = "protocol-version"
	TypeRepository      EntityType = "source-repository"
	TypeExample         EntityType = "vulnerable-example"
)

var entityTypes = []EntityType{
	TypeGuide,
	TypeTemplate,
	TypeDeepDive,
	TypeIntegration,
	TypeProtocolVersion,
	TypeRepository,
	TypeExample,
}

// AllEntityTypes returns every entity type in declaration order.
func AllEntityTypes() []EntityType {
	out := make([]EntityType, len(entityTypes))
	copy(out, entityTypes)
	return out
}

// ParseEntityType accepts the canonical name of an entity type.
func ParseEntityType(s string) (EntityType, bool) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Valid reports whether t is a member of the closed set.
func (t EntityType) Valid() bool {
	for _, known := range entityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// RelationKind is the closed set of edge kinds.
type RelationKind string

const (
	Supersedes          RelationKind = "SUPERSEDES"
	PairsWith           RelationKind = "PAIRS_WITH"
	Explains            RelationKind = "EXPLAINS"
	Demonstrates        RelationKind = "DEMONSTRATES"
	ProvidesPerspective RelationKind = "PROVIDES_PERSPECTIVE"
)

var relationKinds = []RelationKind{Supersedes, PairsWith, Explains, Demonstrates, ProvidesPerspective}

// AllRelationKinds returns every relation kind in declaration order.
func AllRelationKinds() []RelationKind {
	out := make([]RelationKind, len(relationKinds))
	copy(out, relationKinds)
	return out
}

// ParseRelationKind accepts SUPERSEDES, supersedes or pairs-with style spellings.
func ParseRelationKind(s string) (RelationKind, bool) {
	k := RelationKind(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	return k, k.Valid()
}

// Valid reports whether k is a member of the closed set.
func (k RelationKind) Valid() bool {
	for _, known := range relationKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Symmetric reports whether the relation holds in both directions.
func (k RelationKind) Symmetric() bool {
	return k == PairsWith
}

// Direction selects which edges of a node a traversal follows.
type Direction string

const (
	Outgoing Direction = "out"
	Incoming Direction = "in"
	Both     Direction = "both"
)

// ParseDirection parses out, in or both; empty means out.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "out", "outgoing":
		return Outgoing, true
	case "in", "incoming":
		return Incoming, true
	case "both", "any":
		return Both, true
	default:
		return "", false
	}
}

// EntityID derives the stable identifier of the entity extracted from
// relPath under the root labelled provenance.
func EntityID(t EntityType, provenance, relPath string) string {
	return string(t) + ":" + provenance + ":" + relPath
}

// Entity is one typed record of a snapshot. Attrs always holds the
// variant matching Type.
type Entity struct {
	ID         string
	Type       EntityType
	Provenance string
	Title      string
	Path       string
	Attrs      Attributes
}

// NewEntity validates and assembles an entity. A nil attrs is replaced by
// the empty variant for t.
func NewEntity(id string, t EntityType, provenance, path, title string, attrs Attributes) (Entity, error) {
	if id == "" {
		return Entity{}, fmt.Errorf("entity id is required")
	}
	if !t.Valid() {
		return Entity{}, fmt.Errorf("entity %s: unknown type %q", id, t)
	}
	if provenance == "" {
		return Entity{}, fmt.Errorf("entity %s: provenance is required", id)
	}
	if path == "" {
		return Entity{}, fmt.Errorf("entity %s: path is required", id)
	}
	if attrs == nil {
		attrs = EmptyAttrs(t)
	}
	if attrs.EntityType() != t {
		return Entity{}, fmt.Errorf("entity %s: %s attributes on %s entity", id, attrs.EntityType(), t)
	}
	if err := attrs.validate(); err != nil {
		return Entity{}, fmt.Errorf("entity %s: %w", id, err)
	}
	return Entity{
		ID:         id,
		Type:       t,
		Provenance: provenance,
		Title:      title,
		Path:       path,
		Attrs:      attrs,
	}, nil
}

// Family returns the protocol family for entity types that carry one.
func (e Entity) Family() (string, bool) {
	switch a := e.Attrs.(type) {
	case *DeepDiveAttrs:
		return Value(a.Family)
	case *IntegrationAttrs:
		return Value(a.Family)
	case *ProtocolVersionAttrs:
		return Value(a.Family)
	}
	return "", false
}

// FamilyKey returns the normalized family of the entity, empty when it
// carries none.
func (e Entity) FamilyKey() (string, bool) {
	fam, ok := e.Family()
	if !ok {
		return "", false
	}
	key := FamilyKey(fam)
	return key, key != ""
}

// FamilyKey normalizes a family name so "Curve Finance", "curve-finance"
// and "CURVE_FINANCE" compare equal: lower-cased, with every run of
// non-alphanumeric characters collapsed into one space.
func FamilyKey(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// Ordinal returns the version ordinal for entity types that carry one.
func (e Entity) Ordinal() (int, bool) {
	switch a := e.Attrs.(type) {
	case *DeepDiveAttrs:
		return Value(a.Ordinal)
	case *IntegrationAttrs:
		return Value(a.Ordinal)
	case *ProtocolVersionAttrs:
		return Value(a.Ordinal)
	}
	return 0, false
}

// SearchText returns the title followed by the text-valued attributes.
func (e Entity) SearchText() []string {
	out := []string{e.Title}
	if e.Attrs != nil {
		out = append(out, e.Attrs.Text()...)
	}
	return out
}

type entityJSON struct {
	ID         string          `json:"id"`
	Type       EntityType      `json:"type"`
	Provenance string          `json:"provenance"`
	Title      string          `json:"title"`
	Path       string          `json:"path"`
	Attrs      json.RawMessage `json:"attrs"`
}

// MarshalJSON encodes the entity with its attribute variant under "attrs".
func (e Entity) MarshalJSON() ([]byte, error) {
	attrs, err := MarshalAttrs(e.Attrs)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entityJSON{
		ID:         e.ID,
		Type:       e.Type,
		Provenance: e.Provenance,
		Title:      e.Title,
		Path:       e.Path,
		Attrs:      attrs,
	})
}

// UnmarshalJSON decodes the attribute variant selected by "type" and
// revalidates the entity.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw entityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	attrs, err := DecodeAttrs(raw.Type, raw.Attrs)
	if err != nil {
		return err
	}
	decoded, err := NewEntity(raw.ID, raw.Type, raw.Provenance, raw.Path, raw.Title, attrs)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

// Edge is a directed, typed connection between two entity ids.
type Edge struct {
	Source string       `json:"source"`
	Kind   RelationKind `json:"kind"`
	Target string       `json:"target"`
}

func (e Edge) String() string {
	return e.Source + " -" + string(e.Kind) + "-> " + e.Target
}

// SortEdges orders edges by (source, kind, target).
func SortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Target < b.Target
	})
}

// SortEntities orders entities by id.
func SortEntities(entities []Entity) {
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
}

// Snapshot is the complete output of one pipeline run.
type Snapshot struct {
	Fingerprint string    `json:"fingerprint"`
	BuiltAt     time.Time `json:"builtAt"`
	Version     string    `json:"version"`
	SourceFiles int       `json:"sourceFiles"`
	Entities    []Entity  `json:"entities"`
	Edges       []Edge    `json:"edges"`
}

// Validate checks the snapshot invariants: unique ids, edges between
// existing entities of a known kind, and SUPERSEDES forming simple
// acyclic chains.
func (s *Snapshot) Validate() error {
	ids := make(map[string]bool, len(s.Entities))
	for _, e := range s.Entities {
		if ids[e.ID] {
			return fmt.Errorf("duplicate entity id %s", e.ID)
		}
		ids[e.ID] = true
	}
	for _, e := range s.Edges {
		if !e.Kind.Valid() {
			return fmt.Errorf("edge %s: unknown relation kind", e)
		}
		if !ids[e.Source] {
			return fmt.Errorf("edge %s: source does not exist", e)
		}
		if !ids[e.Target] {
			return fmt.Errorf("edge %s: target does not exist", e)
		}
		if e.Source == e.Target {
			return fmt.Errorf("edge %s: self loop", e)
		}
	}
	return CheckSupersedesChains(s.Edges)
}

// CheckSupersedesChains verifies every node has at most one SUPERSEDES
// predecessor and successor and that following successors never revisits a
// node.
func CheckSupersedesChains(edges []Edge) error {
	next := make(map[string]string)
	prev := make(map[string]string)
	for _, e := range edges {
		if e.Kind != Supersedes {
			continue
		}
		if other, ok := next[e.Source]; ok && other != e.Target {
			return fmt.Errorf("%s supersedes both %s and %s", e.Source, other, e.Target)
		}
		if other, ok := prev[e.Target]; ok && other != e.Source {
			return fmt.Errorf("%s is superseded by both %s and %s", e.Target, other, e.Source)
		}
		next[e.Source] = e.Target
		prev[e.Target] = e.Source
	}
	for start := range next {
		seen := map[string]bool{start: true}
		for cur, ok := next[start]; ok; cur, ok = next[cur] {
			if seen[cur] {
				return fmt.Errorf("SUPERSEDES cycle through %s", cur)
			}
			seen[cur] = true
		}
	}
	return nil
}
