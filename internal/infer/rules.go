package infer

import (
	"fmt"
	"sort"
	"strings"

	"kgindex/internal/graph"
)

// Rule derives edges of one relation kind from the complete entity set.
type Rule interface {
	Kind() graph.RelationKind
	Infer(entities []graph.Entity) ([]graph.Edge, error)
}

// DefaultRules returns the built-in rules in their fixed evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		SupersedesRule{},
		PairsWithRule{},
		ExplainsRule{},
		DemonstratesRule{},
		PerspectiveRule{},
	}
}

// SupersedesRule chains protocol versions of a family, newer -> older.
type SupersedesRule struct{}

func (SupersedesRule) Kind() graph.RelationKind { return graph.Supersedes }

type versionKey struct {
	entity  graph.Entity
	ordinal int
	date    string
}

func (SupersedesRule) Infer(entities []graph.Entity) ([]graph.Edge, error) {
	families := make(map[string][]versionKey)
	for _, e := range entities {
		if e.Type != graph.TypeProtocolVersion {
			continue
		}
		key, ok := e.FamilyKey()
		if !ok {
			continue
		}
		k := versionKey{entity: e, ordinal: -1}
		if n, ok := e.Ordinal(); ok {
			k.ordinal = n
		}
		if a, ok := e.Attrs.(*graph.ProtocolVersionAttrs); ok && a.ReleaseDate != nil {
			k.date = *a.ReleaseDate
		}
		families[key] = append(families[key], k)
	}

	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	var edges []graph.Edge
	for _, name := range names {
		chain, err := orderVersions(families[name])
		if err != nil {
			return nil, fmt.Errorf("family %q: %w", name, err)
		}
		for i := 1; i < len(chain); i++ {
			edges = append(edges, graph.Edge{Source: chain[i].ID, Kind: graph.Supersedes, Target: chain[i-1].ID})
		}
	}
	return edges, nil
}

// orderVersions sorts members oldest first: by ordinal when every member
// has one, else by release date when every member has one, else by
// ordinal among the members that have one. Equal keys are an error.
func orderVersions(members []versionKey) ([]graph.Entity, error) {
	allOrdinal, allDate := true, true
	for _, m := range members {
		allOrdinal = allOrdinal && m.ordinal >= 0
		allDate = allDate && m.date != ""
	}

	byDate := !allOrdinal && allDate
	var keyed []versionKey
	for _, m := range members {
		if byDate || m.ordinal >= 0 {
			keyed = append(keyed, m)
		}
	}

	less := func(a, b versionKey) int {
		if byDate {
			return strings.Compare(a.date, b.date)
		}
		return a.ordinal - b.ordinal
	}
	sort.Slice(keyed, func(i, j int) bool {
		if c := less(keyed[i], keyed[j]); c != 0 {
			return c < 0
		}
		return keyed[i].entity.ID < keyed[j].entity.ID
	})

	out := make([]graph.Entity, len(keyed))
	for i, m := range keyed {
		if i > 0 && less(keyed[i-1], m) == 0 {
			return nil, fmt.Errorf("%s and %s share the same version key", keyed[i-1].entity.ID, m.entity.ID)
		}
		out[i] = m.entity
	}
	return out, nil
}

// PairsWithRule pairs deep-dives with integration guides of the same
// family (and version, when both carry one). Each pair yields two edges.
type PairsWithRule struct{}

func (PairsWithRule) Kind() graph.RelationKind { return graph.PairsWith }

func (PairsWithRule) Infer(entities []graph.Entity) ([]graph.Edge, error) {
	deepDives := ofType(entities, graph.TypeDeepDive)
	integrations := ofType(entities, graph.TypeIntegration)

	var edges []graph.Edge
	for _, d := range deepDives {
		dFam, ok := d.FamilyKey()
		if !ok {
			continue
		}
		dOrd, dHasOrd := d.Ordinal()
		for _, i := range integrations {
			iFam, ok := i.FamilyKey()
			if !ok || iFam != dFam {
				continue
			}
			if iOrd, ok := i.Ordinal(); ok && dHasOrd && iOrd != dOrd {
				continue
			}
			edges = append(edges,
				graph.Edge{Source: d.ID, Kind: graph.PairsWith, Target: i.ID},
				graph.Edge{Source: i.ID, Kind: graph.PairsWith, Target: d.ID},
			)
		}
	}
	return edges, nil
}

// ExplainsRule links a deep-dive to the protocol version with the same
// family and ordinal.
type ExplainsRule struct{}

func (ExplainsRule) Kind() graph.RelationKind { return graph.Explains }

func (ExplainsRule) Infer(entities []graph.Entity) ([]graph.Edge, error) {
	type versionRef struct {
		family  string
		ordinal int
	}
	versions := make(map[versionRef][]string)
	for _, v := range ofType(entities, graph.TypeProtocolVersion) {
		fam, ok := v.FamilyKey()
		ord, hasOrd := v.Ordinal()
		if ok && hasOrd {
			ref := versionRef{fam, ord}
			versions[ref] = append(versions[ref], v.ID)
		}
	}

	var edges []graph.Edge
	for _, d := range ofType(entities, graph.TypeDeepDive) {
		fam, ok := d.FamilyKey()
		ord, hasOrd := d.Ordinal()
		if !ok || !hasOrd {
			continue
		}
		for _, target := range versions[versionRef{fam, ord}] {
			edges = append(edges, graph.Edge{Source: d.ID, Kind: graph.Explains, Target: target})
		}
	}
	return edges, nil
}

// DemonstratesRule links a vulnerable example to the guide whose title
// names its vulnerability.
type DemonstratesRule struct{}

func (DemonstratesRule) Kind() graph.RelationKind { return graph.Demonstrates }

func (DemonstratesRule) Infer(entities []graph.Entity) ([]graph.Edge, error) {
	guides := make(map[string][]string)
	for _, g := range ofType(entities, graph.TypeGuide) {
		if key := VulnerabilityKey(g.Title); key != "" {
			guides[key] = append(guides[key], g.ID)
		}
	}

	var edges []graph.Edge
	for _, ex := range ofType(entities, graph.TypeExample) {
		a, ok := ex.Attrs.(*graph.ExampleAttrs)
		if !ok || a.VulnerabilityName == nil {
			continue
		}
		name := *a.VulnerabilityName
		for _, target := range guides[VulnerabilityKey(name)] {
			edges = append(edges, graph.Edge{Source: ex.ID, Kind: graph.Demonstrates, Target: target})
		}
	}
	return edges, nil
}

// PerspectiveRule links a source repository to every guide whose
// vulnerability it covers, by whole-phrase match in its topics or body.
type PerspectiveRule struct{}

func (PerspectiveRule) Kind() graph.RelationKind { return graph.ProvidesPerspective }

func (PerspectiveRule) Infer(entities []graph.Entity) ([]graph.Edge, error) {
	type guideKey struct {
		id     string
		phrase string
	}
	var guides []guideKey
	for _, g := range ofType(entities, graph.TypeGuide) {
		if key := VulnerabilityKey(g.Title); key != "" {
			guides = append(guides, guideKey{g.ID, " " + key + " "})
		}
	}
	if len(guides) == 0 {
		return nil, nil
	}

	var edges []graph.Edge
	for _, r := range ofType(entities, graph.TypeRepository) {
		a, ok := r.Attrs.(*graph.RepositoryAttrs)
		if !ok {
			continue
		}
		var parts []string
		for _, topic := range a.Topics {
			parts = append(parts, normalize(topic))
		}
		if body, ok := graph.Value(a.Body); ok {
			parts = append(parts, normalize(body))
		}
		if len(parts) == 0 {
			continue
		}
		// the separator survives normalization, so a phrase never spans two topics
		text := " " + strings.Join(parts, " | ") + " "
		for _, g := range guides {
			if strings.Contains(text, g.phrase) {
				edges = append(edges, graph.Edge{Source: r.ID, Kind: graph.ProvidesPerspective, Target: g.id})
			}
		}
	}
	return edges, nil
}

func ofType(entities []graph.Entity, t graph.EntityType) []graph.Entity {
	var out []graph.Entity
	for _, e := range entities {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// normalize lower-cases s and collapses every run of non-alphanumeric
// characters into one space.
func normalize(s string) string {
	return graph.FamilyKey(s)
}

var vulnerabilitySuffixes = []string{"attacks", "attack", "vulnerabilities", "vulnerability"}

// VulnerabilityKey normalizes a vulnerability name or guide title so
// "Reentrancy Attacks", "reentrancy" and "Reentrancy-Vulnerability" agree.
func VulnerabilityKey(s string) string {
	key := normalize(s)
	for _, suffix := range vulnerabilitySuffixes {
		if trimmed, ok := strings.CutSuffix(key, " "+suffix); ok {
			return trimmed
		}
	}
	return key
}
