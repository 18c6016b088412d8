package query

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"kgindex/internal/graph"
)

// Match tiers, highest first.
const (
	TierExactTitle   = 3
	TierPartialTitle = 2
	TierAttribute    = 1
)

// SearchResult is one ranked entity.
type SearchResult struct {
	Entity        graph.Entity `json:"entity"`
	Tier          int          `json:"tier,omitempty"`
	MatchedTokens int          `json:"matchedTokens,omitempty"`
	Score         float64      `json:"score,omitempty"`
}

// searchDoc is the normalized text of one entity.
type searchDoc struct {
	title string // tokens joined by single spaces
	text  string // attribute tokens joined by single spaces
}

func newSearchDoc(e *graph.Entity) searchDoc {
	var text []string
	if e.Attrs != nil {
		for _, s := range e.Attrs.Text() {
			text = append(text, tokenize(s)...)
		}
	}
	return searchDoc{
		title: strings.Join(tokenize(e.Title), " "),
		text:  strings.Join(text, " "),
	}
}

// tokenize lower-cases s and splits it on every non-alphanumeric rune.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// score ranks doc against the query tokens. A zero tier means no match.
// The title is an exact match when it contains the whole query as a run of
// complete words.
func (d searchDoc) score(tokens []string) (tier, matched int) {
	phrase := strings.Join(tokens, " ")
	if strings.Contains(" "+d.title+" ", " "+phrase+" ") {
		tier = TierExactTitle
	}
	for _, tok := range tokens {
		inTitle := strings.Contains(d.title, tok)
		inText := strings.Contains(d.text, tok)
		if !inTitle && !inText {
			continue
		}
		matched++
		switch {
		case inTitle && tier < TierPartialTitle:
			tier = TierPartialTitle
		case tier < TierAttribute:
			tier = TierAttribute
		}
	}
	return tier, matched
}

// Search ranks entities by keyword: exact title over partial title over
// attribute content, then by number of matched tokens, then by id. An empty
// query or a query without alphanumerics returns nothing.
func (e *Engine) Search(ctx context.Context, keyword string, limit int) []SearchResult {
	tokens := dedupe(tokenize(keyword))
	if len(tokens) == 0 {
		return []SearchResult{}
	}
	h := e.acquire()
	if h == nil {
		return []SearchResult{}
	}
	defer h.release()
	return h.searchTokens(tokens, clampLimit(limit))
}

func (h *snapshotHandle) searchTokens(tokens []string, limit int) []SearchResult {
	candidates := h.candidates(tokens)

	results := make([]SearchResult, 0, len(candidates))
	for _, id := range candidates {
		doc, ok := h.docs[id]
		if !ok {
			continue
		}
		tier, matched := doc.score(tokens)
		if tier == 0 {
			continue
		}
		results = append(results, SearchResult{
			Entity:        *h.byID[id],
			Tier:          tier,
			MatchedTokens: matched,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Tier != b.Tier {
			return a.Tier > b.Tier
		}
		if a.MatchedTokens != b.MatchedTokens {
			return a.MatchedTokens > b.MatchedTokens
		}
		return a.Entity.ID < b.Entity.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// candidates returns, in id order, the entities whose folded title or text
// contains at least one token.
func (h *snapshotHandle) candidates(tokens []string) []string {
	var ids []string
	for _, ent := range h.snap.Entities {
		doc := h.docs[ent.ID]
		for _, tok := range tokens {
			if strings.Contains(doc.title, tok) || strings.Contains(doc.text, tok) {
				ids = append(ids, ent.ID)
				break
			}
		}
	}
	return ids
}

func dedupe(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
