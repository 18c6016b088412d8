package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"kgindex/internal/extract"
	"kgindex/internal/graph"
)

// maxLimit caps the limit parameter of every list endpoint.
const maxLimit = 500

// parseLimit reads the limit parameter. Missing means zero, which the
// query engine replaces with its default.
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %q", limitStr)
	}
	if limit < 0 {
		return 0, fmt.Errorf("limit must be non-negative")
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

// requireParam returns the trimmed value of a mandatory parameter.
func requireParam(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return "", fmt.Errorf("missing required parameter %q", name)
	}
	return v, nil
}

// NeighborParams are the parsed parameters of /neighbors.
type NeighborParams struct {
	ID        string
	Kind      graph.RelationKind
	Direction graph.Direction
}

// ParseNeighborParams validates id, kind and direction.
func ParseNeighborParams(r *http.Request) (*NeighborParams, error) {
	id, err := requireParam(r, "id")
	if err != nil {
		return nil, err
	}
	p := &NeighborParams{ID: id}

	if kindStr := r.URL.Query().Get("kind"); kindStr != "" {
		kind, ok := graph.ParseRelationKind(kindStr)
		if !ok {
			return nil, fmt.Errorf("unknown relation kind %q", kindStr)
		}
		p.Kind = kind
	}

	dirStr := r.URL.Query().Get("direction")
	dir, ok := graph.ParseDirection(dirStr)
	if !ok {
		return nil, fmt.Errorf("direction must be out, in or both, got %q", dirStr)
	}
	p.Direction = dir
	return p, nil
}

// parseMinLoss reads minLoss in USD, either whole dollars or an amount
// such as $10M.
func parseMinLoss(r *http.Request) (int64, error) {
	s := strings.TrimSpace(r.URL.Query().Get("minLoss"))
	if s == "" {
		return 0, nil
	}
	n, ok := extract.ParseLossUSD(s)
	if !ok {
		return 0, fmt.Errorf("minLoss must be a USD amount such as 5000000 or $5M, got %q", s)
	}
	return n, nil
}
