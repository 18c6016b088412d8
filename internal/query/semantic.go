package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	kgerrors "kgindex/internal/errors"
	"kgindex/internal/version"
)

// maxSemanticBody bounds the collaborator response read into memory.
const maxSemanticBody = 4 << 20

// SemanticHit is one entity id ranked by the semantic collaborator.
type SemanticHit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// SemanticSearcher ranks entity ids by similarity to free text.
type SemanticSearcher interface {
	SemanticSearch(ctx context.Context, query string, limit int) ([]SemanticHit, error)
}

// SemanticResponse is the result of SemanticSearch. Degraded is set when
// the results came from keyword search instead of the collaborator.
type SemanticResponse struct {
	Query    string         `json:"query"`
	Results  []SearchResult `json:"results"`
	Degraded bool           `json:"degraded"`
	Reason   string         `json:"reason,omitempty"`
}

// SemanticSearch asks the semantic collaborator for the entities most
// similar to query. When no collaborator is configured, or it fails or
// times out, the keyword Search answers instead and the response is marked
// degraded. Ids the collaborator returns that are not in the snapshot are
// dropped.
func (e *Engine) SemanticSearch(ctx context.Context, query string, limit int) *SemanticResponse {
	limit = clampLimit(limit)
	resp := &SemanticResponse{Query: query, Results: []SearchResult{}}
	if strings.TrimSpace(query) == "" {
		return resp
	}

	if e.semantic == nil {
		return e.degrade(ctx, resp, limit, "semantic search is not configured")
	}

	h := e.acquire()
	if h == nil {
		return resp
	}
	defer h.release()

	callCtx, cancel := context.WithTimeout(ctx, e.semanticTimeout)
	defer cancel()
	hits, err := e.semantic.SemanticSearch(callCtx, query, limit)
	if err != nil {
		err = kgerrors.New(kgerrors.SemanticUnavailable, "semantic collaborator failed", err)
		e.logger.Warn("Semantic search degraded to keyword search", "error", err)
		return e.degrade(ctx, resp, limit, err.Error())
	}

	for _, hit := range hits {
		ent, ok := h.byID[hit.ID]
		if !ok {
			continue
		}
		resp.Results = append(resp.Results, SearchResult{Entity: *ent, Score: hit.Score})
		if len(resp.Results) == limit {
			break
		}
	}
	return resp
}

func (e *Engine) degrade(ctx context.Context, resp *SemanticResponse, limit int, reason string) *SemanticResponse {
	resp.Degraded = true
	resp.Reason = reason
	resp.Results = e.Search(ctx, resp.Query, limit)
	return resp
}

// HTTPSemanticClient calls an embedding service that accepts
// {"query": ..., "limit": ...} and answers {"results": [{"id", "score"}]}.
type HTTPSemanticClient struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPSemanticClient creates a client for endpoint. The caller's context
// carries the deadline.
func NewHTTPSemanticClient(endpoint string, logger *slog.Logger) *HTTPSemanticClient {
	return &HTTPSemanticClient{
		endpoint: endpoint,
		client:   &http.Client{},
		logger:   logger,
	}
}

type semanticRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type semanticReply struct {
	Results []SemanticHit `json:"results"`
}

// SemanticSearch posts the query to the endpoint.
func (c *HTTPSemanticClient) SemanticSearch(ctx context.Context, query string, limit int) ([]SemanticHit, error) {
	body, err := json.Marshal(semanticRequest{Query: query, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "kgindex/"+version.Version)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSemanticBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("semantic endpoint returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var reply semanticReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	c.logger.Debug("Semantic search answered", "query", query, "hits", len(reply.Results))
	return reply.Results, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
