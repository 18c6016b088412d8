package api

import (
	"context"
	"net/http"

	kgerrors "kgindex/internal/errors"
	"kgindex/internal/graph"
	"kgindex/internal/query"
	"kgindex/internal/rebuild"
)

// SearchResponse is the body of /search.
type SearchResponse struct {
	Query   string               `json:"query"`
	Results []query.SearchResult `json:"results"`
	Total   int                  `json:"total"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q, err := requireParam(r, "q")
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	results := s.engine.Search(r.Context(), q, limit)
	s.metrics.countSearch("keyword", false)
	WriteJSON(w, SearchResponse{Query: q, Results: results, Total: len(results)}, http.StatusOK)
}

func (s *Server) handleSemantic(w http.ResponseWriter, r *http.Request) {
	q, err := requireParam(r, "q")
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	resp := s.engine.SemanticSearch(r.Context(), q, limit)
	s.metrics.countSearch("semantic", resp.Degraded)
	WriteJSON(w, resp, http.StatusOK)
}

// FullTextResponse is the body of /fulltext.
type FullTextResponse struct {
	Query   string                 `json:"query"`
	Results []query.FullTextResult `json:"results"`
	Total   int                    `json:"total"`
}

func (s *Server) handleFullText(w http.ResponseWriter, r *http.Request) {
	q, err := requireParam(r, "q")
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	results := s.engine.FullText(r.Context(), q, limit)
	s.metrics.countSearch("fulltext", false)
	WriteJSON(w, FullTextResponse{Query: q, Results: results, Total: len(results)}, http.StatusOK)
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	id, err := requireParam(r, "id")
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	entity, found := s.engine.GetEntity(r.Context(), id)
	if !found {
		NotFound(w, "entity not found: "+id)
		return
	}
	WriteJSON(w, entity, http.StatusOK)
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	p, err := ParseNeighborParams(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	resp := s.engine.GetNeighbors(r.Context(), p.ID, p.Kind, p.Direction)
	if !resp.Found {
		NotFound(w, "entity not found: "+p.ID)
		return
	}
	WriteJSON(w, resp, http.StatusOK)
}

func (s *Server) handleEvolution(w http.ResponseWriter, r *http.Request) {
	family, err := requireParam(r, "family")
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	WriteJSON(w, s.engine.GetEvolutionChain(r.Context(), family), http.StatusOK)
}

// RelatedResponse is the body of /related.
type RelatedResponse struct {
	ID      string                `json:"id"`
	Results []query.RelatedResult `json:"results"`
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	id, err := requireParam(r, "id")
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	if _, found := s.engine.GetEntity(r.Context(), id); !found {
		NotFound(w, "entity not found: "+id)
		return
	}
	WriteJSON(w, RelatedResponse{ID: id, Results: s.engine.Related(r.Context(), id, limit)}, http.StatusOK)
}

// EntitiesResponse is the body of /entities and /guides.
type EntitiesResponse struct {
	Entities []graph.Entity `json:"entities"`
	Total    int            `json:"total"`
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	typeStr, err := requireParam(r, "type")
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	t, ok := graph.ParseEntityType(typeStr)
	if !ok {
		BadRequest(w, "unknown entity type: "+typeStr)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	entities := s.engine.FindByType(r.Context(), t, limit)
	WriteJSON(w, EntitiesResponse{Entities: entities, Total: len(entities)}, http.StatusOK)
}

func (s *Server) handleGuides(w http.ResponseWriter, r *http.Request) {
	minLoss, err := parseMinLoss(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	guides := s.engine.FindGuides(r.Context(), r.URL.Query().Get("severity"), minLoss)
	WriteJSON(w, EntitiesResponse{Entities: guides, Total: len(guides)}, http.StatusOK)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, s.engine.Stats(r.Context()), http.StatusOK)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, s.engine.Graph(), http.StatusOK)
}

// handleRebuild runs one rebuild synchronously and reloads the engine. The
// run is detached from the request so a disconnecting client cannot
// interrupt it.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.Authorize(r); err != nil {
		WriteKgError(w, err)
		return
	}
	if s.rebuilder == nil {
		WriteError(w, kgerrors.Newf(kgerrors.InternalError, "rebuilds are not enabled on this server"), http.StatusNotImplemented)
		return
	}
	modeStr := r.URL.Query().Get("mode")
	mode, ok := rebuild.ParseMode(modeStr)
	if !ok {
		BadRequest(w, "mode must be quick or full, got "+modeStr)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	out, err := s.rebuilder.Run(ctx, mode)
	if err != nil {
		s.logger.Error("Rebuild via API failed", "error", err, "requestID", GetRequestID(r.Context()))
		WriteKgError(w, err)
		return
	}
	if !out.Skipped {
		if _, err := s.engine.Reload(ctx); err != nil {
			s.logger.Warn("Reload after rebuild failed", "error", err)
		}
	}
	WriteJSON(w, out, http.StatusOK)
}
