package api

import (
	"net/http"

	"kgindex/internal/version"
)

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	// Health and readiness checks
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Graph queries
	s.router.HandleFunc("GET /search", s.handleSearch)
	s.router.HandleFunc("GET /semantic", s.handleSemantic)
	s.router.HandleFunc("GET /fulltext", s.handleFullText)
	s.router.HandleFunc("GET /entity", s.handleEntity)
	s.router.HandleFunc("GET /neighbors", s.handleNeighbors)
	s.router.HandleFunc("GET /evolution", s.handleEvolution)
	s.router.HandleFunc("GET /related", s.handleRelated)
	s.router.HandleFunc("GET /entities", s.handleEntities)
	s.router.HandleFunc("GET /guides", s.handleGuides)
	s.router.HandleFunc("GET /stats", s.handleStats)
	s.router.HandleFunc("GET /graph", s.handleGraph)

	// Administration
	s.router.HandleFunc("POST /rebuild", s.handleRebuild)
	s.router.Handle("GET /metrics", s.handleMetrics())

	s.router.HandleFunc("GET /{$}", s.handleRoot)
}

// handleRoot lists the endpoints.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"name":    "kgindex HTTP API",
		"version": version.Version,
		"endpoints": []string{
			"GET /health - Liveness check",
			"GET /ready - Readiness check (a snapshot is loaded)",
			"GET /status - Snapshot, rebuild and backup status",
			"GET /search?q=&limit= - Keyword search",
			"GET /semantic?q=&limit= - Semantic search with keyword fallback",
			"GET /fulltext?q=&limit= - Full-text search",
			"GET /entity?id= - Get entity by id",
			"GET /neighbors?id=&kind=&direction= - Adjacent entities",
			"GET /evolution?family= - Protocol version chain, oldest first",
			"GET /related?id=&limit= - Entities ranked by graph proximity",
			"GET /entities?type=&limit= - Entities of one type",
			"GET /guides?severity=&minLoss= - Filter vulnerability guides",
			"GET /stats - Graph statistics",
			"GET /graph - All entities and edges",
			"POST /rebuild?mode=quick|full - Rebuild the graph (admin token)",
			"GET /metrics - Prometheus metrics",
		},
	}

	WriteJSON(w, response, http.StatusOK)
}
