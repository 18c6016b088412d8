package api

import (
	"net/http"
	"runtime"
	"time"

	"kgindex/internal/query"
	"kgindex/internal/rebuild"
	"kgindex/internal/version"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	GraphVersion string    `json:"graphVersion,omitempty"`
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	Version  string            `json:"version"`
	Uptime   string            `json:"uptime"`
	Snapshot query.Info        `json:"snapshot"`
	Rebuild  *rebuild.Status   `json:"rebuild,omitempty"`
	Backups  []rebuild.Backup  `json:"backups,omitempty"`
	Memory   *MemoryHealthInfo `json:"memory"`
	Warnings []string          `json:"warnings,omitempty"`
}

// MemoryHealthInfo contains memory usage information
type MemoryHealthInfo struct {
	AllocMB      float64 `json:"allocMb"`
	SysMB        float64 `json:"sysMb"`
	NumGC        uint32  `json:"numGc"`
	NumGoroutine int     `json:"numGoroutine"`
}

// handleHealth responds to health check requests (simple liveness check)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.Version,
	}, http.StatusOK)
}

// handleReady reports ready once a committed snapshot is being served.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	info := s.engine.Info()
	resp := ReadyResponse{Status: "ready", Timestamp: time.Now().UTC(), GraphVersion: info.GraphVersion}
	status := http.StatusOK
	if !info.Loaded {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, resp, status)
}

// handleStatus reports the served snapshot, the orchestrator state and the
// retained backups.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:  version.Version,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		Snapshot: s.engine.Info(),
		Memory:   memoryInfo(),
	}
	if !resp.Snapshot.Loaded {
		resp.Warnings = append(resp.Warnings, "no committed snapshot; run kgindex rebuild")
	}
	if s.rebuilder != nil {
		st := s.rebuilder.Status()
		resp.Rebuild = &st
		backups, err := s.rebuilder.Backups()
		if err != nil {
			resp.Warnings = append(resp.Warnings, "listing backups: "+err.Error())
		}
		resp.Backups = backups
	}
	WriteJSON(w, resp, http.StatusOK)
}

func memoryInfo() *MemoryHealthInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &MemoryHealthInfo{
		AllocMB:      float64(m.Alloc) / 1024 / 1024,
		SysMB:        float64(m.Sys) / 1024 / 1024,
		NumGC:        m.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
	}
}
