package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/vigiauto/vigiauto/internal/metrics"
	"github.com/vigiauto/vigiauto/internal/ratelimit"
	"github.com/vigiauto/vigiauto/internal/storage"
)

// HealthResponse is the /health payload. Status is "ok" unless a source
// limiter sits open, which degrades the process without killing it.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version,omitempty"`
	System    SystemInfo        `json:"system"`
	Sources   map[string]string `json:"sources,omitempty"`
}

// SystemInfo carries process-level runtime numbers.
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAllocBytes uint64 `json:"mem_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// StatsResponse is the /stats payload: repository aggregates plus the
// limiter and counter snapshots of this process.
type StatsResponse struct {
	GeneratedAt time.Time                        `json:"generated_at"`
	Global      storage.GlobalStats              `json:"global"`
	BySource    []storage.SourceActivity         `json:"by_source"`
	RecentScans []storage.ScanRecord             `json:"recent_scans,omitempty"`
	Limiter     map[string]ratelimit.SourceStats `json:"limiter,omitempty"`
	Counters    *metrics.Totals                  `json:"counters,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Version:   s.deps.Version,
		System: SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
			MemAllocBytes: mem.Alloc,
			NumGC:         mem.NumGC,
		},
	}

	if s.deps.Limiter != nil {
		snapshot := s.deps.Limiter.Snapshot()
		if len(snapshot) > 0 {
			resp.Sources = make(map[string]string, len(snapshot))
			for name, st := range snapshot {
				resp.Sources[name] = st.State
				if st.State == "open" {
					resp.Status = "degraded"
				}
			}
		}
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	global, err := s.deps.Stats.Global(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("global stats query failed")
		s.writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	bySource, err := s.deps.Stats.BySource(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("per-source stats query failed")
		s.writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}

	resp := StatsResponse{
		GeneratedAt: time.Now().UTC(),
		Global:      global,
		BySource:    bySource,
	}

	// The snapshot sections are best effort: a broken scan-history query
	// should not blank the aggregates.
	if s.deps.Scans != nil {
		scans, err := s.deps.Scans.Recent(ctx, 10)
		if err != nil {
			s.logger.Warn().Err(err).Msg("recent scans query failed")
		} else {
			resp.RecentScans = scans
		}
	}
	if s.deps.Limiter != nil {
		resp.Limiter = s.deps.Limiter.Snapshot()
	}
	if s.deps.Metrics != nil {
		totals := s.deps.Metrics.Snapshot()
		resp.Counters = &totals
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeError(w, http.StatusNotFound, "unknown endpoint")
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, errorResponse{Error: msg, Code: code})
}
