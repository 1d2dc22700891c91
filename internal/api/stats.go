package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByTask        map[string]int `json:"by_task"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	UnitsLoaded   int            `json:"units_loaded"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetInvocationStats(r.Context())
	if err != nil {
		s.logger.Error("get invocation stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByTask:        stats.CountByTask,
		AvgDurationMS: stats.AvgDurationMS,
		UnitsLoaded:   len(s.units.GetAllDeploymentUnits()),
	})
}
