package adminapi

import "net/http"

// poolStatsResponse mirrors pool.Stats with JSON tags; pool.Stats itself
// carries none since it is an in-process snapshot type shared with
// internal callers that don't need wire stability on its field names.
type poolStatsResponse struct {
	Size      int   `json:"size"`
	Available int   `json:"available"`
	InUse     int   `json:"in_use"`
	Acquired  int64 `json:"acquired"`
	Released  int64 `json:"released"`
	Recycled  int64 `json:"recycled"`
	Errors    int64 `json:"errors"`
}

func (h *handlers) poolStats(w http.ResponseWriter, r *http.Request) {
	s := h.deps.Pool.Stats()
	writeJSON(w, http.StatusOK, poolStatsResponse{
		Size:      s.Size,
		Available: s.Available,
		InUse:     s.InUse,
		Acquired:  s.Acquired,
		Released:  s.Released,
		Recycled:  s.Recycled,
		Errors:    s.Errors,
	})
}

type resourceStatsResponse struct {
	PressureLevel string `json:"pressure_level"`
}

func (h *handlers) resourceStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Monitor == nil {
		writeJSON(w, http.StatusOK, resourceStatsResponse{PressureLevel: "unknown"})
		return
	}
	writeJSON(w, http.StatusOK, resourceStatsResponse{PressureLevel: h.deps.Monitor.Level().String()})
}
