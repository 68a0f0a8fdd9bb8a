package api

import (
	"net/http"
)

type healthResponse struct {
	Status  string `json:"status"`
	Records int    `json:"records"`
	Ready   bool   `json:"ready"`
}

// healthHandler reports liveness plus a cheap index summary. The service is
// healthy even with an empty index; Ready tells callers whether searches can
// return anything yet.
func healthHandler(stats StatsSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if stats != nil {
			st := stats.Stats()
			resp.Records = st.Count
			resp.Ready = st.Count > 0
		}
		writeJSON(w, http.StatusOK, resp)
	})
}
