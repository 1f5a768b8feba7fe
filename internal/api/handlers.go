package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// StatusResponse reports bridge health for dashboards
type StatusResponse struct {
	GameConnected bool  `json:"game_connected"`
	KookInvalid   bool  `json:"kook_invalid"`
	Links         int64 `json:"links"`
}

// handleStatus reports the state of both sides of the bridge
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	count, err := r.store.CountLinks(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count links")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		GameConnected: r.gameConnected(),
		KookInvalid:   r.botInvalid(),
		Links:         count,
	})
}

// handleHealth is a simple health check
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
