package api

import (
	"encoding/json"
	"net/http"
)

type HealthResponse struct {
	Status string `json:"status"`
}
type ReadyResponse struct {
	OK bool `json:"ok"`
}

// Health is liveness only and never touches the store.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// Ready answers {ok} with 200 when the store responds and 503 otherwise.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ok := s.paste.Health(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(ReadyResponse{OK: ok})
}
