package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthResponse is the /health payload
type HealthResponse struct {
	Status        string  `json:"status"`
	Clients       int     `json:"clients"`
	MaxClients    int     `json:"max_clients"`
	Blacklisted   int     `json:"blacklisted"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// routes builds the HTTP surface for one run. /metrics is meant for internal scraping.
func (s *Server) routes(r *run) http.Handler {
	router := chi.NewRouter()
	router.Get("/health", s.HealthHandler)
	router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	router.Get("/ws", s.handleWebSocket(r))
	return router
}

// HealthHandler reports liveness and a few counters as JSON
func (s *Server) HealthHandler(w http.ResponseWriter, req *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Clients:       s.registry.Len(),
		MaxClients:    s.config.MaxClients,
		Blacklisted:   s.blacklist.Len(),
		UptimeSeconds: s.Uptime().Seconds(),
	}
	if !s.IsRunning() {
		resp.Status = "stopped"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logs.debug.Printf("Failed to write health response: %v", err)
	}
}
