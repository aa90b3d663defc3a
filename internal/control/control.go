// Package control implements the plaintext-listener-only health
// endpoint, routed with go-chi.
package control

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
)

// Version is set at build time via -ldflags; it defaults to "dev" so an
// unset build still reports something in the health payload.
var Version = "dev"

type healthResponse struct {
	Status   string `json:"status"`
	UptimeMs int64  `json:"uptime_ms"`
	PID      int    `json:"pid"`
	Version  string `json:"version"`
}

// Handler returns the chi router mounted at the plaintext listener for
// "/health". startedAt is the process start time used to compute uptime.
func Handler(startedAt time.Time) http.Handler {
	r := chi.NewRouter()
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		resp := healthResponse{
			Status:   "healthy",
			UptimeMs: time.Since(startedAt).Milliseconds(),
			PID:      os.Getpid(),
			Version:  Version,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})
	return r
}
