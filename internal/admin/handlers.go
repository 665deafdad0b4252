package admin

import (
	"context"
	"encoding/json"
	"net/http"
)

// Sweeper is the subset of sweeper.Sweeper used by the admin handlers.
// Defining an interface lets handlers be tested without a real Store.
type Sweeper interface {
	Run(ctx context.Context) (deletedDelivered, deletedUndelivered int64, err error)
}

// Hub is the subset of hub.Hub used by the admin handlers.
type Hub interface {
	ActiveSessions() int
}

// Server holds the dependencies the admin handlers need.
type Server struct {
	sweeper Sweeper
	hub     Hub
}

// NewServer creates a Server backed by sw and h.
func NewServer(sw Sweeper, h Hub) *Server {
	return &Server{sweeper: sw, hub: h}
}

// handleHealthz responds to GET /healthz. It requires no authentication and
// always returns HTTP 200 so load balancers and orchestrators can verify
// liveness without needing a token.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleSweep responds to POST /admin/sweep by running a retention sweep
// immediately and reporting how many rows were deleted.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	deletedDelivered, deletedUndelivered, err := s.sweeper.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "retention sweep failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int64{
		"deleted_delivered":   deletedDelivered,
		"deleted_undelivered": deletedUndelivered,
	})
}

// handleSessions responds to GET /admin/sessions with the number of
// sessions currently holding an active subscriber.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int{"active_sessions": s.hub.ActiveSessions()})
}
