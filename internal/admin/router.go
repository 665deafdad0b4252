// Package admin provides the operator-facing HTTP surface for the delivery
// engine: liveness, an on-demand retention sweep, and an active-session
// count. It is explicitly not the application wire protocol that
// publishers and subscribers speak — that is left to the host embedding
// this module (spec non-goal: no bundled transport). Grounded on the
// teacher's internal/server/rest package: a chi router, RS256 JWT
// middleware, and a thin Server holding only the dependencies handlers need.
package admin

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the admin API.
//
// Route layout:
//
//	GET  /healthz       – liveness probe (no authentication required)
//	POST /admin/sweep   – run a retention sweep immediately (JWT required)
//	GET  /admin/sessions – count of sessions with an active subscriber (JWT required)
//
// pubKey is the RSA public key used to verify RS256 Bearer tokens on all
// /admin routes. Pass nil to disable JWT validation, useful in tests that
// exercise only request parsing and response formatting.
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/admin", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}
		r.Post("/sweep", srv.handleSweep)
		r.Get("/sessions", srv.handleSessions)
	})

	return r
}
