// internal/app/features/missionorders/routes.go
package missionorders

import (
	"github.com/go-chi/chi/v5"

	"github.com/parcoursign/parcoursign/internal/app/system/auth"
)

// Routes returns the mission-order subrouter, mounted under
// /mission-orders. Everything requires a session.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireSignedIn)
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/sign", h.Sign)
	return r
}
