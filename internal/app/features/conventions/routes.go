// internal/app/features/conventions/routes.go
package conventions

import (
	"github.com/go-chi/chi/v5"

	"github.com/parcoursign/parcoursign/internal/app/system/auth"
)

// Routes returns the conventions subrouter, mounted under /conventions.
// Signing stays open because OTP signatures carry their own identity
// proof; everything else requires a session.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSignedIn)
		r.Post("/", h.Submit)
		r.Get("/", h.List)
		r.Post("/bulk-sign", h.BulkSign)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/reject", h.Reject)
		r.Post("/{id}/resubmit", h.Resubmit)
		r.Post("/{id}/email-bounce", h.MarkEmailInvalid)
		r.Post("/{id}/email-correction", h.CorrectEmail)
	})

	r.Post("/{id}/sign", h.Sign)
	r.Post("/{id}/attestation/sign", h.SignAttestation)

	return r
}
