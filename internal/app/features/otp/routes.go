// internal/app/features/otp/routes.go
package otp

import "github.com/go-chi/chi/v5"

// Routes returns the OTP subrouter, mounted under /otp. Both endpoints
// are public: the code itself is the credential.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/send", h.Send)
	r.Post("/verify", h.Verify)
	return r
}
