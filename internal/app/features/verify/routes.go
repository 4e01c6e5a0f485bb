// internal/app/features/verify/routes.go
package verify

import "github.com/go-chi/chi/v5"

// Routes returns the public verification subrouter, mounted under /verify.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/{token}", h.Check)
	r.Get("/{token}/qr.png", h.QR)
	return r
}
