// internal/app/features/login/handler.go

// Package login establishes sessions. There are no passwords: a signer
// proves control of their email with a one-time code and gets a cookie
// session carrying that email as identity. The configured superadmin
// address receives the privileged-bypass role.
package login

import (
	"context"
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/parcoursign/parcoursign/internal/app/features/shared/render"
	"github.com/parcoursign/parcoursign/internal/app/system/auth"
	"github.com/parcoursign/parcoursign/internal/app/system/normalize"
	"github.com/parcoursign/parcoursign/internal/app/system/otp"
	"github.com/parcoursign/parcoursign/internal/app/system/ratelimit"
	"github.com/parcoursign/parcoursign/internal/app/system/timeouts"
)

// RoleSigner is the default session role for a code-verified signer.
const RoleSigner = "signer"

// Handler holds the login feature dependencies. Limit is optional; when
// set, code sends are throttled per IP and per address.
type Handler struct {
	OTP             *otp.Service
	SuperAdminEmail string
	Limit           *ratelimit.SendLimiter
	Log             *zap.Logger
}

// NewHandler constructs a login Handler.
func NewHandler(otpService *otp.Service, superAdminEmail string, logger *zap.Logger) *Handler {
	return &Handler{OTP: otpService, SuperAdminEmail: normalize.Email(superAdminEmail), Log: logger}
}

type sendRequest struct {
	Email string `json:"email"`
}

// Send handles POST /login/send: mails a login code. The answer does not
// reveal whether the address is known.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}
	email := normalize.Email(req.Email)
	if email == "" {
		render.Error(w, http.StatusBadRequest, "email est requis")
		return
	}

	if h.Limit != nil {
		if ok, reason := h.Limit.Check(r, email); !ok {
			render.Error(w, http.StatusTooManyRequests, reason)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	// Login codes are not bound to a document.
	if err := h.OTP.Send(ctx, email, primitive.NilObjectID); err != nil {
		h.Log.Error("login code send failed", zap.Error(err))
		render.Error(w, http.StatusBadGateway, "échec de l'envoi du code")
		return
	}
	render.JSON(w, http.StatusOK, map[string]bool{"sent": true})
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
	Name  string `json:"name,omitempty"`
}

// Verify handles POST /login/verify: consumes the code and opens the
// session.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}
	email := normalize.Email(req.Email)

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if _, err := h.OTP.Verify(ctx, email, req.Code); err != nil {
		render.DomainError(w, err, h.Log)
		return
	}
	if h.Limit != nil {
		h.Limit.ResetEmail(email)
	}

	role := RoleSigner
	if h.SuperAdminEmail != "" && email == h.SuperAdminEmail {
		role = auth.RoleSuperAdmin
	}
	user := &auth.SessionUser{
		ID:    primitive.NewObjectID().Hex(),
		Name:  normalize.Name(req.Name),
		Email: email,
		Role:  role,
	}
	if err := auth.SignIn(w, r, user); err != nil {
		h.Log.Error("session write failed", zap.Error(err))
		render.Error(w, http.StatusInternalServerError, "erreur interne")
		return
	}

	h.Log.Info("signer logged in", zap.String("email", email), zap.String("role", role))
	render.JSON(w, http.StatusOK, map[string]string{"email": email, "role": role})
}

// Logout handles POST /logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := auth.SignOut(w, r); err != nil {
		h.Log.Error("session clear failed", zap.Error(err))
	}
	render.JSON(w, http.StatusOK, map[string]bool{"loggedOut": true})
}
