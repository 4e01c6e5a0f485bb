// internal/app/features/otp/handler.go

// Package otp exposes the one-time signing code endpoints: request a code
// for a (email, document) pair, and verify one. Verification through the
// sign endpoint is handled inline by the signing coordinator; this
// standalone verify exists for clients that check the code before
// presenting the signature pad.
package otp

import (
	"context"
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/parcoursign/parcoursign/internal/app/features/shared/render"
	"github.com/parcoursign/parcoursign/internal/app/system/auditlog"
	"github.com/parcoursign/parcoursign/internal/app/system/auth"
	"github.com/parcoursign/parcoursign/internal/app/system/normalize"
	"github.com/parcoursign/parcoursign/internal/app/system/otp"
	"github.com/parcoursign/parcoursign/internal/app/system/ratelimit"
	"github.com/parcoursign/parcoursign/internal/app/system/timeouts"
	"github.com/parcoursign/parcoursign/internal/domain/models"
)

// Documents is the slice of the conventions store this feature needs.
type Documents interface {
	Get(ctx context.Context, id primitive.ObjectID) (*models.Convention, error)
	AppendAudit(ctx context.Context, id primitive.ObjectID, entry models.AuditEntry) error
}

// Handler holds the OTP feature dependencies. Limit is optional; when set,
// code sends are throttled per IP and per address.
type Handler struct {
	Service *otp.Service
	Docs    Documents
	Audit   *auditlog.Logger
	Limit   *ratelimit.SendLimiter
	Log     *zap.Logger
}

// NewHandler constructs an OTP Handler.
func NewHandler(service *otp.Service, docs Documents, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{Service: service, Docs: docs, Audit: audit, Log: logger}
}

type sendRequest struct {
	Email      string `json:"email"`
	DocumentID string `json:"documentId"`
}

// Send handles POST /otp/send. Codes go only to an address that belongs
// to a party on the document, so the mailer cannot be used as a relay.
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
	id, err := primitive.ObjectIDFromHex(req.DocumentID)
	if err != nil {
		render.Error(w, http.StatusBadRequest, "documentId invalide")
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

	conv, err := h.Docs.Get(ctx, id)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}
	if !partyEmail(conv, email) {
		render.Error(w, http.StatusForbidden, "cette adresse n'appartient à aucun signataire du document")
		return
	}

	if err := h.Service.Send(ctx, email, id); err != nil {
		h.Log.Error("otp send failed", zap.String("document_id", id.Hex()), zap.Error(err))
		render.Error(w, http.StatusBadGateway, "échec de l'envoi du code")
		return
	}

	// The document trail is the record of delivery. If the entry cannot be
	// appended the send is reported as failed so the caller re-issues,
	// which invalidates the code that went out without a trace.
	entry := auditlog.Entry(auditlog.ActionOtpCodeSent, email, auth.ClientIP(r), "code de signature envoyé")
	if err := h.Docs.AppendAudit(ctx, id, entry); err != nil {
		h.Log.Error("otp send audit append failed", zap.String("document_id", id.Hex()), zap.Error(err))
		render.Error(w, http.StatusInternalServerError, "erreur interne")
		return
	}
	h.Audit.Mirror(id.Hex(), entry)

	render.JSON(w, http.StatusOK, map[string]bool{"sent": true})
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Verify handles POST /otp/verify. A valid code is consumed and the
// server-authoritative audit entry is returned.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	email := normalize.Email(req.Email)
	entry, err := h.Service.Verify(ctx, email, req.Code)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}
	entry.IP = auth.ClientIP(r)
	if h.Limit != nil {
		h.Limit.ResetEmail(email)
	}

	render.JSON(w, http.StatusOK, map[string]any{"auditLog": entry})
}

func partyEmail(c *models.Convention, email string) bool {
	for _, p := range []models.Party{c.Student, c.Parent, c.Teacher, c.Company, c.Tutor, c.Head} {
		if p.Email != "" && normalize.Email(p.Email) == email {
			return true
		}
	}
	return false
}
