// internal/app/features/verify/handler.go

// Package verify is the public document-verification surface. Anyone
// holding a verification URL (from a printed QR code) can check whether
// the referenced document still matches what was signed. No session, no
// role: the signed token is the credential.
package verify

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/parcoursign/parcoursign/internal/app/features/shared/render"
	"github.com/parcoursign/parcoursign/internal/app/store/conventions"
	"github.com/parcoursign/parcoursign/internal/app/system/timeouts"
	"github.com/parcoursign/parcoursign/internal/app/system/verifytoken"
	"github.com/parcoursign/parcoursign/internal/domain/models"
)

// Verification outcomes.
const (
	StatusAuthentic = "authentic"
	StatusTampered  = "tampered"
	StatusUnknown   = "unknown"
)

// Documents is the read-only slice of the conventions store this feature
// needs.
type Documents interface {
	Get(ctx context.Context, id primitive.ObjectID) (*models.Convention, error)
}

// Handler holds the verification feature dependencies.
type Handler struct {
	Service *verifytoken.Service
	Docs    Documents
	Log     *zap.Logger
}

// NewHandler constructs a verify Handler.
func NewHandler(service *verifytoken.Service, docs Documents, logger *zap.Logger) *Handler {
	return &Handler{Service: service, Docs: docs, Log: logger}
}

type verifyResponse struct {
	Status      string `json:"status"`
	Kind        string `json:"kind,omitempty"`
	DocumentID  string `json:"documentId,omitempty"`
	HashDisplay string `json:"hashDisplay,omitempty"`
	SignedAt    string `json:"signedAt,omitempty"`
}

// Check handles GET /verify/{token}. An invalid token and a missing
// document both answer "unknown": the endpoint never confirms which
// documents exist.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	claims, conv, ok := h.resolve(w, r)
	if !ok {
		return
	}

	current := h.Service.FingerprintFor(conv, claims.Kind)
	resp := verifyResponse{
		Status:      StatusTampered,
		Kind:        claims.Kind,
		DocumentID:  conv.ID.Hex(),
		HashDisplay: verifytoken.DisplayCode(claims.Fingerprint),
	}
	if current == claims.Fingerprint {
		resp.Status = StatusAuthentic
		if claims.Kind == verifytoken.KindAttestation && conv.Attestation.Signed {
			resp.SignedAt = conv.Attestation.Date.UTC().Format("2006-01-02")
		}
	}

	render.JSON(w, http.StatusOK, resp)
}

// QR handles GET /verify/{token}/qr.png: the verification URL rendered as
// a PNG for embedding in the printed document.
func (h *Handler) QR(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.resolve(w, r); !ok {
		return
	}

	ref := verifytoken.Reference{URL: h.Service.VerifyURL(chi.URLParam(r, "token"))}
	png, err := h.Service.QRPNG(ref, 256)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// resolve parses the token and loads its document, writing the "unknown"
// answer itself when either step fails.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (*verifytoken.Claims, *models.Convention, bool) {
	claims, err := h.Service.Parse(chi.URLParam(r, "token"))
	if err != nil {
		render.JSON(w, http.StatusNotFound, verifyResponse{Status: StatusUnknown})
		return nil, nil, false
	}

	id, err := primitive.ObjectIDFromHex(claims.Subject)
	if err != nil {
		render.JSON(w, http.StatusNotFound, verifyResponse{Status: StatusUnknown})
		return nil, nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	conv, err := h.Docs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, conventions.ErrNotFound) {
			render.JSON(w, http.StatusNotFound, verifyResponse{Status: StatusUnknown})
		} else {
			render.DomainError(w, err, h.Log)
		}
		return nil, nil, false
	}
	return claims, conv, true
}
