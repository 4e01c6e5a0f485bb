// internal/app/features/conventions/handler.go

// Package conventions is the HTTP surface of the signature workflow:
// submission, reads, signing in all its variants, rejection and
// resubmission, attestation signing, and bounced-email correction.
package conventions

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/parcoursign/parcoursign/internal/app/features/shared/render"
	"github.com/parcoursign/parcoursign/internal/app/store/conventions"
	"github.com/parcoursign/parcoursign/internal/app/system/auditlog"
	"github.com/parcoursign/parcoursign/internal/app/system/auth"
	"github.com/parcoursign/parcoursign/internal/app/system/normalize"
	"github.com/parcoursign/parcoursign/internal/app/system/signing"
	"github.com/parcoursign/parcoursign/internal/app/system/timeouts"
	"github.com/parcoursign/parcoursign/internal/app/system/verifytoken"
	"github.com/parcoursign/parcoursign/internal/domain/models"
	"github.com/parcoursign/parcoursign/internal/domain/workflow"
)

const dateLayout = "2006-01-02"

// Store is the persistence surface the handler reads and submits through.
// Signature and status writes go through the coordinator, never here.
type Store interface {
	Insert(ctx context.Context, conv *models.Convention) (primitive.ObjectID, error)
	Get(ctx context.Context, id primitive.ObjectID) (*models.Convention, error)
	List(ctx context.Context, filter conventions.ListFilter) ([]models.Convention, error)
	MarkEmailInvalid(ctx context.Context, id primitive.ObjectID, roleKey string) error
	CorrectEmail(ctx context.Context, id primitive.ObjectID, role workflow.Role, email string, entry models.AuditEntry) error
}

// Handler holds the conventions feature dependencies.
type Handler struct {
	Store  Store
	Signer *signing.Coordinator
	Verify *verifytoken.Service
	Log    *zap.Logger
}

// NewHandler constructs a conventions Handler.
func NewHandler(store Store, signer *signing.Coordinator, verify *verifytoken.Service, logger *zap.Logger) *Handler {
	return &Handler{Store: store, Signer: signer, Verify: verify, Log: logger}
}

// actorFrom builds the signing actor for a request: session identity when
// present, always the client IP for the audit trail.
func actorFrom(r *http.Request) signing.Actor {
	a := signing.Actor{IP: auth.ClientIP(r)}
	if u, ok := auth.CurrentUser(r); ok {
		a.Email = u.Email
		a.SuperAdmin = u.SuperAdmin()
	}
	return a
}

func documentID(r *http.Request) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	return id, err == nil
}

// submitRequest accepts both historical submission shapes; the normalize
// package folds them into the canonical parties.
type submitRequest struct {
	Student              normalize.SubmittedProfile   `json:"student"`
	Parent               normalize.SubmittedProfile   `json:"parent"`
	LegalRepresentatives []normalize.SubmittedProfile `json:"legalRepresentatives"`
	Teacher              normalize.SubmittedProfile   `json:"teacher"`
	Company              normalize.SubmittedProfile   `json:"company"`
	Tutor                normalize.SubmittedProfile   `json:"tutor"`
	Head                 normalize.SubmittedProfile   `json:"head"`

	BirthDate string `json:"birthDate"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`

	Activities  string `json:"activities,omitempty"`
	Competences string `json:"competences,omitempty"`
}

// Submit handles POST /conventions. est_mineur is computed here, once,
// from the birth date against the placement start.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		render.Error(w, http.StatusBadRequest, "startDate invalide (AAAA-MM-JJ)")
		return
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		render.Error(w, http.StatusBadRequest, "endDate invalide (AAAA-MM-JJ)")
		return
	}
	if !start.Before(end) {
		render.Error(w, http.StatusBadRequest, "la date de début doit précéder la date de fin")
		return
	}

	var birth time.Time
	if req.BirthDate != "" {
		if birth, err = time.Parse(dateLayout, req.BirthDate); err != nil {
			render.Error(w, http.StatusBadRequest, "birthDate invalide (AAAA-MM-JJ)")
			return
		}
	}

	conv := &models.Convention{
		Student:     normalize.Party(req.Student),
		Parent:      normalize.LegalRepresentative(req.LegalRepresentatives, req.Parent),
		Teacher:     normalize.Party(req.Teacher),
		Company:     normalize.Party(req.Company),
		Tutor:       normalize.Party(req.Tutor),
		Head:        normalize.Party(req.Head),
		StartDate:   start,
		EndDate:     end,
		EstMineur:   normalize.Minor(birth, start),
		Activities:  normalize.FreeText(req.Activities),
		Competences: normalize.FreeText(req.Competences),
		Status:      string(workflow.StatusSubmitted),
	}
	if conv.Student.Email == "" || conv.Teacher.Email == "" {
		render.Error(w, http.StatusBadRequest, "élève et enseignant référent sont requis")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	id, err := h.Store.Insert(ctx, conv)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}

	h.Log.Info("convention submitted",
		zap.String("document_id", id.Hex()),
		zap.Bool("est_mineur", conv.EstMineur))

	render.JSON(w, http.StatusCreated, map[string]any{
		"id":        id.Hex(),
		"status":    conv.Status,
		"estMineur": conv.EstMineur,
	})
}

// conventionView is the read shape: the document plus derived workflow
// facts and the verification reference.
type conventionView struct {
	*models.Convention
	PendingSigners []workflow.Role       `json:"pendingSigners"`
	Verification   verifytoken.Reference `json:"verificationRef"`
}

// Get handles GET /conventions/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(r)
	if !ok {
		render.Error(w, http.StatusBadRequest, "identifiant invalide")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	conv, err := h.Store.Get(ctx, id)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}

	ref, err := h.Verify.GenerateURL(conv, verifytoken.KindConvention)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}

	render.JSON(w, http.StatusOK, conventionView{
		Convention:     conv,
		PendingSigners: workflow.PendingSigners(conv),
		Verification:   ref,
	})
}

// List handles GET /conventions with optional status, teacher, and student
// query filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := conventions.ListFilter{
		Status:       q.Get("status"),
		TeacherEmail: normalize.Email(q.Get("teacher")),
		StudentEmail: normalize.Email(q.Get("student")),
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	out, err := h.Store.List(ctx, filter)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}
	if out == nil {
		out = []models.Convention{}
	}
	render.JSON(w, http.StatusOK, map[string]any{"conventions": out})
}

type signRequest struct {
	Role          string            `json:"role"`
	Method        string            `json:"method"`
	Image         string            `json:"image,omitempty"`
	Code          string            `json:"code,omitempty"`
	DualSign      bool              `json:"dualSign,omitempty"`
	Consent       bool              `json:"consent,omitempty"`
	PendingFields map[string]string `json:"pendingFields,omitempty"`
}

// Sign handles POST /conventions/{id}/sign. Canvas signatures require a
// session; OTP signatures carry their own identity proof.
func (h *Handler) Sign(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(r)
	if !ok {
		render.Error(w, http.StatusBadRequest, "identifiant invalide")
		return
	}

	var req signRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}

	role, err := workflow.ParseRole(req.Role)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}

	actor := actorFrom(r)
	if req.Method == signing.MethodCanvas && actor.Email == "" && !actor.SuperAdmin {
		render.Error(w, http.StatusUnauthorized, "authentification requise")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	res, err := h.Signer.Sign(ctx, actor, signing.Request{
		DocumentID:    id,
		Role:          role,
		Method:        req.Method,
		Image:         req.Image,
		Code:          req.Code,
		DualSign:      req.DualSign,
		Consent:       req.Consent,
		PendingFields: req.PendingFields,
	})
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}

	render.JSON(w, http.StatusOK, map[string]any{
		"status":      res.Status,
		"signedRoles": res.SignedRoles,
	})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Reject handles POST /conventions/{id}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(r)
	if !ok {
		render.Error(w, http.StatusBadRequest, "identifiant invalide")
		return
	}
	var req rejectRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if err := h.Signer.Reject(ctx, actorFrom(r), id, req.Reason); err != nil {
		render.DomainError(w, err, h.Log)
		return
	}
	render.JSON(w, http.StatusOK, map[string]string{"status": string(workflow.StatusRejected)})
}

// Resubmit handles POST /conventions/{id}/resubmit.
func (h *Handler) Resubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(r)
	if !ok {
		render.Error(w, http.StatusBadRequest, "identifiant invalide")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if err := h.Signer.Resubmit(ctx, actorFrom(r), id); err != nil {
		render.DomainError(w, err, h.Log)
		return
	}
	render.JSON(w, http.StatusOK, map[string]string{"status": string(workflow.StatusSubmitted)})
}

type bulkSignRequest struct {
	DocumentIDs []string `json:"documentIds"`
	Role        string   `json:"role"`
	Image       string   `json:"image"`
}

// BulkSign handles POST /conventions/bulk-sign. Per-document outcome, no
// rollback on partial failure.
func (h *Handler) BulkSign(w http.ResponseWriter, r *http.Request) {
	var req bulkSignRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}
	if len(req.DocumentIDs) == 0 {
		render.Error(w, http.StatusBadRequest, "documentIds est requis")
		return
	}

	role, err := workflow.ParseRole(req.Role)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}

	ids := make([]primitive.ObjectID, 0, len(req.DocumentIDs))
	for _, raw := range req.DocumentIDs {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			render.Error(w, http.StatusBadRequest, "identifiant invalide: "+raw)
			return
		}
		ids = append(ids, id)
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Batch(), h.Log, "bulk signing")
	defer cancel()

	res, err := h.Signer.BulkSign(ctx, actorFrom(r), ids, role, req.Image)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}
	render.JSON(w, http.StatusOK, res)
}

type attestationRequest struct {
	SignerName     string `json:"signerName"`
	SignerFunction string `json:"signerFunction,omitempty"`
	Image          string `json:"image"`
	Code           string `json:"code,omitempty"`
	Competences    string `json:"competences,omitempty"`
	Activities     string `json:"activities,omitempty"`
	DaysPresent    int    `json:"daysPresent"`
	HalfDaysAbsent int    `json:"halfDaysAbsent"`
}

// SignAttestation handles POST /conventions/{id}/attestation/sign.
func (h *Handler) SignAttestation(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(r)
	if !ok {
		render.Error(w, http.StatusBadRequest, "identifiant invalide")
		return
	}
	var req attestationRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	err := h.Signer.SignAttestation(ctx, actorFrom(r), signing.AttestationRequest{
		DocumentID:     id,
		SignerName:     req.SignerName,
		SignerFunction: req.SignerFunction,
		Image:          req.Image,
		Competences:    req.Competences,
		Activities:     req.Activities,
		DaysPresent:    req.DaysPresent,
		HalfDaysAbsent: req.HalfDaysAbsent,
	})
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}
	render.JSON(w, http.StatusOK, map[string]bool{"signed": true})
}

type emailBounceRequest struct {
	Role string `json:"role"`
}

// MarkEmailInvalid handles POST /conventions/{id}/email-bounce: the mail
// pipeline reports a bounced party address, unlocking correction.
func (h *Handler) MarkEmailInvalid(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(r)
	if !ok {
		render.Error(w, http.StatusBadRequest, "identifiant invalide")
		return
	}
	var req emailBounceRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}
	role, err := workflow.ParseRole(req.Role)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.Store.MarkEmailInvalid(ctx, id, role.SignatureKey()); err != nil {
		render.DomainError(w, err, h.Log)
		return
	}
	render.JSON(w, http.StatusOK, map[string]bool{"marked": true})
}

type emailCorrectionRequest struct {
	Role  string `json:"role"`
	Email string `json:"email"`
}

// CorrectEmail handles POST /conventions/{id}/email-correction. Only a
// party whose address previously bounced can be corrected; the store's
// guard enforces that.
func (h *Handler) CorrectEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(r)
	if !ok {
		render.Error(w, http.StatusBadRequest, "identifiant invalide")
		return
	}
	var req emailCorrectionRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}
	role, err := workflow.ParseRole(req.Role)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}
	email := normalize.Email(req.Email)
	if email == "" {
		render.Error(w, http.StatusBadRequest, "email est requis")
		return
	}

	actor := actorFrom(r)
	entry := auditlog.Entry(auditlog.ActionEmailCorrected, actor.Email, actor.IP,
		"correction de l'adresse "+string(role)+" en "+email)

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.Store.CorrectEmail(ctx, id, role, email, entry); err != nil {
		render.DomainError(w, err, h.Log)
		return
	}
	render.JSON(w, http.StatusOK, map[string]string{"email": email})
}
