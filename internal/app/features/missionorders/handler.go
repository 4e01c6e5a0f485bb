// internal/app/features/missionorders/handler.go

// Package missionorders exposes the companion mission-order documents: a
// tracking teacher's authorization for site visits, with its own
// two-state signature lifecycle independent of the convention workflow.
package missionorders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/parcoursign/parcoursign/internal/app/features/shared/render"
	"github.com/parcoursign/parcoursign/internal/app/system/auth"
	"github.com/parcoursign/parcoursign/internal/app/system/normalize"
	"github.com/parcoursign/parcoursign/internal/app/system/signing"
	"github.com/parcoursign/parcoursign/internal/app/system/timeouts"
	"github.com/parcoursign/parcoursign/internal/domain/models"
)

// Store is the mission-order persistence contract.
type Store interface {
	Create(ctx context.Context, conventionID primitive.ObjectID, teacherName, teacherEmail string) (*models.MissionOrder, error)
	Get(ctx context.Context, id primitive.ObjectID) (*models.MissionOrder, error)
	ListByTeacher(ctx context.Context, teacherEmail string) ([]models.MissionOrder, error)
	Sign(ctx context.Context, id primitive.ObjectID, image, hash string) error
}

// Conventions is the read slice used to derive the tracking teacher.
type Conventions interface {
	Get(ctx context.Context, id primitive.ObjectID) (*models.Convention, error)
}

// Handler holds the mission-order feature dependencies.
type Handler struct {
	Store Store
	Convs Conventions
	Log   *zap.Logger
}

// NewHandler constructs a mission-order Handler.
func NewHandler(store Store, convs Conventions, logger *zap.Logger) *Handler {
	return &Handler{Store: store, Convs: convs, Log: logger}
}

type createRequest struct {
	ConventionID string `json:"conventionId"`
}

// Create handles POST /mission-orders: issues a mission order for the
// convention's tracking teacher.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}
	convID, err := primitive.ObjectIDFromHex(req.ConventionID)
	if err != nil {
		render.Error(w, http.StatusBadRequest, "conventionId invalide")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	conv, err := h.Convs.Get(ctx, convID)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}

	order, err := h.Store.Create(ctx, convID, conv.Teacher.Name, conv.Teacher.Email)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}

	h.Log.Info("mission order created",
		zap.String("order_id", order.ID.Hex()),
		zap.String("convention_id", convID.Hex()))
	render.JSON(w, http.StatusCreated, order)
}

// Get handles GET /mission-orders/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		render.Error(w, http.StatusBadRequest, "identifiant invalide")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	order, err := h.Store.Get(ctx, id)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}
	render.JSON(w, http.StatusOK, order)
}

// List handles GET /mission-orders?teacher=…; without a filter it lists
// the session teacher's own orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	email := normalize.Email(r.URL.Query().Get("teacher"))
	if email == "" {
		if u, ok := auth.CurrentUser(r); ok {
			email = normalize.Email(u.Email)
		}
	}
	if email == "" {
		render.Error(w, http.StatusBadRequest, "teacher est requis")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	orders, err := h.Store.ListByTeacher(ctx, email)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}
	if orders == nil {
		orders = []models.MissionOrder{}
	}
	render.JSON(w, http.StatusOK, map[string]any{"missionOrders": orders})
}

type signRequest struct {
	Image string `json:"image"`
}

// Sign handles POST /mission-orders/{id}/sign. The assigned teacher signs
// their own order; the stored hash ties the signature image to the order.
func (h *Handler) Sign(w http.ResponseWriter, r *http.Request) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		render.Error(w, http.StatusBadRequest, "identifiant invalide")
		return
	}
	var req signRequest
	if err := render.Decode(r, &req); err != nil {
		render.Error(w, http.StatusBadRequest, "corps de requête invalide")
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		render.DomainError(w, signing.ErrEmptySignature, h.Log)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	order, err := h.Store.Get(ctx, id)
	if err != nil {
		render.DomainError(w, err, h.Log)
		return
	}

	u, ok := auth.CurrentUser(r)
	if !ok {
		render.Error(w, http.StatusUnauthorized, "authentification requise")
		return
	}
	if !u.SuperAdmin() && normalize.Email(u.Email) != normalize.Email(order.TeacherEmail) {
		render.DomainError(w, signing.ErrIdentityMismatch, h.Log)
		return
	}

	sum := sha256.Sum256([]byte(order.ID.Hex() + req.Image))
	if err := h.Store.Sign(ctx, id, req.Image, hex.EncodeToString(sum[:])); err != nil {
		render.DomainError(w, err, h.Log)
		return
	}

	h.Log.Info("mission order signed",
		zap.String("order_id", id.Hex()),
		zap.String("teacher_email", order.TeacherEmail))
	render.JSON(w, http.StatusOK, map[string]string{"status": models.MissionOrderSigned})
}
