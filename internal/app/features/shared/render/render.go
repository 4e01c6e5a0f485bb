// internal/app/features/shared/render/render.go

// Package render holds the JSON response helpers every feature handler
// uses, including the single mapping from domain errors to HTTP status
// codes.
package render

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/parcoursign/parcoursign/internal/app/store/conventions"
	"github.com/parcoursign/parcoursign/internal/app/store/missionorders"
	"github.com/parcoursign/parcoursign/internal/app/store/otpcodes"
	"github.com/parcoursign/parcoursign/internal/app/system/signing"
	"github.com/parcoursign/parcoursign/internal/domain/workflow"
)

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes a JSON error body {"error": message}.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// DomainError maps a domain error to its HTTP status and writes it. The
// mapping lives here once so handlers stay uniform: refusal guards are
// 4xx, lost concurrency guards are 409, everything unexpected is 500.
func DomainError(w http.ResponseWriter, err error, log *zap.Logger) {
	switch {
	case errors.Is(err, conventions.ErrNotFound),
		errors.Is(err, missionorders.ErrNotFound):
		Error(w, http.StatusNotFound, "document introuvable")

	case errors.Is(err, workflow.ErrAlreadySigned),
		errors.Is(err, workflow.ErrNotActionable),
		errors.Is(err, conventions.ErrConflict),
		errors.Is(err, missionorders.ErrAlreadySigned):
		Error(w, http.StatusConflict, err.Error())

	case errors.Is(err, signing.ErrIdentityMismatch):
		Error(w, http.StatusForbidden, err.Error())

	case errors.Is(err, otpcodes.ErrInvalidOrExpired):
		Error(w, http.StatusUnauthorized, err.Error())

	case errors.Is(err, otpcodes.ErrTooManyAttempts):
		Error(w, http.StatusTooManyRequests, err.Error())

	case errors.Is(err, workflow.ErrUnknownRole),
		errors.Is(err, signing.ErrInvalidMethod),
		errors.Is(err, signing.ErrEmptySignature),
		errors.Is(err, signing.ErrConsentRequired),
		errors.Is(err, signing.ErrReasonRequired):
		Error(w, http.StatusBadRequest, err.Error())

	default:
		log.Error("unhandled domain error", zap.Error(err))
		Error(w, http.StatusInternalServerError, "erreur interne")
	}
}

// Decode parses a JSON request body into out, refusing unknown fields.
func Decode(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
