// internal/app/system/normalize/normalize.go

// Package normalize is the ingestion boundary. Submitted profile data
// arrives in two historical shapes (flat legacy fields vs nested objects,
// a single parent vs an array of legal representatives); everything is
// folded into one canonical form here so no read site ever branches on
// shape. Free-text fields are sanitized here too.
package normalize

import (
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/parcoursign/parcoursign/internal/domain/models"
)

// Email lowercases and trims an email address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name trims a display name, preserving case.
func Name(s string) string {
	return strings.TrimSpace(s)
}

// freeText strips all HTML from user-entered prose. Signature-locked
// free-text fields are rendered into legal documents, so nothing but
// plain text survives.
var freeText = bluemonday.StrictPolicy()

// FreeText sanitizes a free-text field (activities, competences).
func FreeText(s string) string {
	return strings.TrimSpace(freeText.Sanitize(s))
}

// Minor reports whether the student is under 18 at the placement start.
// The result is fixed on the convention at submission time; later edits to
// the birth date do not re-open the parent-signature branch.
func Minor(birthDate, startDate time.Time) bool {
	if birthDate.IsZero() || startDate.IsZero() {
		return false
	}
	adultAt := birthDate.AddDate(18, 0, 0)
	return startDate.Before(adultAt)
}

// SubmittedProfile is the wire shape a submission may arrive in. Legacy
// clients send flat address and parent fields; newer ones send the nested
// address object and a legal-representative array. Both are accepted.
type SubmittedProfile struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Function string `json:"function,omitempty"`

	// Legacy flat address fields.
	Street string `json:"street,omitempty"`
	City   string `json:"city,omitempty"`
	Zip    string `json:"zip,omitempty"`

	// Newer nested shape.
	Address *SubmittedAddress `json:"address,omitempty"`
}

// SubmittedAddress is the nested address variant.
type SubmittedAddress struct {
	Street string `json:"street"`
	City   string `json:"city"`
	Zip    string `json:"zip"`
}

// Party folds a submitted profile into the canonical party shape.
func Party(p SubmittedProfile) models.Party {
	return models.Party{
		Name:     Name(p.Name),
		Email:    Email(p.Email),
		Function: Name(p.Function),
	}
}

// LegalRepresentative picks the canonical legal representative from the
// two historical shapes: an explicit array (first entry wins) or the
// legacy flat parent fields.
func LegalRepresentative(reps []SubmittedProfile, legacyParent SubmittedProfile) models.Party {
	if len(reps) > 0 {
		return Party(reps[0])
	}
	return Party(legacyParent)
}
