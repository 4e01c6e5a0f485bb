// internal/domain/workflow/attestation.go
package workflow

import "github.com/parcoursign/parcoursign/internal/domain/models"

// The attestation flow is a two-state machine: unsigned -> signed, with
// signed terminal. It reuses the convention signing pattern (guard, audit
// entry, fingerprint) but none of the role ordering.

// AttestationActionable reports whether the attestation may still be signed.
func AttestationActionable(c *models.Convention) bool {
	return !c.Attestation.Signed
}
