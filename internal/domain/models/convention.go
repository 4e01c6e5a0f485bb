// internal/domain/models/convention.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Convention is one internship agreement (PFMP placement). It is the
// document that moves through the signature workflow: each party signs in
// the order enforced by the workflow package, every accepted action appends
// an audit entry, and once the school head has validated, the document is
// terminal.
type Convention struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	// Parties. Emails are the identity the signature guard checks against.
	Student Party `bson:"student" json:"student"`
	Parent  Party `bson:"parent" json:"parent"` // legal representative; only meaningful when EstMineur
	Teacher Party `bson:"teacher" json:"teacher"`
	Company Party `bson:"company" json:"company"` // company representative (signataire)
	Tutor   Party `bson:"tutor" json:"tutor"`     // workplace tutor
	Head    Party `bson:"head" json:"head"`       // school head (chef d'établissement)

	// Placement dates.
	StartDate time.Time `bson:"start_date" json:"start_date"`
	EndDate   time.Time `bson:"end_date" json:"end_date"`

	// Workflow status. One of the workflow.Status values, stored as string.
	Status string `bson:"status" json:"status"`

	// EstMineur is fixed at submission time from the student's birth date.
	// It gates whether the legal representative must sign first.
	EstMineur bool `bson:"est_mineur" json:"est_mineur"`

	// Signatures maps a role key (studentAt, parentAt, teacherAt, companyAt,
	// tutorAt, headAt) to its signature record. Presence of a key is the
	// durable proof that the role has signed; a key is never cleared except
	// by an explicit resubmission under ResubmitPolicy clear.
	Signatures map[string]Signature `bson:"signatures,omitempty" json:"signatures,omitempty"`

	// AuditLogs is the append-only event trail. Entries are pushed in
	// chronological order and never mutated, reordered, or trimmed.
	AuditLogs []AuditEntry `bson:"audit_logs,omitempty" json:"audit_logs,omitempty"`

	// InvalidEmails holds role keys whose stored contact email bounced.
	// It gates the email-correction endpoint and nothing else.
	InvalidEmails []string `bson:"invalid_emails,omitempty" json:"invalid_emails,omitempty"`

	// Free-text fields, editable until the signature that locks them lands.
	// They are sanitized at ingestion and excluded from the fingerprint.
	Activities  string `bson:"activities,omitempty" json:"activities,omitempty"`
	Competences string `bson:"competences,omitempty" json:"competences,omitempty"`

	// Attestation is the lighter-weight end-of-placement signature flow.
	Attestation Attestation `bson:"attestation" json:"attestation"`

	// Verification holds the frozen fingerprint once the document is
	// terminal. Empty until VALIDATED_HEAD.
	Verification VerificationRecord `bson:"verification,omitempty" json:"verification,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Party identifies one signer on a convention.
type Party struct {
	Name     string `bson:"name" json:"name"`
	Email    string `bson:"email" json:"email"`
	Function string `bson:"function,omitempty" json:"function,omitempty"`
}

// Signature is the record written when a role signs. At is the legal
// timestamp; Code is set only for OTP signatures and holds the verified
// code reference issued by the OTP service.
type Signature struct {
	Image string    `bson:"image" json:"image"` // data-URL image capture or certified OTP artifact
	At    time.Time `bson:"at" json:"at"`
	Code  string    `bson:"code,omitempty" json:"code,omitempty"`
}

// AuditEntry is one immutable line of the document's audit trail.
type AuditEntry struct {
	Date       time.Time `bson:"date" json:"date"`
	Action     string    `bson:"action" json:"action"`
	ActorEmail string    `bson:"actor_email" json:"actor_email"`
	IP         string    `bson:"ip,omitempty" json:"ip,omitempty"`
	Details    string    `bson:"details,omitempty" json:"details,omitempty"`
}

// Attestation is the end-of-placement attestation sub-document. Its state
// machine is two states: unsigned -> signed, and signed is terminal.
type Attestation struct {
	Signed         bool      `bson:"signed" json:"signed"`
	Date           time.Time `bson:"date,omitempty" json:"date,omitempty"`
	SignerName     string    `bson:"signer_name,omitempty" json:"signer_name,omitempty"`
	SignerFunction string    `bson:"signer_function,omitempty" json:"signer_function,omitempty"`
	Image          string    `bson:"image,omitempty" json:"image,omitempty"`
	Competences    string    `bson:"competences,omitempty" json:"competences,omitempty"`
	Activities     string    `bson:"activities,omitempty" json:"activities,omitempty"`
	DaysPresent    int       `bson:"days_present,omitempty" json:"days_present,omitempty"`
	HalfDaysAbsent int       `bson:"half_days_absent,omitempty" json:"half_days_absent,omitempty"`
}

// VerificationRecord freezes the tamper-evidence fingerprint when the
// document reaches a terminal status.
type VerificationRecord struct {
	Fingerprint            string `bson:"fingerprint,omitempty" json:"fingerprint,omitempty"`
	AttestationFingerprint string `bson:"attestation_fingerprint,omitempty" json:"attestation_fingerprint,omitempty"`
}
