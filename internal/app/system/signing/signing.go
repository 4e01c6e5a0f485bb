// internal/app/system/signing/signing.go

// Package signing is the coordinator every signature request funnels
// through. It guards signer identity, delegates one-time-code checks to
// the OTP service, consults the workflow transition table, and hands the
// store one atomic write per accepted action. Handlers never touch
// signature or status fields directly.
package signing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/parcoursign/parcoursign/internal/app/store/conventions"
	"github.com/parcoursign/parcoursign/internal/app/system/auditlog"
	"github.com/parcoursign/parcoursign/internal/app/system/normalize"
	"github.com/parcoursign/parcoursign/internal/app/system/verifytoken"
	"github.com/parcoursign/parcoursign/internal/domain/models"
	"github.com/parcoursign/parcoursign/internal/domain/workflow"
)

// Signature capture methods.
const (
	MethodCanvas = "canvas" // authenticated signer draws in-app
	MethodOTP    = "otp"    // identity proven by a code sent to the stored email
)

var (
	// ErrIdentityMismatch is returned when the acting identity does not
	// match the stored party email for the role. Nothing is written.
	ErrIdentityMismatch = errors.New("signer identity does not match the document party")
	// ErrEmptySignature is returned for a canvas signature with no image.
	ErrEmptySignature = errors.New("signature image is required")
	// ErrInvalidMethod is returned for an unknown capture method.
	ErrInvalidMethod = errors.New("unknown signature method")
	// ErrConsentRequired is returned when a dual signature is requested
	// without the explicit both-roles consent flag.
	ErrConsentRequired = errors.New("dual signature requires explicit consent")
	// ErrReasonRequired is returned for a rejection without a reason.
	ErrReasonRequired = errors.New("rejection reason is required")
)

// Repository is the persistence contract the coordinator drives. The Mongo
// conventions.Store satisfies it; tests run against a memory fake. Guarded
// writes must return conventions.ErrConflict when their filter matched
// nothing on an existing document.
type Repository interface {
	Get(ctx context.Context, id primitive.ObjectID) (*models.Convention, error)
	UpdateFields(ctx context.Context, id primitive.ObjectID, fields map[string]any) error
	AppendAudit(ctx context.Context, id primitive.ObjectID, entry models.AuditEntry) error
	ApplySignature(ctx context.Context, id primitive.ObjectID, role workflow.Role,
		sig models.Signature, fromStatus, toStatus workflow.Status, entry models.AuditEntry) error
	SetStatus(ctx context.Context, id primitive.ObjectID,
		fromStatus, toStatus workflow.Status, entry models.AuditEntry) error
	ClearSignatures(ctx context.Context, id primitive.ObjectID) error
	SignAttestation(ctx context.Context, id primitive.ObjectID, att models.Attestation, entry models.AuditEntry) error
	SetVerification(ctx context.Context, id primitive.ObjectID, fields map[string]string) error
}

// OTPVerifier consumes a one-time code and returns the server-side audit
// entry for the verification event.
type OTPVerifier interface {
	Verify(ctx context.Context, email, code string) (models.AuditEntry, error)
}

// Actor is the identity a request acts under. Email comes from the session
// for canvas signatures and from the verified code for OTP signatures.
// SuperAdmin bypasses the identity guard, never the workflow guards.
type Actor struct {
	Email      string
	SuperAdmin bool
	IP         string
}

// Request is one signature action.
type Request struct {
	DocumentID primitive.ObjectID
	Role       workflow.Role
	Method     string
	Image      string // data-URL capture; required for canvas
	Code       string // one-time code; required for otp

	// DualSign signs company and tutor in a single action. Requires
	// Role == company and Consent.
	DualSign bool
	Consent  bool

	// PendingFields are free-text edits saved with the signature, before
	// the signature itself is applied. Sanitized here.
	PendingFields map[string]string
}

// Result reports what a signature changed.
type Result struct {
	Status      workflow.Status
	SignedRoles []workflow.Role
}

// ResubmitPolicy controls what survives a rejection cycle.
type ResubmitPolicy struct {
	KeepSignatures bool
}

// Coordinator applies signature actions to convention documents.
type Coordinator struct {
	repo     Repository
	otp      OTPVerifier
	audit    *auditlog.Logger
	resubmit ResubmitPolicy
	log      *zap.Logger
}

// New creates a Coordinator.
func New(repo Repository, otp OTPVerifier, audit *auditlog.Logger, resubmit ResubmitPolicy, logger *zap.Logger) *Coordinator {
	return &Coordinator{repo: repo, otp: otp, audit: audit, resubmit: resubmit, log: logger}
}

// Sign applies one signature action. The sequence is fixed: load, identity
// guard, method proof, pending-field save, then a single guarded write
// carrying signature, status, and audit entry together. Any guard failure
// leaves the document untouched.
func (co *Coordinator) Sign(ctx context.Context, actor Actor, req Request) (Result, error) {
	if req.DualSign {
		return co.dualSign(ctx, actor, req)
	}

	conv, err := co.repo.Get(ctx, req.DocumentID)
	if err != nil {
		return Result{}, err
	}

	party, err := partyFor(conv, req.Role)
	if err != nil {
		return Result{}, err
	}

	sig, otpEntry, err := co.prove(ctx, actor, req, party)
	if err != nil {
		return Result{}, err
	}

	// The transition is computed before any write; a pending-field save on
	// a non-actionable request would otherwise leak a partial mutation.
	from := workflow.Status(conv.Status)
	to, err := workflow.Next(req.Role, workflow.StateOf(conv))
	if err != nil {
		return Result{}, err
	}

	if err := co.savePendingFields(ctx, req.DocumentID, req.PendingFields); err != nil {
		return Result{}, err
	}

	if otpEntry != nil {
		// The verification event is part of the trail, merged verbatim with
		// the request IP stamped on.
		otpEntry.IP = actor.IP
		if err := co.repo.AppendAudit(ctx, req.DocumentID, *otpEntry); err != nil {
			return Result{}, err
		}
		co.audit.Mirror(req.DocumentID.Hex(), *otpEntry)
	}

	entry := auditlog.Entry(auditlog.SignedAction(req.Role), party.Email, actor.IP,
		fmt.Sprintf("signature %s (%s)", req.Role, req.Method))
	if err := co.repo.ApplySignature(ctx, req.DocumentID, req.Role, sig, from, to, entry); err != nil {
		return Result{}, err
	}
	co.audit.Mirror(req.DocumentID.Hex(), entry)

	if to.Terminal() {
		co.freezeFingerprint(ctx, req.DocumentID)
	}

	co.log.Info("convention signed",
		zap.String("document_id", req.DocumentID.Hex()),
		zap.String("role", string(req.Role)),
		zap.String("status", string(to)))

	return Result{Status: to, SignedRoles: []workflow.Role{req.Role}}, nil
}

// dualSign certifies the company and tutor roles in one action. Both keys
// must be free and actionable up front; the action then applies as two
// ordinary signings, each with its own audit entry.
func (co *Coordinator) dualSign(ctx context.Context, actor Actor, req Request) (Result, error) {
	if !req.Consent {
		return Result{}, ErrConsentRequired
	}
	pair := workflow.DualSignRoles()
	if req.Role != pair[0] {
		return Result{}, fmt.Errorf("%w: dual signature is the %s role's action", workflow.ErrNotActionable, pair[0])
	}

	conv, err := co.repo.Get(ctx, req.DocumentID)
	if err != nil {
		return Result{}, err
	}

	party, err := partyFor(conv, pair[0])
	if err != nil {
		return Result{}, err
	}
	sig, otpEntry, err := co.prove(ctx, actor, req, party)
	if err != nil {
		return Result{}, err
	}

	// Simulate the whole pair on the in-memory state before writing, so a
	// half-applicable request fails whole.
	st := workflow.StateOf(conv)
	var steps [2]struct {
		from, to workflow.Status
	}
	for i, role := range pair {
		to, err := workflow.Next(role, st)
		if err != nil {
			return Result{}, err
		}
		steps[i].from = st.Status
		steps[i].to = to
		st.Status = to
		st.Signed[role.SignatureKey()] = true
	}

	if err := co.savePendingFields(ctx, req.DocumentID, req.PendingFields); err != nil {
		return Result{}, err
	}
	if otpEntry != nil {
		otpEntry.IP = actor.IP
		if err := co.repo.AppendAudit(ctx, req.DocumentID, *otpEntry); err != nil {
			return Result{}, err
		}
		co.audit.Mirror(req.DocumentID.Hex(), *otpEntry)
	}

	for i, role := range pair {
		entry := auditlog.Entry(auditlog.SignedAction(role), party.Email, actor.IP,
			fmt.Sprintf("signature %s (double signature %s/%s)", role, pair[0], pair[1]))
		if err := co.repo.ApplySignature(ctx, req.DocumentID, role, sig, steps[i].from, steps[i].to, entry); err != nil {
			return Result{}, err
		}
		co.audit.Mirror(req.DocumentID.Hex(), entry)
	}

	final := steps[1].to
	if final.Terminal() {
		co.freezeFingerprint(ctx, req.DocumentID)
	}

	co.log.Info("convention dual-signed",
		zap.String("document_id", req.DocumentID.Hex()),
		zap.String("status", string(final)))

	return Result{Status: final, SignedRoles: []workflow.Role{pair[0], pair[1]}}, nil
}

// prove validates the capture method and the signer's identity. For OTP it
// consumes the code and returns the verification audit entry to merge; for
// canvas it checks the session identity against the stored party email.
func (co *Coordinator) prove(ctx context.Context, actor Actor, req Request, party models.Party) (models.Signature, *models.AuditEntry, error) {
	now := time.Now().UTC()

	switch req.Method {
	case MethodCanvas:
		if strings.TrimSpace(req.Image) == "" {
			return models.Signature{}, nil, ErrEmptySignature
		}
		if !actor.SuperAdmin && normalize.Email(actor.Email) != normalize.Email(party.Email) {
			return models.Signature{}, nil, ErrIdentityMismatch
		}
		return models.Signature{Image: req.Image, At: now}, nil, nil

	case MethodOTP:
		// The code was delivered to the stored party email; verifying it is
		// the identity proof, so the session identity is not consulted.
		entry, err := co.otp.Verify(ctx, normalize.Email(party.Email), req.Code)
		if err != nil {
			return models.Signature{}, nil, err
		}
		sig := models.Signature{Image: req.Image, At: now, Code: req.Code}
		return sig, &entry, nil
	}

	return models.Signature{}, nil, ErrInvalidMethod
}

// savePendingFields merges sanitized free-text edits submitted alongside a
// signature. Only whitelisted fields are writable this way.
func (co *Coordinator) savePendingFields(ctx context.Context, id primitive.ObjectID, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	set := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case "activities", "competences", "attestation.activities", "attestation.competences":
			set[k] = normalize.FreeText(v)
		default:
			return fmt.Errorf("field %q cannot be saved with a signature", k)
		}
	}
	return co.repo.UpdateFields(ctx, id, set)
}

// freezeFingerprint stores the tamper-evidence digest once the document is
// terminal. Failure is logged, not returned: the signature already
// committed and the fingerprint can be recomputed from the frozen state.
func (co *Coordinator) freezeFingerprint(ctx context.Context, id primitive.ObjectID) {
	conv, err := co.repo.Get(ctx, id)
	if err != nil {
		co.log.Error("freeze fingerprint: reload failed", zap.String("document_id", id.Hex()), zap.Error(err))
		return
	}
	fph := verifytoken.Fingerprint(verifytoken.SnapshotConvention(conv))
	if err := co.repo.SetVerification(ctx, id, map[string]string{"fingerprint": fph}); err != nil {
		co.log.Error("freeze fingerprint: store failed", zap.String("document_id", id.Hex()), zap.Error(err))
	}
}

// Reject moves a document to REJECTED with the teacher's reason. Signature
// keys and the audit trail are untouched.
func (co *Coordinator) Reject(ctx context.Context, actor Actor, id primitive.ObjectID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}

	conv, err := co.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.SuperAdmin && normalize.Email(actor.Email) != normalize.Email(conv.Teacher.Email) {
		return ErrIdentityMismatch
	}

	from := workflow.Status(conv.Status)
	to, err := workflow.Reject(workflow.StateOf(conv))
	if err != nil {
		return err
	}

	entry := auditlog.Entry(auditlog.ActionConventionRejected, normalize.Email(actor.Email), actor.IP, reason)
	if err := co.repo.SetStatus(ctx, id, from, to, entry); err != nil {
		return err
	}
	co.audit.Mirror(id.Hex(), entry)
	return nil
}

// Resubmit restarts the cycle after a rejection. Whether prior signatures
// survive is policy; the audit trail always does.
func (co *Coordinator) Resubmit(ctx context.Context, actor Actor, id primitive.ObjectID) error {
	conv, err := co.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	from := workflow.Status(conv.Status)
	to, err := workflow.Resubmit(workflow.StateOf(conv))
	if err != nil {
		return err
	}

	if !co.resubmit.KeepSignatures && len(conv.Signatures) > 0 {
		if err := co.repo.ClearSignatures(ctx, id); err != nil {
			return err
		}
	}

	entry := auditlog.Entry(auditlog.ActionConventionResubmitted, normalize.Email(actor.Email), actor.IP, "nouveau cycle de signature")
	if err := co.repo.SetStatus(ctx, id, from, to, entry); err != nil {
		return err
	}
	co.audit.Mirror(id.Hex(), entry)
	return nil
}

// BulkResult reports a bulk signing outcome. Documents are independent:
// one failure never rolls back the others.
type BulkResult struct {
	Requested int         `json:"requested"`
	Applied   int         `json:"applied"`
	Failed    []BulkError `json:"failed,omitempty"`
}

// BulkError names one document that did not apply.
type BulkError struct {
	DocumentID string `json:"documentId"`
	Reason     string `json:"reason"`
}

// BulkSign applies the same canvas signature to many documents, one
// guarded write each. Used by teachers and heads who validate in batches.
func (co *Coordinator) BulkSign(ctx context.Context, actor Actor, ids []primitive.ObjectID, role workflow.Role, image string) (BulkResult, error) {
	if strings.TrimSpace(image) == "" {
		return BulkResult{}, ErrEmptySignature
	}

	res := BulkResult{Requested: len(ids)}
	for _, id := range ids {
		_, err := co.Sign(ctx, actor, Request{
			DocumentID: id,
			Role:       role,
			Method:     MethodCanvas,
			Image:      image,
		})
		if err != nil {
			res.Failed = append(res.Failed, BulkError{DocumentID: id.Hex(), Reason: err.Error()})
			continue
		}
		res.Applied++
	}
	return res, nil
}

// AttestationRequest signs the end-of-placement attestation.
type AttestationRequest struct {
	DocumentID     primitive.ObjectID
	SignerName     string
	SignerFunction string
	Image          string
	Competences    string
	Activities     string
	DaysPresent    int
	HalfDaysAbsent int
}

// SignAttestation applies the attestation signature. The tutor signs it;
// identity follows the tutor party email. Signed is terminal.
func (co *Coordinator) SignAttestation(ctx context.Context, actor Actor, req AttestationRequest) error {
	if strings.TrimSpace(req.Image) == "" {
		return ErrEmptySignature
	}

	conv, err := co.repo.Get(ctx, req.DocumentID)
	if err != nil {
		return err
	}
	if !workflow.AttestationActionable(conv) {
		return workflow.ErrAlreadySigned
	}
	if !actor.SuperAdmin && normalize.Email(actor.Email) != normalize.Email(conv.Tutor.Email) {
		return ErrIdentityMismatch
	}

	att := models.Attestation{
		Signed:         true,
		Date:           time.Now().UTC(),
		SignerName:     normalize.Name(req.SignerName),
		SignerFunction: normalize.Name(req.SignerFunction),
		Image:          req.Image,
		Competences:    normalize.FreeText(req.Competences),
		Activities:     normalize.FreeText(req.Activities),
		DaysPresent:    req.DaysPresent,
		HalfDaysAbsent: req.HalfDaysAbsent,
	}

	entry := auditlog.Entry(auditlog.ActionAttestationSigned, normalize.Email(actor.Email), actor.IP,
		fmt.Sprintf("attestation signée par %s", att.SignerName))
	if err := co.repo.SignAttestation(ctx, req.DocumentID, att, entry); err != nil {
		return err
	}
	co.audit.Mirror(req.DocumentID.Hex(), entry)

	// Freeze the attestation fingerprint immediately; signed is terminal.
	conv.Attestation = att
	fph := verifytoken.Fingerprint(verifytoken.SnapshotAttestation(conv))
	if err := co.repo.SetVerification(ctx, req.DocumentID, map[string]string{"attestation_fingerprint": fph}); err != nil {
		co.log.Error("freeze attestation fingerprint failed",
			zap.String("document_id", req.DocumentID.Hex()), zap.Error(err))
	}
	return nil
}

// partyFor returns the stored party for a role.
func partyFor(c *models.Convention, role workflow.Role) (models.Party, error) {
	switch role {
	case workflow.RoleStudent:
		return c.Student, nil
	case workflow.RoleParent:
		return c.Parent, nil
	case workflow.RoleTeacher:
		return c.Teacher, nil
	case workflow.RoleCompany:
		return c.Company, nil
	case workflow.RoleTutor:
		return c.Tutor, nil
	case workflow.RoleHead:
		return c.Head, nil
	}
	return models.Party{}, workflow.ErrUnknownRole
}

// IsConflict reports whether an error is the store's lost-guard conflict.
func IsConflict(err error) bool {
	return errors.Is(err, conventions.ErrConflict)
}
