package conventions_test

import (
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/parcoursign/parcoursign/internal/app/store/conventions"
	"github.com/parcoursign/parcoursign/internal/app/system/auditlog"
	"github.com/parcoursign/parcoursign/internal/domain/models"
	"github.com/parcoursign/parcoursign/internal/domain/workflow"
	"github.com/parcoursign/parcoursign/internal/testutil"
)

func insertFixture(t *testing.T, store *conventions.Store) *models.Convention {
	t.Helper()
	ctx := testutil.TestContext(t)
	conv := testutil.NewConvention()
	if _, err := store.Insert(ctx, conv); err != nil {
		t.Fatalf("insert fixture: %v", err)
	}
	return conv
}

func TestInsertAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := conventions.New(db)
	ctx := testutil.TestContext(t)

	conv := testutil.NewConvention()
	id, err := store.Insert(ctx, conv)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Student.Email != testutil.StudentEmail {
		t.Errorf("student email = %q", got.Student.Email)
	}
	if got.Status != string(workflow.StatusSubmitted) {
		t.Errorf("status = %q", got.Status)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped on insert")
	}
}

func TestGet_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := conventions.New(db)

	_, err := store.Get(testutil.TestContext(t), primitive.NewObjectID())
	if !errors.Is(err, conventions.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestList_Filters(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := conventions.New(db)
	ctx := testutil.TestContext(t)

	a := testutil.NewConvention()
	b := testutil.NewConvention()
	b.Teacher.Email = "autre@lycee-test.fr"
	b.Status = string(workflow.StatusValidatedTeacher)
	for _, c := range []*models.Convention{a, b} {
		if _, err := store.Insert(ctx, c); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	byStatus, err := store.List(ctx, conventions.ListFilter{Status: string(workflow.StatusValidatedTeacher)})
	if err != nil {
		t.Fatalf("List by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != b.ID {
		t.Errorf("status filter returned %d documents", len(byStatus))
	}

	byTeacher, err := store.List(ctx, conventions.ListFilter{TeacherEmail: testutil.TeacherEmail})
	if err != nil {
		t.Fatalf("List by teacher: %v", err)
	}
	if len(byTeacher) != 1 || byTeacher[0].ID != a.ID {
		t.Errorf("teacher filter returned %d documents", len(byTeacher))
	}
}

func TestApplySignature_Guards(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := conventions.New(db)
	ctx := testutil.TestContext(t)
	conv := insertFixture(t, store)

	sig := models.Signature{Image: testutil.TestImage, At: time.Now().UTC()}
	entry := auditlog.Entry(auditlog.SignedAction(workflow.RoleTeacher), testutil.TeacherEmail, "", "signed")

	err := store.ApplySignature(ctx, conv.ID, workflow.RoleTeacher, sig,
		workflow.StatusSubmitted, workflow.StatusValidatedTeacher, entry)
	if err != nil {
		t.Fatalf("ApplySignature: %v", err)
	}

	got, err := store.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != string(workflow.StatusValidatedTeacher) {
		t.Errorf("status = %q", got.Status)
	}
	if _, ok := got.Signatures[workflow.RoleTeacher.SignatureKey()]; !ok {
		t.Error("teacherAt key missing after signing")
	}
	if len(got.AuditLogs) != 1 {
		t.Errorf("audit trail has %d entries, want 1", len(got.AuditLogs))
	}

	// Same role again: the $exists guard loses the match.
	err = store.ApplySignature(ctx, conv.ID, workflow.RoleTeacher, sig,
		workflow.StatusValidatedTeacher, workflow.StatusValidatedTeacher, entry)
	if !errors.Is(err, conventions.ErrConflict) {
		t.Errorf("duplicate signature: expected ErrConflict, got %v", err)
	}

	// Stale from-status: the status pin loses the match.
	err = store.ApplySignature(ctx, conv.ID, workflow.RoleCompany, sig,
		workflow.StatusSubmitted, workflow.StatusSignedCompany, entry)
	if !errors.Is(err, conventions.ErrConflict) {
		t.Errorf("stale status: expected ErrConflict, got %v", err)
	}

	// Missing document is NotFound, not Conflict.
	err = store.ApplySignature(ctx, primitive.NewObjectID(), workflow.RoleTeacher, sig,
		workflow.StatusSubmitted, workflow.StatusValidatedTeacher, entry)
	if !errors.Is(err, conventions.ErrNotFound) {
		t.Errorf("missing document: expected ErrNotFound, got %v", err)
	}
}

func TestSetStatus_PinsFromStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := conventions.New(db)
	ctx := testutil.TestContext(t)
	conv := insertFixture(t, store)

	entry := auditlog.Entry(auditlog.ActionConventionRejected, testutil.TeacherEmail, "", "dates erronées")
	if err := store.SetStatus(ctx, conv.ID, workflow.StatusSubmitted, workflow.StatusRejected, entry); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	err := store.SetStatus(ctx, conv.ID, workflow.StatusSubmitted, workflow.StatusRejected, entry)
	if !errors.Is(err, conventions.ErrConflict) {
		t.Errorf("stale transition: expected ErrConflict, got %v", err)
	}
}

func TestUpdateFields_RejectsGuardedKeys(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := conventions.New(db)
	ctx := testutil.TestContext(t)
	conv := insertFixture(t, store)

	if err := store.UpdateFields(ctx, conv.ID, map[string]any{"activities": "soudure"}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	got, _ := store.Get(ctx, conv.ID)
	if got.Activities != "soudure" {
		t.Errorf("activities = %q", got.Activities)
	}

	for _, key := range []string{"status", "signatures", "audit_logs"} {
		if err := store.UpdateFields(ctx, conv.ID, map[string]any{key: "x"}); err == nil {
			t.Errorf("UpdateFields should refuse key %q", key)
		}
	}
}

func TestAppendAudit_IsAppendOnly(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := conventions.New(db)
	ctx := testutil.TestContext(t)
	conv := insertFixture(t, store)

	first := auditlog.Entry(auditlog.ActionOtpCodeSent, testutil.TutorEmail, "", "code envoyé")
	second := auditlog.Entry(auditlog.ActionOtpVerified, testutil.TutorEmail, "", "code vérifié")
	for _, e := range []models.AuditEntry{first, second} {
		if err := store.AppendAudit(ctx, conv.ID, e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	got, _ := store.Get(ctx, conv.ID)
	if len(got.AuditLogs) != 2 {
		t.Fatalf("audit trail has %d entries, want 2", len(got.AuditLogs))
	}
	if got.AuditLogs[0].Action != auditlog.ActionOtpCodeSent || got.AuditLogs[1].Action != auditlog.ActionOtpVerified {
		t.Error("audit entries out of order")
	}
}

func TestClearSignatures_LeavesAuditTrail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := conventions.New(db)
	ctx := testutil.TestContext(t)
	conv := insertFixture(t, store)

	sig := models.Signature{Image: testutil.TestImage, At: time.Now().UTC()}
	entry := auditlog.Entry(auditlog.SignedAction(workflow.RoleTeacher), testutil.TeacherEmail, "", "signed")
	if err := store.ApplySignature(ctx, conv.ID, workflow.RoleTeacher, sig,
		workflow.StatusSubmitted, workflow.StatusValidatedTeacher, entry); err != nil {
		t.Fatalf("ApplySignature: %v", err)
	}

	if err := store.ClearSignatures(ctx, conv.ID); err != nil {
		t.Fatalf("ClearSignatures: %v", err)
	}

	got, _ := store.Get(ctx, conv.ID)
	if len(got.Signatures) != 0 {
		t.Errorf("signatures remain: %v", got.Signatures)
	}
	if len(got.AuditLogs) != 1 {
		t.Errorf("audit trail must survive clearing, has %d entries", len(got.AuditLogs))
	}
}

func TestEmailBounceAndCorrection(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := conventions.New(db)
	ctx := testutil.TestContext(t)
	conv := insertFixture(t, store)

	entry := auditlog.Entry(auditlog.ActionEmailCorrected, testutil.TeacherEmail, "", "adresse corrigée")

	// Correction before a bounce is gated out.
	err := store.CorrectEmail(ctx, conv.ID, workflow.RoleTutor, "nouveau@entreprise-test.fr", entry)
	if !errors.Is(err, conventions.ErrConflict) {
		t.Fatalf("correction without bounce: expected ErrConflict, got %v", err)
	}

	if err := store.MarkEmailInvalid(ctx, conv.ID, workflow.RoleTutor.SignatureKey()); err != nil {
		t.Fatalf("MarkEmailInvalid: %v", err)
	}
	if err := store.CorrectEmail(ctx, conv.ID, workflow.RoleTutor, "nouveau@entreprise-test.fr", entry); err != nil {
		t.Fatalf("CorrectEmail: %v", err)
	}

	got, _ := store.Get(ctx, conv.ID)
	if got.Tutor.Email != "nouveau@entreprise-test.fr" {
		t.Errorf("tutor email = %q", got.Tutor.Email)
	}
	if len(got.InvalidEmails) != 0 {
		t.Errorf("invalid_emails should be cleared, has %v", got.InvalidEmails)
	}
}

func TestSignAttestation_Terminal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := conventions.New(db)
	ctx := testutil.TestContext(t)
	conv := insertFixture(t, store)

	att := models.Attestation{
		Signed:      true,
		Date:        time.Now().UTC(),
		SignerName:  "Luc Tuteur",
		Image:       testutil.TestImage,
		DaysPresent: 19,
	}
	entry := auditlog.Entry(auditlog.ActionAttestationSigned, testutil.TutorEmail, "", "attestation signée")

	if err := store.SignAttestation(ctx, conv.ID, att, entry); err != nil {
		t.Fatalf("SignAttestation: %v", err)
	}
	err := store.SignAttestation(ctx, conv.ID, att, entry)
	if !errors.Is(err, conventions.ErrConflict) {
		t.Errorf("second attestation signing: expected ErrConflict, got %v", err)
	}
}

func TestSetVerification(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := conventions.New(db)
	ctx := testutil.TestContext(t)
	conv := insertFixture(t, store)

	if err := store.SetVerification(ctx, conv.ID, map[string]string{"fingerprint": "abc123"}); err != nil {
		t.Fatalf("SetVerification: %v", err)
	}
	got, _ := store.Get(ctx, conv.ID)
	if got.Verification.Fingerprint != "abc123" {
		t.Errorf("fingerprint = %q", got.Verification.Fingerprint)
	}
}
