package signing

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/parcoursign/parcoursign/internal/app/store/otpcodes"
	"github.com/parcoursign/parcoursign/internal/app/system/auditlog"
	"github.com/parcoursign/parcoursign/internal/domain/models"
	"github.com/parcoursign/parcoursign/internal/domain/workflow"
	"github.com/parcoursign/parcoursign/internal/testutil"
)

// fakeOTP accepts a single (email, code) pair.
type fakeOTP struct {
	email string
	code  string
}

func (f *fakeOTP) Verify(_ context.Context, email, code string) (models.AuditEntry, error) {
	if email != f.email || code != f.code {
		return models.AuditEntry{}, otpcodes.ErrInvalidOrExpired
	}
	return auditlog.Entry(auditlog.ActionOtpVerified, email, "", "code à usage unique vérifié"), nil
}

func newCoordinator(repo Repository, otp OTPVerifier, policy ResubmitPolicy) *Coordinator {
	return New(repo, otp, auditlog.New(zap.NewNop(), auditlog.ModeDB), policy, zap.NewNop())
}

func canvasReq(id primitive.ObjectID, role workflow.Role) Request {
	return Request{DocumentID: id, Role: role, Method: MethodCanvas, Image: testutil.TestImage}
}

func actorFor(email string) Actor {
	return Actor{Email: email, IP: "203.0.113.10"}
}

func countAction(c *models.Convention, action string) int {
	n := 0
	for _, e := range c.AuditLogs {
		if e.Action == action {
			n++
		}
	}
	return n
}

func TestSign_AdultEndToEnd(t *testing.T) {
	repo := testutil.NewMemRepo()
	id := repo.Put(testutil.NewConvention())
	co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})
	ctx := context.Background()

	steps := []struct {
		role  workflow.Role
		email string
		want  workflow.Status
	}{
		{workflow.RoleStudent, testutil.StudentEmail, workflow.StatusSubmitted},
		{workflow.RoleTeacher, testutil.TeacherEmail, workflow.StatusValidatedTeacher},
		{workflow.RoleCompany, testutil.CompanyEmail, workflow.StatusSignedCompany},
		{workflow.RoleTutor, testutil.TutorEmail, workflow.StatusSignedTutor},
		{workflow.RoleHead, testutil.HeadEmail, workflow.StatusValidatedHead},
	}

	for _, s := range steps {
		res, err := co.Sign(ctx, actorFor(s.email), canvasReq(id, s.role))
		if err != nil {
			t.Fatalf("%s: %v", s.role, err)
		}
		if res.Status != s.want {
			t.Fatalf("%s: status = %s, want %s", s.role, res.Status, s.want)
		}
	}

	conv, _ := repo.Get(ctx, id)
	if len(conv.Signatures) != 5 {
		t.Errorf("signature keys = %d, want 5", len(conv.Signatures))
	}
	if len(conv.AuditLogs) != 5 {
		t.Errorf("audit entries = %d, want 5", len(conv.AuditLogs))
	}
	for _, s := range steps {
		if countAction(conv, auditlog.SignedAction(s.role)) != 1 {
			t.Errorf("missing audit entry for %s", s.role)
		}
	}
	if conv.Verification.Fingerprint == "" {
		t.Error("terminal document must have a frozen fingerprint")
	}

	// Terminal: nothing more applies.
	if _, err := co.Sign(ctx, actorFor(testutil.StudentEmail), canvasReq(id, workflow.RoleStudent)); !errors.Is(err, workflow.ErrNotActionable) {
		t.Errorf("signing a terminal document: err = %v", err)
	}
}

func TestSign_MinorRequiresParentFirst(t *testing.T) {
	repo := testutil.NewMemRepo()
	id := repo.Put(testutil.NewMinorConvention())
	co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})
	ctx := context.Background()

	if _, err := co.Sign(ctx, actorFor(testutil.TeacherEmail), canvasReq(id, workflow.RoleTeacher)); !errors.Is(err, workflow.ErrNotActionable) {
		t.Fatalf("teacher before parent on a minor's document: err = %v", err)
	}

	res, err := co.Sign(ctx, actorFor(testutil.ParentEmail), canvasReq(id, workflow.RoleParent))
	if err != nil {
		t.Fatalf("parent sign: %v", err)
	}
	if res.Status != workflow.StatusSignedParent {
		t.Fatalf("status = %s", res.Status)
	}

	if _, err := co.Sign(ctx, actorFor(testutil.TeacherEmail), canvasReq(id, workflow.RoleTeacher)); err != nil {
		t.Fatalf("teacher after parent: %v", err)
	}
}

func TestSign_DuplicateIsRefused(t *testing.T) {
	repo := testutil.NewMemRepo()
	id := repo.Put(testutil.NewConvention())
	co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})
	ctx := context.Background()

	if _, err := co.Sign(ctx, actorFor(testutil.TeacherEmail), canvasReq(id, workflow.RoleTeacher)); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	if _, err := co.Sign(ctx, actorFor(testutil.TeacherEmail), canvasReq(id, workflow.RoleTeacher)); !errors.Is(err, workflow.ErrAlreadySigned) {
		t.Fatalf("second sign: err = %v", err)
	}

	conv, _ := repo.Get(ctx, id)
	if countAction(conv, auditlog.SignedAction(workflow.RoleTeacher)) != 1 {
		t.Error("duplicate sign must not add a second audit entry")
	}
}

func TestSign_IdentityMismatchWritesNothing(t *testing.T) {
	repo := testutil.NewMemRepo()
	id := repo.Put(testutil.NewConvention())
	co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})
	ctx := context.Background()

	_, err := co.Sign(ctx, actorFor("intrus@example.fr"), canvasReq(id, workflow.RoleTeacher))
	if !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("err = %v", err)
	}

	conv, _ := repo.Get(ctx, id)
	if len(conv.Signatures) != 0 || len(conv.AuditLogs) != 0 {
		t.Error("refused request must leave the document untouched")
	}
}

func TestSign_SuperAdminBypassesIdentityOnly(t *testing.T) {
	repo := testutil.NewMemRepo()
	id := repo.Put(testutil.NewConvention())
	co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})
	ctx := context.Background()
	admin := Actor{Email: "admin@parcoursign.test", SuperAdmin: true}

	if _, err := co.Sign(ctx, admin, canvasReq(id, workflow.RoleTeacher)); err != nil {
		t.Fatalf("superadmin sign: %v", err)
	}
	// Workflow guards still hold.
	if _, err := co.Sign(ctx, admin, canvasReq(id, workflow.RoleHead)); !errors.Is(err, workflow.ErrNotActionable) {
		t.Errorf("superadmin must not skip the workflow order, err = %v", err)
	}
}

func TestSign_CanvasRequiresImage(t *testing.T) {
	repo := testutil.NewMemRepo()
	id := repo.Put(testutil.NewConvention())
	co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})

	req := canvasReq(id, workflow.RoleTeacher)
	req.Image = "   "
	if _, err := co.Sign(context.Background(), actorFor(testutil.TeacherEmail), req); !errors.Is(err, ErrEmptySignature) {
		t.Fatalf("err = %v", err)
	}
}

func TestSign_OTPMethod(t *testing.T) {
	repo := testutil.NewMemRepo()
	c := testutil.NewConvention()
	testutil.AtStatus(c, workflow.StatusValidatedTeacher)
	id := repo.Put(c)

	otp := &fakeOTP{email: testutil.TutorEmail, code: "482913"}
	co := newCoordinator(repo, otp, ResubmitPolicy{})
	ctx := context.Background()

	// Wrong code: refused, untouched.
	badReq := Request{DocumentID: id, Role: workflow.RoleTutor, Method: MethodOTP, Code: "000000"}
	if _, err := co.Sign(ctx, Actor{IP: "203.0.113.9"}, badReq); !errors.Is(err, otpcodes.ErrInvalidOrExpired) {
		t.Fatalf("wrong code: err = %v", err)
	}

	// Right code: the verified email is the identity, no session needed.
	req := Request{DocumentID: id, Role: workflow.RoleTutor, Method: MethodOTP, Code: "482913"}
	res, err := co.Sign(ctx, Actor{IP: "203.0.113.9"}, req)
	if err != nil {
		t.Fatalf("otp sign: %v", err)
	}
	if res.Status != workflow.StatusSignedTutor {
		t.Fatalf("status = %s", res.Status)
	}

	conv, _ := repo.Get(ctx, id)
	if countAction(conv, auditlog.ActionOtpVerified) != 1 {
		t.Error("otp verification must appear in the audit trail")
	}
	if countAction(conv, auditlog.SignedAction(workflow.RoleTutor)) != 1 {
		t.Error("missing signing audit entry")
	}
	if conv.Signatures[workflow.RoleTutor.SignatureKey()].Code == "" {
		t.Error("otp signature must carry the verified code reference")
	}
}

func TestSign_UnknownMethod(t *testing.T) {
	repo := testutil.NewMemRepo()
	id := repo.Put(testutil.NewConvention())
	co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})

	req := Request{DocumentID: id, Role: workflow.RoleTeacher, Method: "fax", Image: testutil.TestImage}
	if _, err := co.Sign(context.Background(), actorFor(testutil.TeacherEmail), req); !errors.Is(err, ErrInvalidMethod) {
		t.Fatalf("err = %v", err)
	}
}

func TestSign_PendingFieldsSavedAndSanitized(t *testing.T) {
	repo := testutil.NewMemRepo()
	id := repo.Put(testutil.NewConvention())
	co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})
	ctx := context.Background()

	req := canvasReq(id, workflow.RoleTeacher)
	req.PendingFields = map[string]string{
		"activities": "Mise en rayon<script>alert('x')</script>",
	}
	if _, err := co.Sign(ctx, actorFor(testutil.TeacherEmail), req); err != nil {
		t.Fatalf("sign with pending fields: %v", err)
	}

	conv, _ := repo.Get(ctx, id)
	if conv.Activities != "Mise en rayon" {
		t.Errorf("activities = %q", conv.Activities)
	}

	// Non-whitelisted field refused.
	req2 := canvasReq(id, workflow.RoleCompany)
	req2.PendingFields = map[string]string{"status": "VALIDATED_HEAD"}
	if _, err := co.Sign(ctx, actorFor(testutil.CompanyEmail), req2); err == nil {
		t.Error("writing a guarded field through pending fields must fail")
	}
}

func TestDualSign(t *testing.T) {
	repo := testutil.NewMemRepo()
	c := testutil.NewConvention()
	testutil.AtStatus(c, workflow.StatusValidatedTeacher)
	id := repo.Put(c)
	co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})
	ctx := context.Background()

	req := canvasReq(id, workflow.RoleCompany)
	req.DualSign = true

	// Consent is not implied.
	if _, err := co.Sign(ctx, actorFor(testutil.CompanyEmail), req); !errors.Is(err, ErrConsentRequired) {
		t.Fatalf("without consent: err = %v", err)
	}

	req.Consent = true
	res, err := co.Sign(ctx, actorFor(testutil.CompanyEmail), req)
	if err != nil {
		t.Fatalf("dual sign: %v", err)
	}
	if res.Status != workflow.StatusSignedTutor {
		t.Fatalf("status = %s", res.Status)
	}
	if len(res.SignedRoles) != 2 {
		t.Fatalf("signed roles = %v", res.SignedRoles)
	}

	conv, _ := repo.Get(ctx, id)
	if countAction(conv, auditlog.SignedAction(workflow.RoleCompany)) != 1 ||
		countAction(conv, auditlog.SignedAction(workflow.RoleTutor)) != 1 {
		t.Error("dual signature must record one audit entry per role")
	}

	// Repeat fails whole: both keys are taken.
	if _, err := co.Sign(ctx, actorFor(testutil.CompanyEmail), req); !errors.Is(err, workflow.ErrAlreadySigned) {
		t.Errorf("repeated dual sign: err = %v", err)
	}
}

func TestDualSign_FailsWholeWhenTutorAlreadySigned(t *testing.T) {
	repo := testutil.NewMemRepo()
	c := testutil.NewConvention()
	testutil.AtStatus(c, workflow.StatusValidatedTeacher)
	c.Status = string(workflow.StatusSignedTutor)
	testutil.SignRole(c, workflow.RoleTutor)
	id := repo.Put(c)
	co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})

	req := canvasReq(id, workflow.RoleCompany)
	req.DualSign = true
	req.Consent = true

	if _, err := co.Sign(context.Background(), actorFor(testutil.CompanyEmail), req); !errors.Is(err, workflow.ErrAlreadySigned) {
		t.Fatalf("err = %v", err)
	}

	conv, _ := repo.Get(context.Background(), id)
	if _, ok := conv.Signatures[workflow.RoleCompany.SignatureKey()]; ok {
		t.Error("half-applicable dual sign must not write the company key")
	}
}

func TestReject(t *testing.T) {
	repo := testutil.NewMemRepo()
	c := testutil.NewConvention()
	testutil.AtStatus(c, workflow.StatusValidatedTeacher)
	id := repo.Put(c)
	co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})
	ctx := context.Background()

	if err := co.Reject(ctx, actorFor(testutil.TeacherEmail), id, ""); !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("empty reason: err = %v", err)
	}
	if err := co.Reject(ctx, actorFor("intrus@example.fr"), id, "dates invalides"); !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("wrong identity: err = %v", err)
	}

	if err := co.Reject(ctx, actorFor(testutil.TeacherEmail), id, "dates invalides"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	conv, _ := repo.Get(ctx, id)
	if conv.Status != string(workflow.StatusRejected) {
		t.Fatalf("status = %s", conv.Status)
	}
	if len(conv.Signatures) == 0 {
		t.Error("rejection must not clear signature keys")
	}
	if countAction(conv, auditlog.ActionConventionRejected) != 1 {
		t.Error("missing rejection audit entry")
	}

	// Terminal documents cannot be rejected.
	c2 := testutil.NewConvention()
	testutil.AtStatus(c2, workflow.StatusValidatedHead)
	id2 := repo.Put(c2)
	if err := co.Reject(ctx, actorFor(testutil.TeacherEmail), id2, "trop tard"); !errors.Is(err, workflow.ErrNotActionable) {
		t.Errorf("rejecting a terminal document: err = %v", err)
	}
}

func TestResubmit(t *testing.T) {
	ctx := context.Background()

	seed := func() (*testutil.MemRepo, primitive.ObjectID) {
		repo := testutil.NewMemRepo()
		c := testutil.NewConvention()
		testutil.AtStatus(c, workflow.StatusValidatedTeacher)
		c.Status = string(workflow.StatusRejected)
		c.AuditLogs = append(c.AuditLogs, auditlog.Entry(auditlog.ActionConventionRejected, testutil.TeacherEmail, "", "dates"))
		return repo, repo.Put(c)
	}

	t.Run("default policy clears signatures", func(t *testing.T) {
		repo, id := seed()
		co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})

		if err := co.Resubmit(ctx, actorFor(testutil.StudentEmail), id); err != nil {
			t.Fatalf("resubmit: %v", err)
		}
		conv, _ := repo.Get(ctx, id)
		if conv.Status != string(workflow.StatusSubmitted) {
			t.Fatalf("status = %s", conv.Status)
		}
		if len(conv.Signatures) != 0 {
			t.Error("default policy must clear signature keys")
		}
		if countAction(conv, auditlog.ActionConventionRejected) != 1 {
			t.Error("audit trail must survive resubmission")
		}
		if countAction(conv, auditlog.ActionConventionResubmitted) != 1 {
			t.Error("missing resubmission audit entry")
		}
	})

	t.Run("keep policy preserves signatures", func(t *testing.T) {
		repo, id := seed()
		co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{KeepSignatures: true})

		if err := co.Resubmit(ctx, actorFor(testutil.StudentEmail), id); err != nil {
			t.Fatalf("resubmit: %v", err)
		}
		conv, _ := repo.Get(ctx, id)
		if len(conv.Signatures) == 0 {
			t.Error("keep policy must preserve signature keys")
		}
	})

	t.Run("only rejected documents resubmit", func(t *testing.T) {
		repo := testutil.NewMemRepo()
		id := repo.Put(testutil.NewConvention())
		co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})
		if err := co.Resubmit(ctx, actorFor(testutil.StudentEmail), id); !errors.Is(err, workflow.ErrNotActionable) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestBulkSign_PartialFailure(t *testing.T) {
	repo := testutil.NewMemRepo()
	co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})
	ctx := context.Background()

	ok1 := repo.Put(testutil.NewConvention())
	ok2 := repo.Put(testutil.NewConvention())
	rejected := testutil.NewConvention()
	rejected.Status = string(workflow.StatusRejected)
	bad := repo.Put(rejected)

	res, err := co.BulkSign(ctx, actorFor(testutil.TeacherEmail),
		[]primitive.ObjectID{ok1, bad, ok2}, workflow.RoleTeacher, testutil.TestImage)
	if err != nil {
		t.Fatalf("bulk sign: %v", err)
	}

	if res.Requested != 3 || res.Applied != 2 || len(res.Failed) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Failed[0].DocumentID != bad.Hex() {
		t.Errorf("failed id = %s", res.Failed[0].DocumentID)
	}

	// The failure rolled nothing back.
	for _, id := range []primitive.ObjectID{ok1, ok2} {
		conv, _ := repo.Get(ctx, id)
		if conv.Status != string(workflow.StatusValidatedTeacher) {
			t.Errorf("document %s: status = %s", id.Hex(), conv.Status)
		}
	}
}

func TestSignAttestation(t *testing.T) {
	repo := testutil.NewMemRepo()
	c := testutil.NewConvention()
	testutil.AtStatus(c, workflow.StatusValidatedHead)
	id := repo.Put(c)
	co := newCoordinator(repo, &fakeOTP{}, ResubmitPolicy{})
	ctx := context.Background()

	req := AttestationRequest{
		DocumentID:     id,
		SignerName:     "Luc Tuteur",
		SignerFunction: "Tuteur",
		Image:          testutil.TestImage,
		Competences:    "Relation client",
		Activities:     "Accueil, mise en rayon",
		DaysPresent:    19,
		HalfDaysAbsent: 2,
	}

	if err := co.SignAttestation(ctx, actorFor(testutil.TutorEmail), req); err != nil {
		t.Fatalf("sign attestation: %v", err)
	}

	conv, _ := repo.Get(ctx, id)
	if !conv.Attestation.Signed || conv.Attestation.DaysPresent != 19 {
		t.Fatalf("attestation = %+v", conv.Attestation)
	}
	if conv.Verification.AttestationFingerprint == "" {
		t.Error("attestation fingerprint must be frozen on signing")
	}
	if countAction(conv, auditlog.ActionAttestationSigned) != 1 {
		t.Error("missing attestation audit entry")
	}

	// Signed is terminal.
	if err := co.SignAttestation(ctx, actorFor(testutil.TutorEmail), req); !errors.Is(err, workflow.ErrAlreadySigned) {
		t.Errorf("second attestation sign: err = %v", err)
	}

	// Identity guard applies.
	c2 := testutil.NewConvention()
	id2 := repo.Put(c2)
	req.DocumentID = id2
	if err := co.SignAttestation(ctx, actorFor("intrus@example.fr"), req); !errors.Is(err, ErrIdentityMismatch) {
		t.Errorf("wrong identity: err = %v", err)
	}
}
