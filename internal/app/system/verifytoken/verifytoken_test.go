package verifytoken

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/parcoursign/parcoursign/internal/domain/models"
	"github.com/parcoursign/parcoursign/internal/domain/workflow"
)

func sampleConvention() *models.Convention {
	return &models.Convention{
		ID:        primitive.NewObjectID(),
		Student:   models.Party{Name: "Jeanne Martin", Email: "jeanne@lycee.fr"},
		Parent:    models.Party{Name: "Marie Martin", Email: "marie@example.fr"},
		Teacher:   models.Party{Name: "Paul Ref", Email: "ref@lycee.fr"},
		Company:   models.Party{Name: "Entreprise SARL", Email: "contact@entreprise.fr"},
		Tutor:     models.Party{Name: "Luc Tuteur", Email: "tuteur@entreprise.fr"},
		Head:      models.Party{Name: "Mme Proviseure", Email: "direction@lycee.fr"},
		StartDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 27, 0, 0, 0, 0, time.UTC),
		Status:    string(workflow.StatusSubmitted),
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	c := sampleConvention()

	a := Fingerprint(SnapshotConvention(c))
	b := Fingerprint(SnapshotConvention(c))
	if a != b {
		t.Fatalf("same document produced two fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("fingerprint is not a sha256 hex digest: %q", a)
	}
}

func TestFingerprint_ChangesWithCoveredFields(t *testing.T) {
	c := sampleConvention()
	base := Fingerprint(SnapshotConvention(c))

	c2 := sampleConvention()
	c2.ID = c.ID
	c2.Tutor.Name = "Autre Tuteur"
	if Fingerprint(SnapshotConvention(c2)) == base {
		t.Error("changing a party name must change the fingerprint")
	}

	c3 := sampleConvention()
	c3.ID = c.ID
	c3.Status = string(workflow.StatusValidatedHead)
	if Fingerprint(SnapshotConvention(c3)) == base {
		t.Error("changing the status must change the fingerprint")
	}
}

func TestFingerprint_IgnoresFreeText(t *testing.T) {
	c := sampleConvention()
	base := Fingerprint(SnapshotConvention(c))

	c.Activities = "Accueil des clients"
	c.Competences = "Relation client"
	if Fingerprint(SnapshotConvention(c)) != base {
		t.Error("free-text fields must not affect the fingerprint")
	}
}

func TestSnapshotAttestation_CoversDaysPresent(t *testing.T) {
	c := sampleConvention()
	c.Attestation.Signed = true
	c.Attestation.DaysPresent = 19
	base := Fingerprint(SnapshotAttestation(c))

	c.Attestation.DaysPresent = 20
	if Fingerprint(SnapshotAttestation(c)) == base {
		t.Error("attestation fingerprint must cover the days-present total")
	}
}

func TestFingerprintFor_FrozenWhenTerminal(t *testing.T) {
	c := sampleConvention()
	c.Status = string(workflow.StatusValidatedHead)
	c.Verification.Fingerprint = "frozen-digest"

	s := New("secret", "https://sign.example.fr")
	if got := s.FingerprintFor(c, KindConvention); got != "frozen-digest" {
		t.Errorf("terminal document must use stored fingerprint, got %q", got)
	}

	// Pre-terminal: live recomputation.
	c.Status = string(workflow.StatusSignedTutor)
	if got := s.FingerprintFor(c, KindConvention); got == "frozen-digest" {
		t.Error("non-terminal document must recompute the fingerprint")
	}
}

func TestDisplayCode(t *testing.T) {
	if got := DisplayCode("3f2a91ccffffffff"); got != "3F2A-91CC" {
		t.Errorf("DisplayCode = %q, want 3F2A-91CC", got)
	}
}

func TestGenerateURLAndParse_RoundTrip(t *testing.T) {
	c := sampleConvention()
	s := New("test-secret", "https://sign.example.fr/")

	ref, err := s.GenerateURL(c, KindConvention)
	if err != nil {
		t.Fatalf("GenerateURL: %v", err)
	}
	if !strings.HasPrefix(ref.URL, "https://sign.example.fr/verify/") {
		t.Fatalf("unexpected URL shape: %s", ref.URL)
	}
	if ref.HashDisplay == "" || !strings.Contains(ref.HashDisplay, "-") {
		t.Errorf("missing display code: %q", ref.HashDisplay)
	}

	token := strings.TrimPrefix(ref.URL, "https://sign.example.fr/verify/")
	claims, err := s.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != c.ID.Hex() {
		t.Errorf("subject = %q, want %q", claims.Subject, c.ID.Hex())
	}
	if claims.Kind != KindConvention {
		t.Errorf("kind = %q", claims.Kind)
	}
	if claims.Fingerprint != Fingerprint(SnapshotConvention(c)) {
		t.Error("token fingerprint does not match the live document")
	}
}

func TestParse_RejectsForgedToken(t *testing.T) {
	c := sampleConvention()
	issuer := New("real-secret", "https://sign.example.fr")
	forger := New("wrong-secret", "https://sign.example.fr")

	ref, err := forger.GenerateURL(c, KindConvention)
	if err != nil {
		t.Fatalf("GenerateURL: %v", err)
	}
	token := strings.TrimPrefix(ref.URL, "https://sign.example.fr/verify/")

	if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("forged token accepted, err = %v", err)
	}

	if _, err := issuer.Parse("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token accepted, err = %v", err)
	}
}

func TestGenerateURL_RejectsUnknownKind(t *testing.T) {
	s := New("secret", "https://sign.example.fr")
	if _, err := s.GenerateURL(sampleConvention(), "invoice"); err == nil {
		t.Error("unknown kind accepted")
	}
}

func TestQRPNG(t *testing.T) {
	s := New("secret", "https://sign.example.fr")
	png, err := s.QRPNG(Reference{URL: "https://sign.example.fr/verify/tok"}, 0)
	if err != nil {
		t.Fatalf("QRPNG: %v", err)
	}
	// PNG magic bytes.
	if len(png) < 8 || png[0] != 0x89 || png[1] != 'P' || png[2] != 'N' || png[3] != 'G' {
		t.Error("output is not a PNG")
	}
}
