// internal/app/system/verifytoken/verifytoken.go

// Package verifytoken produces the tamper-evidence material embedded in
// rendered documents: a deterministic fingerprint over the canonical field
// subset, a signed public verification URL, a short human-displayable
// code, and the QR image bytes encoding the URL.
//
// The fingerprint deliberately covers only fields that carry legal
// authenticity (identity of the parties, dates, status, attendance
// totals). Free text that may be edited without changing what was signed
// is excluded, and once a document is terminal the stored fingerprint is
// authoritative and never recomputed.
package verifytoken

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/parcoursign/parcoursign/internal/domain/models"
	"github.com/parcoursign/parcoursign/internal/domain/workflow"
)

// Document kinds a verification reference can point at.
const (
	KindConvention  = "convention"
	KindAttestation = "attestation"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature or shape
	// checks. The public endpoint maps it to "unknown document".
	ErrInvalidToken = errors.New("invalid verification token")
)

// Snapshot is the canonical field subset the fingerprint is derived from.
// Field order is fixed by the struct; the digest is SHA-256 over its JSON
// encoding.
type Snapshot struct {
	Kind        string `json:"kind"`
	DocumentID  string `json:"document_id"`
	StudentName string `json:"student_name"`
	ParentName  string `json:"parent_name,omitempty"`
	TeacherName string `json:"teacher_name"`
	CompanyName string `json:"company_name"`
	TutorName   string `json:"tutor_name"`
	HeadName    string `json:"head_name"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Status      string `json:"status"`
	DaysPresent int    `json:"days_present,omitempty"` // attestations only
}

// SnapshotConvention builds the canonical snapshot for the convention flow.
func SnapshotConvention(c *models.Convention) Snapshot {
	return Snapshot{
		Kind:        KindConvention,
		DocumentID:  c.ID.Hex(),
		StudentName: c.Student.Name,
		ParentName:  c.Parent.Name,
		TeacherName: c.Teacher.Name,
		CompanyName: c.Company.Name,
		TutorName:   c.Tutor.Name,
		HeadName:    c.Head.Name,
		StartDate:   c.StartDate.UTC().Format("2006-01-02"),
		EndDate:     c.EndDate.UTC().Format("2006-01-02"),
		Status:      c.Status,
	}
}

// SnapshotAttestation builds the canonical snapshot for the attestation
// flow; the computed total of days present is part of what is certified.
func SnapshotAttestation(c *models.Convention) Snapshot {
	s := SnapshotConvention(c)
	s.Kind = KindAttestation
	s.DaysPresent = c.Attestation.DaysPresent
	if c.Attestation.Signed {
		s.Status = "SIGNED"
	} else {
		s.Status = "UNSIGNED"
	}
	return s
}

// Fingerprint returns the SHA-256 hex digest of the snapshot's JSON
// encoding. Deterministic: same snapshot, same digest.
func Fingerprint(s Snapshot) string {
	b, _ := json.Marshal(s)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DisplayCode renders the short human-checkable form of a fingerprint,
// e.g. "3F2A-91CC". Eight hex digits is enough for a visual cross-check
// against the full digest carried in the URL.
func DisplayCode(fingerprint string) string {
	if len(fingerprint) < 8 {
		return strings.ToUpper(fingerprint)
	}
	f := strings.ToUpper(fingerprint[:8])
	return f[:4] + "-" + f[4:]
}

// Reference is the public verification material handed to the renderer.
type Reference struct {
	URL         string `json:"url"`
	HashDisplay string `json:"hashDisplay"`
}

// Claims is the JWT payload embedded in the verification URL.
type Claims struct {
	Kind        string `json:"kind"`
	Fingerprint string `json:"fph"`
	jwt.RegisteredClaims
}

// Service issues and parses verification references.
type Service struct {
	secret  []byte
	baseURL string
}

// New creates a Service. The secret signs verification tokens (HS256);
// baseURL is the public origin the /verify endpoint is served from.
func New(secret, baseURL string) *Service {
	return &Service{secret: []byte(secret), baseURL: strings.TrimRight(baseURL, "/")}
}

// FingerprintFor returns the authoritative fingerprint for a convention:
// the frozen one when the document is terminal and has one stored, a live
// recomputation otherwise.
func (s *Service) FingerprintFor(c *models.Convention, kind string) string {
	switch kind {
	case KindAttestation:
		if c.Attestation.Signed && c.Verification.AttestationFingerprint != "" {
			return c.Verification.AttestationFingerprint
		}
		return Fingerprint(SnapshotAttestation(c))
	default:
		if workflow.Status(c.Status).Terminal() && c.Verification.Fingerprint != "" {
			return c.Verification.Fingerprint
		}
		return Fingerprint(SnapshotConvention(c))
	}
}

// GenerateURL produces the public verification reference for a document:
// a non-authenticated URL carrying a signed token, plus the short display
// code. The QR renderer encodes Reference.URL.
func (s *Service) GenerateURL(c *models.Convention, kind string) (Reference, error) {
	if kind != KindConvention && kind != KindAttestation {
		return Reference{}, fmt.Errorf("unknown document kind %q", kind)
	}

	fph := s.FingerprintFor(c, kind)
	claims := Claims{
		Kind:        kind,
		Fingerprint: fph,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Subject:  c.ID.Hex(),
			IssuedAt: jwt.NewNumericDate(time.Now().UTC()),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Reference{}, fmt.Errorf("sign verification token: %w", err)
	}

	return Reference{
		URL:         s.VerifyURL(token),
		HashDisplay: DisplayCode(fph),
	}, nil
}

// VerifyURL rebuilds the public verification URL for a raw token.
func (s *Service) VerifyURL(token string) string {
	return s.baseURL + "/verify/" + token
}

// Parse validates a verification token and returns its claims.
func (s *Service) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" || claims.Fingerprint == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// QRPNG renders the verification URL as a PNG for embedding in the
// generated document.
func (s *Service) QRPNG(ref Reference, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(ref.URL, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
