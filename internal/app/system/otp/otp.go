// internal/app/system/otp/otp.go

// Package otp is the one-time-code signing authentication service. It owns
// issuing codes (store + email delivery) and verifying them. Verification
// returns the server-authoritative audit entry the signing coordinator
// merges verbatim into the document trail.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/parcoursign/parcoursign/internal/app/store/otpcodes"
	"github.com/parcoursign/parcoursign/internal/app/system/auditlog"
	"github.com/parcoursign/parcoursign/internal/app/system/mailer"
	"github.com/parcoursign/parcoursign/internal/domain/models"
)

// ErrSendFailed wraps delivery failures; the code was not handed to the
// signer, so the caller must not treat the send as done.
var ErrSendFailed = errors.New("otp delivery failed")

// CodeStore is the persistence contract the service needs. The Mongo
// otpcodes.Store satisfies it; tests use a memory fake.
type CodeStore interface {
	Issue(ctx context.Context, email string, documentID primitive.ObjectID) (string, error)
	Verify(ctx context.Context, email, code string) (*otpcodes.Code, error)
	Expiry() time.Duration
}

// Sender delivers email out-of-band.
type Sender interface {
	Send(email mailer.Email) error
}

// Service issues and verifies one-time signing codes.
type Service struct {
	codes    CodeStore
	sender   Sender
	siteName string
	log      *zap.Logger
}

// New creates the OTP service.
func New(codes CodeStore, sender Sender, siteName string, logger *zap.Logger) *Service {
	return &Service{codes: codes, sender: sender, siteName: siteName, log: logger}
}

// Send issues a fresh code for (email, document) and delivers it. A new
// send invalidates any prior unconsumed code. Delivery failure surfaces as
// ErrSendFailed; the stale stored code is harmless since verification
// requires the plain code the signer never received.
func (s *Service) Send(ctx context.Context, email string, documentID primitive.ObjectID) error {
	code, err := s.codes.Issue(ctx, email, documentID)
	if err != nil {
		return fmt.Errorf("issue otp code: %w", err)
	}

	msg := mailer.BuildOtpEmail(mailer.OtpEmailData{
		SiteName:  s.siteName,
		Code:      code,
		ExpiresIn: formatExpiry(s.codes.Expiry()),
	})
	msg.To = email

	if err := s.sender.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	s.log.Info("otp code sent",
		zap.String("email", email),
		zap.String("document_id", documentID.Hex()))
	return nil
}

// Verify consumes the signer's code. On success it returns the audit entry
// describing the verification event; the server text is authoritative and
// callers merge it unchanged. Wrong and expired codes come back as the
// store's single generic failure.
func (s *Service) Verify(ctx context.Context, email, code string) (models.AuditEntry, error) {
	rec, err := s.codes.Verify(ctx, email, code)
	if err != nil {
		return models.AuditEntry{}, err
	}

	entry := auditlog.Entry(auditlog.ActionOtpVerified, email, "",
		fmt.Sprintf("code à usage unique vérifié (document %s)", rec.DocumentID.Hex()))
	return entry, nil
}

// formatExpiry renders a duration for the email body ("10 minutes").
func formatExpiry(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
