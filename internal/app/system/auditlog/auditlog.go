// internal/app/system/auditlog/auditlog.go

// Package auditlog defines the signing action vocabulary and the dual-sink
// logger. The durable audit trail lives inside each convention document
// (appended by the conventions store); this package builds those entries
// and mirrors them to structured logs according to configuration.
package auditlog

import (
	"time"

	"go.uber.org/zap"

	"github.com/parcoursign/parcoursign/internal/domain/models"
	"github.com/parcoursign/parcoursign/internal/domain/workflow"
)

// Signing event actions. Every accepted signature, rejection, and OTP
// verification produces exactly one entry with one of these actions.
const (
	ActionConventionRejected    = "convention_rejected"
	ActionConventionResubmitted = "convention_resubmitted"
	ActionOtpCodeSent           = "otp_code_sent"
	ActionOtpVerified           = "otp_verified"
	ActionEmailCorrected        = "email_corrected"
	ActionAttestationSigned     = "attestation_signed"
	ActionMissionOrderSigned    = "mission_order_signed"
)

// SignedAction returns the role-specific signing action, e.g.
// "signed_by_teacher". Invariant 1 of the data model pairs each populated
// signature key with exactly one entry carrying this action.
func SignedAction(role workflow.Role) string {
	return "signed_by_" + string(role)
}

// Entry builds an audit entry stamped with the current UTC time.
func Entry(action, actorEmail, ip, details string) models.AuditEntry {
	return models.AuditEntry{
		Date:       time.Now().UTC(),
		Action:     action,
		ActorEmail: actorEmail,
		IP:         ip,
		Details:    details,
	}
}

// Logging modes for the zap mirror.
const (
	ModeAll = "all" // document + zap
	ModeDB  = "db"  // document only
	ModeLog = "log" // zap only (document append still happens; mode gates the mirror)
	ModeOff = "off"
)

// Logger mirrors audit entries to structured logs. The document append is
// not optional and is not handled here; only the zap sink is configurable.
type Logger struct {
	zapLog *zap.Logger
	mode   string
}

// New creates an audit Logger with the configured mode.
func New(zapLog *zap.Logger, mode string) *Logger {
	if mode == "" {
		mode = ModeAll
	}
	return &Logger{zapLog: zapLog, mode: mode}
}

// Mirror writes the entry to zap when the mode calls for it.
func (l *Logger) Mirror(documentID string, entry models.AuditEntry) {
	if l.mode != ModeAll && l.mode != ModeLog {
		return
	}
	l.zapLog.Info("audit",
		zap.String("document_id", documentID),
		zap.String("action", entry.Action),
		zap.String("actor_email", entry.ActorEmail),
		zap.String("ip", entry.IP),
		zap.String("details", entry.Details),
		zap.Time("date", entry.Date),
	)
}
