// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// WAFFLE's CoreConfig handles framework-level settings (ports, TLS,
// logging level, body limits); AppConfig is everything specific to the
// signature service. The struct is passed to the lifecycle hooks, so any
// configuration needed during startup, request handling, or shutdown
// lives here.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Session management configuration
	SessionKey    string // Secret key for signing session cookies (must be strong in production)
	SessionName   string // Cookie name for sessions (default: parcoursign-session)
	SessionDomain string // Cookie domain (blank means current host)

	// Email/SMTP configuration for one-time signing codes
	MailSMTPHost string // SMTP server host (e.g., localhost for Mailpit)
	MailSMTPPort int
	MailSMTPUser string // empty skips SMTP auth (local relays)
	MailSMTPPass string
	MailFrom     string
	MailFromName string

	// Public origin for verification URLs embedded in rendered documents.
	BaseURL string // e.g., "https://sign.lycee.fr"

	// SiteName appears in OTP emails.
	SiteName string

	// One-time signing code lifetime.
	OtpExpiry time.Duration

	// VerifyTokenSecret signs the public verification tokens (HS256).
	VerifyTokenSecret string

	// AuditLogSigning controls the zap mirror of audit entries:
	// 'all', 'db', 'log', or 'off'. The document append always happens.
	AuditLogSigning string

	// ResubmitKeepsSignatures decides whether signature keys survive a
	// REJECTED -> SUBMITTED cycle. The audit trail survives regardless.
	ResubmitKeepsSignatures bool

	// SuperAdminEmail receives the privileged identity bypass on login.
	SuperAdminEmail string
}
