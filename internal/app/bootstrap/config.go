// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for ParcourSign.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: PARCOURSIGN_MONGO_URI, PARCOURSIGN_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "parcoursign", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size"},

	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "parcoursign-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},

	// Email/SMTP configuration for the one-time signing codes
	{Name: "mail_smtp_host", Default: "localhost", Desc: "SMTP server host"},
	{Name: "mail_smtp_port", Default: 1025, Desc: "SMTP server port"},
	{Name: "mail_smtp_user", Default: "", Desc: "SMTP username (empty skips auth)"},
	{Name: "mail_smtp_pass", Default: "", Desc: "SMTP password"},
	{Name: "mail_from", Default: "noreply@parcoursign.fr", Desc: "From email address"},
	{Name: "mail_from_name", Default: "ParcourSign", Desc: "From display name"},

	{Name: "base_url", Default: "http://localhost:3000", Desc: "Public origin for verification URLs"},
	{Name: "site_name", Default: "ParcourSign", Desc: "Service name shown in OTP emails"},

	{Name: "otp_expiry", Default: "10m", Desc: "One-time signing code expiry (e.g., 10m, 1h, 90s)"},
	{Name: "verify_token_secret", Default: "", Desc: "HS256 secret for public verification tokens (required)"},

	// Audit logging settings
	{Name: "audit_log_signing", Default: "all", Desc: "Signing event logging: 'all' (db+log), 'db', 'log', or 'off'"},

	// Workflow policy
	{Name: "resubmit_keeps_signatures", Default: false, Desc: "Keep signature keys across a rejection/resubmission cycle"},

	// SuperAdmin bootstrap
	{Name: "superadmin_email", Default: "", Desc: "Email that receives the privileged identity bypass on login"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, PARCOURSIGN_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "PARCOURSIGN", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		SessionKey:    appValues.String("session_key"),
		SessionName:   appValues.String("session_name"),
		SessionDomain: appValues.String("session_domain"),

		MailSMTPHost: appValues.String("mail_smtp_host"),
		MailSMTPPort: appValues.Int("mail_smtp_port"),
		MailSMTPUser: appValues.String("mail_smtp_user"),
		MailSMTPPass: appValues.String("mail_smtp_pass"),
		MailFrom:     appValues.String("mail_from"),
		MailFromName: appValues.String("mail_from_name"),

		BaseURL:  appValues.String("base_url"),
		SiteName: appValues.String("site_name"),

		OtpExpiry:         appValues.Duration("otp_expiry", 10*time.Minute),
		VerifyTokenSecret: appValues.String("verify_token_secret"),

		AuditLogSigning: appValues.String("audit_log_signing"),

		ResubmitKeepsSignatures: appValues.Bool("resubmit_keeps_signatures"),

		SuperAdminEmail: appValues.String("superadmin_email"),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// The MongoDB URI format is checked early, before attempting to connect.
// The verification token secret is required outside dev: a guessable
// secret would let anyone mint "authentic" verification URLs.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	if appCfg.VerifyTokenSecret == "" {
		if coreCfg.Env == "prod" {
			return fmt.Errorf("verify_token_secret is required in production")
		}
		logger.Warn("verify_token_secret is empty; verification URLs are forgeable in this mode")
	}

	if appCfg.OtpExpiry <= 0 {
		return fmt.Errorf("otp_expiry must be positive")
	}

	return nil
}
