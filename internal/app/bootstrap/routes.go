// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"

	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	conventionsfeature "github.com/parcoursign/parcoursign/internal/app/features/conventions"
	healthfeature "github.com/parcoursign/parcoursign/internal/app/features/health"
	loginfeature "github.com/parcoursign/parcoursign/internal/app/features/login"
	missionordersfeature "github.com/parcoursign/parcoursign/internal/app/features/missionorders"
	otpfeature "github.com/parcoursign/parcoursign/internal/app/features/otp"
	verifyfeature "github.com/parcoursign/parcoursign/internal/app/features/verify"
	conventionstore "github.com/parcoursign/parcoursign/internal/app/store/conventions"
	missionorderstore "github.com/parcoursign/parcoursign/internal/app/store/missionorders"
	"github.com/parcoursign/parcoursign/internal/app/store/otpcodes"
	"github.com/parcoursign/parcoursign/internal/app/system/auditlog"
	"github.com/parcoursign/parcoursign/internal/app/system/auth"
	"github.com/parcoursign/parcoursign/internal/app/system/mailer"
	"github.com/parcoursign/parcoursign/internal/app/system/otp"
	"github.com/parcoursign/parcoursign/internal/app/system/ratelimit"
	"github.com/parcoursign/parcoursign/internal/app/system/signing"
	"github.com/parcoursign/parcoursign/internal/app/system/verifytoken"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed. At this point you have access to:
//   - coreCfg: WAFFLE core configuration (ports, env, timeouts, etc.)
//   - appCfg: app-specific configuration defined in AppConfig
//   - deps: any DB or backend clients bundled in DBDeps
//   - logger: the fully configured zap.Logger for this app
//
// ParcourSign wires the stores, the OTP and verification services, and the
// signing coordinator, then mounts the JSON feature routers: health, login,
// conventions, otp, verify, and mission-orders.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	// Session cookies carry the signer's verified email as identity.
	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	if err := auth.InitSessionStore(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, secure, logger); err != nil {
		logger.Error("session store init failed", zap.Error(err))
		return nil, err
	}

	mail := mailer.New(mailer.Config{
		Host:     appCfg.MailSMTPHost,
		Port:     appCfg.MailSMTPPort,
		User:     appCfg.MailSMTPUser,
		Pass:     appCfg.MailSMTPPass,
		From:     appCfg.MailFrom,
		FromName: appCfg.MailFromName,
	}, logger)

	codes := otpcodes.New(deps.MongoDatabase, appCfg.OtpExpiry)
	otpService := otp.New(codes, mail, appCfg.SiteName, logger)

	audit := auditlog.New(logger, appCfg.AuditLogSigning)
	convStore := conventionstore.New(deps.MongoDatabase)
	orderStore := missionorderstore.New(deps.MongoDatabase)

	verifyService := verifytoken.New(appCfg.VerifyTokenSecret, appCfg.BaseURL)

	signer := signing.New(convStore, otpService, audit,
		signing.ResubmitPolicy{KeepSignatures: appCfg.ResubmitKeepsSignatures}, logger)

	// One limiter shared by both code-send surfaces, so an attacker cannot
	// double the budget by alternating endpoints.
	sendLimiter := ratelimit.NewSendLimiter()

	r := chi.NewRouter()

	// Global auth middleware: loads SessionUser into context if logged in.
	// This makes the current user available to all handlers via auth.CurrentUser(r).
	r.Use(auth.LoadSessionUser)

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	// Authentication (sessions are opened with a one-time emailed code)
	loginHandler := loginfeature.NewHandler(otpService, appCfg.SuperAdminEmail, logger)
	loginHandler.Limit = sendLimiter
	r.Mount("/login", loginfeature.Routes(loginHandler))
	r.Post("/logout", loginHandler.Logout)

	// Convention lifecycle: submission, consultation, signing, rejection
	convHandler := conventionsfeature.NewHandler(convStore, signer, verifyService, logger)
	r.Mount("/conventions", conventionsfeature.Routes(convHandler))

	// One-time signing codes bound to a document
	otpHandler := otpfeature.NewHandler(otpService, convStore, audit, logger)
	otpHandler.Limit = sendLimiter
	r.Mount("/otp", otpfeature.Routes(otpHandler))

	// Public document verification (QR / token URLs)
	verifyHandler := verifyfeature.NewHandler(verifyService, convStore, logger)
	r.Mount("/verify", verifyfeature.Routes(verifyHandler))

	// Teacher mission orders derived from validated conventions
	orderHandler := missionordersfeature.NewHandler(orderStore, convStore, logger)
	r.Mount("/mission-orders", missionordersfeature.Routes(orderHandler))

	return r, nil
}
