package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/carelink/carelink/internal/config"
	"github.com/carelink/carelink/internal/domain/patient"
	"github.com/carelink/carelink/internal/domain/pharmacy"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/db"
	"github.com/carelink/carelink/internal/platform/middleware"
	"github.com/carelink/carelink/internal/platform/ocr"
)

const version = "0.1.0"

// Body limits. The scan upload limit must exceed patient.MaxScanImageBytes
// plus multipart framing so the service sees oversized images.
const (
	bodyLimit       = "1M"
	scanUploadLimit = "11M"
)

// deps are the collaborators newServer wires into the routes.
type deps struct {
	repos       patient.Repositories
	tx          db.TxRunner
	health      db.HealthChecker
	detector    ocr.TextDetector
	credential  auth.Credential
	issuer      *auth.TokenIssuer
	revocations *auth.TokenRevocationStore
}

func runServer() error {
	// Config
	cfg, opts, err := loadConfig()
	if err != nil {
		bootLogger := newLogger(os.Getenv("ENV"))
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Error reporting
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
			Release:     "carelink@" + version,
		}); err != nil {
			logger.Fatal().Err(err).Msg("failed to initialise sentry")
		}
		defer sentry.Flush(2 * time.Second)
		logger.Info().Msg("sentry enabled")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Pharmacist session
	key, generated, err := resolveSigningKey(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve signing key")
	}
	if generated {
		logger.Warn().Msg("JWT_SIGNING_KEY not set: using a random key, tokens will not survive a restart")
	}
	issuer, err := auth.NewTokenIssuer(cfg.JWTIssuer, key, cfg.TokenTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token issuer")
	}
	cred, err := pharmacistCredential(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load pharmacist credential")
	}
	revocations := auth.NewTokenRevocationStore(5 * time.Minute)
	defer revocations.Close()

	// OCR collaborator
	var detector ocr.TextDetector
	if cfg.OCRServiceURL != "" {
		detector = ocr.NewClient(cfg.OCRServiceURL, cfg.OCRTimeout)
	} else {
		logger.Warn().Msg("OCR_SERVICE_URL not set: medication scanning disabled")
	}

	e := newServer(cfg, logger, deps{
		repos:       patient.NewRepositoriesPG(pool),
		tx:          db.NewTxRunner(pool),
		health:      db.PoolHealth(pool),
		detector:    detector,
		credential:  cred,
		issuer:      issuer,
		revocations: revocations,
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(cfg *config.Config, logger zerolog.Logger, d deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = reportingErrorHandler(e)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		ExposeHeaders: []string{echo.HeaderContentDisposition, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(bodyLimit, scanUploadLimit, "/scan_med"))
	e.Use(middleware.Audit(logger))

	// Health
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(d.health))

	api := e.Group("/api")

	patientSvc := patient.NewService(d.repos, d.tx, d.detector)
	patient.NewHandler(patientSvc, logger).RegisterRoutes(api)

	pharmSvc := pharmacy.NewService(d.repos, d.tx, d.credential, d.issuer, d.revocations)
	loginLimit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.LoginRateLimitRPS,
		BurstSize:         cfg.LoginRateLimitBurst,
		IdleTTL:           10 * time.Minute,
	})
	pharmacy.NewHandler(pharmSvc, logger).RegisterRoutes(api,
		auth.JWTMiddleware(d.issuer.Config(d.revocations)), loginLimit)

	return e
}

// reportingErrorHandler sends 5xx errors to Sentry before rendering them
// with echo's default handler.
func reportingErrorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}
		if code >= http.StatusInternalServerError {
			if hub := sentry.CurrentHub(); hub.Client() != nil {
				hub = hub.Clone()
				hub.Scope().SetRequest(c.Request())
				hub.Scope().SetTag("request_id", middleware.RequestIDFrom(c))
				reported := err
				if he != nil && he.Internal != nil {
					reported = he.Internal
				}
				hub.CaptureException(reported)
			}
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}

// resolveSigningKey decodes JWT_SIGNING_KEY or, in development only,
// generates a random 32-byte key. The second return value is true when a
// key was generated.
func resolveSigningKey(cfg *config.Config) ([]byte, bool, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, false, err
	}
	if key != nil {
		return key, false, nil
	}
	if !cfg.IsDev() {
		return nil, false, errors.New("JWT_SIGNING_KEY is required outside development")
	}
	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return key, true, nil
}

// pharmacistCredential uses PHARMACIST_PASSWORD_HASH, or hashes
// PHARMACIST_PASSWORD in development.
func pharmacistCredential(cfg *config.Config) (auth.Credential, error) {
	cred := auth.Credential{Username: cfg.PharmacistUsername}
	if cfg.PharmacistPasswordHash != "" {
		cred.PasswordHash = []byte(cfg.PharmacistPasswordHash)
		return cred, nil
	}
	if !cfg.IsDev() {
		return cred, errors.New("PHARMACIST_PASSWORD_HASH is required outside development")
	}
	if cfg.PharmacistPassword == "" {
		return cred, errors.New("PHARMACIST_PASSWORD is empty")
	}
	hash, err := auth.HashPassword(cfg.PharmacistPassword, bcrypt.DefaultCost)
	if err != nil {
		return cred, err
	}
	cred.PasswordHash = hash
	return cred, nil
}
