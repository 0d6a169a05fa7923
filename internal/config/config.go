package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	JWTSigningKey string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	TokenTTL      time.Duration `mapstructure:"TOKEN_TTL"`

	PharmacistUsername     string `mapstructure:"PHARMACIST_USERNAME"`
	PharmacistPasswordHash string `mapstructure:"PHARMACIST_PASSWORD_HASH"`
	// PharmacistPassword is only honoured in development, where it is hashed
	// at start-up when no hash is configured.
	PharmacistPassword string `mapstructure:"PHARMACIST_PASSWORD"`

	OCRServiceURL string        `mapstructure:"OCR_SERVICE_URL"`
	OCRTimeout    time.Duration `mapstructure:"OCR_TIMEOUT"`

	LoginRateLimitRPS   float64 `mapstructure:"LOGIN_RATE_LIMIT_RPS"`
	LoginRateLimitBurst int     `mapstructure:"LOGIN_RATE_LIMIT_BURST"`

	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`
	SentryDSN     string `mapstructure:"SENTRY_DSN"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	DigestFrom   string `mapstructure:"DIGEST_FROM"`
	DigestTo     string `mapstructure:"DIGEST_TO"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"JWT_SIGNING_KEY", "JWT_ISSUER", "TOKEN_TTL",
	"PHARMACIST_USERNAME", "PHARMACIST_PASSWORD_HASH", "PHARMACIST_PASSWORD",
	"OCR_SERVICE_URL", "OCR_TIMEOUT",
	"LOGIN_RATE_LIMIT_RPS", "LOGIN_RATE_LIMIT_BURST",
	"MIGRATIONS_DIR", "SENTRY_DSN",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "DIGEST_FROM", "DIGEST_TO",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("JWT_ISSUER", "carelink")
	v.SetDefault("TOKEN_TTL", "8h")
	v.SetDefault("PHARMACIST_USERNAME", "pharm01")
	v.SetDefault("PHARMACIST_PASSWORD", "test123")
	v.SetDefault("OCR_TIMEOUT", "30s")
	v.SetDefault("LOGIN_RATE_LIMIT_RPS", 1)
	v.SetDefault("LOGIN_RATE_LIMIT_BURST", 5)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("SMTP_PORT", 587)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = splitList([]string{v.GetString("CORS_ORIGINS")})
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey decodes JWT_SIGNING_KEY. It returns nil when the key is unset.
func (c *Config) SigningKey() ([]byte, error) {
	if c.JWTSigningKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.JWTSigningKey)
	if err != nil {
		return nil, fmt.Errorf("JWT_SIGNING_KEY is not valid hex: %w", err)
	}
	return key, nil
}

// MailEnabled reports whether the review digest can be sent.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.DigestFrom != "" && c.DigestTo != ""
}

// DigestRecipients splits DIGEST_TO on commas and semicolons.
func (c *Config) DigestRecipients() []string {
	return splitList([]string{strings.ReplaceAll(c.DigestTo, ";", ",")})
}

// Validate checks that the configuration is safe to run. Outside
// development a signing key of at least 32 bytes and a bcrypt password hash
// are required; plain-text passwords are refused.
func (c *Config) Validate() error {
	key, err := c.SigningKey()
	if err != nil {
		return err
	}
	if key != nil && len(key) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
	}

	if !c.IsDev() {
		if key == nil {
			return fmt.Errorf("JWT_SIGNING_KEY is required when ENV=%q", c.Env)
		}
		if c.PharmacistPasswordHash == "" {
			return fmt.Errorf("PHARMACIST_PASSWORD_HASH is required when ENV=%q", c.Env)
		}
	}
	if c.PharmacistPasswordHash != "" && !strings.HasPrefix(c.PharmacistPasswordHash, "$2") {
		return fmt.Errorf("PHARMACIST_PASSWORD_HASH must be a bcrypt hash")
	}
	if c.PharmacistUsername == "" {
		return fmt.Errorf("PHARMACIST_USERNAME must not be empty")
	}

	if c.TokenTTL <= 0 || c.TokenTTL > 24*time.Hour {
		return fmt.Errorf("TOKEN_TTL must be between 1s and 24h, got %s", c.TokenTTL)
	}
	if c.OCRTimeout <= 0 {
		return fmt.Errorf("OCR_TIMEOUT must be positive, got %s", c.OCRTimeout)
	}
	if c.LoginRateLimitRPS <= 0 || c.LoginRateLimitBurst <= 0 {
		return fmt.Errorf("LOGIN_RATE_LIMIT_RPS and LOGIN_RATE_LIMIT_BURST must be positive")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.SMTPHost != "" && (c.SMTPPort <= 0 || c.SMTPPort > 65535) {
		return fmt.Errorf("SMTP_PORT must be a valid port, got %d", c.SMTPPort)
	}

	return nil
}
