// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment. The server and
// worker read the backend fields; the mtaji client reads the client fields.
type Config struct {
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// ServiceName is reported to OpenTelemetry.
	ServiceName string `mapstructure:"SERVICE_NAME"`

	// HTTPAddr is the address the auth/profile HTTP API listens on.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health service listens on.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs the server on in-memory repositories (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// MigrateOnStart applies pending migrations when the server starts.
	MigrateOnStart bool `mapstructure:"MIGRATE_ON_START"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; derived from the private key when empty.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "1h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token and session lifetime (e.g. "720h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// RefreshReuseInterval keeps a just-rotated refresh token exchangeable (e.g. "10s").
	RefreshReuseInterval string `mapstructure:"REFRESH_REUSE_INTERVAL"`

	// RequireEmailConfirmation withholds sessions until the sign-up email is confirmed.
	RequireEmailConfirmation bool `mapstructure:"REQUIRE_EMAIL_CONFIRMATION"`
	// SiteURL is the public base URL used in confirmation links.
	SiteURL string `mapstructure:"SITE_URL"`
	// ResendCooldown is the minimum gap between confirmation emails to one address (e.g. "60s").
	ResendCooldown string `mapstructure:"RESEND_COOLDOWN"`
	// MailerAPIKey enables the HTTP mail sender. Without it confirmations go to the in-memory outbox.
	MailerAPIKey  string `mapstructure:"MAILER_API_KEY"`
	MailerBaseURL string `mapstructure:"MAILER_BASE_URL"`
	MailerSender  string `mapstructure:"MAILER_SENDER"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. Empty uses an in-process queue.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SignupTopic is the Kafka topic for sign-up events.
	SignupTopic string `mapstructure:"SIGNUP_TOPIC"`
	// KafkaGroupID is the consumer group of the profile worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// ProfileMaterializeDelay is how long the materializer waits before inserting a profile.
	ProfileMaterializeDelay string `mapstructure:"PROFILE_MATERIALIZE_DELAY"`

	// OTLPEndpoint is the OpenTelemetry collector (gRPC). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Client: base URL of the auth/profile API.
	APIURL string `mapstructure:"API_URL"`
	// AuthStorageKey is the storage slot holding the persisted session.
	AuthStorageKey string `mapstructure:"AUTH_STORAGE_KEY"`
	// AuthStoragePath is the client's storage file; empty means ~/.mtaji/storage.json.
	AuthStoragePath string `mapstructure:"AUTH_STORAGE_PATH"`
	// RedisURL connects the client's cross-process broadcast channel. Empty keeps broadcast in-process.
	RedisURL         string `mapstructure:"REDIS_URL"`
	BroadcastChannel string `mapstructure:"BROADCAST_CHANNEL"`
	// SessionValidateInterval is the period of background session validation (e.g. "5m").
	SessionValidateInterval string `mapstructure:"SESSION_VALIDATE_INTERVAL"`
	ProfileRetryAttempts    int    `mapstructure:"PROFILE_RETRY_ATTEMPTS"`
	// ProfileRetryBaseDelay is the first and incremental delay of the profile retry loop.
	ProfileRetryBaseDelay string `mapstructure:"PROFILE_RETRY_BASE_DELAY"`
	// TokenRefreshMargin refreshes the access token this long before it expires.
	TokenRefreshMargin string `mapstructure:"TOKEN_REFRESH_MARGIN"`
}

// Load reads .env (if present), then builds and validates the server Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.IsProduction() {
		if cfg.JWTPrivateKey == "" {
			return nil, errors.New("config: JWT_PRIVATE_KEY must be set when APP_ENV=production")
		}
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
		}
	}
	return cfg, nil
}

// LoadClient builds the mtaji client Config. Server-only fields are read but not validated.
func LoadClient() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, errors.New("config: API_URL must be set")
	}
	if cfg.AuthStorageKey == "" {
		return nil, errors.New("config: AUTH_STORAGE_KEY must be set")
	}
	return cfg, nil
}

func read() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVICE_NAME", "mtaji-auth")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MIGRATE_ON_START", false)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "mtaji-auth")
	v.SetDefault("JWT_AUDIENCE", "authenticated")
	v.SetDefault("JWT_ACCESS_TTL", "1h")
	v.SetDefault("JWT_REFRESH_TTL", "720h") // 30d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("REFRESH_REUSE_INTERVAL", "10s")
	v.SetDefault("REQUIRE_EMAIL_CONFIRMATION", false)
	v.SetDefault("SITE_URL", "http://localhost:8080")
	v.SetDefault("RESEND_COOLDOWN", "60s")
	v.SetDefault("MAILER_API_KEY", "")
	v.SetDefault("MAILER_BASE_URL", "")
	v.SetDefault("MAILER_SENDER", "no-reply@mtaji.local")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SIGNUP_TOPIC", "mtaji-signups")
	v.SetDefault("KAFKA_GROUP_ID", "mtaji-profile-worker")
	v.SetDefault("PROFILE_MATERIALIZE_DELAY", "2s")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("API_URL", "http://localhost:8080")
	v.SetDefault("AUTH_STORAGE_KEY", "m-taji-auth-token")
	v.SetDefault("AUTH_STORAGE_PATH", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("BROADCAST_CHANNEL", "m-taji-auth")
	v.SetDefault("SESSION_VALIDATE_INTERVAL", "5m")
	v.SetDefault("PROFILE_RETRY_ATTEMPTS", 10)
	v.SetDefault("PROFILE_RETRY_BASE_DELAY", "500ms")
	v.SetDefault("TOKEN_REFRESH_MARGIN", "60s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.ProfileRetryAttempts < 1 {
		return nil, errors.New("config: PROFILE_RETRY_ATTEMPTS must be at least 1")
	}
	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// AccessTTL parses JWTAccessTTL. Returns 1h if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return duration(c.JWTAccessTTL, time.Hour) }

// RefreshTTL parses JWTRefreshTTL. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return duration(c.JWTRefreshTTL, 720*time.Hour) }

// ResendCooldownDuration parses ResendCooldown. Returns 60s if unset or invalid.
func (c *Config) ResendCooldownDuration() time.Duration {
	return duration(c.ResendCooldown, 60*time.Second)
}

// MaterializeDelay parses ProfileMaterializeDelay. Zero disables the delay; invalid values mean 2s.
func (c *Config) MaterializeDelay() time.Duration {
	if strings.TrimSpace(c.ProfileMaterializeDelay) == "0" {
		return 0
	}
	return duration(c.ProfileMaterializeDelay, 2*time.Second)
}

// RefreshReuse parses RefreshReuseInterval. Returns 10s if unset or invalid.
func (c *Config) RefreshReuse() time.Duration {
	return duration(c.RefreshReuseInterval, 10*time.Second)
}

// ValidateInterval parses SessionValidateInterval. Returns 5m if unset or invalid.
func (c *Config) ValidateInterval() time.Duration {
	return duration(c.SessionValidateInterval, 5*time.Minute)
}

// ProfileRetryDelay parses ProfileRetryBaseDelay. Returns 500ms if unset or invalid.
func (c *Config) ProfileRetryDelay() time.Duration {
	return duration(c.ProfileRetryBaseDelay, 500*time.Millisecond)
}

// RefreshMargin parses TokenRefreshMargin. Returns 60s if unset or invalid.
func (c *Config) RefreshMargin() time.Duration {
	return duration(c.TokenRefreshMargin, 60*time.Second)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list means sign-up events stay in process.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
