package goIdentity

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/password"
	"github.com/caarlos0/env/v11"
)

// Stage selects environment dependent hardening.
type Stage string

const (
	StageDev  Stage = "dev"
	StageProd Stage = "prod"
)

// Config is the full Engine configuration. Values are usually loaded with
// [LoadConfigFromEnv] and adjusted before being passed to [Builder.WithConfig].
type Config struct {
	Stage       Stage  `env:"STAGE" envDefault:"dev"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`

	JWT      JWTConfig      `envPrefix:"JWT_"`
	Session  SessionConfig  `envPrefix:"SESSION_"`
	Password PasswordConfig `envPrefix:"PASSWORD_"`
	OTP      OTPConfig      `envPrefix:"OTP_"`
	OAuth    OAuthConfig    `envPrefix:"OAUTH_"`
	Database DatabaseConfig `envPrefix:"DATABASE_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Mail     MailConfig     `envPrefix:"MAIL_"`
	Security SecurityConfig `envPrefix:"SECURITY_"`
	Audit    AuditConfig    `envPrefix:"AUDIT_"`
	Metrics  MetricsConfig  `envPrefix:"METRICS_"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures HS384 token signing.
type JWTConfig struct {
	Secret     string        `env:"SECRET"`
	Issuer     string        `env:"ISSUER"`
	AccessTTL  time.Duration `env:"ACCESS_TTL" envDefault:"1h"`
	RefreshTTL time.Duration `env:"REFRESH_TTL" envDefault:"720h"`
}

// SessionConfig configures the Redis session layout. Records expire with the
// refresh token.
type SessionConfig struct {
	RedisPrefix string `env:"REDIS_PREFIX" envDefault:"user"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id costs and the size of the hashing pool.
type PasswordConfig struct {
	Memory      uint32 `env:"MEMORY_KB" envDefault:"65536"`
	Time        uint32 `env:"TIME" envDefault:"3"`
	Parallelism uint8  `env:"PARALLELISM" envDefault:"2"`
	SaltLength  uint32 `env:"SALT_LENGTH" envDefault:"16"`
	KeyLength   uint32 `env:"KEY_LENGTH" envDefault:"32"`
	// PoolSize bounds concurrent KDF runs. Zero means GOMAXPROCS.
	PoolSize       int  `env:"POOL_SIZE"`
	UpgradeOnLogin bool `env:"UPGRADE_ON_LOGIN" envDefault:"true"`
}

// Hasher returns the argon2id hasher for these costs.
func (p PasswordConfig) Hasher() (*password.Argon2, error) {
	return password.NewArgon2(password.Config{
		Memory:      p.Memory,
		Time:        p.Time,
		Parallelism: p.Parallelism,
		SaltLength:  p.SaltLength,
		KeyLength:   p.KeyLength,
	})
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig configures one-time codes. HashKeys is forced on in prod.
type OTPConfig struct {
	HashKeys     bool          `env:"HASH_KEYS"`
	VerifyTTL    time.Duration `env:"VERIFY_TTL" envDefault:"24h"`
	ResetTTL     time.Duration `env:"RESET_TTL" envDefault:"1h"`
	VerifyLength int           `env:"VERIFY_LENGTH" envDefault:"8"`
	ResetBytes   int           `env:"RESET_BYTES" envDefault:"15"`
}

/*
====================================
OAUTH CONFIG
====================================
*/

// OAuthProviderConfig holds one provider's client registration. A provider
// without a ClientID is not registered.
type OAuthProviderConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	TokenURL     string `env:"TOKEN_URL"`
	APIBaseURL   string `env:"API_BASE_URL"`
}

// Enabled reports whether the provider is configured.
func (p OAuthProviderConfig) Enabled() bool { return p.ClientID != "" }

type OAuthConfig struct {
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"10s"`
	UserAgent string        `env:"USER_AGENT" envDefault:"goIdentity"`
	// RedirectPath is appended to FrontendURL to form redirect_uri.
	RedirectPath string              `env:"REDIRECT_PATH" envDefault:"/auth/oauth"`
	GitHub       OAuthProviderConfig `envPrefix:"GITHUB_"`
	Discord      OAuthProviderConfig `envPrefix:"DISCORD_"`
}

/*
====================================
STORES
====================================
*/

type DatabaseConfig struct {
	DSN         string `env:"DSN"`
	MaxConns    int32  `env:"MAX_CONNS" envDefault:"25"`
	MinConns    int32  `env:"MIN_CONNS" envDefault:"2"`
	AutoMigrate bool   `env:"AUTO_MIGRATE"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"`
}

// MailConfig selects the outbox. An empty NATSURL logs mail instead.
type MailConfig struct {
	NATSURL string `env:"NATS_URL"`
	Subject string `env:"SUBJECT" envDefault:"identity.mail"`
}

/*
====================================
SECURITY / OBSERVABILITY
====================================
*/

// SecurityConfig tunes the Redis throttles on the password and refresh grants.
type SecurityConfig struct {
	MaxLoginAttempts        int           `env:"MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	LoginCooldownDuration   time.Duration `env:"LOGIN_COOLDOWN" envDefault:"15m"`
	EnableIPThrottle        bool          `env:"IP_THROTTLE"`
	EnableRefreshThrottle   bool          `env:"REFRESH_THROTTLE" envDefault:"true"`
	MaxRefreshAttempts      int           `env:"MAX_REFRESH_ATTEMPTS" envDefault:"20"`
	RefreshCooldownDuration time.Duration `env:"REFRESH_COOLDOWN" envDefault:"1m"`
}

type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE" envDefault:"1024"`
	DropIfFull bool `env:"DROP_IF_FULL" envDefault:"true"`
}

type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

// EnvPrefix is prepended to every variable read by [LoadConfigFromEnv].
const EnvPrefix = "GOIDENTITY_"

// DefaultConfig returns the documented defaults with an empty JWT secret.
func DefaultConfig() Config {
	return Config{
		Stage:       StageDev,
		FrontendURL: "http://localhost:3000",
		JWT: JWTConfig{
			AccessTTL:  time.Hour,
			RefreshTTL: 30 * 24 * time.Hour,
		},
		Session: SessionConfig{RedisPrefix: "user"},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		OTP: OTPConfig{
			VerifyTTL:    24 * time.Hour,
			ResetTTL:     time.Hour,
			VerifyLength: 8,
			ResetBytes:   15,
		},
		OAuth: OAuthConfig{
			Timeout:      10 * time.Second,
			UserAgent:    "goIdentity",
			RedirectPath: "/auth/oauth",
		},
		Database: DatabaseConfig{MaxConns: 25, MinConns: 2},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Mail:     MailConfig{Subject: "identity.mail"},
		Security: SecurityConfig{
			MaxLoginAttempts:        5,
			LoginCooldownDuration:   15 * time.Minute,
			EnableRefreshThrottle:   true,
			MaxRefreshAttempts:      20,
			RefreshCooldownDuration: time.Minute,
		},
		Audit: AuditConfig{BufferSize: 1024, DropIfFull: true},
	}
}

// LoadConfigFromEnv parses GOIDENTITY_* variables over the defaults and
// validates the result.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Stage == StageProd {
		c.OTP.HashKeys = true
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Stage != StageDev && c.Stage != StageProd {
		return fmt.Errorf("unknown stage %q", c.Stage)
	}
	if c.Stage == StageProd && !c.OTP.HashKeys {
		return errors.New("OTP HashKeys must be enabled in prod")
	}

	// JWT
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT Secret must be at least 32 bytes")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}
	if c.Password.PoolSize < 0 {
		return errors.New("Password PoolSize must be >= 0")
	}

	// OTP
	if c.OTP.VerifyTTL <= 0 || c.OTP.ResetTTL <= 0 {
		return errors.New("OTP TTLs must be > 0")
	}
	if c.OTP.VerifyLength < 6 {
		return errors.New("OTP VerifyLength must be >= 6")
	}
	if c.OTP.ResetBytes < 10 {
		return errors.New("OTP ResetBytes must be >= 10")
	}

	// OAuth
	if c.OAuth.Timeout <= 0 {
		return errors.New("OAuth Timeout must be > 0")
	}
	for name, p := range map[string]OAuthProviderConfig{"GitHub": c.OAuth.GitHub, "Discord": c.OAuth.Discord} {
		if p.Enabled() && (p.ClientSecret == "" || p.TokenURL == "" || p.APIBaseURL == "") {
			return fmt.Errorf("OAuth %s requires ClientSecret, TokenURL and APIBaseURL", name)
		}
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 || c.Security.LoginCooldownDuration <= 0 {
		return errors.New("Security login throttle must be > 0")
	}
	if c.Security.EnableRefreshThrottle && (c.Security.MaxRefreshAttempts <= 0 || c.Security.RefreshCooldownDuration <= 0) {
		return errors.New("Security refresh throttle must be > 0 when enabled")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Enabled")
	}
	return nil
}
