package goIdentity

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/mail"
	"github.com/MrEthical07/goIdentity/oauth"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/permission"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrEthical07/goIdentity"

// Builder collects Engine dependencies. A Builder is single use: configure it
// during startup, call Build once and discard it.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	store     IdentityStore
	providers []oauth.Provider
	mailer    mail.Sender
	logger    *slog.Logger
	roles     *permission.RoleManager
	auditSink AuditSink
	tracing   trace.TracerProvider
	validator *Validator
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client used for sessions, one-time codes and throttles.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets the durable user store, usually a
// storage/postgres Store.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.store = store
	return b
}

// WithProviders registers OAuth providers directly. When none are given,
// Build constructs them from Config.OAuth.
func (b *Builder) WithProviders(providers ...oauth.Provider) *Builder {
	b.providers = append(b.providers, providers...)
	return b
}

// WithMailer sets the outbound mail channel. The default logs each message.
func (b *Builder) WithMailer(sender mail.Sender) *Builder {
	b.mailer = sender
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithRoles replaces the built-in role table. rm must be frozen and must
// define the member and unverified roles.
func (b *Builder) WithRoles(rm *permission.RoleManager) *Builder {
	b.roles = rm
	return b
}

// WithAuditSink sets the audit destination. It only takes effect when
// Config.Audit.Enabled is set. Without one, events go to the engine logger.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracing = tp
	return b
}

func (b *Builder) WithValidator(v *Validator) *Builder {
	b.validator = v
	return b
}

// WithClock overrides the wall clock used for session metadata and tokens.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("identity store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	// -------- ROLES --------
	roles := b.roles
	if roles == nil {
		rm, err := permission.DefaultRoles()
		if err != nil {
			return nil, err
		}
		roles = rm
	}
	for _, role := range []string{permission.RoleMember, permission.RoleUnverified} {
		if _, ok := roles.Mask(role); !ok {
			return nil, errors.New("role table must define " + role)
		}
	}

	// -------- TOKENS / SESSIONS --------
	tokens, err := jwt.NewManager(jwt.Config{
		Secret:     []byte(cfg.JWT.Secret),
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Issuer:     cfg.JWT.Issuer,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	hasher, err := cfg.Password.Hasher()
	if err != nil {
		return nil, err
	}

	// -------- OAUTH --------
	providers := b.providers
	if len(providers) == 0 {
		providers, err = providersFromConfig(cfg)
		if err != nil {
			return nil, err
		}
	}
	registry, err := oauth.NewRegistry(providers...)
	if err != nil {
		return nil, err
	}

	mailer := b.mailer
	if mailer == nil {
		mailer = mail.LogSender{Logger: logger}
	}
	validator := b.validator
	if validator == nil {
		validator = NewValidator()
	}
	tp := b.tracing
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	engine := &Engine{
		config:    cfg,
		logger:    logger,
		tracer:    tp.Tracer(tracerName),
		store:     b.store,
		roles:     roles,
		resolver:  permission.NewResolver(roles, b.store),
		tokens:    tokens,
		sessions:  session.NewStore(b.redis, tokens, cfg.Session.RedisPrefix),
		passwords: password.NewPool(hasher, cfg.Password.PoolSize),
		providers: registry,
		mailer:    mailer,
		templates: mail.Templates{FrontendURL: cfg.FrontendURL},
		validator: validator,
		metrics:   NewMetrics(cfg.Metrics),
		now:       now,
	}
	engine.otp = stores.NewOTPStore(b.redis, stores.OTPConfig{
		HashKeys:     cfg.OTP.HashKeys,
		VerifyTTL:    cfg.OTP.VerifyTTL,
		ResetTTL:     cfg.OTP.ResetTTL,
		VerifyLength: cfg.OTP.VerifyLength,
		ResetBytes:   cfg.OTP.ResetBytes,
	})
	engine.limiter = rate.New(b.redis, rate.Config{
		ThrottleIP:          cfg.Security.EnableIPThrottle,
		ThrottleRefresh:     cfg.Security.EnableRefreshThrottle,
		MaxPasswordFailures: cfg.Security.MaxLoginAttempts,
		PasswordWindow:      cfg.Security.LoginCooldownDuration,
		MaxRefreshes:        cfg.Security.MaxRefreshAttempts,
		RefreshWindow:       cfg.Security.RefreshCooldownDuration,
	})
	sink := b.auditSink
	if sink == nil {
		sink = internalaudit.NewSlogSink(logger.With("component", "audit"), slog.LevelInfo)
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		OnDrop: func(ev internalaudit.Event) {
			logger.Warn("audit event dropped", "type", ev.Type)
		},
	}, sink)

	b.built = true
	return engine, nil
}

// providersFromConfig builds the providers that have a client id configured.
func providersFromConfig(cfg Config) ([]oauth.Provider, error) {
	redirect := strings.TrimRight(cfg.FrontendURL, "/") + cfg.OAuth.RedirectPath
	base := func(p OAuthProviderConfig) oauth.Config {
		return oauth.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			TokenURL:     p.TokenURL,
			APIBaseURL:   p.APIBaseURL,
			RedirectURI:  redirect,
			UserAgent:    cfg.OAuth.UserAgent,
			Timeout:      cfg.OAuth.Timeout,
		}
	}

	var out []oauth.Provider
	if cfg.OAuth.GitHub.Enabled() {
		p, err := oauth.NewGitHub(base(cfg.OAuth.GitHub))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if cfg.OAuth.Discord.Enabled() {
		p, err := oauth.NewDiscord(base(cfg.OAuth.Discord))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
