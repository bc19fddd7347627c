package goIdentity

import (
	"context"
	"errors"
	"log/slog"
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
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine issues and rotates credentials, tracks sessions and manages
// one-time codes. It is built once by [Builder.Build] and is safe for
// concurrent use.
type Engine struct {
	config    Config
	logger    *slog.Logger
	tracer    trace.Tracer
	store     IdentityStore
	roles     *permission.RoleManager
	resolver  *permission.Resolver
	tokens    *jwt.Manager
	sessions  *session.Store
	otp       *stores.OTPStore
	passwords *password.Pool
	limiter   *rate.Limiter
	providers *oauth.Registry
	mailer    mail.Sender
	templates mail.Templates
	validator *Validator
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	now       func() time.Time
}

// Close stops the audit dispatcher and the hashing pool. In-flight calls
// that still need the pool fail with an internal error.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.passwords != nil {
		e.passwords.Close()
	}
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	return e.config
}

// Roles returns the frozen role table the engine resolves scopes with.
func (e *Engine) Roles() *permission.RoleManager {
	return e.roles
}

// Providers lists the configured OAuth provider ids.
func (e *Engine) Providers() []string {
	return e.providers.Names()
}

// Ping checks Redis reachability.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	d, err := e.sessions.Ping(ctx)
	if err != nil {
		return d, internalErr(err)
	}
	return d, nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "goIdentity."+name)
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, publicMessage(err))
	}
	span.End()
}

// fail logs the hidden cause of opaque errors. Client errors pass through
// silently.
func (e *Engine) fail(ctx context.Context, op string, err error) error {
	if errors.Is(err, ErrInternal) || errors.Is(err, ErrUpstream) {
		e.logger.ErrorContext(ctx, op+" failed", "err", Cause(err))
	}
	return err
}

// storeErr passes taxonomy errors from the IdentityStore through and hides
// everything else as internal.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrValidation), errors.Is(err, ErrConflict):
		return err
	default:
		return internalErr(err)
	}
}

func (e *Engine) metadata(ctx context.Context) session.Metadata {
	return session.NewMetadata(deviceNameFromContext(ctx), clientIPFromContext(ctx), e.now())
}

// resolveScope loads the user's current grants. It runs on every issue and
// rotation so verification or role changes reach the next token.
func (e *Engine) resolveScope(ctx context.Context, userID string) (permission.Set, error) {
	set, err := e.resolver.Resolve(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return permission.Set{}, ErrUnauthenticated
		}
		return permission.Set{}, internalErr(err)
	}
	return set, nil
}

// issue creates a new session for userID and returns its token grant.
func (e *Engine) issue(ctx context.Context, userID string) (TokenGrant, error) {
	scope, err := e.resolveScope(ctx, userID)
	if err != nil {
		return TokenGrant{}, err
	}

	tokens, err := e.sessions.Issue(ctx, session.New(userID), e.metadata(ctx), scope.String())
	if err != nil {
		return TokenGrant{}, internalErr(err)
	}
	e.metricInc(MetricSessionCreated)
	return grantFrom(tokens, scope), nil
}

func grantFrom(t session.Tokens, scope permission.Set) TokenGrant {
	return TokenGrant{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresIn:    int64(t.ExpiresIn / time.Second),
		TokenType:    "bearer",
		Scope:        scope.String(),
	}
}
