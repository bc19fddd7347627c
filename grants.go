package goIdentity

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/oauth"
	"github.com/MrEthical07/goIdentity/session"
)

// placeholderSecretBytes sizes the random password behind federated
// accounts. Nobody ever learns it.
const placeholderSecretBytes = 32

// IssueTokensForPasswordGrant authenticates email and password and opens a
// new session.
//
// Unknown emails and wrong passwords both return [ErrUnauthenticated] after
// one full KDF run. Accounts flagged for a password reset return
// [ErrForbidden] only once the password has been verified.
//
//	Performance: 1 throttle check, 1 store lookup, 1 argon2id run,
//	1 grants lookup, 1 Redis MULTI/EXEC.
func (e *Engine) IssueTokensForPasswordGrant(ctx context.Context, email, password string) (grant TokenGrant, err error) {
	ctx, span := e.startSpan(ctx, "IssueTokensForPasswordGrant")
	defer func() { endSpan(span, err) }()

	email = normalizeEmail(email)
	ip := clientIPFromContext(ctx)

	if err := e.limiter.AllowPasswordGrant(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricPasswordGrantRateLimited)
			e.emitAudit(ctx, auditEventPasswordGrantRateLimited, false, "", "", ErrRateLimited, nil)
			return TokenGrant{}, ErrRateLimited
		}
		return TokenGrant{}, e.fail(ctx, "password grant", internalErr(err))
	}

	userID, err := e.verifyPassword(ctx, email, password)
	if err != nil {
		e.metricInc(MetricPasswordGrantFailure)
		e.emitAudit(ctx, auditEventPasswordGrantFailure, false, userID, "", err, nil)
		if errors.Is(err, ErrUnauthenticated) {
			if incErr := e.limiter.RecordPasswordFailure(ctx, email, ip); incErr != nil && !errors.Is(incErr, rate.ErrRateLimited) {
				e.logger.WarnContext(ctx, "login throttle increment failed", "err", incErr)
			}
		}
		return TokenGrant{}, e.fail(ctx, "password grant", err)
	}

	if err := e.limiter.ClearPasswordFailures(ctx, email, ip); err != nil {
		e.logger.WarnContext(ctx, "login throttle reset failed", "err", err)
	}

	grant, err = e.issue(ctx, userID)
	if err != nil {
		e.metricInc(MetricPasswordGrantFailure)
		e.emitAudit(ctx, auditEventPasswordGrantFailure, false, userID, "", err, nil)
		return TokenGrant{}, e.fail(ctx, "password grant", err)
	}

	e.metricInc(MetricPasswordGrantSuccess)
	e.emitAudit(ctx, auditEventPasswordGrantSuccess, true, userID, "", nil, nil)
	return grant, nil
}

// verifyPassword returns the user id owning email when password matches.
func (e *Engine) verifyPassword(ctx context.Context, email, password string) (string, error) {
	creds, err := e.store.CredentialsByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return "", internalErr(err)
		}
		if err := e.passwords.VerifyDummy(ctx, password); err != nil {
			return "", internalErr(err)
		}
		return "", ErrUnauthenticated
	}

	ok, err := e.passwords.Verify(ctx, creds.PasswordHash, password)
	if err != nil {
		return creds.UserID, internalErr(err)
	}
	if !ok {
		// Federated placeholder accounts always land here: nobody knows
		// their password, so they look like any other miss.
		return creds.UserID, ErrUnauthenticated
	}
	if creds.ResetPassword {
		return creds.UserID, ErrForbidden
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradeHash(ctx, creds.UserID, creds.PasswordHash, password)
	}
	return creds.UserID, nil
}

// upgradeHash rehashes with current parameters. Failures only log.
func (e *Engine) upgradeHash(ctx context.Context, userID, stored, password string) {
	needs, err := e.passwords.NeedsUpgrade(stored)
	if err != nil || !needs {
		return
	}
	hash, err := e.passwords.Hash(ctx, password)
	if err == nil {
		err = e.store.UpdatePasswordHash(ctx, userID, hash)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "password rehash failed", "user_id", userID, "err", err)
	}
}

// IssueTokensForRefreshGrant rotates the session named by refreshToken. The
// presented token must equal the one stored for the session; a stale token
// revokes the session and returns [ErrUnauthenticated].
//
//	Performance: 1 throttle check, 1 grants lookup, Redis WATCH/MULTI/EXEC.
func (e *Engine) IssueTokensForRefreshGrant(ctx context.Context, refreshToken string) (grant TokenGrant, err error) {
	ctx, span := e.startSpan(ctx, "IssueTokensForRefreshGrant")
	defer func() { endSpan(span, err) }()

	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		// Unparseable input is a client error; forged or expired tokens are not.
		failure := ErrUnauthenticated
		if errors.Is(err, jwt.ErrTokenMalformed) {
			failure = Invalid("refresh_token", "parse")
		}
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", failure, nil)
		return TokenGrant{}, failure
	}
	sess := session.Session{UserID: claims.UserID(), SessionID: claims.SID}

	if err := e.limiter.AllowRefresh(ctx, sess.SessionID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			e.emitAudit(ctx, auditEventRefreshRateLimited, false, sess.UserID, sess.SessionID, ErrRateLimited, nil)
			return TokenGrant{}, ErrRateLimited
		}
		return TokenGrant{}, e.fail(ctx, "refresh grant", internalErr(err))
	}

	scope, err := e.resolveScope(ctx, sess.UserID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.UserID, sess.SessionID, err, nil)
		return TokenGrant{}, e.fail(ctx, "refresh grant", err)
	}

	tokens, err := e.sessions.Rotate(ctx, sess, refreshToken, e.metadata(ctx), scope.String())
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		switch {
		case errors.Is(err, session.ErrRefreshReuse):
			e.metricInc(MetricRefreshReuseDetected)
			e.metricInc(MetricSessionRevoked)
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, sess.UserID, sess.SessionID, ErrUnauthenticated, nil)
			e.logger.WarnContext(ctx, "refresh token reuse, session revoked", "user_id", sess.UserID, "session_id", sess.SessionID)
			return TokenGrant{}, ErrUnauthenticated
		case errors.Is(err, session.ErrNotAuthenticated), errors.Is(err, session.ErrInvalidSession):
			e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.UserID, sess.SessionID, ErrUnauthenticated, nil)
			return TokenGrant{}, ErrUnauthenticated
		default:
			err = internalErr(err)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.UserID, sess.SessionID, err, nil)
			return TokenGrant{}, e.fail(ctx, "refresh grant", err)
		}
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, sess.UserID, sess.SessionID, nil, nil)
	return grantFrom(tokens, scope), nil
}

// IssueTokensForAssertionGrant completes an OAuth authorization-code login
// with provider and opens a session for the reconciled local user.
//
// The provider must return an email address; federated identities without
// one are rejected with a validation error on "email". Provider failures
// return [ErrUpstream] with no provider detail.
func (e *Engine) IssueTokensForAssertionGrant(ctx context.Context, provider, code string) (grant TokenGrant, err error) {
	ctx, span := e.startSpan(ctx, "IssueTokensForAssertionGrant")
	defer func() { endSpan(span, err) }()

	userID, err := e.federate(ctx, provider, code)
	if err == nil {
		grant, err = e.issue(ctx, userID)
	}
	if err != nil {
		e.metricInc(MetricAssertionGrantFailure)
		e.emitAudit(ctx, auditEventAssertionGrantFailure, false, userID, "", err, func() map[string]string {
			return map[string]string{"provider": provider}
		})
		return TokenGrant{}, e.fail(ctx, "assertion grant", err)
	}

	e.metricInc(MetricAssertionGrantSuccess)
	e.emitAudit(ctx, auditEventAssertionGrantSuccess, true, userID, "", nil, func() map[string]string {
		return map[string]string{"provider": provider}
	})
	return grant, nil
}

// federate authenticates code with provider and reconciles the identity.
func (e *Engine) federate(ctx context.Context, provider, code string) (string, error) {
	p, err := e.providers.Lookup(provider)
	if err != nil {
		return "", Invalid("provider", "unsupported")
	}

	identity, err := oauth.Authenticate(ctx, p, code)
	if err != nil {
		if errors.Is(err, oauth.ErrEmailMissing) {
			return "", Invalid("email", "missing")
		}
		e.metricInc(MetricUpstreamFailure)
		return "", upstreamErr(err)
	}
	identity.Email = normalizeEmail(identity.Email)

	userID, err := e.store.Reconcile(ctx, ReconcileInput{
		Identity:        identity,
		PlaceholderHash: e.placeholderHash,
	})
	if err != nil {
		return "", storeErr(err)
	}
	return userID, nil
}

// placeholderHash hashes a random secret for accounts created by
// federation. The password flow stays closed until the user sets one.
func (e *Engine) placeholderHash(ctx context.Context) (string, error) {
	secret, err := internal.NewBase32Secret(placeholderSecretBytes)
	if err != nil {
		return "", err
	}
	return e.passwords.Hash(ctx, secret)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
