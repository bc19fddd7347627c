package goIdentity

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goIdentity/session"
)

// ValidateAccess verifies an access token and checks that its session is
// still live, so a revoked session stops working before the token expires.
//
//	Performance: 1 HMAC verify + 1 Redis GET.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (AuthResult, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}
	}()

	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return AuthResult{}, ErrUnauthenticated
	}

	sess := session.Session{UserID: claims.UserID(), SessionID: claims.SID}
	if _, err := e.sessions.Fetch(ctx, sess); err != nil {
		if errors.Is(err, session.ErrNotAuthenticated) || errors.Is(err, session.ErrSessionCorrupt) {
			return AuthResult{}, ErrUnauthenticated
		}
		return AuthResult{}, e.fail(ctx, "validate access", internalErr(err))
	}

	scope, err := e.resolver.Parse(claims.Scope)
	if err != nil {
		// Signed by us but naming permissions this build does not know.
		return AuthResult{}, ErrUnauthenticated
	}
	return AuthResult{UserID: sess.UserID, SessionID: sess.SessionID, Scope: scope}, nil
}

// Authorize validates accessToken and requires every named permission.
func (e *Engine) Authorize(ctx context.Context, accessToken string, perms ...string) (AuthResult, error) {
	res, err := e.ValidateAccess(ctx, accessToken)
	if err != nil {
		return AuthResult{}, err
	}
	if !res.Scope.HasAll(perms...) {
		return res, ErrForbidden
	}
	return res, nil
}
