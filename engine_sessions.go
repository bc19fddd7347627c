package goIdentity

import (
	"context"
	"errors"
	"sort"

	"github.com/MrEthical07/goIdentity/session"
)

// ListSessions returns the live sessions of userID, most recently used
// first. Sessions removed while the list is assembled are omitted.
//
//	Performance: SCAN over the user's namespace + 1 pipelined GET.
func (e *Engine) ListSessions(ctx context.Context, userID string) (_ []SessionInfo, err error) {
	ctx, span := e.startSpan(ctx, "ListSessions")
	defer func() { endSpan(span, err) }()

	records, err := e.sessions.ListForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			return nil, Invalid("user_id", "invalid")
		}
		return nil, e.fail(ctx, "list sessions", internalErr(err))
	}

	out := make([]SessionInfo, 0, len(records))
	for _, r := range records {
		out = append(out, SessionInfo{
			SessionID:    r.SessionID,
			DeviceName:   r.Metadata.DeviceName,
			IP:           r.Metadata.IP,
			LastAccessed: r.Metadata.LastAccessed,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastAccessed.Equal(out[j].LastAccessed) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].LastAccessed.After(out[j].LastAccessed)
	})
	return out, nil
}

// RevokeSession deletes one session of userID without further checks. It
// is meant for administrative callers; end users go through
// [Engine.RevokeSessionWithPassword]. Revoking an absent session succeeds.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) (err error) {
	ctx, span := e.startSpan(ctx, "RevokeSession")
	defer func() { endSpan(span, err) }()

	if err := e.revoke(ctx, userID, sessionID); err != nil {
		return e.fail(ctx, "revoke session", err)
	}
	return nil
}

// RevokeSessionWithPassword revokes sessionID after re-checking the user's
// current password.
func (e *Engine) RevokeSessionWithPassword(ctx context.Context, userID, sessionID, password string) (err error) {
	ctx, span := e.startSpan(ctx, "RevokeSessionWithPassword")
	defer func() { endSpan(span, err) }()

	if err := e.confirmPassword(ctx, userID, password, "password"); err != nil {
		return e.fail(ctx, "revoke session", err)
	}
	if err := e.revoke(ctx, userID, sessionID); err != nil {
		return e.fail(ctx, "revoke session", err)
	}
	return nil
}

// RevokeAllSessions signs userID out everywhere and returns how many
// sessions were removed.
func (e *Engine) RevokeAllSessions(ctx context.Context, userID string) (n int, err error) {
	ctx, span := e.startSpan(ctx, "RevokeAllSessions")
	defer func() { endSpan(span, err) }()

	n, err = e.sessions.RevokeAll(ctx, userID)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			return 0, Invalid("user_id", "invalid")
		}
		return 0, e.fail(ctx, "revoke all sessions", internalErr(err))
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventSessionsRevokedAll, true, userID, "", nil, nil)
	return n, nil
}

func (e *Engine) revoke(ctx context.Context, userID, sessionID string) error {
	sess := session.Session{UserID: userID, SessionID: sessionID}
	if err := e.sessions.Revoke(ctx, sess); err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			return Invalid("session_id", "invalid")
		}
		return internalErr(err)
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, userID, sessionID, nil, nil)
	return nil
}

// confirmPassword checks password against userID's stored hash. A mismatch
// is reported as a validation error on field so the caller can retry.
func (e *Engine) confirmPassword(ctx context.Context, userID, password, field string) error {
	hash, err := e.store.PasswordHash(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthenticated
		}
		return internalErr(err)
	}
	ok, err := e.passwords.Verify(ctx, hash, password)
	if err != nil {
		return internalErr(err)
	}
	if !ok {
		return Invalid(field, "incorrect")
	}
	return nil
}
