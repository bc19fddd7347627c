package goIdentity

import (
	"context"
	"errors"

	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
)

const (
	auditEventPasswordGrantSuccess       = "password_grant_success"
	auditEventPasswordGrantFailure       = "password_grant_failure"
	auditEventPasswordGrantRateLimited   = "password_grant_rate_limited"
	auditEventRefreshSuccess             = "refresh_success"
	auditEventRefreshInvalid             = "refresh_invalid"
	auditEventRefreshRateLimited         = "refresh_rate_limited"
	auditEventRefreshReuseDetected       = "refresh_reuse_detected"
	auditEventAssertionGrantSuccess      = "assertion_grant_success"
	auditEventAssertionGrantFailure      = "assertion_grant_failure"
	auditEventSessionRevoked             = "session_revoked"
	auditEventSessionsRevokedAll         = "sessions_revoked_all"
	auditEventAccountCreationSuccess     = "account_creation_success"
	auditEventAccountCreationFailure     = "account_creation_failure"
	auditEventPasswordChangeSuccess      = "password_change_success"
	auditEventPasswordChangeInvalidOld   = "password_change_invalid_old"
	auditEventPasswordResetRequest       = "password_reset_request"
	auditEventPasswordResetConfirm       = "password_reset_confirm"
	auditEventEmailVerificationRequest   = "email_verification_request"
	auditEventEmailVerificationConfirm   = "email_verification_confirm"
)

// AuditErrorCode is the stable error label attached to failed events.
type AuditErrorCode string

const (
	auditErrUnauthenticated AuditErrorCode = "unauthenticated"
	auditErrForbidden       AuditErrorCode = "forbidden"
	auditErrNotFound        AuditErrorCode = "not_found"
	auditErrValidation      AuditErrorCode = "validation"
	auditErrConflict        AuditErrorCode = "conflict"
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrUpstream        AuditErrorCode = "upstream"
	auditErrInternal        AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := internalaudit.Event{
		Time:      e.now().UTC(),
		Type:      eventType,
		UserID:    userID,
		SessionID: sessionID,
		ClientIP:  clientIPFromContext(ctx),
		Device:    deviceNameFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return auditErrUnauthenticated
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrUpstream):
		return auditErrUpstream
	default:
		return auditErrInternal
	}
}
