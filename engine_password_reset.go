package goIdentity

import (
	"context"
	"errors"
)

// GenerateAndSendResetOTP mails a password reset code to email. Only
// verified addresses receive one. Unknown and unverified addresses return
// nil so callers cannot enumerate accounts.
//
//	Performance: 1 store lookup, 1 Redis SET, 1 mail send.
func (e *Engine) GenerateAndSendResetOTP(ctx context.Context, email string) (err error) {
	ctx, span := e.startSpan(ctx, "GenerateAndSendResetOTP")
	defer func() { endSpan(span, err) }()

	email = normalizeEmail(email)
	rec, err := e.store.LookupEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return e.fail(ctx, "send reset", internalErr(err))
	}
	if err != nil || !rec.Verified {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, rec.UserID, "", ErrNotFound, nil)
		return nil
	}
	userID := rec.UserID

	policy := e.otp.PasswordReset()
	code, err := e.otp.Generate(policy)
	if err != nil {
		return e.fail(ctx, "send reset", internalErr(err))
	}
	if err := e.otp.Store(ctx, policy, code, email); err != nil {
		return e.fail(ctx, "send reset", internalErr(err))
	}
	if err := e.mailer.Send(ctx, email, e.templates.PasswordReset(code)); err != nil {
		e.metricInc(MetricMailFailure)
		return e.fail(ctx, "send reset", internalErr(err))
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, userID, "", nil, nil)
	return nil
}

// ConsumeResetOTP redeems a reset code and returns the address it was
// issued for. Any failure to find the code is [ErrNotFound].
func (e *Engine) ConsumeResetOTP(ctx context.Context, code string) (_ string, err error) {
	ctx, span := e.startSpan(ctx, "ConsumeResetOTP")
	defer func() { endSpan(span, err) }()

	email, err := e.otp.Consume(ctx, e.otp.PasswordReset(), normalizeCode(code))
	if err != nil {
		return "", e.fail(ctx, "consume reset", otpErr(err))
	}
	return email, nil
}

// ResetPassword redeems code, stores newPassword for the address owner,
// clears the reset flag and signs the user out everywhere. The new password
// is validated before the code is spent.
func (e *Engine) ResetPassword(ctx context.Context, code, newPassword string) (err error) {
	ctx, span := e.startSpan(ctx, "ResetPassword")
	defer func() { endSpan(span, err) }()

	var userID string
	defer func() {
		if err != nil {
			e.metricInc(MetricPasswordResetConfirmFailure)
		} else {
			e.metricInc(MetricPasswordResetConfirmSuccess)
		}
		e.emitAudit(ctx, auditEventPasswordResetConfirm, err == nil, userID, "", err, nil)
	}()

	if err := e.validator.Password("password", newPassword); err != nil {
		return err
	}

	email, err := e.otp.Consume(ctx, e.otp.PasswordReset(), normalizeCode(code))
	if err != nil {
		return e.fail(ctx, "reset password", otpErr(err))
	}
	rec, err := e.store.LookupEmail(ctx, email)
	if err != nil {
		// The address was detached after the code was sent.
		return e.fail(ctx, "reset password", storeErr(err))
	}
	userID = rec.UserID

	if err := e.replacePassword(ctx, userID, newPassword); err != nil {
		return e.fail(ctx, "reset password", err)
	}
	return nil
}

// replacePassword stores a new hash, revokes every session and notifies the
// primary address. Only the hash update can fail the call.
func (e *Engine) replacePassword(ctx context.Context, userID, newPassword string) error {
	hash, err := e.passwords.Hash(ctx, newPassword)
	if err != nil {
		return internalErr(err)
	}
	if err := e.store.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return storeErr(err)
	}

	if n, err := e.sessions.RevokeAll(ctx, userID); err != nil {
		e.logger.WarnContext(ctx, "revoke sessions after password change failed", "user_id", userID, "err", err)
	} else {
		for i := 0; i < n; i++ {
			e.metricInc(MetricSessionRevoked)
		}
		e.emitAudit(ctx, auditEventSessionsRevokedAll, true, userID, "", nil, nil)
	}

	e.notifyPasswordChanged(ctx, userID)
	return nil
}

func (e *Engine) notifyPasswordChanged(ctx context.Context, userID string) {
	email, err := e.store.PrimaryEmail(ctx, userID)
	if err == nil {
		err = e.mailer.Send(ctx, email, e.templates.PasswordChanged(email))
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		e.metricInc(MetricMailFailure)
		e.logger.WarnContext(ctx, "password change notice not sent", "user_id", userID, "err", err)
	}
}
