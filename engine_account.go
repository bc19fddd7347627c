package goIdentity

import (
	"context"
	"errors"

	"github.com/MrEthical07/goIdentity/oauth"
)

// RegisterRequest is the input of [Engine.Register].
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account with a primary, unverified email and mails a
// verification code to it. It returns the new user id.
//
// Every invalid field is reported at once. A username or email already in
// use returns a [*ConflictError] naming the field. A failed verification
// mail does not undo the account; the user can ask for a resend.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (userID string, err error) {
	ctx, span := e.startSpan(ctx, "Register")
	defer func() { endSpan(span, err) }()
	defer func() {
		switch {
		case err == nil:
			e.metricInc(MetricAccountCreationSuccess)
			e.emitAudit(ctx, auditEventAccountCreationSuccess, true, userID, "", nil, nil)
		case errors.Is(err, ErrConflict):
			e.metricInc(MetricAccountCreationConflict)
			fallthrough
		default:
			e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", err, nil)
		}
	}()

	email, err := e.validateRegistration(req)
	if err != nil {
		return "", err
	}

	hash, err := e.passwords.Hash(ctx, req.Password)
	if err != nil {
		return "", e.fail(ctx, "register", internalErr(err))
	}

	userID, err = e.store.CreateAccount(ctx, NewAccount{
		Username:     req.Username,
		Email:        email,
		PasswordHash: hash,
		Image:        oauth.DefaultAvatar(req.Username),
	})
	if err != nil {
		return "", e.fail(ctx, "register", storeErr(err))
	}

	if err := e.sendVerification(ctx, userID, email, false); err != nil {
		e.logger.WarnContext(ctx, "verification mail after registration failed", "user_id", userID, "err", Cause(err))
	}
	return userID, nil
}

func (e *Engine) validateRegistration(req RegisterRequest) (string, error) {
	fields := map[string][]string{}
	collect := func(err error) {
		var v *ValidationError
		if errors.As(err, &v) {
			for k, reasons := range v.Fields {
				fields[k] = append(fields[k], reasons...)
			}
		}
	}

	collect(e.validator.Username(req.Username))
	email, err := e.validator.Email(req.Email)
	collect(err)
	collect(e.validator.Password("password", req.Password))

	if len(fields) > 0 {
		return "", &ValidationError{Fields: fields}
	}
	return email, nil
}

// ChangePassword replaces userID's password after checking the current one.
// All sessions, including the caller's, are revoked on success.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string) (err error) {
	ctx, span := e.startSpan(ctx, "ChangePassword")
	defer func() { endSpan(span, err) }()

	if err := e.validator.Password("new_password", next); err != nil {
		return err
	}
	if current == next {
		return Invalid("new_password", "unchanged")
	}

	if err := e.confirmPassword(ctx, userID, current, "current_password"); err != nil {
		if errors.Is(err, ErrValidation) {
			e.metricInc(MetricPasswordChangeInvalidOld)
			e.emitAudit(ctx, auditEventPasswordChangeInvalidOld, false, userID, "", err, nil)
		}
		return e.fail(ctx, "change password", err)
	}

	if err := e.replacePassword(ctx, userID, next); err != nil {
		return e.fail(ctx, "change password", err)
	}
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, userID, "", nil, nil)
	return nil
}
