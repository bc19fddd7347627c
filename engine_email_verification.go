package goIdentity

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/goIdentity/internal/stores"
)

// GenerateAndSendVerificationOTP mails a fresh verification code for email,
// which must be one of userID's addresses. The code lives in the user's
// namespace for the configured verify TTL.
//
//	Performance: 1 store update, 1 Redis SET, 1 mail send.
func (e *Engine) GenerateAndSendVerificationOTP(ctx context.Context, userID, email string) (err error) {
	ctx, span := e.startSpan(ctx, "GenerateAndSendVerificationOTP")
	defer func() { endSpan(span, err) }()

	err = e.sendVerification(ctx, userID, normalizeEmail(email), false)
	e.auditVerificationRequest(ctx, userID, err)
	return e.fail(ctx, "send verification", err)
}

// ResendVerificationOTP behaves like [Engine.GenerateAndSendVerificationOTP]
// but mails the code that is still outstanding for email when one exists.
// With hashed keys the plaintext is gone, so a fresh code is minted.
func (e *Engine) ResendVerificationOTP(ctx context.Context, userID, email string) (err error) {
	ctx, span := e.startSpan(ctx, "ResendVerificationOTP")
	defer func() { endSpan(span, err) }()

	err = e.sendVerification(ctx, userID, normalizeEmail(email), true)
	e.auditVerificationRequest(ctx, userID, err)
	return e.fail(ctx, "resend verification", err)
}

func (e *Engine) sendVerification(ctx context.Context, userID, email string, reuse bool) error {
	if email == "" {
		return Invalid("email", "missing")
	}
	// Doubles as the ownership check: it only matches userID's own row.
	if err := e.store.MarkConfirmationSent(ctx, userID, email, e.now()); err != nil {
		return storeErr(err)
	}

	policy := e.otp.EmailVerify(userID)
	code, err := e.outstandingCode(ctx, policy, email, reuse)
	if err != nil {
		return internalErr(err)
	}
	if code == "" {
		if code, err = e.otp.Generate(policy); err != nil {
			return internalErr(err)
		}
		if err := e.otp.Store(ctx, policy, code, email); err != nil {
			return internalErr(err)
		}
	}

	if err := e.mailer.Send(ctx, email, e.templates.EmailConfirmation(code)); err != nil {
		e.metricInc(MetricMailFailure)
		return internalErr(err)
	}
	e.metricInc(MetricEmailVerificationRequest)
	return nil
}

// outstandingCode returns a live plaintext code for email, or "".
func (e *Engine) outstandingCode(ctx context.Context, p stores.Policy, email string, reuse bool) (string, error) {
	if !reuse || e.otp.HashesKeys() {
		return "", nil
	}
	codes, err := e.otp.ListOutstanding(ctx, p, email)
	if err != nil || len(codes) == 0 {
		return "", err
	}
	return codes[0], nil
}

func (e *Engine) auditVerificationRequest(ctx context.Context, userID string, err error) {
	e.emitAudit(ctx, auditEventEmailVerificationRequest, err == nil, userID, "", err, nil)
}

// ConsumeVerificationOTP redeems code for userID and marks the address it
// was issued for as verified. Unknown, expired and already used codes all
// return [ErrNotFound]. The new verified state reaches tokens on the next
// issue or refresh.
func (e *Engine) ConsumeVerificationOTP(ctx context.Context, userID, code string) (err error) {
	ctx, span := e.startSpan(ctx, "ConsumeVerificationOTP")
	defer func() { endSpan(span, err) }()

	email, err := e.otp.Consume(ctx, e.otp.EmailVerify(userID), normalizeCode(code))
	if err == nil {
		err = storeErr(e.store.MarkEmailVerified(ctx, userID, email))
	} else {
		err = otpErr(err)
	}

	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, userID, "", err, nil)
		return e.fail(ctx, "consume verification", err)
	}
	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, userID, "", nil, nil)
	return nil
}

// otpErr collapses every absent-code outcome to ErrNotFound.
func otpErr(err error) error {
	if errors.Is(err, stores.ErrOTPNotFound) || errors.Is(err, stores.ErrOTPInvalidCode) {
		return ErrNotFound
	}
	return internalErr(err)
}

// normalizeCode accepts codes typed in either case. Both code alphabets are
// upper case.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
