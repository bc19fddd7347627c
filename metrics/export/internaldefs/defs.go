package internaldefs

import (
	"github.com/MrEthical07/goIdentity"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

// AuditDropped describes the dispatcher drop counter, which lives outside
// the engine counter array.
var AuditDropped = CounterDef{Name: "goidentity_audit_dropped_total", Help: "Audit events dropped under dispatcher backpressure."}

var CounterDefs = []CounterDef{
	{ID: goIdentity.MetricPasswordGrantSuccess, Name: "goidentity_password_grant_success_total", Help: "Successful password grants."},
	{ID: goIdentity.MetricPasswordGrantFailure, Name: "goidentity_password_grant_failure_total", Help: "Rejected password grants."},
	{ID: goIdentity.MetricPasswordGrantRateLimited, Name: "goidentity_password_grant_rate_limited_total", Help: "Password grants refused by the login throttle."},
	{ID: goIdentity.MetricRefreshSuccess, Name: "goidentity_refresh_success_total", Help: "Successful refresh grants."},
	{ID: goIdentity.MetricRefreshFailure, Name: "goidentity_refresh_failure_total", Help: "Rejected refresh grants."},
	{ID: goIdentity.MetricRefreshReuseDetected, Name: "goidentity_refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: goIdentity.MetricRefreshRateLimited, Name: "goidentity_refresh_rate_limited_total", Help: "Refresh grants refused by the throttle."},
	{ID: goIdentity.MetricAssertionGrantSuccess, Name: "goidentity_assertion_grant_success_total", Help: "Successful OAuth assertion grants."},
	{ID: goIdentity.MetricAssertionGrantFailure, Name: "goidentity_assertion_grant_failure_total", Help: "Rejected OAuth assertion grants."},
	{ID: goIdentity.MetricUpstreamFailure, Name: "goidentity_upstream_failure_total", Help: "OAuth provider failures."},
	{ID: goIdentity.MetricSessionCreated, Name: "goidentity_session_created_total", Help: "Created sessions."},
	{ID: goIdentity.MetricSessionRevoked, Name: "goidentity_session_revoked_total", Help: "Revoked sessions."},
	{ID: goIdentity.MetricAccountCreationSuccess, Name: "goidentity_account_creation_success_total", Help: "Registered accounts."},
	{ID: goIdentity.MetricAccountCreationConflict, Name: "goidentity_account_creation_conflict_total", Help: "Registrations rejected for a taken username or email."},
	{ID: goIdentity.MetricPasswordChangeSuccess, Name: "goidentity_password_change_success_total", Help: "Successful password changes."},
	{ID: goIdentity.MetricPasswordChangeInvalidOld, Name: "goidentity_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: goIdentity.MetricPasswordResetRequest, Name: "goidentity_password_reset_request_total", Help: "Password reset codes sent."},
	{ID: goIdentity.MetricPasswordResetConfirmSuccess, Name: "goidentity_password_reset_confirm_success_total", Help: "Completed password resets."},
	{ID: goIdentity.MetricPasswordResetConfirmFailure, Name: "goidentity_password_reset_confirm_failure_total", Help: "Failed password resets."},
	{ID: goIdentity.MetricEmailVerificationRequest, Name: "goidentity_email_verification_request_total", Help: "Verification codes sent."},
	{ID: goIdentity.MetricEmailVerificationSuccess, Name: "goidentity_email_verification_success_total", Help: "Verified email addresses."},
	{ID: goIdentity.MetricEmailVerificationFailure, Name: "goidentity_email_verification_failure_total", Help: "Rejected verification codes."},
	{ID: goIdentity.MetricMailFailure, Name: "goidentity_mail_failure_total", Help: "Mail sends that failed."},
}

var HistogramDefs = []HistogramDef{
	{ID: goIdentity.MetricValidateLatency, Name: "goidentity_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramBounds are the upper bounds in seconds of the first seven
// engine buckets. The eighth bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// BucketLabels are the "le" values of each bucket, +Inf included.
var BucketLabels = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
