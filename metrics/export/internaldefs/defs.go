package internaldefs

import (
	authcore "github.com/tessera-platform/authcore"
)

// CounterDef binds one engine counter to its exported name and help text.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef binds one engine histogram to its exported name and help text.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricSessionStarted, Name: "authcore_session_started_total", Help: "Sessions opened."},
	{ID: authcore.MetricSessionTerminated, Name: "authcore_session_terminated_total", Help: "Sessions terminated for any reason."},
	{ID: authcore.MetricSessionDisplaced, Name: "authcore_session_displaced_total", Help: "Sessions removed by the concurrency policy."},
	{ID: authcore.MetricSessionLimitRejected, Name: "authcore_session_limit_rejected_total", Help: "Logins rejected by the concurrency policy."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful token rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Refreshes rejected for any reason."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Confirmed refresh token replays."},
	{ID: authcore.MetricRefreshRateLimited, Name: "authcore_refresh_rate_limited_total", Help: "Refreshes rejected by the throttle."},
	{ID: authcore.MetricRefreshPatternSuspicious, Name: "authcore_refresh_pattern_suspicious_total", Help: "Refreshes flagged by the pattern heuristic."},
	{ID: authcore.MetricTokenRevoked, Name: "authcore_token_revoked_total", Help: "Single-token revocations."},
	{ID: authcore.MetricUserRevoked, Name: "authcore_user_revoked_total", Help: "User-wide revocations."},
	{ID: authcore.MetricSessionRevoked, Name: "authcore_session_revoked_total", Help: "Session-scope revocations."},
	{ID: authcore.MetricTenantRevoked, Name: "authcore_tenant_revoked_total", Help: "Tenant-wide revocations."},
	{ID: authcore.MetricValidateSuccess, Name: "authcore_validate_success_total", Help: "Access tokens that passed validation."},
	{ID: authcore.MetricValidateRejected, Name: "authcore_validate_rejected_total", Help: "Access tokens that failed structural or signature checks."},
	{ID: authcore.MetricValidateRevoked, Name: "authcore_validate_revoked_total", Help: "Access tokens rejected by a revocation rule."},
	{ID: authcore.MetricRenewalSuccess, Name: "authcore_renewal_success_total", Help: "Sessions actually extended."},
	{ID: authcore.MetricRenewalSkipped, Name: "authcore_renewal_skipped_total", Help: "Renewal attempts skipped by policy."},
	{ID: authcore.MetricEventPublishFailure, Name: "authcore_event_publish_failure_total", Help: "Revocation events that could not be published."},
}

// HistogramDefs lists every exported histogram in a stable order.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramBounds are the engine's power-of-four latency bucket upper
// bounds in seconds, starting at 100µs.
var HistogramBounds = []string{
	"0.0001",
	"0.0004",
	"0.0016",
	"0.0064",
	"0.0256",
	"0.1024",
	"0.4096",
	"+Inf",
}

// HistogramBoundSuffix holds the bounds in instrument-name-safe form, in
// the same order as HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_0001",
	"0_0004",
	"0_0016",
	"0_0064",
	"0_0256",
	"0_1024",
	"0_4096",
	"inf",
}

// NormalizeBuckets copies a raw snapshot slice into the fixed bucket
// array, padding with zeros when the slice is short.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// both exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
