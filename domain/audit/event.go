package audit

import "time"

// Kind names a security-relevant event. The set is fixed; sinks and the
// pattern detector switch on these values.
type Kind string

const (
	AuthSuccess Kind = "auth.success"
	AuthFailure Kind = "auth.failure"
	AuthLockout Kind = "auth.lockout"

	TokenIssued   Kind = "token.issued"
	TokenVerified Kind = "token.verified"
	TokenExpired  Kind = "token.expired"
	TokenInvalid  Kind = "token.invalid"
	TokenRevoked  Kind = "token.revoked"

	AccessGranted Kind = "access.granted"
	AccessDenied  Kind = "access.denied"

	GuestQRGenerated Kind = "guest.qr_generated"
	GuestTokenIssued Kind = "guest.token_issued"
	GuestAccess      Kind = "guest.access"

	SuspiciousRateLimit        Kind = "suspicious.rate_limit"
	SuspiciousInvalidAlgorithm Kind = "suspicious.invalid_algorithm"

	// SuspiciousPattern is raised by the detector, never recorded directly.
	SuspiciousPattern Kind = "suspicious.pattern"
)

// Severity grades an event for downstream filtering.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// defaultSeverity maps each kind to its baseline severity.
func defaultSeverity(k Kind) Severity {
	switch k {
	case AuthFailure, TokenExpired, TokenInvalid, AccessDenied:
		return SeverityWarning
	case AuthLockout, SuspiciousRateLimit, SuspiciousInvalidAlgorithm, SuspiciousPattern:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Event is one audit record.
type Event struct {
	Timestamp   time.Time      `json:"timestamp"`
	Event       Kind           `json:"event"`
	Severity    Severity       `json:"severity"`
	ClientIP    string         `json:"client_ip,omitempty"`
	SubjectID   string         `json:"subject_id,omitempty"`
	RequestInfo string         `json:"request_info,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
}
