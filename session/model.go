package session

import "time"

// DeviceInfo describes the device a session was created from. All fields
// are caller-supplied metadata; none are trusted for security decisions
// beyond the concurrency policy's device type matching.
type DeviceInfo struct {
	Type     string `json:"type,omitempty"`
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// Session is the server-side session record. ID, UserID, and CreatedAt are
// immutable once created; Update rejects attempts to change them.
//
// Timestamps are unix milliseconds.
type Session struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	TenantID     string     `json:"tenant_id"`
	DeviceID     string     `json:"device_id,omitempty"`
	DeviceInfo   DeviceInfo `json:"device_info"`
	IPAddress    string     `json:"ip_address,omitempty"`
	Location     string     `json:"location,omitempty"`
	CreatedAt    int64      `json:"created_at"`
	LastActivity int64      `json:"last_activity"`
	ExpiresAt    int64      `json:"expires_at"`
	IsActive     bool       `json:"is_active"`
	MFAVerified  bool       `json:"mfa_verified"`
}

// Age returns how long the session has existed at the given instant.
func (s *Session) Age(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-s.CreatedAt) * time.Millisecond
}

// TimeUntilExpiry returns the remaining lifetime at the given instant.
// Negative values mean the session is already past its expiry.
func (s *Session) TimeUntilExpiry(now time.Time) time.Duration {
	return time.Duration(s.ExpiresAt-now.UnixMilli()) * time.Millisecond
}
