package model

import "time"

// SecurityAction is the closed set of security-relevant actions.
type SecurityAction string

const (
	ActionLoginAttempt        SecurityAction = "LOGIN_ATTEMPT"
	ActionLoginSuccess        SecurityAction = "LOGIN_SUCCESS"
	ActionLoginFailure        SecurityAction = "LOGIN_FAILURE"
	ActionRateLimitExceeded   SecurityAction = "RATE_LIMIT_EXCEEDED"
	ActionAccountLocked       SecurityAction = "ACCOUNT_LOCKED"
	ActionAdminAccess         SecurityAction = "ADMIN_ACCESS"
	ActionAccessDenied        SecurityAction = "ACCESS_DENIED"
	ActionTokenRefresh        SecurityAction = "TOKEN_REFRESH"
	ActionTokenRefreshFailure SecurityAction = "TOKEN_REFRESH_FAILURE"
	ActionLogout              SecurityAction = "LOGOUT"
)

// SecurityEvent is one append-only row of the `security_events` table.
// UserID is nil when the actor is unknown (for example a login attempt
// against an email that does not exist).
type SecurityEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    *uint64        `json:"user_id,omitempty"`
	IPAddress string         `json:"ip_address"`
	UserAgent string         `json:"user_agent,omitempty"`
	Action    SecurityAction `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
}
