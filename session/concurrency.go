package session

import (
	"context"
)

// Policy selects how concurrent sessions for one user are handled.
type Policy int

const (
	// PolicyAllowAll places no bound on concurrent sessions.
	PolicyAllowAll Policy = iota
	// PolicyLimit bounds concurrent sessions at MaxSessions and applies a
	// LimitAction when the bound is hit.
	PolicyLimit
	// PolicyExclusive allows exactly one session; a new login displaces
	// every existing session.
	PolicyExclusive
	// PolicyDeviceExclusive allows one session per device type; a new
	// login displaces existing sessions of the same device type.
	PolicyDeviceExclusive
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyLimit:
		return "limit"
	case PolicyExclusive:
		return "exclusive"
	case PolicyDeviceExclusive:
		return "device_exclusive"
	default:
		return "allow_all"
	}
}

// LimitAction selects what happens when PolicyLimit hits MaxSessions.
type LimitAction int

const (
	// LimitReject denies the new session.
	LimitReject LimitAction = iota
	// LimitRemoveOldest displaces the session with the earliest
	// created_at.
	LimitRemoveOldest
	// LimitRemoveLeastActive displaces the session with the earliest
	// last_activity.
	LimitRemoveLeastActive
)

// Decision is the outcome of a concurrency check. SessionsToRemove lists
// sessions the caller must terminate before creating the new one; the
// enforcer itself never mutates state.
type Decision struct {
	Allowed          bool
	Reason           string
	SessionsToRemove []string
}

// Enforcer evaluates the concurrency policy for new logins.
type Enforcer struct {
	registry    *Registry
	policy      Policy
	maxSessions int
	action      LimitAction
}

// NewEnforcer creates an [Enforcer].
func NewEnforcer(registry *Registry, policy Policy, maxSessions int, action LimitAction) *Enforcer {
	if maxSessions <= 0 {
		maxSessions = 3
	}
	return &Enforcer{
		registry:    registry,
		policy:      policy,
		maxSessions: maxSessions,
		action:      action,
	}
}

// CanCreate decides whether a new session may be created for the user,
// given the device type of the incoming login.
func (e *Enforcer) CanCreate(ctx context.Context, userID, deviceType string) (Decision, error) {
	if e.policy == PolicyAllowAll {
		return Decision{Allowed: true, Reason: "no session limit"}, nil
	}

	sessions, err := e.registry.ListForUser(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	active := sessions[:0]
	for _, sess := range sessions {
		if sess.IsActive {
			active = append(active, sess)
		}
	}

	switch e.policy {
	case PolicyExclusive:
		if len(active) == 0 {
			return Decision{Allowed: true, Reason: "no existing sessions"}, nil
		}
		return Decision{
			Allowed:          true,
			Reason:           "exclusive session policy",
			SessionsToRemove: sessionIDs(active),
		}, nil

	case PolicyDeviceExclusive:
		var sameDevice []*Session
		for _, sess := range active {
			if sess.DeviceInfo.Type == deviceType {
				sameDevice = append(sameDevice, sess)
			}
		}
		if len(sameDevice) == 0 {
			return Decision{Allowed: true, Reason: "no session on this device type"}, nil
		}
		return Decision{
			Allowed:          true,
			Reason:           "device exclusive policy",
			SessionsToRemove: sessionIDs(sameDevice),
		}, nil

	default:
		if len(active) < e.maxSessions {
			return Decision{Allowed: true, Reason: "under session limit"}, nil
		}

		switch e.action {
		case LimitRemoveOldest:
			victim := pick(active, func(a, b *Session) bool { return a.CreatedAt < b.CreatedAt })
			return Decision{
				Allowed:          true,
				Reason:           "session limit reached, removing oldest",
				SessionsToRemove: []string{victim.ID},
			}, nil
		case LimitRemoveLeastActive:
			victim := pick(active, func(a, b *Session) bool { return a.LastActivity < b.LastActivity })
			return Decision{
				Allowed:          true,
				Reason:           "session limit reached, removing least active",
				SessionsToRemove: []string{victim.ID},
			}, nil
		default:
			return Decision{Allowed: false, Reason: "session limit reached"}, nil
		}
	}
}

func sessionIDs(sessions []*Session) []string {
	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
	}
	return ids
}

func pick(sessions []*Session, less func(a, b *Session) bool) *Session {
	victim := sessions[0]
	for _, sess := range sessions[1:] {
		if less(sess, victim) {
			victim = sess
		}
	}
	return victim
}
