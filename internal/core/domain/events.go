package domain

import "time"

// LogoutReason classifies why a session ended.
type LogoutReason string

const (
	ReasonManual              LogoutReason = "manual"
	ReasonGracefulShutdown    LogoutReason = "graceful_shutdown"
	ReasonTimeout             LogoutReason = "timeout"
	ReasonAbruptDisconnection LogoutReason = "abrupt_disconnection"
	ReasonTest                LogoutReason = "test"
)

// Valid reports whether the reason is one of the known values.
func (r LogoutReason) Valid() bool {
	switch r {
	case ReasonManual, ReasonGracefulShutdown, ReasonTimeout, ReasonAbruptDisconnection, ReasonTest:
		return true
	}
	return false
}

// Label returns the human-readable form used in notification text.
func (r LogoutReason) Label() string {
	switch r {
	case ReasonManual:
		return "manual logoff"
	case ReasonGracefulShutdown:
		return "graceful shutdown"
	case ReasonTimeout:
		return "inactivity timeout"
	case ReasonAbruptDisconnection:
		return "abrupt disconnection"
	case ReasonTest:
		return "test logoff"
	default:
		return string(r)
	}
}

// EventKind enumerates the presence transitions that produce notifications.
type EventKind string

const (
	EventLogin            EventKind = "login"
	EventLogout           EventKind = "logout"
	EventServerFree       EventKind = "server_free"
	EventLogoutServerFree EventKind = "logout_server_free"
)

// LifecycleEvent is an ephemeral value describing one presence transition.
// It is produced and consumed within a single request or sweep cycle and is
// never persisted.
type LifecycleEvent struct {
	Kind     EventKind
	ServerID string
	Username string
	Reason   LogoutReason
	Duration time.Duration
	At       time.Time
}

// NewLoginEvent describes a user appearing on a server.
func NewLoginEvent(serverID, username string, at time.Time) LifecycleEvent {
	return LifecycleEvent{Kind: EventLogin, ServerID: serverID, Username: username, At: at}
}

// NewLogoutEvent describes a user leaving a server for the given reason.
func NewLogoutEvent(serverID, username string, reason LogoutReason, duration time.Duration, at time.Time) LifecycleEvent {
	return LifecycleEvent{
		Kind:     EventLogout,
		ServerID: serverID,
		Username: username,
		Reason:   reason,
		Duration: duration,
		At:       at,
	}
}

// NewServerFreeEvent describes a server losing its last occupant.
func NewServerFreeEvent(serverID string, at time.Time) LifecycleEvent {
	return LifecycleEvent{Kind: EventServerFree, ServerID: serverID, At: at}
}

// MergedWithServerFree upgrades a logout event into the combined
// logout-and-server-free form, keeping the logout's actor, reason and
// duration. The merge replaces the pair of notifications that would otherwise
// describe a single action.
func (e LifecycleEvent) MergedWithServerFree() LifecycleEvent {
	e.Kind = EventLogoutServerFree
	return e
}

// Notification is a composed, ready-to-send message payload.
type Notification struct {
	Text string
}

// SessionStartedEvent is the message-bus payload for presence.session.started.
type SessionStartedEvent struct {
	EventID   string
	ServerID  string
	Username  string
	SessionID string
	StartedAt time.Time
}

// SessionEndedEvent is the message-bus payload for presence.session.ended.
type SessionEndedEvent struct {
	EventID   string
	ServerID  string
	Username  string
	SessionID string
	Reason    LogoutReason
	Duration  time.Duration
	EndedAt   time.Time
}

// ServerFreedEvent is the message-bus payload for presence.server.freed.
type ServerFreedEvent struct {
	EventID  string
	ServerID string
	FreedAt  time.Time
}
