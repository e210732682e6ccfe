package domain

import (
	"fmt"
	"strings"
	"time"
)

// StatusActive is the default status agents report on heartbeat.
const StatusActive = "active"

// Session represents one user's tracked presence on one shared server,
// bounded by login and logout/timeout.
type Session struct {
	ServerID       string    `json:"serverId"`
	Username       string    `json:"username"`
	SessionID      string    `json:"sessionId"`
	LoginTime      time.Time `json:"loginTime"`
	LastHeartbeat  time.Time `json:"lastHeartbeat"`
	Status         string    `json:"status"`
	HeartbeatCount int64     `json:"heartbeatCount"`
	CPU            float64   `json:"cpu,omitempty"`
	Memory         float64   `json:"memory,omitempty"`
}

// Key returns the composite member key identifying the session inside its
// server's membership set.
func (s Session) Key() string {
	return SessionKey(s.ServerID, s.Username)
}

// Duration reports elapsed time since login, measured at the supplied moment.
// It is derived at read time, never stored.
func (s Session) Duration(at time.Time) time.Duration {
	if s.LoginTime.IsZero() || at.Before(s.LoginTime) {
		return 0
	}
	return at.Sub(s.LoginTime)
}

// TimedOut reports whether the last heartbeat is older than the inactivity
// timeout at the supplied moment.
func (s Session) TimedOut(at time.Time, timeout time.Duration) bool {
	return at.Sub(s.LastHeartbeat) > timeout
}

// Touch refreshes liveness metadata when a heartbeat arrives. Login time and
// session identifier are preserved.
func (s *Session) Touch(at time.Time, status string, cpu, memory float64) {
	s.LastHeartbeat = at
	s.HeartbeatCount++
	if status != "" {
		s.Status = status
	}
	if cpu > 0 {
		s.CPU = cpu
	}
	if memory > 0 {
		s.Memory = memory
	}
}

// SessionKey builds the composite member key for a (server, user) pair.
func SessionKey(serverID, username string) string {
	return fmt.Sprintf("%s-%s", serverID, username)
}

// UsernameFromKey recovers the username from a member key when the owning
// server is already known. The split anchors on the server identifier rather
// than counting delimiters, since usernames may contain the delimiter while
// server identifiers do not.
func UsernameFromKey(key, serverID string) (string, bool) {
	prefix := serverID + "-"
	if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return "", false
	}
	return key[len(prefix):], true
}

// FormatDuration renders an elapsed time as "Xh Ym Zs", dropping the higher
// units while they are zero.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
