package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abhinav937/who-is-using-the-server/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// HealthResponse reports liveness status.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// PresenceRequest is the body of the presence POST endpoint. A missing
// action defaults to heartbeat.
type PresenceRequest struct {
	Action    string  `json:"action"`
	ServerID  string  `json:"serverId"`
	Username  string  `json:"username"`
	SessionID string  `json:"sessionId"`
	Reason    string  `json:"reason"`
	Status    string  `json:"status"`
	CPU       float64 `json:"cpu"`
	Memory    float64 `json:"memory"`
}

// HeartbeatResponse is returned for heartbeat actions.
type HeartbeatResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	IsNewSession bool   `json:"isNewSession"`
	SessionID    string `json:"sessionId,omitempty"`
	SessionCount int64  `json:"sessionCount"`
	Error        string `json:"error,omitempty"`
}

// LoginResponse is returned for explicit login actions.
type LoginResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Created   bool   `json:"created"`
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// LogoutResponse is returned for logout actions.
type LogoutResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Found      bool   `json:"found"`
	ServerFree bool   `json:"serverFree"`
	Error      string `json:"error,omitempty"`
}

// SessionPayload is the API view of a live session, including the derived
// duration rendered at response time.
type SessionPayload struct {
	ServerID       string    `json:"serverId"`
	Username       string    `json:"username"`
	SessionID      string    `json:"sessionId"`
	LoginTime      time.Time `json:"loginTime"`
	LastHeartbeat  time.Time `json:"lastHeartbeat"`
	Status         string    `json:"status"`
	HeartbeatCount int64     `json:"heartbeatCount"`
	CPU            float64   `json:"cpu,omitempty"`
	Memory         float64   `json:"memory,omitempty"`
	Duration       string    `json:"duration"`
}

// StatusResponse is returned by the status read endpoint.
type StatusResponse struct {
	Success        bool             `json:"success"`
	Message        string           `json:"message"`
	ActiveSessions []SessionPayload `json:"activeSessions"`
	LoggedOffUsers []string         `json:"loggedOffUsers"`
	TotalSessions  int              `json:"totalSessions"`
	Error          string           `json:"error,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context.
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

func newSessionPayload(session domain.Session, at time.Time) SessionPayload {
	return SessionPayload{
		ServerID:       session.ServerID,
		Username:       session.Username,
		SessionID:      session.SessionID,
		LoginTime:      session.LoginTime,
		LastHeartbeat:  session.LastHeartbeat,
		Status:         session.Status,
		HeartbeatCount: session.HeartbeatCount,
		CPU:            session.CPU,
		Memory:         session.Memory,
		Duration:       domain.FormatDuration(session.Duration(at)),
	}
}
