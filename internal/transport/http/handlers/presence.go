package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/abhinav937/who-is-using-the-server/internal/core/domain"
	"github.com/abhinav937/who-is-using-the-server/internal/usecase"
)

const (
	actionHeartbeat = "heartbeat"
	actionLogin     = "login"
	actionLogout    = "logout"
)

// PresenceHandler exposes the presence endpoint: one POST for agent signals
// (heartbeat, login, logout) and one GET for status reads. Both heartbeat and
// status piggyback a liveness sweep, since the hosting model has no
// background scheduler.
type PresenceHandler struct {
	registry *usecase.RegistryService
	sweeper  *usecase.SweeperService
	logger   *zap.Logger
}

// NewPresenceHandler constructs a presence handler.
func NewPresenceHandler(registry *usecase.RegistryService, sweeper *usecase.SweeperService, logger *zap.Logger) *PresenceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceHandler{registry: registry, sweeper: sweeper, logger: logger}
}

// RegisterRoutes binds the presence routes to the provided router group.
func (h *PresenceHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.POST("", h.HandleAction)
	r.GET("", h.Status)
}

// HandleAction dispatches an inbound agent signal by its action verb.
func (h *PresenceHandler) HandleAction(c *gin.Context) {
	var req PresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request body"))
		return
	}

	action := req.Action
	if action == "" {
		action = actionHeartbeat
	}

	switch action {
	case actionHeartbeat:
		h.heartbeat(c, req)
	case actionLogin:
		h.login(c, req)
	case actionLogout:
		h.logout(c, req)
	default:
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "unknown action: "+action))
	}
}

func (h *PresenceHandler) heartbeat(c *gin.Context, req PresenceRequest) {
	result, err := h.registry.RecordHeartbeat(c.Request.Context(), usecase.HeartbeatInput{
		ServerID:  req.ServerID,
		Username:  req.Username,
		SessionID: req.SessionID,
		Status:    req.Status,
		CPU:       req.CPU,
		Memory:    req.Memory,
	})
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrValidation):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		case errors.Is(err, usecase.ErrStoreUnavailable):
			// Degrade instead of failing so agent polling loops stay alive.
			c.JSON(http.StatusOK, HeartbeatResponse{Error: "session store unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "internal server error"))
		}
		return
	}

	h.runSweep(c)

	c.JSON(http.StatusOK, HeartbeatResponse{
		Success:      true,
		Message:      "Heartbeat received",
		IsNewSession: result.IsNewSession,
		SessionID:    result.SessionID,
		SessionCount: result.SessionCount,
	})
}

func (h *PresenceHandler) login(c *gin.Context, req PresenceRequest) {
	result, err := h.registry.Login(c.Request.Context(), usecase.LoginInput{
		ServerID:  req.ServerID,
		Username:  req.Username,
		SessionID: req.SessionID,
	})
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrValidation):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		case errors.Is(err, usecase.ErrStoreUnavailable):
			c.JSON(http.StatusOK, LoginResponse{Error: "session store unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "internal server error"))
		}
		return
	}

	message := "Login recorded"
	if !result.Created {
		message = "Session already active"
	}

	c.JSON(http.StatusOK, LoginResponse{
		Success:   true,
		Message:   message,
		Created:   result.Created,
		SessionID: result.SessionID,
	})
}

func (h *PresenceHandler) logout(c *gin.Context, req PresenceRequest) {
	result, err := h.registry.Logout(c.Request.Context(), usecase.LogoutInput{
		ServerID: req.ServerID,
		Username: req.Username,
		Reason:   domain.LogoutReason(req.Reason),
	})
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrValidation):
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		case errors.Is(err, usecase.ErrStoreUnavailable):
			c.JSON(http.StatusOK, LogoutResponse{Error: "session store unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "internal server error"))
		}
		return
	}

	message := "Logout recorded"
	if !result.Found {
		message = "No active session"
	}

	c.JSON(http.StatusOK, LogoutResponse{
		Success:    true,
		Message:    message,
		Found:      result.Found,
		ServerFree: result.ServerFree,
	})
}

// Status sweeps and then reports the live sessions, optionally scoped to one
// server via the serverId query parameter.
func (h *PresenceHandler) Status(c *gin.Context) {
	serverID := c.Query("serverId")

	sweepResult, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		h.respondStatusDegraded(c, err)
		return
	}

	sessions, total, err := h.sweeper.ActiveSessions(c.Request.Context(), serverID)
	if err != nil {
		h.respondStatusDegraded(c, err)
		return
	}

	now := time.Now().UTC()
	payloads := make([]SessionPayload, 0, len(sessions))
	for _, session := range sessions {
		payloads = append(payloads, newSessionPayload(session, now))
	}

	loggedOff := make([]string, 0, len(sweepResult.LoggedOffUsers))
	for _, session := range sweepResult.LoggedOffUsers {
		loggedOff = append(loggedOff, session.Username)
	}

	c.JSON(http.StatusOK, StatusResponse{
		Success:        true,
		Message:        "Status retrieved",
		ActiveSessions: payloads,
		LoggedOffUsers: loggedOff,
		TotalSessions:  total,
	})
}

func (h *PresenceHandler) respondStatusDegraded(c *gin.Context, err error) {
	if !errors.Is(err, usecase.ErrStoreUnavailable) {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "internal server error"))
		return
	}

	h.logger.Warn("status read degraded", zap.Error(err))
	c.JSON(http.StatusOK, StatusResponse{
		ActiveSessions: []SessionPayload{},
		LoggedOffUsers: []string{},
		Error:          "session store unavailable",
	})
}

// runSweep performs the piggybacked sweep after a successful heartbeat.
// Failures are logged only; the agent's request already succeeded.
func (h *PresenceHandler) runSweep(c *gin.Context) {
	if h.sweeper == nil {
		return
	}
	if _, err := h.sweeper.Sweep(c.Request.Context()); err != nil {
		h.logger.Warn("piggybacked sweep failed", zap.Error(err))
	}
}
