package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/abhinav937/who-is-using-the-server/internal/core/domain"
	"github.com/abhinav937/who-is-using-the-server/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no
// brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, serverID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("server_id", serverID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishSessionStarted logs presence.session.started events.
func (p *StubPublisher) PublishSessionStarted(_ context.Context, event domain.SessionStartedEvent) error {
	payload := map[string]any{
		"server_id":  event.ServerID,
		"username":   event.Username,
		"session_id": event.SessionID,
		"started_at": event.StartedAt,
	}
	p.logEvent("presence.session.started", event.ServerID, event.StartedAt, payload)
	return nil
}

// PublishSessionEnded logs presence.session.ended events.
func (p *StubPublisher) PublishSessionEnded(_ context.Context, event domain.SessionEndedEvent) error {
	payload := map[string]any{
		"server_id":  event.ServerID,
		"username":   event.Username,
		"session_id": event.SessionID,
		"reason":     string(event.Reason),
		"duration":   event.Duration.String(),
		"ended_at":   event.EndedAt,
	}
	p.logEvent("presence.session.ended", event.ServerID, event.EndedAt, payload)
	return nil
}

// PublishServerFreed logs presence.server.freed events.
func (p *StubPublisher) PublishServerFreed(_ context.Context, event domain.ServerFreedEvent) error {
	payload := map[string]any{
		"server_id": event.ServerID,
		"freed_at":  event.FreedAt,
	}
	p.logEvent("presence.server.freed", event.ServerID, event.FreedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
