package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abhinav937/who-is-using-the-server/internal/core/domain"
	"github.com/abhinav937/who-is-using-the-server/internal/core/port"
	"github.com/abhinav937/who-is-using-the-server/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	ServerID  string           `json:"server_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, serverID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		ServerID:  serverID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata: envelopeMetadata{
			"service":     p.appCfg.Name,
			"environment": p.appCfg.Env,
		},
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(serverID),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishSessionStarted publishes presence.session.started events.
func (p *EventPublisher) PublishSessionStarted(ctx context.Context, event domain.SessionStartedEvent) error {
	payload := struct {
		ServerID  string    `json:"server_id"`
		Username  string    `json:"username"`
		SessionID string    `json:"session_id"`
		StartedAt time.Time `json:"started_at"`
	}{
		ServerID:  event.ServerID,
		Username:  event.Username,
		SessionID: event.SessionID,
		StartedAt: event.StartedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "presence.session.started", event.ServerID, event.StartedAt, payload)
}

// PublishSessionEnded publishes presence.session.ended events.
func (p *EventPublisher) PublishSessionEnded(ctx context.Context, event domain.SessionEndedEvent) error {
	payload := struct {
		ServerID        string    `json:"server_id"`
		Username        string    `json:"username"`
		SessionID       string    `json:"session_id,omitempty"`
		Reason          string    `json:"reason"`
		DurationSeconds float64   `json:"duration_seconds"`
		EndedAt         time.Time `json:"ended_at"`
	}{
		ServerID:        event.ServerID,
		Username:        event.Username,
		SessionID:       event.SessionID,
		Reason:          string(event.Reason),
		DurationSeconds: event.Duration.Seconds(),
		EndedAt:         event.EndedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "presence.session.ended", event.ServerID, event.EndedAt, payload)
}

// PublishServerFreed publishes presence.server.freed events.
func (p *EventPublisher) PublishServerFreed(ctx context.Context, event domain.ServerFreedEvent) error {
	payload := struct {
		ServerID string    `json:"server_id"`
		FreedAt  time.Time `json:"freed_at"`
	}{
		ServerID: event.ServerID,
		FreedAt:  event.FreedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, "presence.server.freed", event.ServerID, event.FreedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
