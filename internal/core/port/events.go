package port

import (
	"context"

	"github.com/abhinav937/who-is-using-the-server/internal/core/domain"
)

// EventPublisher publishes presence lifecycle events to the message bus.
type EventPublisher interface {
	PublishSessionStarted(ctx context.Context, event domain.SessionStartedEvent) error
	PublishSessionEnded(ctx context.Context, event domain.SessionEndedEvent) error
	PublishServerFreed(ctx context.Context, event domain.ServerFreedEvent) error
}
