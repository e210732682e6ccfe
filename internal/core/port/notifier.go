package port

import (
	"context"

	"github.com/abhinav937/who-is-using-the-server/internal/core/domain"
)

// Notifier delivers composed notifications to an external channel.
// Implementations are strictly best-effort: failures are logged internally
// and never surfaced to callers, and an unconfigured notifier is a silent
// no-op rather than an error state.
type Notifier interface {
	Send(ctx context.Context, n domain.Notification)
}
