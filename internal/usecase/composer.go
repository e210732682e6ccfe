package usecase

import (
	"fmt"
	"time"

	"github.com/abhinav937/who-is-using-the-server/internal/core/domain"
)

// Composer renders lifecycle events into notification payloads. It holds no
// state beyond the timezone used for timestamps and is safe for concurrent use.
type Composer struct {
	loc *time.Location
}

// NewComposer constructs a composer rendering timestamps in the supplied
// location. A nil location falls back to the process-local timezone.
func NewComposer(loc *time.Location) *Composer {
	if loc == nil {
		loc = time.Local
	}
	return &Composer{loc: loc}
}

// Compose produces the message payload for a lifecycle event.
func (c *Composer) Compose(event domain.LifecycleEvent) domain.Notification {
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	stamp := at.In(c.loc).Format("15:04:05")

	var text string
	switch event.Kind {
	case domain.EventLogin:
		text = fmt.Sprintf("[LOGIN] **%s** logged into server **%s** at %s",
			event.Username, event.ServerID, stamp)
	case domain.EventLogout:
		text = fmt.Sprintf("[LOGOFF] **%s** logged off from server **%s** at %s (%s, session lasted %s)",
			event.Username, event.ServerID, stamp,
			event.Reason.Label(), domain.FormatDuration(event.Duration))
	case domain.EventServerFree:
		text = fmt.Sprintf("[FREE] Server **%s** is now free at %s",
			event.ServerID, stamp)
	case domain.EventLogoutServerFree:
		text = fmt.Sprintf("[LOGOFF] **%s** logged off from server **%s** at %s (%s, session lasted %s) and server **%s** is now free",
			event.Username, event.ServerID, stamp,
			event.Reason.Label(), domain.FormatDuration(event.Duration),
			event.ServerID)
	default:
		text = fmt.Sprintf("[EVENT] %s on server **%s** at %s", event.Kind, event.ServerID, stamp)
	}

	return domain.Notification{Text: text}
}
