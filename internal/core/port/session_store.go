package port

import (
	"context"
	"time"

	"github.com/abhinav937/who-is-using-the-server/internal/core/domain"
)

// SessionStore is the narrow contract the presence core needs from its
// backing key-value store: keyed records with per-key expiry, plus a
// membership set per server. Implementations must return
// repository.ErrNotFound for missing records so that store-side expiry is
// indistinguishable from deletion.
type SessionStore interface {
	// GetSession loads the record for a (server, user) pair.
	GetSession(ctx context.Context, serverID, username string) (*domain.Session, error)
	// GetSessionByKey loads a record addressed by its composite member key,
	// used when reconciling membership sets against backing records.
	GetSessionByKey(ctx context.Context, key string) (*domain.Session, error)
	// SaveSession upserts the record with a refreshed expiry.
	SaveSession(ctx context.Context, session domain.Session, ttl time.Duration) error
	// DeleteSession removes the record. Deleting a missing record is not an error.
	DeleteSession(ctx context.Context, serverID, username string) error

	// AddMember adds a session key to the server's membership set (idempotent).
	AddMember(ctx context.Context, serverID, sessionKey string) error
	// RemoveMember drops a session key from the server's membership set.
	RemoveMember(ctx context.Context, serverID, sessionKey string) error
	// Members enumerates the session keys currently in the server's set.
	Members(ctx context.Context, serverID string) ([]string, error)
	// MemberCount reports the size of the server's membership set.
	MemberCount(ctx context.Context, serverID string) (int64, error)
	// ListServers enumerates all server identifiers with a membership set.
	ListServers(ctx context.Context) ([]string, error)
}
