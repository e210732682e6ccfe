package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/abhinav937/who-is-using-the-server/internal/core/domain"
	"github.com/abhinav937/who-is-using-the-server/internal/repository"
)

const (
	defaultSessionPrefix = "presence:session"
	defaultServerPrefix  = "presence:server"
)

// SessionStore persists session records and per-server membership sets in
// Redis. Records live under "{sessionPrefix}:{serverId}-{username}" with a
// TTL; membership sets live under "{serverPrefix}:{serverId}". The two are
// deliberately independent: a record can expire while its set entry lingers,
// and the sweeper reconciles the difference.
type SessionStore struct {
	client        *red.Client
	sessionPrefix string
	serverPrefix  string
}

// NewSessionStore constructs a Redis-backed session store. Empty prefixes
// fall back to the defaults.
func NewSessionStore(client *red.Client, sessionPrefix, serverPrefix string) *SessionStore {
	sp := strings.TrimSpace(sessionPrefix)
	if sp == "" {
		sp = defaultSessionPrefix
	}
	vp := strings.TrimSpace(serverPrefix)
	if vp == "" {
		vp = defaultServerPrefix
	}

	return &SessionStore{client: client, sessionPrefix: sp, serverPrefix: vp}
}

// GetSession loads the record for a (server, user) pair.
func (s *SessionStore) GetSession(ctx context.Context, serverID, username string) (*domain.Session, error) {
	return s.GetSessionByKey(ctx, domain.SessionKey(serverID, username))
}

// GetSessionByKey loads a record addressed by its composite member key.
func (s *SessionStore) GetSessionByKey(ctx context.Context, key string) (*domain.Session, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("session key is required")
	}

	raw, err := s.client.Get(ctx, s.sessionKey(key)).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &session, nil
}

// SaveSession upserts the record with a refreshed expiry.
func (s *SessionStore) SaveSession(ctx context.Context, session domain.Session, ttl time.Duration) error {
	if strings.TrimSpace(session.ServerID) == "" || strings.TrimSpace(session.Username) == "" {
		return fmt.Errorf("server id and username are required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(session.Key()), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// DeleteSession removes the record. Deleting a missing record is a no-op.
func (s *SessionStore) DeleteSession(ctx context.Context, serverID, username string) error {
	if err := s.client.Del(ctx, s.sessionKey(domain.SessionKey(serverID, username))).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// AddMember adds a session key to the server's membership set.
func (s *SessionStore) AddMember(ctx context.Context, serverID, sessionKey string) error {
	if err := s.client.SAdd(ctx, s.serverKey(serverID), sessionKey).Err(); err != nil {
		return fmt.Errorf("redis sadd member: %w", err)
	}
	return nil
}

// RemoveMember drops a session key from the server's membership set.
func (s *SessionStore) RemoveMember(ctx context.Context, serverID, sessionKey string) error {
	if err := s.client.SRem(ctx, s.serverKey(serverID), sessionKey).Err(); err != nil {
		return fmt.Errorf("redis srem member: %w", err)
	}
	return nil
}

// Members enumerates the session keys in the server's membership set.
func (s *SessionStore) Members(ctx context.Context, serverID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.serverKey(serverID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return members, nil
}

// MemberCount reports the size of the server's membership set.
func (s *SessionStore) MemberCount(ctx context.Context, serverID string) (int64, error) {
	count, err := s.client.SCard(ctx, s.serverKey(serverID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scard: %w", err)
	}
	return count, nil
}

// ListServers enumerates all server identifiers with a membership set,
// scanning by the server key prefix. An empty set key that Redis already
// dropped simply stops appearing here, which matches the "empty set means no
// sessions" contract.
func (s *SessionStore) ListServers(ctx context.Context) ([]string, error) {
	pattern := s.serverPrefix + ":*"
	prefix := s.serverPrefix + ":"

	var servers []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		servers = append(servers, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan servers: %w", err)
	}
	return servers, nil
}

func (s *SessionStore) sessionKey(key string) string {
	return fmt.Sprintf("%s:%s", s.sessionPrefix, key)
}

func (s *SessionStore) serverKey(serverID string) string {
	return fmt.Sprintf("%s:%s", s.serverPrefix, serverID)
}
