package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abhinav937/who-is-using-the-server/internal/core/domain"
	"github.com/abhinav937/who-is-using-the-server/internal/core/port"
	"github.com/abhinav937/who-is-using-the-server/internal/repository"
)

var (
	// ErrValidation indicates the caller omitted a required identifier.
	ErrValidation = errors.New("validation failed")
	// ErrStoreUnavailable indicates the session store rejected or failed an
	// operation. Callers are expected to degrade rather than hard-fail.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// eventSink fans a lifecycle event out to the notification channel and the
// message bus. Notification delivery is best-effort by contract; bus publish
// failures are logged and swallowed so presence operations never block on
// downstream systems.
type eventSink struct {
	composer *Composer
	notifier port.Notifier
	events   port.EventPublisher
	logger   *zap.Logger
}

func (d eventSink) dispatch(ctx context.Context, event domain.LifecycleEvent, sessionID string) {
	if d.notifier != nil {
		d.notifier.Send(ctx, d.composer.Compose(event))
	}
	if d.events == nil {
		return
	}

	// The merge rule collapses logout+free into one notification, but the
	// bus still carries both underlying facts.
	var err error
	switch event.Kind {
	case domain.EventLogin:
		err = d.events.PublishSessionStarted(ctx, domain.SessionStartedEvent{
			EventID:   uuid.NewString(),
			ServerID:  event.ServerID,
			Username:  event.Username,
			SessionID: sessionID,
			StartedAt: event.At,
		})
	case domain.EventLogout, domain.EventLogoutServerFree:
		err = d.events.PublishSessionEnded(ctx, domain.SessionEndedEvent{
			EventID:   uuid.NewString(),
			ServerID:  event.ServerID,
			Username:  event.Username,
			SessionID: sessionID,
			Reason:    event.Reason,
			Duration:  event.Duration,
			EndedAt:   event.At,
		})
		if err == nil && event.Kind == domain.EventLogoutServerFree {
			err = d.events.PublishServerFreed(ctx, domain.ServerFreedEvent{
				EventID:  uuid.NewString(),
				ServerID: event.ServerID,
				FreedAt:  event.At,
			})
		}
	case domain.EventServerFree:
		err = d.events.PublishServerFreed(ctx, domain.ServerFreedEvent{
			EventID:  uuid.NewString(),
			ServerID: event.ServerID,
			FreedAt:  event.At,
		})
	}

	if err != nil {
		d.logger.Warn("publish lifecycle event",
			zap.String("kind", string(event.Kind)),
			zap.String("server_id", event.ServerID),
			zap.Error(err),
		)
	}
}

// RegistryService owns the mapping from (server, user) to session state. It
// creates, refreshes and deletes sessions and keeps each server's membership
// set in lockstep with session existence.
type RegistryService struct {
	store      port.SessionStore
	sink       eventSink
	logger     *zap.Logger
	sessionTTL time.Duration
	now        func() time.Time
}

// NewRegistryService constructs a RegistryService. The session TTL must be
// strictly greater than the sweeper's inactivity timeout so store-side expiry
// only acts as a backstop; config validation enforces this upstream.
func NewRegistryService(store port.SessionStore, notifier port.Notifier, events port.EventPublisher, composer *Composer, sessionTTL time.Duration, logger *zap.Logger) *RegistryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if composer == nil {
		composer = NewComposer(nil)
	}
	if sessionTTL <= 0 {
		sessionTTL = 5 * time.Minute
	}

	return &RegistryService{
		store:      store,
		sink:       eventSink{composer: composer, notifier: notifier, events: events, logger: logger},
		logger:     logger,
		sessionTTL: sessionTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *RegistryService) WithClock(clock func() time.Time) *RegistryService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// HeartbeatInput carries one liveness signal from an agent.
type HeartbeatInput struct {
	ServerID  string
	Username  string
	SessionID string
	Status    string
	CPU       float64
	Memory    float64
}

// HeartbeatResult reports what the registry did with a heartbeat.
type HeartbeatResult struct {
	IsNewSession bool
	SessionID    string
	SessionCount int64
}

// RecordHeartbeat upserts the session for the (server, user) pair: a missing
// record becomes a fresh session (emitting a login event), an existing one is
// refreshed in place. The write always carries a renewed TTL and the session
// key is re-added to the server's membership set unconditionally.
func (s *RegistryService) RecordHeartbeat(ctx context.Context, in HeartbeatInput) (*HeartbeatResult, error) {
	if err := requireIdentifiers(in.ServerID, in.Username); err != nil {
		return nil, err
	}

	now := s.now()
	session, err := s.store.GetSession(ctx, in.ServerID, in.Username)
	isNew := false
	switch {
	case err == nil:
		session.Touch(now, in.Status, in.CPU, in.Memory)
	case errors.Is(err, repository.ErrNotFound):
		isNew = true
		session = s.newSession(in, now)
	default:
		return nil, storeFailure("get session", err)
	}

	if err := s.store.SaveSession(ctx, *session, s.sessionTTL); err != nil {
		return nil, storeFailure("save session", err)
	}
	if err := s.store.AddMember(ctx, in.ServerID, session.Key()); err != nil {
		return nil, storeFailure("add membership", err)
	}

	count, err := s.store.MemberCount(ctx, in.ServerID)
	if err != nil {
		s.logger.Warn("count members after heartbeat",
			zap.String("server_id", in.ServerID), zap.Error(err))
	}

	if isNew {
		s.sink.dispatch(ctx, domain.NewLoginEvent(in.ServerID, in.Username, now), session.SessionID)
		s.logger.Info("new session",
			zap.String("server_id", in.ServerID),
			zap.String("username", in.Username),
			zap.String("session_id", session.SessionID),
		)
	}

	return &HeartbeatResult{IsNewSession: isNew, SessionID: session.SessionID, SessionCount: count}, nil
}

// LoginInput identifies an explicit login request.
type LoginInput struct {
	ServerID  string
	Username  string
	SessionID string
}

// LoginResult reports whether a new session was created.
type LoginResult struct {
	Created   bool
	SessionID string
}

// Login records an explicit login. It shares the heartbeat upsert contract:
// an existing session is refreshed in place, never reset.
func (s *RegistryService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	result, err := s.RecordHeartbeat(ctx, HeartbeatInput{
		ServerID:  in.ServerID,
		Username:  in.Username,
		SessionID: in.SessionID,
		Status:    domain.StatusActive,
	})
	if err != nil {
		return nil, err
	}
	return &LoginResult{Created: result.IsNewSession, SessionID: result.SessionID}, nil
}

// LogoutInput identifies an explicit logout request.
type LogoutInput struct {
	ServerID string
	Username string
	Reason   domain.LogoutReason
}

// LogoutResult reports whether a session existed and whether its server is
// now free.
type LogoutResult struct {
	Found      bool
	ServerFree bool
}

// Logout removes the session if it exists. Logging off twice is a safe no-op.
// When the logout empties the server, the logout and server-free
// notifications are merged into a single combined message.
func (s *RegistryService) Logout(ctx context.Context, in LogoutInput) (*LogoutResult, error) {
	if err := requireIdentifiers(in.ServerID, in.Username); err != nil {
		return nil, err
	}
	reason := in.Reason
	if reason == "" {
		reason = domain.ReasonManual
	}
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: unknown logout reason %q", ErrValidation, in.Reason)
	}

	session, err := s.store.GetSession(ctx, in.ServerID, in.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &LogoutResult{Found: false}, nil
		}
		return nil, storeFailure("get session", err)
	}

	now := s.now()
	duration := session.Duration(now)

	if err := s.store.DeleteSession(ctx, in.ServerID, in.Username); err != nil {
		return nil, storeFailure("delete session", err)
	}
	if err := s.store.RemoveMember(ctx, in.ServerID, session.Key()); err != nil {
		return nil, storeFailure("remove membership", err)
	}

	free := s.serverIsIdle(ctx, in.ServerID)

	event := domain.NewLogoutEvent(in.ServerID, in.Username, reason, duration, now)
	if free {
		event = event.MergedWithServerFree()
	}
	s.sink.dispatch(ctx, event, session.SessionID)

	s.logger.Info("session logged out",
		zap.String("server_id", in.ServerID),
		zap.String("username", in.Username),
		zap.String("reason", string(reason)),
		zap.Bool("server_free", free),
	)

	return &LogoutResult{Found: true, ServerFree: free}, nil
}

// serverIsIdle reports whether no remaining membership entry is backed by a
// live record. Entries without a backing record are orphans awaiting sweep;
// they do not keep a server occupied. Store errors during the check are
// logged and treated as "still occupied" so a flaky store cannot produce
// spurious server-free notifications.
func (s *RegistryService) serverIsIdle(ctx context.Context, serverID string) bool {
	members, err := s.store.Members(ctx, serverID)
	if err != nil {
		s.logger.Warn("list members", zap.String("server_id", serverID), zap.Error(err))
		return false
	}

	for _, key := range members {
		_, err := s.store.GetSessionByKey(ctx, key)
		if err == nil {
			return false
		}
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("check member record", zap.String("key", key), zap.Error(err))
			return false
		}
	}
	return true
}

func (s *RegistryService) newSession(in HeartbeatInput, now time.Time) *domain.Session {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	status := in.Status
	if status == "" {
		status = domain.StatusActive
	}

	return &domain.Session{
		ServerID:       in.ServerID,
		Username:       in.Username,
		SessionID:      sessionID,
		LoginTime:      now,
		LastHeartbeat:  now,
		Status:         status,
		HeartbeatCount: 1,
		CPU:            in.CPU,
		Memory:         in.Memory,
	}
}

func requireIdentifiers(serverID, username string) error {
	if strings.TrimSpace(serverID) == "" || strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: serverId and username are required", ErrValidation)
	}
	return nil
}

func storeFailure(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
