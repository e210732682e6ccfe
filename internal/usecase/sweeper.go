package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/abhinav937/who-is-using-the-server/internal/core/domain"
	"github.com/abhinav937/who-is-using-the-server/internal/core/port"
	"github.com/abhinav937/who-is-using-the-server/internal/repository"
)

// SweeperService scans all known sessions, evicts the ones whose heartbeat
// exceeded the inactivity threshold or whose backing record vanished, and
// determines which servers transitioned to free. There is no background
// schedule: sweeping piggybacks on heartbeats and status reads, so staleness
// is bounded by the polling interval of the least-frequent caller.
type SweeperService struct {
	store             port.SessionStore
	sink              eventSink
	logger            *zap.Logger
	inactivityTimeout time.Duration
	now               func() time.Time
	sweeps            prometheus.Counter
}

// NewSweeperService constructs a SweeperService.
func NewSweeperService(store port.SessionStore, notifier port.Notifier, events port.EventPublisher, composer *Composer, inactivityTimeout time.Duration, logger *zap.Logger) *SweeperService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if composer == nil {
		composer = NewComposer(nil)
	}
	if inactivityTimeout <= 0 {
		inactivityTimeout = 90 * time.Second
	}

	return &SweeperService{
		store:             store,
		sink:              eventSink{composer: composer, notifier: notifier, events: events, logger: logger},
		logger:            logger,
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *SweeperService) WithClock(clock func() time.Time) *SweeperService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithSweepCounter attaches a counter incremented once per sweep pass.
func (s *SweeperService) WithSweepCounter(counter prometheus.Counter) *SweeperService {
	s.sweeps = counter
	return s
}

// SweepResult reports the sessions evicted and the servers freed by one pass.
type SweepResult struct {
	LoggedOffUsers []domain.Session
	FreedServers   []string
}

type eviction struct {
	event     domain.LifecycleEvent
	sessionID string
}

// Sweep enumerates sessions via the per-server membership sets, evicts
// timed-out sessions with reason timeout, reconciles orphaned membership
// entries with reason abrupt_disconnection, and emits server-free
// notifications for servers left without a single live occupant. Per-key
// store failures are logged and skipped; the pass itself only fails when the
// server enumeration does.
func (s *SweeperService) Sweep(ctx context.Context) (*SweepResult, error) {
	servers, err := s.store.ListServers(ctx)
	if err != nil {
		return nil, storeFailure("list servers", err)
	}
	if s.sweeps != nil {
		s.sweeps.Inc()
	}

	result := &SweepResult{}
	now := s.now()
	for _, serverID := range servers {
		s.sweepServer(ctx, serverID, now, result)
	}
	return result, nil
}

func (s *SweeperService) sweepServer(ctx context.Context, serverID string, now time.Time, result *SweepResult) {
	members, err := s.store.Members(ctx, serverID)
	if err != nil {
		s.logger.Warn("list members", zap.String("server_id", serverID), zap.Error(err))
		return
	}

	live := 0
	affected := false
	var evicted []eviction

	for _, key := range members {
		session, err := s.store.GetSessionByKey(ctx, key)
		switch {
		case err == nil:
			if !session.TimedOut(now, s.inactivityTimeout) {
				live++
				continue
			}
			if err := s.store.DeleteSession(ctx, session.ServerID, session.Username); err != nil {
				s.logger.Warn("evict session", zap.String("key", key), zap.Error(err))
				live++
				continue
			}
			if err := s.store.RemoveMember(ctx, serverID, key); err != nil {
				s.logger.Warn("remove membership", zap.String("key", key), zap.Error(err))
			}
			affected = true
			result.LoggedOffUsers = append(result.LoggedOffUsers, *session)
			evicted = append(evicted, eviction{
				event:     domain.NewLogoutEvent(session.ServerID, session.Username, domain.ReasonTimeout, session.Duration(now), now),
				sessionID: session.SessionID,
			})

		case errors.Is(err, repository.ErrNotFound):
			// Orphan: the store already expired the record, or it never
			// existed. Reconciling these is the expected steady state, not an
			// error path.
			if err := s.store.RemoveMember(ctx, serverID, key); err != nil {
				s.logger.Warn("remove orphan membership", zap.String("key", key), zap.Error(err))
				continue
			}
			affected = true
			username, ok := domain.UsernameFromKey(key, serverID)
			if !ok {
				s.logger.Warn("unparseable orphan key", zap.String("key", key), zap.String("server_id", serverID))
				continue
			}
			// Best effort: the record is gone, so the true cause is unknowable.
			ghost := domain.Session{ServerID: serverID, Username: username}
			result.LoggedOffUsers = append(result.LoggedOffUsers, ghost)
			evicted = append(evicted, eviction{
				event: domain.NewLogoutEvent(serverID, username, domain.ReasonAbruptDisconnection, 0, now),
			})

		default:
			s.logger.Warn("read member record", zap.String("key", key), zap.Error(err))
			live++
		}
	}

	freed := affected && live == 0
	if freed {
		result.FreedServers = append(result.FreedServers, serverID)
	}

	for i, e := range evicted {
		event := e.event
		if freed && i == len(evicted)-1 {
			// The server became free with this last eviction; one combined
			// message instead of a logout followed by a server-free.
			event = event.MergedWithServerFree()
		}
		s.sink.dispatch(ctx, event, e.sessionID)
	}
	if freed && len(evicted) == 0 {
		s.sink.dispatch(ctx, domain.NewServerFreeEvent(serverID, now), "")
	}

	if affected {
		s.logger.Info("sweep pass",
			zap.String("server_id", serverID),
			zap.Int("evicted", len(evicted)),
			zap.Int("live", live),
			zap.Bool("freed", freed),
		)
	}
}

// ActiveSessions returns the live sessions, optionally scoped to one server,
// together with the total live session count across all servers.
func (s *SweeperService) ActiveSessions(ctx context.Context, serverID string) ([]domain.Session, int, error) {
	servers, err := s.store.ListServers(ctx)
	if err != nil {
		return nil, 0, storeFailure("list servers", err)
	}

	scoped := make([]domain.Session, 0)
	total := 0
	for _, sv := range servers {
		members, err := s.store.Members(ctx, sv)
		if err != nil {
			s.logger.Warn("list members", zap.String("server_id", sv), zap.Error(err))
			continue
		}
		for _, key := range members {
			session, err := s.store.GetSessionByKey(ctx, key)
			if err != nil {
				if !errors.Is(err, repository.ErrNotFound) {
					s.logger.Warn("read member record", zap.String("key", key), zap.Error(err))
				}
				continue
			}
			total++
			if serverID == "" || session.ServerID == serverID {
				scoped = append(scoped, *session)
			}
		}
	}

	return scoped, total, nil
}
