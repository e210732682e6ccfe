package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/abhinav937/who-is-using-the-server/internal/core/domain"
	"github.com/abhinav937/who-is-using-the-server/internal/repository"
)

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	members  map[string][]string
	ttls     map[string]time.Duration

	failGet    error
	failSave   error
	failList   error
	failDelete error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[string]domain.Session),
		members:  make(map[string][]string),
		ttls:     make(map[string]time.Duration),
	}
}

func (f *fakeSessionStore) GetSession(_ context.Context, serverID, username string) (*domain.Session, error) {
	return f.getByKey(domain.SessionKey(serverID, username))
}

func (f *fakeSessionStore) GetSessionByKey(_ context.Context, key string) (*domain.Session, error) {
	return f.getByKey(key)
}

func (f *fakeSessionStore) getByKey(key string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	session, ok := f.sessions[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := session
	return &copied, nil
}

func (f *fakeSessionStore) SaveSession(_ context.Context, session domain.Session, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave != nil {
		return f.failSave
	}
	f.sessions[session.Key()] = session
	f.ttls[session.Key()] = ttl
	return nil
}

func (f *fakeSessionStore) DeleteSession(_ context.Context, serverID, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete != nil {
		return f.failDelete
	}
	delete(f.sessions, domain.SessionKey(serverID, username))
	return nil
}

func (f *fakeSessionStore) AddMember(_ context.Context, serverID, sessionKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.members[serverID] {
		if existing == sessionKey {
			return nil
		}
	}
	f.members[serverID] = append(f.members[serverID], sessionKey)
	return nil
}

func (f *fakeSessionStore) RemoveMember(_ context.Context, serverID, sessionKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.members[serverID][:0]
	for _, existing := range f.members[serverID] {
		if existing != sessionKey {
			kept = append(kept, existing)
		}
	}
	f.members[serverID] = kept
	return nil
}

func (f *fakeSessionStore) Members(_ context.Context, serverID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.members[serverID]))
	copy(out, f.members[serverID])
	return out, nil
}

func (f *fakeSessionStore) MemberCount(_ context.Context, serverID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.members[serverID])), nil
}

func (f *fakeSessionStore) ListServers(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	servers := make([]string, 0, len(f.members))
	for serverID := range f.members {
		servers = append(servers, serverID)
	}
	return servers, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeNotifier) Send(_ context.Context, note domain.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, note.Text)
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

type fakePublisher struct {
	mu      sync.Mutex
	started []domain.SessionStartedEvent
	ended   []domain.SessionEndedEvent
	freed   []domain.ServerFreedEvent
}

func (f *fakePublisher) PublishSessionStarted(_ context.Context, event domain.SessionStartedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, event)
	return nil
}

func (f *fakePublisher) PublishSessionEnded(_ context.Context, event domain.SessionEndedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, event)
	return nil
}

func (f *fakePublisher) PublishServerFreed(_ context.Context, event domain.ServerFreedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freed = append(f.freed, event)
	return nil
}

func newTestRegistry(t *testing.T, store *fakeSessionStore, notifier *fakeNotifier, publisher *fakePublisher, now time.Time) *RegistryService {
	t.Helper()
	composer := NewComposer(time.UTC)
	svc := NewRegistryService(store, notifier, publisher, composer, 5*time.Minute, zaptest.NewLogger(t))
	return svc.WithClock(func() time.Time { return now })
}

func TestRecordHeartbeatCreatesSession(t *testing.T) {
	store := newFakeSessionStore()
	notifier := &fakeNotifier{}
	publisher := &fakePublisher{}
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestRegistry(t, store, notifier, publisher, now)

	result, err := svc.RecordHeartbeat(context.Background(), HeartbeatInput{
		ServerID: "srv1", Username: "alice", Status: "active", CPU: 12.5, Memory: 33.0,
	})
	if err != nil {
		t.Fatalf("RecordHeartbeat: %v", err)
	}
	if !result.IsNewSession {
		t.Fatalf("expected a new session")
	}
	if result.SessionID == "" {
		t.Fatalf("expected a generated session id")
	}
	if result.SessionCount != 1 {
		t.Fatalf("expected session count 1, got %d", result.SessionCount)
	}

	saved, err := store.GetSession(context.Background(), "srv1", "alice")
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if saved.HeartbeatCount != 1 {
		t.Fatalf("expected heartbeat count 1, got %d", saved.HeartbeatCount)
	}
	if !saved.LoginTime.Equal(now) {
		t.Fatalf("unexpected login time %s", saved.LoginTime)
	}
	if store.ttls[saved.Key()] != 5*time.Minute {
		t.Fatalf("expected session ttl 5m, got %s", store.ttls[saved.Key()])
	}

	sent := notifier.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "[LOGIN]") {
		t.Fatalf("expected one login notification, got %v", sent)
	}
	if len(publisher.started) != 1 || publisher.started[0].Username != "alice" {
		t.Fatalf("expected one session started event, got %+v", publisher.started)
	}
}

func TestRecordHeartbeatRefreshesExistingSession(t *testing.T) {
	store := newFakeSessionStore()
	notifier := &fakeNotifier{}
	publisher := &fakePublisher{}
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestRegistry(t, store, notifier, publisher, now)

	first, err := svc.RecordHeartbeat(context.Background(), HeartbeatInput{ServerID: "srv1", Username: "alice"})
	if err != nil {
		t.Fatalf("first heartbeat: %v", err)
	}

	later := now.Add(30 * time.Second)
	svc.WithClock(func() time.Time { return later })

	second, err := svc.RecordHeartbeat(context.Background(), HeartbeatInput{ServerID: "srv1", Username: "alice", Status: "busy"})
	if err != nil {
		t.Fatalf("second heartbeat: %v", err)
	}
	if second.IsNewSession {
		t.Fatalf("expected refresh, not a new session")
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("session id changed across heartbeats: %q vs %q", first.SessionID, second.SessionID)
	}

	saved, _ := store.GetSession(context.Background(), "srv1", "alice")
	if !saved.LoginTime.Equal(now) {
		t.Fatalf("login time reset on refresh")
	}
	if !saved.LastHeartbeat.Equal(later) {
		t.Fatalf("last heartbeat not advanced")
	}
	if saved.HeartbeatCount != 2 {
		t.Fatalf("expected heartbeat count 2, got %d", saved.HeartbeatCount)
	}

	if got := notifier.sent(); len(got) != 1 {
		t.Fatalf("expected a single login notification, got %v", got)
	}
}

func TestRecordHeartbeatValidation(t *testing.T) {
	svc := newTestRegistry(t, newFakeSessionStore(), &fakeNotifier{}, &fakePublisher{}, time.Now())

	for _, in := range []HeartbeatInput{
		{ServerID: "", Username: "alice"},
		{ServerID: "srv1", Username: ""},
		{ServerID: "  ", Username: "alice"},
	} {
		if _, err := svc.RecordHeartbeat(context.Background(), in); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", in, err)
		}
	}
}

func TestRecordHeartbeatStoreFailure(t *testing.T) {
	store := newFakeSessionStore()
	store.failGet = errors.New("connection refused")
	svc := newTestRegistry(t, store, &fakeNotifier{}, &fakePublisher{}, time.Now())

	_, err := svc.RecordHeartbeat(context.Background(), HeartbeatInput{ServerID: "srv1", Username: "alice"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable error, got %v", err)
	}
}

func TestLoginSharesUpsertContract(t *testing.T) {
	store := newFakeSessionStore()
	notifier := &fakeNotifier{}
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestRegistry(t, store, notifier, &fakePublisher{}, now)

	first, err := svc.Login(context.Background(), LoginInput{ServerID: "srv1", Username: "alice", SessionID: "sess-9"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !first.Created || first.SessionID != "sess-9" {
		t.Fatalf("unexpected first login result %+v", first)
	}

	second, err := svc.Login(context.Background(), LoginInput{ServerID: "srv1", Username: "alice"})
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if second.Created {
		t.Fatalf("expected existing session to be refreshed, not recreated")
	}
	if second.SessionID != "sess-9" {
		t.Fatalf("session id changed on repeat login: %q", second.SessionID)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	store := newFakeSessionStore()
	notifier := &fakeNotifier{}
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestRegistry(t, store, notifier, &fakePublisher{}, now)

	if _, err := svc.RecordHeartbeat(context.Background(), HeartbeatInput{ServerID: "srv1", Username: "alice"}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	first, err := svc.Logout(context.Background(), LogoutInput{ServerID: "srv1", Username: "alice"})
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !first.Found {
		t.Fatalf("expected first logout to find the session")
	}

	notificationsAfterFirst := len(notifier.sent())

	second, err := svc.Logout(context.Background(), LogoutInput{ServerID: "srv1", Username: "alice"})
	if err != nil {
		t.Fatalf("repeat logout: %v", err)
	}
	if second.Found {
		t.Fatalf("expected repeat logout to be a no-op")
	}
	if got := len(notifier.sent()); got != notificationsAfterFirst {
		t.Fatalf("repeat logout emitted notifications: %d vs %d", got, notificationsAfterFirst)
	}
}

func TestLogoutMergesServerFreeNotification(t *testing.T) {
	store := newFakeSessionStore()
	notifier := &fakeNotifier{}
	publisher := &fakePublisher{}
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestRegistry(t, store, notifier, publisher, now)

	if _, err := svc.RecordHeartbeat(context.Background(), HeartbeatInput{ServerID: "srv1", Username: "alice"}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	svc.WithClock(func() time.Time { return now.Add(61 * time.Second) })

	result, err := svc.Logout(context.Background(), LogoutInput{ServerID: "srv1", Username: "alice", Reason: domain.ReasonGracefulShutdown})
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !result.ServerFree {
		t.Fatalf("expected server to be reported free")
	}

	sent := notifier.sent()
	if len(sent) != 2 {
		t.Fatalf("expected login plus one combined notification, got %v", sent)
	}
	combined := sent[1]
	if !strings.Contains(combined, "[LOGOFF]") || !strings.Contains(combined, "now free") {
		t.Fatalf("expected combined logout and server-free message, got %q", combined)
	}
	if !strings.Contains(combined, "graceful shutdown") || !strings.Contains(combined, "1m 1s") {
		t.Fatalf("expected reason and duration in message, got %q", combined)
	}

	// The notification is merged but the bus still carries both facts.
	if len(publisher.ended) != 1 || len(publisher.freed) != 1 {
		t.Fatalf("expected session ended and server freed events, got %+v / %+v", publisher.ended, publisher.freed)
	}
	if publisher.ended[0].Reason != domain.ReasonGracefulShutdown {
		t.Fatalf("unexpected ended reason %q", publisher.ended[0].Reason)
	}
}

func TestLogoutKeepsOccupiedServerQuiet(t *testing.T) {
	store := newFakeSessionStore()
	notifier := &fakeNotifier{}
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestRegistry(t, store, notifier, &fakePublisher{}, now)

	for _, user := range []string{"alice", "bob"} {
		if _, err := svc.RecordHeartbeat(context.Background(), HeartbeatInput{ServerID: "srv1", Username: user}); err != nil {
			t.Fatalf("heartbeat %s: %v", user, err)
		}
	}

	result, err := svc.Logout(context.Background(), LogoutInput{ServerID: "srv1", Username: "alice"})
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if result.ServerFree {
		t.Fatalf("server still occupied by bob, must not be reported free")
	}

	sent := notifier.sent()
	last := sent[len(sent)-1]
	if strings.Contains(last, "now free") {
		t.Fatalf("logout notification must not mention a free server: %q", last)
	}
}

func TestLogoutRejectsUnknownReason(t *testing.T) {
	svc := newTestRegistry(t, newFakeSessionStore(), &fakeNotifier{}, &fakePublisher{}, time.Now())

	_, err := svc.Logout(context.Background(), LogoutInput{ServerID: "srv1", Username: "alice", Reason: "rebooted"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConcurrentHeartbeatsKeepOneRecord(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestRegistry(t, store, &fakeNotifier{}, &fakePublisher{}, time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.RecordHeartbeat(context.Background(), HeartbeatInput{ServerID: "srv1", Username: "alice"})
		}()
	}
	wg.Wait()

	if len(store.sessions) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(store.sessions))
	}
	count, _ := store.MemberCount(context.Background(), "srv1")
	if count != 1 {
		t.Fatalf("expected one membership entry, got %d", count)
	}
}
