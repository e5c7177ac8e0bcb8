package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bookwise/bookwise/internal/auth"
	"github.com/bookwise/bookwise/internal/log"
	"github.com/bookwise/bookwise/internal/metrics"
	"github.com/bookwise/bookwise/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*store.Session
	byHash   map[string]uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[uuid.UUID]*store.Session),
		byHash:   make(map[string]uuid.UUID),
	}
}

func (f *fakeStore) CreateGuestSession(_ context.Context, tokenHash, language string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &store.Session{ID: uuid.New(), TokenHash: &tokenHash, Language: language, CreatedAt: time.Now(), LastActivity: time.Now()}
	f.sessions[s.ID] = s
	f.byHash[tokenHash] = s.ID
	return s, nil
}

func (f *fakeStore) CreateUserSession(_ context.Context, userID uuid.UUID, language string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uid := userID
	s := &store.Session{ID: uuid.New(), UserID: &uid, Language: language, CreatedAt: time.Now(), LastActivity: time.Now()}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeStore) SessionByTokenHash(_ context.Context, tokenHash string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byHash[tokenHash]; ok {
		cp := *f.sessions[id]
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) LatestUserSession(_ context.Context, userID uuid.UUID) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *store.Session
	for _, s := range f.sessions {
		if s.UserID != nil && *s.UserID == userID {
			if latest == nil || s.LastActivity.After(latest.LastActivity) {
				latest = s
			}
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStore) TouchSession(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.LastActivity = time.Now()
	}
	return nil
}

func (f *fakeStore) ConsumeGuestQuestion(_ context.Context, id uuid.UUID, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.UserID != nil || s.QuestionCount >= limit {
		return 0, store.ErrQuotaExhausted
	}
	s.QuestionCount++
	return s.QuestionCount, nil
}

func (f *fakeStore) MigrateSession(_ context.Context, tokenHash string, userID uuid.UUID) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byHash[tokenHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	s := f.sessions[id]
	if s.UserID != nil {
		return nil, store.ErrNotFound
	}
	uid := userID
	s.UserID = &uid
	s.TokenHash = nil
	delete(f.byHash, tokenHash)
	cp := *s
	return &cp, nil
}

func newTestManager(t *testing.T, fs *fakeStore, limit int) *Manager {
	t.Helper()
	m, err := NewManager(fs, limit, metrics.Nop{}, log.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestResolveNewGuest(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(t, fs, 10)
	ctx := context.Background()

	res, err := m.Resolve(ctx, "", nil, "en")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.NewToken == "" {
		t.Fatal("expected a fresh guest token")
	}
	if !res.Session.IsGuest() {
		t.Fatal("expected a guest session")
	}

	// Plaintext token must not be what's stored.
	if *res.Session.TokenHash == res.NewToken {
		t.Fatal("guest token stored in plaintext")
	}
	if *res.Session.TokenHash != auth.HashToken(res.NewToken) {
		t.Fatal("stored hash does not match token")
	}
}

func TestResolveKnownGuest(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(t, fs, 10)
	ctx := context.Background()

	first, err := m.Resolve(ctx, "", nil, "ur")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	again, err := m.Resolve(ctx, first.NewToken, nil, "ur")
	if err != nil {
		t.Fatalf("Resolve known token: %v", err)
	}
	if again.NewToken != "" {
		t.Fatal("known token should not mint a new one")
	}
	if again.Session.ID != first.Session.ID {
		t.Fatal("known token resolved to a different session")
	}
}

func TestResolveUnknownGuestTokenMintsNew(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(t, fs, 10)

	res, err := m.Resolve(context.Background(), "bogus-token", nil, "en")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.NewToken == "" {
		t.Fatal("unknown token should mint a fresh session and token")
	}
}

func TestResolveUser(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(t, fs, 10)
	ctx := context.Background()
	userID := uuid.New()

	first, err := m.Resolve(ctx, "", &userID, "en")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.Session.IsGuest() || first.NewToken != "" {
		t.Fatal("expected an authenticated session with no guest token")
	}

	second, err := m.Resolve(ctx, "", &userID, "en")
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	if second.Session.ID != first.Session.ID {
		t.Fatal("user resolved to a different session on repeat")
	}
}

func TestConsumeQuestionQuota(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(t, fs, 3)
	ctx := context.Background()

	res, err := m.Resolve(ctx, "", nil, "en")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	for want := 2; want >= 0; want-- {
		remaining, err := m.ConsumeQuestion(ctx, res.Session)
		if err != nil {
			t.Fatalf("ConsumeQuestion: %v", err)
		}
		if remaining != want {
			t.Fatalf("remaining = %d, want %d", remaining, want)
		}
	}

	if _, err := m.ConsumeQuestion(ctx, res.Session); !errors.Is(err, ErrGuestLimit) {
		t.Fatalf("over quota: got %v, want ErrGuestLimit", err)
	}
}

func TestConsumeQuestionUncountedForUsers(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(t, fs, 1)
	ctx := context.Background()
	userID := uuid.New()

	res, err := m.Resolve(ctx, "", &userID, "en")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	for range 5 {
		if _, err := m.ConsumeQuestion(ctx, res.Session); err != nil {
			t.Fatalf("ConsumeQuestion on user session: %v", err)
		}
	}
}

func TestMigrate(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(t, fs, 10)
	ctx := context.Background()
	userID := uuid.New()

	res, err := m.Resolve(ctx, "", nil, "en")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	migrated, err := m.Migrate(ctx, res.NewToken, userID)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if migrated.IsGuest() {
		t.Fatal("migrated session still a guest")
	}
	if migrated.ID != res.Session.ID {
		t.Fatal("migration changed the session identity")
	}

	// The guest token is dead after migration.
	if _, err := m.Migrate(ctx, res.NewToken, userID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("re-migrate: got %v, want ErrNotFound", err)
	}
}

func TestGuestTokensUnique(t *testing.T) {
	fs := newFakeStore()
	m := newTestManager(t, fs, 10)
	ctx := context.Background()

	seen := make(map[string]bool)
	for range 50 {
		res, err := m.Resolve(ctx, "", nil, "en")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if seen[res.NewToken] {
			t.Fatal("guest token repeated")
		}
		seen[res.NewToken] = true
	}
}
