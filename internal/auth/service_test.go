package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bookwise/bookwise/internal/log"
	"github.com/bookwise/bookwise/internal/metrics"
	"github.com/bookwise/bookwise/internal/store"
)

// fakeStore is an in-memory Store for service tests. Rotation uses the same
// conditional-update semantics as the database.
type fakeStore struct {
	mu     sync.Mutex
	users  map[string]*store.User // by email
	byID   map[uuid.UUID]*store.User
	tokens map[string]*store.RefreshToken // by hash
	events []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]*store.User),
		byID:   make(map[uuid.UUID]*store.User),
		tokens: make(map[string]*store.RefreshToken),
	}
}

func (f *fakeStore) CreateUser(_ context.Context, email, passwordHash, fullName string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[email]; ok {
		return nil, store.ErrEmailTaken
	}
	u := &store.User{ID: uuid.New(), Email: email, PasswordHash: passwordHash, FullName: fullName, Role: "student"}
	f.users[email] = u
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeStore) UserByEmail(_ context.Context, email string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) InsertRefreshToken(_ context.Context, userID uuid.UUID, tokenHash, ip, ua string, expiresAt time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.tokens[tokenHash] = &store.RefreshToken{ID: id, UserID: userID, TokenHash: tokenHash, ExpiresAt: expiresAt}
	return id, nil
}

func (f *fakeStore) RotateRefreshToken(_ context.Context, oldHash, newHash, ip, ua string, expiresAt time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.tokens[oldHash]
	if !ok || old.Revoked || !old.ExpiresAt.After(time.Now()) {
		return uuid.Nil, store.ErrNotRotatable
	}
	old.Revoked = true
	f.tokens[newHash] = &store.RefreshToken{ID: uuid.New(), UserID: old.UserID, TokenHash: newHash, ExpiresAt: expiresAt}
	return old.UserID, nil
}

func (f *fakeStore) RefreshTokenByHash(_ context.Context, tokenHash string) (*store.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tokens[tokenHash]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) RevokeRefreshToken(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tokens[tokenHash]; ok {
		t.Revoked = true
	}
	return nil
}

func (f *fakeStore) RevokeAllUserTokens(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) LogAuthEvent(_ context.Context, _ *uuid.UUID, eventType, _, _ string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakeStore) liveTokens(userID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tokens {
		if t.UserID == userID && !t.Revoked {
			n++
		}
	}
	return n
}

func (f *fakeStore) hasEvent(eventType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T, fs *fakeStore) *Service {
	t.Helper()
	tokens := newTestTokens(15*time.Minute, 7*24*time.Hour)
	svc, err := NewService(fs, tokens, metrics.Nop{}, log.NewNop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestRegisterAndLogin(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	user, pair, err := svc.Register(ctx, "Reader@Example.com", "s3cret-pass", "Reader", ClientInfo{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "reader@example.com" {
		t.Errorf("email not lowercased: %q", user.Email)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty token pair")
	}
	if !fs.hasEvent(store.EventRegister) {
		t.Error("register event not recorded")
	}

	if _, _, err := svc.Register(ctx, "reader@example.com", "s3cret-pass", "", ClientInfo{}); !errors.Is(err, store.ErrEmailTaken) {
		t.Errorf("duplicate register: got %v, want ErrEmailTaken", err)
	}
	if _, _, err := svc.Register(ctx, "not-an-email", "s3cret-pass", "", ClientInfo{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("bad email: got %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Register(ctx, "short@example.com", "2short", "", ClientInfo{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("short password: got %v, want ErrInvalidCredentials", err)
	}

	if _, _, err := svc.Login(ctx, "reader@example.com", "s3cret-pass", false, ClientInfo{}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !fs.hasEvent(store.EventLogin) {
		t.Error("login event not recorded")
	}

	if _, _, err := svc.Login(ctx, "reader@example.com", "wrong", false, ClientInfo{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login(ctx, "ghost@example.com", "whatever1", false, ClientInfo{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: got %v, want ErrInvalidCredentials", err)
	}
	if !fs.hasEvent(store.EventLoginFail) {
		t.Error("login failure event not recorded")
	}
}

func TestRefreshRotation(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	user, pair, err := svc.Register(ctx, "rotator@example.com", "s3cret-pass", "", ClientInfo{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	next, err := svc.Refresh(ctx, pair.RefreshToken, ClientInfo{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token not rotated")
	}
	if fs.liveTokens(user.ID) != 1 {
		t.Fatalf("live tokens = %d, want 1", fs.liveTokens(user.ID))
	}

	// The rotated-in token works.
	if _, err := svc.Refresh(ctx, next.RefreshToken, ClientInfo{}); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	user, pair, err := svc.Register(ctx, "victim@example.com", "s3cret-pass", "", ClientInfo{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	next, err := svc.Refresh(ctx, pair.RefreshToken, ClientInfo{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// The attacker replays the consumed token.
	if _, err := svc.Refresh(ctx, pair.RefreshToken, ClientInfo{}); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("replayed token: got %v, want ErrTokenReused", err)
	}
	if !fs.hasEvent(store.EventTokenReuse) {
		t.Error("reuse event not recorded")
	}
	if fs.liveTokens(user.ID) != 0 {
		t.Fatalf("live tokens after reuse = %d, want 0", fs.liveTokens(user.ID))
	}

	// The legitimate holder is locked out too and must log in again.
	if _, err := svc.Refresh(ctx, next.RefreshToken, ClientInfo{}); err == nil {
		t.Fatal("revoked family token still rotated")
	}
}

func TestRefreshConcurrentSingleWinner(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	_, pair, err := svc.Register(ctx, "racer@example.com", "s3cret-pass", "", ClientInfo{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	wins := make(chan *TokenPair, racers)
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p, err := svc.Refresh(ctx, pair.RefreshToken, ClientInfo{}); err == nil {
				wins <- p
			}
		}()
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Fatalf("%d concurrent refreshes succeeded, want exactly 1", got)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	_, pair, err := svc.Register(ctx, "confused@example.com", "s3cret-pass", "", ClientInfo{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.AccessToken, ClientInfo{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("access token as refresh: got %v, want ErrUnauthorized", err)
	}
}

func TestLogout(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	user, pair, err := svc.Register(ctx, "leaver@example.com", "s3cret-pass", "", ClientInfo{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := svc.Logout(ctx, pair.RefreshToken, ClientInfo{}); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if fs.liveTokens(user.ID) != 0 {
		t.Fatalf("live tokens after logout = %d, want 0", fs.liveTokens(user.ID))
	}
	if !fs.hasEvent(store.EventLogout) {
		t.Error("logout event not recorded")
	}

	// Logging out twice, or with garbage, is fine.
	if err := svc.Logout(ctx, pair.RefreshToken, ClientInfo{}); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if err := svc.Logout(ctx, "not-a-token", ClientInfo{}); err != nil {
		t.Fatalf("garbage Logout: %v", err)
	}
}
