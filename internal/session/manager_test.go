package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"flowershop/internal/domain"
	"flowershop/internal/storage"
)

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

type fakeRefresher struct {
	calls atomic.Int32
	delay time.Duration
	next  string
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return domain.TokenPair{}, f.err
	}
	return domain.TokenPair{AccessToken: f.next, RefreshToken: fmt.Sprintf("refresh-%d", n)}, nil
}

func signIn(t *testing.T, m *Manager, access string) {
	t.Helper()
	err := m.Establish(domain.AuthResult{
		TokenPair: domain.TokenPair{AccessToken: access, RefreshToken: "refresh-0"},
		User:      domain.User{ID: "u1", Name: "Ann", BonusBalance: 300},
	})
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
}

func TestRestoreValidSession(t *testing.T) {
	st := storage.NewMemoryStore()
	m := NewManager(st, nil, nil)
	signIn(t, m, signedToken(t, "u1", time.Now().Add(time.Hour)))

	restored := NewManager(st, nil, nil)
	if got := restored.Restore(context.Background()); got != Authenticated {
		t.Fatalf("expected authenticated, got %s", got)
	}
	u, ok := restored.User()
	if !ok || u.ID != "u1" || u.BonusBalance != 300 {
		t.Fatalf("unexpected user %+v ok=%v", u, ok)
	}
}

func TestRestoreExpiredTokenPurgesEverything(t *testing.T) {
	st := storage.NewMemoryStore()
	m := NewManager(st, nil, nil)
	signIn(t, m, signedToken(t, "u1", time.Now().Add(10*time.Second)))

	restored := NewManager(st, nil, nil)
	if got := restored.Restore(context.Background()); got != Unauthenticated {
		t.Fatalf("expected unauthenticated for token inside skew, got %s", got)
	}
	for _, k := range []string{KeyAccessToken, KeyRefreshToken, KeyAuthState} {
		if _, ok, _ := st.Get(k); ok {
			t.Errorf("expected %s to be purged", k)
		}
	}
}

func TestRestorePartialStateIsPurged(t *testing.T) {
	st := storage.NewMemoryStore()
	_ = st.Set(KeyAccessToken, []byte(signedToken(t, "u1", time.Now().Add(time.Hour))))

	m := NewManager(st, nil, nil)
	if got := m.Restore(context.Background()); got != Unauthenticated {
		t.Fatalf("expected unauthenticated without stored user, got %s", got)
	}
	if _, ok, _ := st.Get(KeyAccessToken); ok {
		t.Fatalf("expected orphan token to be purged")
	}

	_ = st.Set(KeyAccessToken, []byte("garbage"))
	_ = storage.SetJSON(st, KeyAuthState, persistedAuth{User: &domain.User{ID: "u1"}, IsAuthenticated: true})
	if got := m.Restore(context.Background()); got != Unauthenticated {
		t.Fatalf("expected unauthenticated for unparsable token, got %s", got)
	}
}

func TestEstablishRequiresTokenAndUser(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), nil, nil)
	if err := m.Establish(domain.AuthResult{User: domain.User{ID: "u1"}}); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if err := m.Establish(domain.AuthResult{TokenPair: domain.TokenPair{AccessToken: "x"}}); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if m.IsAuthenticated() {
		t.Fatalf("expected unauthenticated")
	}
}

func TestConcurrentRefreshCallsRefresherOnce(t *testing.T) {
	st := storage.NewMemoryStore()
	r := &fakeRefresher{delay: 50 * time.Millisecond, next: "fresh"}
	m := NewManager(st, r, nil)
	signIn(t, m, "stale")

	var wg sync.WaitGroup
	results := make([]string, 25)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.Refresh(context.Background(), "stale")
			if err != nil {
				t.Errorf("Refresh: %v", err)
			}
			results[i] = tok
		}(i)
	}
	wg.Wait()

	if got := r.calls.Load(); got != 1 {
		t.Fatalf("expected 1 refresh call, got %d", got)
	}
	for i, tok := range results {
		if tok != "fresh" {
			t.Fatalf("caller %d got %q", i, tok)
		}
	}

	// A late caller still holding the old token gets the rotated one for free.
	if tok, err := m.Refresh(context.Background(), "stale"); err != nil || tok != "fresh" {
		t.Fatalf("late caller: %q %v", tok, err)
	}
	if got := r.calls.Load(); got != 1 {
		t.Fatalf("expected still 1 refresh call, got %d", got)
	}
	if raw, _, _ := st.Get(KeyRefreshToken); string(raw) != "refresh-1" {
		t.Fatalf("expected rotated refresh token persisted, got %q", raw)
	}
}

func TestRefreshFailurePurgesAndSignalsExpiry(t *testing.T) {
	st := storage.NewMemoryStore()
	r := &fakeRefresher{err: errors.New("401")}
	m := NewManager(st, r, nil)
	expired := 0
	m.OnExpired = func() { expired++ }
	signIn(t, m, "stale")

	_, err := m.Refresh(context.Background(), "stale")
	if !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected ErrLoginRequired, got %v", err)
	}
	if m.IsAuthenticated() {
		t.Fatalf("expected session to be purged")
	}
	if expired != 1 {
		t.Fatalf("expected OnExpired once, got %d", expired)
	}
	if _, ok, _ := st.Get(KeyRefreshToken); ok {
		t.Fatalf("expected refresh token purged")
	}
}

func TestRefreshWaiterHonorsOwnContext(t *testing.T) {
	r := &fakeRefresher{delay: 200 * time.Millisecond, next: "fresh"}
	m := NewManager(storage.NewMemoryStore(), r, nil)
	signIn(t, m, "stale")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Refresh(ctx, "stale"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	// The detached refresh still completes for everyone else.
	tok, err := m.Refresh(context.Background(), "stale")
	if err != nil || tok != "fresh" {
		t.Fatalf("expected fresh token, got %q %v", tok, err)
	}
	if got := r.calls.Load(); got != 1 {
		t.Fatalf("expected 1 refresh call, got %d", got)
	}
}

func TestUpdateUserAfterLogoutIsDropped(t *testing.T) {
	st := storage.NewMemoryStore()
	m := NewManager(st, nil, nil)
	signIn(t, m, "tok")
	m.Logout()

	m.UpdateUser(domain.User{ID: "u1", BonusBalance: 999})
	if _, ok := m.User(); ok {
		t.Fatalf("late profile update must not resurrect the session")
	}
	if _, ok, _ := st.Get(KeyAuthState); ok {
		t.Fatalf("expected auth state to stay purged")
	}
}

func waitForCall(t *testing.T, r *fakeRefresher) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for r.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("refresher was never called")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLogoutDuringRefreshIsInert(t *testing.T) {
	st := storage.NewMemoryStore()
	r := &fakeRefresher{delay: 100 * time.Millisecond, next: "fresh"}
	m := NewManager(st, r, nil)
	expired := 0
	m.OnExpired = func() { expired++ }
	signIn(t, m, "stale")

	done := make(chan error, 1)
	go func() {
		_, err := m.Refresh(context.Background(), "stale")
		done <- err
	}()
	waitForCall(t, r)
	m.Logout()

	if err := <-done; !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected ErrLoginRequired, got %v", err)
	}
	if _, ok := m.User(); ok {
		t.Fatalf("expected no user after logout")
	}
	if tok := m.AccessToken(); tok != "" {
		t.Fatalf("expected no access token after logout, got %q", tok)
	}
	for _, k := range []string{KeyAccessToken, KeyRefreshToken, KeyAuthState} {
		if _, ok, _ := st.Get(k); ok {
			t.Fatalf("expected %s to stay purged", k)
		}
	}
	if expired != 0 {
		t.Fatalf("expected no expiry signal for a voluntary logout, got %d", expired)
	}
}

func TestReloginDuringRefreshKeepsNewSession(t *testing.T) {
	st := storage.NewMemoryStore()
	r := &fakeRefresher{delay: 100 * time.Millisecond, err: errors.New("401")}
	m := NewManager(st, r, nil)
	signIn(t, m, "stale")

	done := make(chan error, 1)
	go func() {
		_, err := m.Refresh(context.Background(), "stale")
		done <- err
	}()
	waitForCall(t, r)
	m.Logout()
	signIn(t, m, "second")

	if err := <-done; !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected ErrLoginRequired, got %v", err)
	}
	if !m.IsAuthenticated() || m.AccessToken() != "second" {
		t.Fatalf("expected the new session to survive, got %q", m.AccessToken())
	}
	if raw, _, _ := st.Get(KeyRefreshToken); string(raw) != "refresh-0" {
		t.Fatalf("expected new refresh token kept, got %q", raw)
	}
}
