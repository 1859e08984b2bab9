// Package session keeps the signed-in user and bearer token consistent between
// memory and durable storage, and serializes token refreshes.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"flowershop/internal/domain"
	"flowershop/internal/logging"
	"flowershop/internal/storage"
)

const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyAuthState    = "auth-storage"
)

// ExpirySkew treats a token this close to expiry as already expired.
const ExpirySkew = 30 * time.Second

var (
	ErrLoginRequired = errors.New("login required")
	ErrIncomplete    = errors.New("session: token and user must both be present")
)

type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Refresher exchanges a refresh token for a new pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error)
}

type persistedAuth struct {
	User            *domain.User `json:"user"`
	IsAuthenticated bool         `json:"isAuthenticated"`
}

type Manager struct {
	store     storage.Store
	refresher Refresher
	logger    *zap.Logger
	now       func() time.Time

	// OnExpired runs after an unrecoverable refresh failure purged the session.
	OnExpired func()

	mu          sync.RWMutex
	user        *domain.User
	accessToken string
	// gen changes on every sign-in and purge; a refresh started under an
	// older generation must not write its result.
	gen uint64

	flights singleflight.Group
}

func NewManager(st storage.Store, r Refresher, logger *zap.Logger) *Manager {
	return &Manager{
		store:     st,
		refresher: r,
		logger:    logging.OrNop(logger).Named("session"),
		now:       time.Now,
	}
}

// SetClock replaces the time source; tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetRefresher wires the refresh endpoint after construction, which breaks the
// construction cycle with the API client.
func (m *Manager) SetRefresher(r Refresher) {
	m.mu.Lock()
	m.refresher = r
	m.mu.Unlock()
}

// Restore rebuilds the in-memory session from storage. Anything short of a
// locally valid token plus a stored profile is purged.
func (m *Manager) Restore(ctx context.Context) State {
	_ = ctx
	token, _, err := m.store.Get(KeyAccessToken)
	if err != nil {
		m.logger.Warn("read access token", zap.Error(err))
	}
	var pa persistedAuth
	if _, err := storage.GetJSON(m.store, KeyAuthState, &pa); err != nil {
		m.logger.Warn("read auth state", zap.Error(err))
	}

	tok := strings.TrimSpace(string(token))
	if tok == "" || pa.User == nil || !pa.IsAuthenticated || !m.tokenValid(tok) {
		if tok != "" || pa.User != nil {
			m.logger.Info("purging stale session")
		}
		m.purge()
		return Unauthenticated
	}

	m.mu.Lock()
	u := *pa.User
	m.user = &u
	m.accessToken = tok
	m.mu.Unlock()
	m.logger.Info("session restored", zap.String("user_id", u.ID))
	return Authenticated
}

func (m *Manager) tokenValid(tok string) bool {
	exp, err := TokenExpiry(tok)
	if err != nil {
		return false
	}
	return m.now().Add(ExpirySkew).Before(exp)
}

// TokenExpiry reads exp without verifying the signature; the client has no key
// and only needs to know whether sending the token is worthwhile.
func TokenExpiry(tok string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

// Establish installs a fresh login result in memory and storage.
func (m *Manager) Establish(res domain.AuthResult) error {
	if strings.TrimSpace(res.AccessToken) == "" || res.User.ID == "" {
		return ErrIncomplete
	}
	u := res.User
	m.mu.Lock()
	m.gen++
	m.user = &u
	m.accessToken = res.AccessToken
	var errs []error
	errs = append(errs, m.store.Set(KeyAccessToken, []byte(res.AccessToken)))
	if res.RefreshToken != "" {
		errs = append(errs, m.store.Set(KeyRefreshToken, []byte(res.RefreshToken)))
	}
	errs = append(errs, storage.SetJSON(m.store, KeyAuthState, persistedAuth{User: &u, IsAuthenticated: true}))
	m.mu.Unlock()
	if err := errors.Join(errs...); err != nil {
		m.logger.Error("persist session", zap.Error(err))
	}
	m.logger.Info("signed in", zap.String("user_id", u.ID))
	return nil
}

// UpdateUser replaces the cached profile, e.g. after a bonus balance change.
// Ignored when signed out so a late profile response cannot resurrect a session.
func (m *Manager) UpdateUser(u domain.User) {
	m.mu.Lock()
	if m.user == nil || m.user.ID != u.ID {
		m.mu.Unlock()
		return
	}
	m.user = &u
	m.mu.Unlock()
	if err := storage.SetJSON(m.store, KeyAuthState, persistedAuth{User: &u, IsAuthenticated: true}); err != nil {
		m.logger.Error("persist profile", zap.Error(err))
	}
}

func (m *Manager) Logout() {
	m.purge()
	m.logger.Info("signed out")
}

func (m *Manager) purge() {
	m.mu.Lock()
	m.gen++
	m.user = nil
	m.accessToken = ""
	err := m.store.Delete(KeyAccessToken, KeyRefreshToken, KeyAuthState)
	m.mu.Unlock()
	if err != nil {
		m.logger.Error("purge session", zap.Error(err))
	}
}

func (m *Manager) State() State {
	if m.IsAuthenticated() {
		return Authenticated
	}
	return Unauthenticated
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil && m.accessToken != ""
}

func (m *Manager) User() (domain.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return domain.User{}, false
	}
	return *m.user, true
}

// AccessToken returns the in-memory token, falling back to the persisted one.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	tok := m.accessToken
	m.mu.RUnlock()
	if tok != "" {
		return tok
	}
	raw, ok, err := m.store.Get(KeyAccessToken)
	if err != nil || !ok {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// Refresh obtains a token newer than stale. Concurrent callers holding the same
// stale token share one network call; a caller whose token was already rotated
// gets the current one back without any call at all.
func (m *Manager) Refresh(ctx context.Context, stale string) (string, error) {
	if cur := m.AccessToken(); cur != "" && cur != stale {
		return cur, nil
	}
	ch := m.flights.DoChan(stale, func() (any, error) {
		return m.doRefresh(context.WithoutCancel(ctx), stale)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) doRefresh(ctx context.Context, stale string) (string, error) {
	if cur := m.AccessToken(); cur != "" && cur != stale {
		return cur, nil
	}
	m.mu.RLock()
	r := m.refresher
	signedIn := m.user != nil
	gen := m.gen
	m.mu.RUnlock()

	raw, ok, err := m.store.Get(KeyRefreshToken)
	if err != nil || !ok || len(raw) == 0 || r == nil || !signedIn {
		m.expire("no refresh token")
		return "", ErrLoginRequired
	}

	pair, err := r.Refresh(ctx, strings.TrimSpace(string(raw)))
	if err != nil || pair.AccessToken == "" {
		m.logger.Warn("token refresh failed", zap.Error(err))
		if m.generation() != gen {
			return "", ErrLoginRequired
		}
		m.expire("refresh rejected")
		return "", ErrLoginRequired
	}

	m.mu.Lock()
	if m.gen != gen || m.user == nil {
		m.mu.Unlock()
		m.logger.Info("dropping refresh result for a session that ended")
		return "", ErrLoginRequired
	}
	m.accessToken = pair.AccessToken
	errs := []error{m.store.Set(KeyAccessToken, []byte(pair.AccessToken))}
	if pair.RefreshToken != "" {
		errs = append(errs, m.store.Set(KeyRefreshToken, []byte(pair.RefreshToken)))
	}
	m.mu.Unlock()
	if err := errors.Join(errs...); err != nil {
		m.logger.Error("persist refreshed tokens", zap.Error(err))
	}
	m.logger.Debug("token refreshed")
	return pair.AccessToken, nil
}

func (m *Manager) generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

func (m *Manager) expire(reason string) {
	m.purge()
	m.logger.Info("session expired", zap.String("reason", reason))
	if m.OnExpired != nil {
		m.OnExpired()
	}
}
