package usecase

import (
	"context"
	"errors"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"flowershop/internal/domain"
	"flowershop/internal/logging"
)

const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"

	MinPasswordLen = 8
)

// Claims is the JWT payload for both token kinds; Type tells them apart.
type Claims struct {
	Type string      `json:"typ"`
	Role domain.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type AuthService struct {
	Repo       UserRepo
	Telegram   TelegramVerifier
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
	Logger     *zap.Logger
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *AuthService) log() *zap.Logger { return logging.OrNop(s.Logger).Named("auth") }

func (s *AuthService) Register(ctx context.Context, email, password, name string) (*domain.AuthResult, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrBadRequest("invalid email")
	}
	if len(password) < MinPasswordLen {
		return nil, ErrBadRequest("password must be at least 8 characters")
	}
	if _, ok := s.Repo.GetUserByEmail(ctx, email); ok {
		return nil, ErrConflict("email already registered")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	u := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		Role:         domain.RoleCustomer,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Repo.PutUser(ctx, u); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, ErrConflict("email already registered")
		}
		return nil, err
	}
	s.log().Info("user registered", zap.String("user_id", u.ID))
	return s.issue(u)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.AuthResult, error) {
	u, ok := s.Repo.GetUserByEmail(ctx, normalizeEmail(email))
	if !ok || u.PasswordHash == "" {
		return nil, ErrUnauthorized("invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrUnauthorized("invalid email or password")
	}
	return s.issue(u)
}

// Refresh rotates the pair. The old refresh token stays valid until it
// expires; rotation only shortens the window a stolen token is useful.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	c, err := s.parse(refreshToken, TokenRefresh)
	if err != nil {
		return nil, err
	}
	u, ok := s.Repo.GetUser(ctx, c.Subject)
	if !ok {
		return nil, ErrUnauthorized("user no longer exists")
	}
	res, err := s.issue(u)
	if err != nil {
		return nil, err
	}
	return &res.TokenPair, nil
}

func (s *AuthService) TelegramLogin(ctx context.Context, fields map[string]string) (*domain.AuthResult, error) {
	if s.Telegram == nil {
		return nil, ErrBadRequest("telegram login disabled")
	}
	id, err := s.Telegram.VerifyLogin(fields)
	if err != nil {
		return nil, ErrUnauthorized(err.Error())
	}
	return s.telegramUser(ctx, id)
}

func (s *AuthService) TelegramMiniApp(ctx context.Context, initData string) (*domain.AuthResult, error) {
	if s.Telegram == nil {
		return nil, ErrBadRequest("telegram login disabled")
	}
	id, err := s.Telegram.VerifyMiniApp(initData)
	if err != nil {
		return nil, ErrUnauthorized(err.Error())
	}
	return s.telegramUser(ctx, id)
}

func (s *AuthService) telegramUser(ctx context.Context, id domain.TelegramIdentity) (*domain.AuthResult, error) {
	now := s.now().UTC()
	u, ok := s.Repo.GetUserByTelegramID(ctx, id.ID)
	if !ok {
		u = &domain.User{
			ID:         uuid.NewString(),
			TelegramID: id.ID,
			Role:       domain.RoleCustomer,
			CreatedAt:  now,
		}
		s.log().Info("telegram user created", zap.String("user_id", u.ID), zap.Int64("telegram_id", id.ID))
	}
	u.Name = id.DisplayName()
	if id.PhotoURL != "" {
		u.AvatarURL = id.PhotoURL
	}
	u.UpdatedAt = now
	if err := s.Repo.PutUser(ctx, u); err != nil {
		return nil, err
	}
	return s.issue(u)
}

// Verify checks an access token and returns the user ID it was issued to.
func (s *AuthService) Verify(token string) (string, domain.Role, error) {
	c, err := s.parse(token, TokenAccess)
	if err != nil {
		return "", "", err
	}
	return c.Subject, c.Role, nil
}

func (s *AuthService) Me(ctx context.Context, userID string) (*domain.User, error) {
	u, ok := s.Repo.GetUser(ctx, userID)
	if !ok {
		return nil, ErrNotFound("user")
	}
	return u, nil
}

func (s *AuthService) issue(u *domain.User) (*domain.AuthResult, error) {
	access, err := s.sign(u, TokenAccess, s.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(u, TokenRefresh, s.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &domain.AuthResult{
		TokenPair: domain.TokenPair{AccessToken: access, RefreshToken: refresh},
		User:      *u,
	}, nil
}

func (s *AuthService) sign(u *domain.User, typ string, ttl time.Duration) (string, error) {
	if s.JWTSecret == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := s.now()
	c := Claims{
		Type: typ,
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(s.JWTSecret))
}

func (s *AuthService) parse(token, typ string) (*Claims, error) {
	var c Claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		return []byte(s.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthorized("invalid or expired token")
	}
	if c.Type != typ {
		return nil, ErrUnauthorized("wrong token type: " + strconv.Quote(c.Type))
	}
	if c.Subject == "" {
		return nil, ErrUnauthorized("token has no subject")
	}
	return &c, nil
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
