// Package auth implements registration, login and refresh-token session
// management.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/medplain/medplain/internal/domain/user"
	"github.com/medplain/medplain/internal/storage"
	"github.com/medplain/medplain/pkg/logger"
)

var (
	// ErrInvalidCredentials is returned for unknown emails and wrong
	// passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionExpired is returned when a refresh token is unknown or past
	// its expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrEmailTaken is returned when registering a duplicate email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidInput marks caller mistakes in request payloads.
	ErrInvalidInput = errors.New("invalid input")
)

// Service manages users and sessions.
type Service struct {
	users      storage.UserStore
	sessions   storage.SessionStore
	tokens     *TokenManager
	refreshTTL time.Duration
	log        *logger.Logger
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SessionMeta carries client details recorded on the session row.
type SessionMeta struct {
	UserAgent  string
	RemoteAddr string
}

// New constructs the auth service.
func New(users storage.UserStore, sessions storage.SessionStore, tokens *TokenManager, refreshTTL time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	if refreshTTL == 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &Service{
		users:      users,
		sessions:   sessions,
		tokens:     tokens,
		refreshTTL: refreshTTL,
		log:        log,
	}
}

// Tokens exposes the token manager for the auth middleware.
func (s *Service) Tokens() *TokenManager { return s.tokens }

// Register creates a new user account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, email, name, password string, role user.Role) (user.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	if _, err := mail.ParseAddress(email); err != nil {
		return user.User{}, fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if name == "" {
		return user.User{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(password) < 10 {
		return user.User{}, fmt.Errorf("%w: password must be at least 10 characters", ErrInvalidInput)
	}
	if role == "" {
		role = user.RoleClinician
	}
	if !role.Valid() {
		return user.User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.users.CreateUser(ctx, user.User{
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: string(hash),
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return user.User{}, ErrEmailTaken
		}
		return user.User{}, err
	}

	s.log.WithField("user_id", created.ID).WithField("role", string(created.Role)).Info("user registered")
	return created, nil
}

// Login verifies credentials and opens a new session.
func (s *Service) Login(ctx context.Context, email, password string, meta SessionMeta) (user.User, TokenPair, error) {
	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, TokenPair{}, ErrInvalidCredentials
		}
		return user.User{}, TokenPair{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return user.User{}, TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.openSession(ctx, u, meta)
	if err != nil {
		return user.User{}, TokenPair{}, err
	}

	s.log.WithField("user_id", u.ID).Info("user logged in")
	return u, pair, nil
}

// Refresh rotates the session behind a refresh token and issues a fresh
// access token. The previous refresh token stops working immediately.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	sess, err := s.sessions.GetSessionByTokenHash(ctx, HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return TokenPair{}, ErrSessionExpired
		}
		return TokenPair{}, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.sessions.DeleteSession(ctx, sess.ID)
		return TokenPair{}, ErrSessionExpired
	}

	u, err := s.users.GetUser(ctx, sess.UserID)
	if err != nil {
		return TokenPair{}, ErrSessionExpired
	}

	next, err := newRefreshToken()
	if err != nil {
		return TokenPair{}, err
	}
	sess.TokenHash = HashToken(next)
	sess.ExpiresAt = time.Now().Add(s.refreshTTL).UTC()
	if _, err := s.sessions.UpdateSession(ctx, sess); err != nil {
		return TokenPair{}, err
	}

	access, err := s.tokens.IssueAccessToken(u)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: next,
		ExpiresAt:    sess.ExpiresAt,
	}, nil
}

// Logout deletes the session behind a refresh token. Unknown tokens are not
// an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	sess, err := s.sessions.GetSessionByTokenHash(ctx, HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.sessions.DeleteSession(ctx, sess.ID)
}

// GetUser fetches a user by ID.
func (s *Service) GetUser(ctx context.Context, id string) (user.User, error) {
	return s.users.GetUser(ctx, id)
}

// PurgeExpiredSessions removes sessions past their expiry.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int, error) {
	return s.sessions.DeleteExpiredSessions(ctx, time.Now().UTC())
}

func (s *Service) openSession(ctx context.Context, u user.User, meta SessionMeta) (TokenPair, error) {
	refresh, err := newRefreshToken()
	if err != nil {
		return TokenPair{}, err
	}

	sess := user.Session{
		UserID:     u.ID,
		TokenHash:  HashToken(refresh),
		UserAgent:  meta.UserAgent,
		RemoteAddr: meta.RemoteAddr,
		ExpiresAt:  time.Now().Add(s.refreshTTL).UTC(),
	}
	if _, err := s.sessions.CreateSession(ctx, sess); err != nil {
		return TokenPair{}, err
	}

	access, err := s.tokens.IssueAccessToken(u)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    sess.ExpiresAt,
	}, nil
}
