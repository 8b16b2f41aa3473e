package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medplain/medplain/internal/domain/user"
	"github.com/medplain/medplain/internal/storage/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(refreshTTL time.Duration) *Service {
	store := memory.New()
	tokens := NewTokenManager(testSecret, "medplain-test", 15*time.Minute)
	return New(store, store, tokens, refreshTTL, nil)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(0)
	ctx := context.Background()

	u, err := svc.Register(ctx, "Doc@Example.com", "Dr. Osei", "correct-horse-battery", user.RoleClinician)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Email != "doc@example.com" {
		t.Fatalf("expected normalized email, got %q", u.Email)
	}
	if u.PasswordHash == "correct-horse-battery" {
		t.Fatalf("password stored in plain text")
	}

	logged, pair, err := svc.Login(ctx, "doc@example.com", "correct-horse-battery", SessionMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if logged.ID != u.ID {
		t.Fatalf("unexpected user %q", logged.ID)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token pair, got %+v", pair)
	}

	claims, err := svc.Tokens().VerifyAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("verify access token: %v", err)
	}
	if claims.UserID != u.ID || claims.Role != string(user.RoleClinician) {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc := newTestService(0)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "doc@example.com", "One", "password-one-two", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := svc.Register(ctx, "doc@example.com", "Two", "password-one-two", "")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newTestService(0)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "doc@example.com", "Doc", "password-one-two", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := svc.Login(ctx, "doc@example.com", "wrong", SessionMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "other@example.com", "password-one-two", SessionMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc := newTestService(0)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "doc@example.com", "Doc", "password-one-two", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, pair, err := svc.Login(ctx, "doc@example.com", "password-one-two", SessionMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}

	// The previous refresh token must stop working after rotation.
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired for rotated token, got %v", err)
	}

	// The new one keeps working.
	if _, err := svc.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("refresh with rotated token: %v", err)
	}
}

func TestRefreshExpiredSession(t *testing.T) {
	svc := newTestService(-time.Minute)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "doc@example.com", "Doc", "password-one-two", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, pair, err := svc.Login(ctx, "doc@example.com", "password-one-two", SessionMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestLogoutDeletesSession(t *testing.T) {
	svc := newTestService(0)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "doc@example.com", "Doc", "password-one-two", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, pair, err := svc.Login(ctx, "doc@example.com", "password-one-two", SessionMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired after logout, got %v", err)
	}

	// Logging out twice is not an error.
	if err := svc.Logout(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("second logout: %v", err)
	}
}

func TestPurgeExpiredSessions(t *testing.T) {
	svc := newTestService(-time.Minute)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "doc@example.com", "Doc", "password-one-two", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := svc.Login(ctx, "doc@example.com", "password-one-two", SessionMeta{}); err != nil {
		t.Fatalf("login: %v", err)
	}

	removed, err := svc.PurgeExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged session, got %d", removed)
	}
}
