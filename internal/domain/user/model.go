// Package user defines clinician and administrator accounts.
package user

import "time"

// Role controls what a user may see and approve.
type Role string

const (
	RoleClinician Role = "clinician"
	RoleAdmin     Role = "admin"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleClinician || r == RoleAdmin
}

// User represents an authenticated account.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	Role         Role      `db:"role" json:"role"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Session tracks a refresh-token session. Only the sha256 hash of the
// refresh token is ever stored.
type Session struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	TokenHash  string    `db:"token_hash" json:"-"`
	UserAgent  string    `db:"user_agent" json:"user_agent,omitempty"`
	RemoteAddr string    `db:"remote_addr" json:"remote_addr,omitempty"`
	ExpiresAt  time.Time `db:"expires_at" json:"expires_at"`
	LastSeenAt time.Time `db:"last_seen_at" json:"last_seen_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
