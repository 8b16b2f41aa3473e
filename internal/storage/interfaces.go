// Package storage declares the persistence interfaces for medplain.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/medplain/medplain/internal/domain/document"
	"github.com/medplain/medplain/internal/domain/patientcase"
	"github.com/medplain/medplain/internal/domain/user"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a uniqueness constraint would be violated.
var ErrConflict = errors.New("record already exists")

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
}

// SessionStore persists refresh-token sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s user.Session) (user.Session, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (user.Session, error)
	UpdateSession(ctx context.Context, s user.Session) (user.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int, error)
}

// CaseStore persists clinical cases.
type CaseStore interface {
	CreateCase(ctx context.Context, c patientcase.Case) (patientcase.Case, error)
	GetCase(ctx context.Context, id string) (patientcase.Case, error)
	ListCases(ctx context.Context, clinicianID string) ([]patientcase.Case, error)
	UpdateCase(ctx context.Context, c patientcase.Case) (patientcase.Case, error)
	DeleteCase(ctx context.Context, id string) error
}

// DocumentStore persists generated documents.
type DocumentStore interface {
	CreateDocument(ctx context.Context, d document.Document) (document.Document, error)
	GetDocument(ctx context.Context, id string) (document.Document, error)
	ListDocumentsByCase(ctx context.Context, caseID string) ([]document.Document, error)
	UpdateDocument(ctx context.Context, d document.Document) (document.Document, error)
	DeleteDocumentsByCase(ctx context.Context, caseID string) error
}

// ShareStore persists share links.
type ShareStore interface {
	CreateShareLink(ctx context.Context, l document.ShareLink) (document.ShareLink, error)
	GetShareLinkByToken(ctx context.Context, token string) (document.ShareLink, error)
	DeleteExpiredShareLinks(ctx context.Context, cutoff time.Time) (int, error)
}
