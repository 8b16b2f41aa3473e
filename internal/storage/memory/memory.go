// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medplain/medplain/internal/domain/document"
	"github.com/medplain/medplain/internal/domain/patientcase"
	"github.com/medplain/medplain/internal/domain/user"
	"github.com/medplain/medplain/internal/storage"
)

// Store is the in-memory implementation of every storage interface.
type Store struct {
	mu           sync.RWMutex
	users        map[string]user.User
	usersByEmail map[string]string
	sessions     map[string]user.Session
	sessionsByTH map[string]string
	cases        map[string]patientcase.Case
	documents    map[string]document.Document
	shares       map[string]document.ShareLink
	sharesByTok  map[string]string
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)
var _ storage.CaseStore = (*Store)(nil)
var _ storage.DocumentStore = (*Store)(nil)
var _ storage.ShareStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:        make(map[string]user.User),
		usersByEmail: make(map[string]string),
		sessions:     make(map[string]user.Session),
		sessionsByTH: make(map[string]string),
		cases:        make(map[string]patientcase.Case),
		documents:    make(map[string]document.Document),
		shares:       make(map[string]document.ShareLink),
		sharesByTok:  make(map[string]string),
	}
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(u.Email))
	if _, exists := s.usersByEmail[email]; exists {
		return user.User{}, storage.ErrConflict
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.Email = email
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	s.usersByEmail[email] = u.ID
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[u.ID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	u.Email = existing.Email
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = u
	return u, nil
}

// SessionStore implementation -------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess user.Session) (user.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.LastSeenAt = now

	s.sessions[sess.ID] = sess
	s.sessionsByTH[sess.TokenHash] = sess.ID
	return sess, nil
}

func (s *Store) GetSessionByTokenHash(_ context.Context, tokenHash string) (user.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.sessionsByTH[tokenHash]
	if !ok {
		return user.Session{}, storage.ErrNotFound
	}
	return s.sessions[id], nil
}

func (s *Store) UpdateSession(_ context.Context, sess user.Session) (user.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sess.ID]
	if !ok {
		return user.Session{}, storage.ErrNotFound
	}
	if existing.TokenHash != sess.TokenHash {
		delete(s.sessionsByTH, existing.TokenHash)
		s.sessionsByTH[sess.TokenHash] = sess.ID
	}
	sess.CreatedAt = existing.CreatedAt
	sess.LastSeenAt = time.Now().UTC()
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.sessionsByTH, sess.TokenHash)
	delete(s.sessions, id)
	return nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(cutoff) {
			delete(s.sessionsByTH, sess.TokenHash)
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// CaseStore implementation ----------------------------------------------------

func (s *Store) CreateCase(_ context.Context, c patientcase.Case) (patientcase.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.cases[c.ID] = c
	return c, nil
}

func (s *Store) GetCase(_ context.Context, id string) (patientcase.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[id]
	if !ok {
		return patientcase.Case{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListCases(_ context.Context, clinicianID string) ([]patientcase.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []patientcase.Case
	for _, c := range s.cases {
		if clinicianID == "" || c.ClinicianID == clinicianID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) UpdateCase(_ context.Context, c patientcase.Case) (patientcase.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cases[c.ID]
	if !ok {
		return patientcase.Case{}, storage.ErrNotFound
	}
	c.ClinicianID = existing.ClinicianID
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.cases[c.ID] = c
	return c, nil
}

func (s *Store) DeleteCase(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cases[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.cases, id)
	return nil
}

// DocumentStore implementation ------------------------------------------------

func (s *Store) CreateDocument(_ context.Context, d document.Document) (document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	s.documents[d.ID] = d
	return d, nil
}

func (s *Store) GetDocument(_ context.Context, id string) (document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.documents[id]
	if !ok {
		return document.Document{}, storage.ErrNotFound
	}
	return d, nil
}

func (s *Store) ListDocumentsByCase(_ context.Context, caseID string) ([]document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []document.Document
	for _, d := range s.documents {
		if d.CaseID == caseID {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) UpdateDocument(_ context.Context, d document.Document) (document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.documents[d.ID]
	if !ok {
		return document.Document{}, storage.ErrNotFound
	}
	d.CaseID = existing.CaseID
	d.ClinicianID = existing.ClinicianID
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = time.Now().UTC()
	s.documents[d.ID] = d
	return d, nil
}

func (s *Store) DeleteDocumentsByCase(_ context.Context, caseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, d := range s.documents {
		if d.CaseID == caseID {
			delete(s.documents, id)
		}
	}
	return nil
}

// ShareStore implementation ---------------------------------------------------

func (s *Store) CreateShareLink(_ context.Context, l document.ShareLink) (document.ShareLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = time.Now().UTC()
	s.shares[l.ID] = l
	s.sharesByTok[l.Token] = l.ID
	return l, nil
}

func (s *Store) GetShareLinkByToken(_ context.Context, token string) (document.ShareLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.sharesByTok[token]
	if !ok {
		return document.ShareLink{}, storage.ErrNotFound
	}
	return s.shares[id], nil
}

func (s *Store) DeleteExpiredShareLinks(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, l := range s.shares {
		if l.Expired(cutoff) {
			delete(s.sharesByTok, l.Token)
			delete(s.shares, id)
			removed++
		}
	}
	return removed, nil
}
