// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/medplain/medplain/internal/domain/document"
	"github.com/medplain/medplain/internal/domain/patientcase"
	"github.com/medplain/medplain/internal/domain/user"
	"github.com/medplain/medplain/internal/storage"
)

// Store implements the storage interfaces over a sqlx database handle.
type Store struct {
	db *sqlx.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)
var _ storage.CaseStore = (*Store)(nil)
var _ storage.DocumentStore = (*Store)(nil)
var _ storage.ShareStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const uniqueViolation = "23505"

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return storage.ErrConflict
	}
	return err
}

// --- UserStore ---------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, password_hash, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7)
	`, u.ID, u.Email, u.Name, u.Role, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	var u user.User
	err := s.db.GetContext(ctx, &u, `
		SELECT id, email, name, role, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`, id)
	return u, mapError(err)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	err := s.db.GetContext(ctx, &u, `
		SELECT id, email, name, role, password_hash, created_at, updated_at
		FROM users WHERE email = lower($1)
	`, email)
	return u, mapError(err)
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	u.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET name = $2, role = $3, password_hash = $4, updated_at = $5
		WHERE id = $1
	`, u.ID, u.Name, u.Role, u.PasswordHash, u.UpdatedAt)
	if err != nil {
		return user.User{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

// --- SessionStore ------------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess user.Session) (user.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.LastSeenAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, user_agent, remote_addr, expires_at, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.ID, sess.UserID, sess.TokenHash, sess.UserAgent, sess.RemoteAddr, sess.ExpiresAt, sess.LastSeenAt, sess.CreatedAt)
	if err != nil {
		return user.Session{}, mapError(err)
	}
	return sess, nil
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (user.Session, error) {
	var sess user.Session
	err := s.db.GetContext(ctx, &sess, `
		SELECT id, user_id, token_hash, user_agent, remote_addr, expires_at, last_seen_at, created_at
		FROM sessions WHERE token_hash = $1
	`, tokenHash)
	return sess, mapError(err)
}

func (s *Store) UpdateSession(ctx context.Context, sess user.Session) (user.Session, error) {
	sess.LastSeenAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET token_hash = $2, expires_at = $3, last_seen_at = $4
		WHERE id = $1
	`, sess.ID, sess.TokenHash, sess.ExpiresAt, sess.LastSeenAt)
	if err != nil {
		return user.Session{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, mapError(err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// --- CaseStore ---------------------------------------------------------------

func (s *Store) CreateCase(ctx context.Context, c patientcase.Case) (patientcase.Case, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, clinician_id, patient_ref, title, note_text, note_type, language, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.ClinicianID, c.PatientRef, c.Title, c.NoteText, c.NoteType, c.Language, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return patientcase.Case{}, mapError(err)
	}
	return c, nil
}

func (s *Store) GetCase(ctx context.Context, id string) (patientcase.Case, error) {
	var c patientcase.Case
	err := s.db.GetContext(ctx, &c, `
		SELECT id, clinician_id, patient_ref, title, note_text, note_type, language, created_at, updated_at
		FROM cases WHERE id = $1
	`, id)
	return c, mapError(err)
}

func (s *Store) ListCases(ctx context.Context, clinicianID string) ([]patientcase.Case, error) {
	var result []patientcase.Case
	var err error
	if clinicianID == "" {
		err = s.db.SelectContext(ctx, &result, `
			SELECT id, clinician_id, patient_ref, title, note_text, note_type, language, created_at, updated_at
			FROM cases ORDER BY created_at
		`)
	} else {
		err = s.db.SelectContext(ctx, &result, `
			SELECT id, clinician_id, patient_ref, title, note_text, note_type, language, created_at, updated_at
			FROM cases WHERE clinician_id = $1 ORDER BY created_at
		`, clinicianID)
	}
	return result, mapError(err)
}

func (s *Store) UpdateCase(ctx context.Context, c patientcase.Case) (patientcase.Case, error) {
	c.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE cases SET patient_ref = $2, title = $3, note_text = $4, note_type = $5, language = $6, updated_at = $7
		WHERE id = $1
	`, c.ID, c.PatientRef, c.Title, c.NoteText, c.NoteType, c.Language, c.UpdatedAt)
	if err != nil {
		return patientcase.Case{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return patientcase.Case{}, storage.ErrNotFound
	}
	return c, nil
}

func (s *Store) DeleteCase(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cases WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- DocumentStore -----------------------------------------------------------

func (s *Store) CreateDocument(ctx context.Context, d document.Document) (document.Document, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, case_id, clinician_id, audience, reading_level, language, content, model,
			prompt_tokens, output_tokens, status, review_note, reviewed_by, reviewed_at, generated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, d.ID, d.CaseID, d.ClinicianID, d.Audience, d.ReadingLevel, d.Language, d.Content, d.Model,
		d.PromptTokens, d.OutputTokens, d.Status, d.ReviewNote, d.ReviewedBy, nullTime(d.ReviewedAt), d.GeneratedAt, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return document.Document{}, mapError(err)
	}
	return d, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (document.Document, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, case_id, clinician_id, audience, reading_level, language, content, model,
			prompt_tokens, output_tokens, status, review_note, reviewed_by, reviewed_at, generated_at, created_at, updated_at
		FROM documents WHERE id = $1
	`, id)
	return scanDocument(row)
}

func (s *Store) ListDocumentsByCase(ctx context.Context, caseID string) ([]document.Document, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, case_id, clinician_id, audience, reading_level, language, content, model,
			prompt_tokens, output_tokens, status, review_note, reviewed_by, reviewed_at, generated_at, created_at, updated_at
		FROM documents WHERE case_id = $1 ORDER BY created_at
	`, caseID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *Store) UpdateDocument(ctx context.Context, d document.Document) (document.Document, error) {
	d.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET content = $2, status = $3, review_note = $4, reviewed_by = $5, reviewed_at = $6, updated_at = $7
		WHERE id = $1
	`, d.ID, d.Content, d.Status, d.ReviewNote, d.ReviewedBy, nullTime(d.ReviewedAt), d.UpdatedAt)
	if err != nil {
		return document.Document{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return document.Document{}, storage.ErrNotFound
	}
	return d, nil
}

func (s *Store) DeleteDocumentsByCase(ctx context.Context, caseID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE case_id = $1`, caseID)
	return mapError(err)
}

// --- ShareStore --------------------------------------------------------------

func (s *Store) CreateShareLink(ctx context.Context, l document.ShareLink) (document.ShareLink, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO share_links (id, document_id, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, l.ID, l.DocumentID, l.Token, l.ExpiresAt, l.CreatedAt)
	if err != nil {
		return document.ShareLink{}, mapError(err)
	}
	return l, nil
}

func (s *Store) GetShareLinkByToken(ctx context.Context, token string) (document.ShareLink, error) {
	var l document.ShareLink
	err := s.db.GetContext(ctx, &l, `
		SELECT id, document_id, token, expires_at, created_at
		FROM share_links WHERE token = $1
	`, token)
	return l, mapError(err)
}

func (s *Store) DeleteExpiredShareLinks(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM share_links WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, mapError(err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// --- helpers -----------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (document.Document, error) {
	var (
		d          document.Document
		reviewedAt sql.NullTime
	)
	err := row.Scan(&d.ID, &d.CaseID, &d.ClinicianID, &d.Audience, &d.ReadingLevel, &d.Language, &d.Content, &d.Model,
		&d.PromptTokens, &d.OutputTokens, &d.Status, &d.ReviewNote, &d.ReviewedBy, &reviewedAt, &d.GeneratedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return document.Document{}, mapError(err)
	}
	if reviewedAt.Valid {
		d.ReviewedAt = reviewedAt.Time
	}
	return d, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
