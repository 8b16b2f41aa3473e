// Package cases manages clinical case records. Every operation is scoped to
// the owning clinician; administrators may read across clinicians.
package cases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/medplain/medplain/internal/domain/patientcase"
	"github.com/medplain/medplain/internal/domain/user"
	"github.com/medplain/medplain/internal/storage"
	"github.com/medplain/medplain/pkg/logger"
)

var (
	// ErrForbidden is returned when a caller touches a case they do not own.
	ErrForbidden = errors.New("case not accessible")
	// ErrInvalidInput marks caller mistakes in request payloads.
	ErrInvalidInput = errors.New("invalid input")
)

// Actor identifies the authenticated caller for scoping decisions.
type Actor struct {
	UserID string
	Role   user.Role
}

// Service manages case records.
type Service struct {
	store     storage.CaseStore
	documents storage.DocumentStore
	log       *logger.Logger
}

// New constructs the case service.
func New(store storage.CaseStore, documents storage.DocumentStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("cases")
	}
	return &Service{store: store, documents: documents, log: log}
}

// Create registers a new case owned by the actor.
func (s *Service) Create(ctx context.Context, actor Actor, c patientcase.Case) (patientcase.Case, error) {
	c.ClinicianID = actor.UserID
	c.PatientRef = strings.TrimSpace(c.PatientRef)
	c.Title = strings.TrimSpace(c.Title)
	c.NoteText = strings.TrimSpace(c.NoteText)

	if c.PatientRef == "" {
		return patientcase.Case{}, fmt.Errorf("%w: patient_ref is required", ErrInvalidInput)
	}
	if c.Title == "" {
		return patientcase.Case{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if c.NoteText == "" {
		return patientcase.Case{}, fmt.Errorf("%w: note_text is required", ErrInvalidInput)
	}
	if !c.NoteType.Valid() {
		return patientcase.Case{}, fmt.Errorf("%w: unknown note_type %q", ErrInvalidInput, c.NoteType)
	}
	if c.Language == "" {
		c.Language = "en"
	}

	created, err := s.store.CreateCase(ctx, c)
	if err != nil {
		return patientcase.Case{}, err
	}
	s.log.WithField("case_id", created.ID).WithField("clinician_id", actor.UserID).Info("case created")
	return created, nil
}

// Get fetches a case the actor may see.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (patientcase.Case, error) {
	c, err := s.store.GetCase(ctx, id)
	if err != nil {
		return patientcase.Case{}, err
	}
	if err := s.authorize(actor, c); err != nil {
		return patientcase.Case{}, err
	}
	return c, nil
}

// List returns the actor's cases. Admins may pass clinicianID to inspect a
// specific clinician, or empty to list all.
func (s *Service) List(ctx context.Context, actor Actor, clinicianID string) ([]patientcase.Case, error) {
	if actor.Role != user.RoleAdmin {
		clinicianID = actor.UserID
	}
	return s.store.ListCases(ctx, clinicianID)
}

// Update modifies mutable fields on a case the actor owns.
func (s *Service) Update(ctx context.Context, actor Actor, id string, patientRef, title, noteText *string, noteType *patientcase.NoteType) (patientcase.Case, error) {
	c, err := s.Get(ctx, actor, id)
	if err != nil {
		return patientcase.Case{}, err
	}

	if patientRef != nil {
		if trimmed := strings.TrimSpace(*patientRef); trimmed != "" {
			c.PatientRef = trimmed
		} else {
			return patientcase.Case{}, fmt.Errorf("%w: patient_ref cannot be empty", ErrInvalidInput)
		}
	}
	if title != nil {
		if trimmed := strings.TrimSpace(*title); trimmed != "" {
			c.Title = trimmed
		} else {
			return patientcase.Case{}, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
	}
	if noteText != nil {
		if trimmed := strings.TrimSpace(*noteText); trimmed != "" {
			c.NoteText = trimmed
		} else {
			return patientcase.Case{}, fmt.Errorf("%w: note_text cannot be empty", ErrInvalidInput)
		}
	}
	if noteType != nil {
		if !noteType.Valid() {
			return patientcase.Case{}, fmt.Errorf("%w: unknown note_type %q", ErrInvalidInput, *noteType)
		}
		c.NoteType = *noteType
	}

	return s.store.UpdateCase(ctx, c)
}

// Delete removes a case and its generated documents.
func (s *Service) Delete(ctx context.Context, actor Actor, id string) error {
	c, err := s.store.GetCase(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, c); err != nil {
		return err
	}
	if err := s.documents.DeleteDocumentsByCase(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteCase(ctx, id); err != nil {
		return err
	}
	s.log.WithField("case_id", id).WithField("clinician_id", actor.UserID).Info("case deleted")
	return nil
}

func (s *Service) authorize(actor Actor, c patientcase.Case) error {
	if actor.Role == user.RoleAdmin {
		return nil
	}
	if c.ClinicianID != actor.UserID {
		return ErrForbidden
	}
	return nil
}
