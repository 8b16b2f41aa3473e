// Package documents implements generation, review and sharing of
// patient-friendly documents. A document can only be shared after a human
// reviewer has approved it.
package documents

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/medplain/medplain/internal/domain/document"
	"github.com/medplain/medplain/internal/domain/user"
	"github.com/medplain/medplain/internal/metrics"
	"github.com/medplain/medplain/internal/prompt"
	"github.com/medplain/medplain/internal/storage"
	"github.com/medplain/medplain/internal/watsonx"
	"github.com/medplain/medplain/pkg/logger"
)

var (
	// ErrForbidden is returned when a caller touches a document they do not
	// own.
	ErrForbidden = errors.New("document not accessible")
	// ErrInvalidTransition is returned for workflow moves outside the
	// allowed state table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotEditable is returned when content is changed outside draft or
	// rejected states.
	ErrNotEditable = errors.New("document is not editable in its current state")
	// ErrValidationFailed is returned when the model output fails validation
	// on both attempts.
	ErrValidationFailed = errors.New("generated output failed validation")
	// ErrShareExpired is returned when a share link is past its expiry.
	ErrShareExpired = errors.New("share link expired")
	// ErrInvalidInput marks caller mistakes in request payloads.
	ErrInvalidInput = errors.New("invalid input")
	// ErrGenerationUnavailable wraps model-call failures (network, IAM,
	// upstream 5xx) as distinct from output validation failures.
	ErrGenerationUnavailable = errors.New("document generation unavailable")
)

// defaultShareTTL controls how long share links stay valid.
const defaultShareTTL = 14 * 24 * time.Hour

// Actor identifies the authenticated caller.
type Actor struct {
	UserID string
	Role   user.Role
}

// Auditor records review and sharing decisions. Optional.
type Auditor interface {
	RecordEvent(ctx context.Context, action, documentID, actorID, detail string)
}

// Service manages the document lifecycle.
type Service struct {
	cases     storage.CaseStore
	store     storage.DocumentStore
	shares    storage.ShareStore
	generator watsonx.Generator
	auditor   Auditor
	shareTTL  time.Duration
	log       *logger.Logger
}

// New constructs the document service.
func New(cases storage.CaseStore, store storage.DocumentStore, shares storage.ShareStore, generator watsonx.Generator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("documents")
	}
	return &Service{
		cases:     cases,
		store:     store,
		shares:    shares,
		generator: generator,
		shareTTL:  defaultShareTTL,
		log:       log,
	}
}

// WithAuditor attaches an audit sink for review and share events.
func (s *Service) WithAuditor(a Auditor) *Service {
	s.auditor = a
	return s
}

// GenerateParams control a generation run. Language overrides the case
// language when set.
type GenerateParams struct {
	Audience     document.Audience
	ReadingLevel string
	Language     string
}

// Generate builds the prompt from the case note, calls the model, validates
// the output and stores the result as a draft. A validation failure triggers
// exactly one retry; failing twice persists nothing.
func (s *Service) Generate(ctx context.Context, actor Actor, caseID string, params GenerateParams) (document.Document, error) {
	start := time.Now()

	c, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		return document.Document{}, err
	}
	if actor.Role != user.RoleAdmin && c.ClinicianID != actor.UserID {
		return document.Document{}, ErrForbidden
	}

	if params.Audience == "" {
		params.Audience = document.AudiencePatient
	}
	if !params.Audience.Valid() {
		return document.Document{}, fmt.Errorf("%w: unknown audience %q", ErrInvalidInput, params.Audience)
	}
	lang := strings.TrimSpace(params.Language)
	if lang == "" {
		lang = c.Language
	}

	p, err := prompt.Build(prompt.Request{
		Note:         c.NoteText,
		NoteType:     c.NoteType,
		Audience:     params.Audience,
		ReadingLevel: params.ReadingLevel,
		Language:     lang,
	})
	if err != nil {
		return document.Document{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	result, err := s.generateValidated(ctx, p)
	if err != nil {
		metrics.RecordGeneration("failed", time.Since(start))
		return document.Document{}, err
	}

	doc := document.Document{
		CaseID:       c.ID,
		ClinicianID:  c.ClinicianID,
		Audience:     params.Audience,
		ReadingLevel: strings.TrimSpace(params.ReadingLevel),
		Language:     lang,
		Content:      strings.TrimSpace(result.Text),
		Model:        result.Model,
		PromptTokens: result.PromptTokens,
		OutputTokens: result.OutputTokens,
		Status:       document.StatusDraft,
		GeneratedAt:  time.Now().UTC(),
	}
	created, err := s.store.CreateDocument(ctx, doc)
	if err != nil {
		return document.Document{}, err
	}

	metrics.RecordGeneration("succeeded", time.Since(start))
	s.log.WithField("document_id", created.ID).
		WithField("case_id", c.ID).
		WithField("model", created.Model).
		Info("document generated")
	return created, nil
}

// generateValidated runs the model call with one retry on validation
// failure.
func (s *Service) generateValidated(ctx context.Context, p string) (watsonx.GenerationResult, error) {
	var lastReasons []string
	for attempt := 0; attempt < 2; attempt++ {
		result, err := s.generator.Generate(ctx, watsonx.GenerationRequest{Prompt: p})
		if err != nil {
			return watsonx.GenerationResult{}, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
		}

		reasons := prompt.Validate(result.Text)
		if len(reasons) == 0 {
			return result, nil
		}

		lastReasons = reasons
		for _, r := range reasons {
			metrics.RecordValidationFailure(r)
		}
		s.log.WithField("attempt", attempt+1).
			WithField("reasons", strings.Join(reasons, ",")).
			Warn("generated output failed validation")
	}
	return watsonx.GenerationResult{}, fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(lastReasons, ", "))
}

// Get fetches a document the actor may see.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (document.Document, error) {
	d, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return document.Document{}, err
	}
	if err := s.authorize(actor, d); err != nil {
		return document.Document{}, err
	}
	return d, nil
}

// ListByCase returns documents for a case the actor may see.
func (s *Service) ListByCase(ctx context.Context, actor Actor, caseID string) ([]document.Document, error) {
	c, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if actor.Role != user.RoleAdmin && c.ClinicianID != actor.UserID {
		return nil, ErrForbidden
	}
	return s.store.ListDocumentsByCase(ctx, caseID)
}

// UpdateContent edits the document text. Allowed in draft and rejected
// states only.
func (s *Service) UpdateContent(ctx context.Context, actor Actor, id, content string) (document.Document, error) {
	d, err := s.Get(ctx, actor, id)
	if err != nil {
		return document.Document{}, err
	}
	if !d.Editable() {
		return document.Document{}, ErrNotEditable
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return document.Document{}, fmt.Errorf("%w: content cannot be empty", ErrInvalidInput)
	}
	d.Content = content
	return s.store.UpdateDocument(ctx, d)
}

// SubmitForReview moves draft (or rejected, after edits) to pending_review.
func (s *Service) SubmitForReview(ctx context.Context, actor Actor, id string) (document.Document, error) {
	return s.transition(ctx, actor, id, document.StatusPendingReview, "", "submit")
}

// Approve moves pending_review to approved and records the reviewer.
func (s *Service) Approve(ctx context.Context, actor Actor, id string) (document.Document, error) {
	return s.transition(ctx, actor, id, document.StatusApproved, "", "approve")
}

// Reject moves pending_review to rejected. A reason is required.
func (s *Service) Reject(ctx context.Context, actor Actor, id, reason string) (document.Document, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return document.Document{}, fmt.Errorf("%w: a rejection reason is required", ErrInvalidInput)
	}
	return s.transition(ctx, actor, id, document.StatusRejected, reason, "reject")
}

// Share moves approved to shared and mints a share link. Sharing is the only
// way a document leaves the clinician's workspace, and it is unreachable
// without prior approval.
func (s *Service) Share(ctx context.Context, actor Actor, id string) (document.Document, document.ShareLink, error) {
	d, err := s.Get(ctx, actor, id)
	if err != nil {
		return document.Document{}, document.ShareLink{}, err
	}
	if !document.CanTransition(d.Status, document.StatusShared) {
		return document.Document{}, document.ShareLink{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, document.StatusShared)
	}

	token, err := newShareToken()
	if err != nil {
		return document.Document{}, document.ShareLink{}, err
	}
	link, err := s.shares.CreateShareLink(ctx, document.ShareLink{
		DocumentID: d.ID,
		Token:      token,
		ExpiresAt:  time.Now().Add(s.shareTTL).UTC(),
	})
	if err != nil {
		return document.Document{}, document.ShareLink{}, err
	}

	d.Status = document.StatusShared
	updated, err := s.store.UpdateDocument(ctx, d)
	if err != nil {
		return document.Document{}, document.ShareLink{}, err
	}

	s.audit(ctx, "document.share", d.ID, actor.UserID, "")
	s.log.WithField("document_id", d.ID).WithField("share_id", link.ID).Info("document shared")
	return updated, link, nil
}

// ResolveShare fetches a shared document by link token. Expired links are
// rejected.
func (s *Service) ResolveShare(ctx context.Context, token string) (document.Document, error) {
	link, err := s.shares.GetShareLinkByToken(ctx, token)
	if err != nil {
		return document.Document{}, err
	}
	if link.Expired(time.Now()) {
		return document.Document{}, ErrShareExpired
	}
	return s.store.GetDocument(ctx, link.DocumentID)
}

// PurgeExpiredShareLinks removes share links past their expiry.
func (s *Service) PurgeExpiredShareLinks(ctx context.Context) (int, error) {
	return s.shares.DeleteExpiredShareLinks(ctx, time.Now().UTC())
}

func (s *Service) transition(ctx context.Context, actor Actor, id string, to document.Status, reviewNote, action string) (document.Document, error) {
	d, err := s.Get(ctx, actor, id)
	if err != nil {
		return document.Document{}, err
	}
	if !document.CanTransition(d.Status, to) {
		return document.Document{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, to)
	}

	d.Status = to
	if to == document.StatusApproved || to == document.StatusRejected {
		d.ReviewedBy = actor.UserID
		d.ReviewedAt = time.Now().UTC()
		d.ReviewNote = reviewNote
	}

	updated, err := s.store.UpdateDocument(ctx, d)
	if err != nil {
		return document.Document{}, err
	}

	s.audit(ctx, "document."+action, d.ID, actor.UserID, reviewNote)
	s.log.WithField("document_id", d.ID).WithField("status", string(to)).Info("document status changed")
	return updated, nil
}

func (s *Service) authorize(actor Actor, d document.Document) error {
	if actor.Role == user.RoleAdmin {
		return nil
	}
	if d.ClinicianID != actor.UserID {
		return ErrForbidden
	}
	return nil
}

func (s *Service) audit(ctx context.Context, action, documentID, actorID, detail string) {
	if s.auditor != nil {
		s.auditor.RecordEvent(ctx, action, documentID, actorID, detail)
	}
}

func newShareToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
