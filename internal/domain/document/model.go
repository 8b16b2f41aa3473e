// Package document defines generated patient-facing documents and the
// approval workflow they move through.
package document

import "time"

// Status tracks a document through the review workflow.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusShared        Status = "shared"
)

// Audience identifies who the document is written for.
type Audience string

const (
	AudiencePatient   Audience = "patient"
	AudienceCaregiver Audience = "caregiver"
)

// Valid reports whether the audience is one of the known values.
func (a Audience) Valid() bool {
	return a == AudiencePatient || a == AudienceCaregiver
}

// CanTransition reports whether a document may move from one status to
// another. Sharing is only reachable from approved; editing states are
// handled by the service layer.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusPendingReview
	case StatusPendingReview:
		return to == StatusApproved || to == StatusRejected
	case StatusRejected:
		return to == StatusPendingReview
	case StatusApproved:
		return to == StatusShared
	}
	return false
}

// Document is a generated patient-friendly rendering of a case note.
type Document struct {
	ID           string    `db:"id" json:"id"`
	CaseID       string    `db:"case_id" json:"case_id"`
	ClinicianID  string    `db:"clinician_id" json:"clinician_id"`
	Audience     Audience  `db:"audience" json:"audience"`
	ReadingLevel string    `db:"reading_level" json:"reading_level"`
	Language     string    `db:"language" json:"language"`
	Content      string    `db:"content" json:"content"`
	Model        string    `db:"model" json:"model"`
	PromptTokens int       `db:"prompt_tokens" json:"prompt_tokens"`
	OutputTokens int       `db:"output_tokens" json:"output_tokens"`
	Status       Status    `db:"status" json:"status"`
	ReviewNote   string    `db:"review_note" json:"review_note,omitempty"`
	ReviewedBy   string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt   time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	GeneratedAt  time.Time `db:"generated_at" json:"generated_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Editable reports whether the document content may still be changed.
func (d Document) Editable() bool {
	return d.Status == StatusDraft || d.Status == StatusRejected
}

// ShareLink grants time-limited read access to a shared document.
type ShareLink struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	Token      string    `db:"token" json:"token"`
	ExpiresAt  time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the link is past its expiry.
func (l ShareLink) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt)
}
