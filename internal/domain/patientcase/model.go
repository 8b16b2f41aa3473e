// Package patientcase defines the clinical case records documents are
// generated from.
package patientcase

import "time"

// NoteType classifies the source clinical note.
type NoteType string

const (
	NoteProgress  NoteType = "progress"
	NoteDischarge NoteType = "discharge"
	NoteReferral  NoteType = "referral"
	NoteLab       NoteType = "lab"
)

// Valid reports whether the note type is one of the known values.
func (n NoteType) Valid() bool {
	switch n {
	case NoteProgress, NoteDischarge, NoteReferral, NoteLab:
		return true
	}
	return false
}

// Case holds a clinical note owned by a single clinician. PatientRef carries
// initials or a first name only; full identifiers never enter the system.
type Case struct {
	ID          string    `db:"id" json:"id"`
	ClinicianID string    `db:"clinician_id" json:"clinician_id"`
	PatientRef  string    `db:"patient_ref" json:"patient_ref"`
	Title       string    `db:"title" json:"title"`
	NoteText    string    `db:"note_text" json:"note_text"`
	NoteType    NoteType  `db:"note_type" json:"note_type"`
	Language    string    `db:"language" json:"language"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
