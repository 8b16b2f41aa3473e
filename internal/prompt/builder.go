// Package prompt builds model prompts from case notes and validates the
// generated output before it enters the review workflow.
package prompt

import (
	"fmt"
	"strings"

	"github.com/medplain/medplain/internal/domain/document"
	"github.com/medplain/medplain/internal/domain/patientcase"
)

// maxNoteLength bounds the clinical note accepted into a prompt. Longer
// notes must be split into separate cases.
const maxNoteLength = 20000

var noteTypeLabels = map[patientcase.NoteType]string{
	patientcase.NoteProgress:  "progress note",
	patientcase.NoteDischarge: "discharge summary",
	patientcase.NoteReferral:  "referral letter",
	patientcase.NoteLab:       "laboratory report",
}

var audienceLabels = map[document.Audience]string{
	document.AudiencePatient:   "the patient",
	document.AudienceCaregiver: "the patient's caregiver",
}

// Request captures everything needed to build a generation prompt.
type Request struct {
	Note         string
	NoteType     patientcase.NoteType
	Audience     document.Audience
	ReadingLevel string
	Language     string
}

// Build assembles the generation prompt. It rejects empty and oversized
// notes before any model call is made.
func Build(req Request) (string, error) {
	note := strings.TrimSpace(req.Note)
	if note == "" {
		return "", fmt.Errorf("clinical note is empty")
	}
	if len(note) > maxNoteLength {
		return "", fmt.Errorf("clinical note exceeds %d characters", maxNoteLength)
	}

	noteLabel, ok := noteTypeLabels[req.NoteType]
	if !ok {
		return "", fmt.Errorf("unknown note type %q", req.NoteType)
	}
	audienceLabel, ok := audienceLabels[req.Audience]
	if !ok {
		return "", fmt.Errorf("unknown audience %q", req.Audience)
	}

	readingLevel := strings.TrimSpace(req.ReadingLevel)
	if readingLevel == "" {
		readingLevel = "6th grade"
	}
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = "English"
	}

	var b strings.Builder
	b.WriteString("You are a clinical communication assistant. Rewrite the ")
	b.WriteString(noteLabel)
	b.WriteString(" below as a clear document for ")
	b.WriteString(audienceLabel)
	b.WriteString(".\n\nRules:\n")
	b.WriteString("- Write in ")
	b.WriteString(language)
	b.WriteString(" at a ")
	b.WriteString(readingLevel)
	b.WriteString(" reading level.\n")
	b.WriteString("- Explain medical terms in plain words the first time they appear.\n")
	b.WriteString("- Do not invent findings, diagnoses, or instructions that are not in the note.\n")
	b.WriteString("- Do not include medical record numbers or other identifiers.\n")
	b.WriteString("- End with a short line inviting the reader to contact the care team with questions.\n")
	b.WriteString("\nClinical note:\n---\n")
	b.WriteString(note)
	b.WriteString("\n---\n\nDocument:\n")
	return b.String(), nil
}
