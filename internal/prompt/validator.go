package prompt

import (
	"regexp"
	"strings"
)

const (
	minOutputLength = 80
	maxOutputLength = 16000
)

var (
	// Unresolved template placeholders such as {{patient_name}}.
	placeholderRe = regexp.MustCompile(`\{\{[^}]*\}\}|\[\[[^\]]*\]\]`)

	// Leaked instruction-prefix lines from the prompt scaffold.
	instructionLeakRe = regexp.MustCompile(`(?im)^\s*(you are a clinical communication assistant|rules:|clinical note:|document:)\s*$`)

	// Identifier patterns that must never appear in patient-facing output.
	mrnRe = regexp.MustCompile(`(?i)\bMRN[:#]?\s*\d{5,}\b`)
	ssnRe = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)

	// The closing advice line the prompt asks for.
	contactLineRe = regexp.MustCompile(`(?i)(contact|call|reach out to|speak (with|to)).{0,60}(care team|doctor|clinic|nurse|provider)`)
)

// Validate runs the output checks and returns the list of failed reasons.
// An empty slice means the output is acceptable.
func Validate(output string) []string {
	var reasons []string

	trimmed := strings.TrimSpace(output)
	if len(trimmed) < minOutputLength {
		reasons = append(reasons, "too_short")
	}
	if len(trimmed) > maxOutputLength {
		reasons = append(reasons, "too_long")
	}
	if placeholderRe.MatchString(trimmed) {
		reasons = append(reasons, "unresolved_placeholder")
	}
	if instructionLeakRe.MatchString(trimmed) {
		reasons = append(reasons, "instruction_leak")
	}
	if mrnRe.MatchString(trimmed) {
		reasons = append(reasons, "identifier_mrn")
	}
	if ssnRe.MatchString(trimmed) {
		reasons = append(reasons, "identifier_ssn")
	}
	if !contactLineRe.MatchString(trimmed) {
		reasons = append(reasons, "missing_contact_line")
	}
	return reasons
}
