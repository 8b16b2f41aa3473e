package watsonx

import "context"

// MockGenerator returns canned responses. Used by tests and local
// development without WatsonX credentials.
type MockGenerator struct {
	// Responses are returned in order; the last entry repeats.
	Responses []GenerationResult
	// Err, when set, is returned on every call.
	Err error

	calls int
}

var _ Generator = (*MockGenerator)(nil)

// Generate returns the next canned response.
func (m *MockGenerator) Generate(_ context.Context, _ GenerationRequest) (GenerationResult, error) {
	if m.Err != nil {
		return GenerationResult{}, m.Err
	}
	if len(m.Responses) == 0 {
		return GenerationResult{Text: "Your visit summary.\n\nIf you have questions, contact your care team.", Model: "mock"}, nil
	}
	idx := m.calls
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.calls++
	return m.Responses[idx], nil
}

// Calls reports how many times Generate ran.
func (m *MockGenerator) Calls() int { return m.calls }
