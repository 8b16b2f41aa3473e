package documents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medplain/medplain/internal/domain/document"
	"github.com/medplain/medplain/internal/domain/patientcase"
	"github.com/medplain/medplain/internal/domain/user"
	"github.com/medplain/medplain/internal/storage"
	"github.com/medplain/medplain/internal/storage/memory"
	"github.com/medplain/medplain/internal/watsonx"
)

const goodOutput = "Your recent visit went well. Your blood pressure is improving and your " +
	"medication stays the same. If you have any questions, please contact your care team."

const badOutput = "Too short. MRN: 1234567"

func newFixture(t *testing.T, gen watsonx.Generator) (*Service, *memory.Store, Actor) {
	t.Helper()
	store := memory.New()
	svc := New(store, store, store, gen, nil)

	_, err := store.CreateCase(context.Background(), patientcase.Case{
		ClinicianID: "clin-1",
		PatientRef:  "pt-42",
		Title:       "Follow-up visit",
		NoteText:    "Patient seen for hypertension follow-up. BP 128/82. Continue lisinopril.",
		NoteType:    patientcase.NoteProgress,
		Language:    "English",
	})
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	return svc, store, Actor{UserID: "clin-1", Role: user.RoleClinician}
}

func caseID(t *testing.T, store *memory.Store) string {
	t.Helper()
	cases, err := store.ListCases(context.Background(), "")
	if err != nil || len(cases) == 0 {
		t.Fatalf("ListCases: %v (%d cases)", err, len(cases))
	}
	return cases[0].ID
}

func TestGenerateStoresDraft(t *testing.T) {
	gen := &watsonx.MockGenerator{Responses: []watsonx.GenerationResult{
		{Text: goodOutput, Model: "granite-13b", PromptTokens: 210, OutputTokens: 96},
	}}
	svc, store, actor := newFixture(t, gen)

	doc, err := svc.Generate(context.Background(), actor, caseID(t, store), GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if doc.Status != document.StatusDraft {
		t.Fatalf("status = %q, want draft", doc.Status)
	}
	if doc.Audience != document.AudiencePatient {
		t.Fatalf("audience = %q, want default patient", doc.Audience)
	}
	if doc.Model != "granite-13b" || doc.OutputTokens != 96 {
		t.Fatalf("model metadata not recorded: %+v", doc)
	}
	if gen.Calls() != 1 {
		t.Fatalf("generator called %d times, want 1", gen.Calls())
	}
}

func TestGenerateRetriesOnceOnValidationFailure(t *testing.T) {
	gen := &watsonx.MockGenerator{Responses: []watsonx.GenerationResult{
		{Text: badOutput, Model: "granite-13b"},
		{Text: goodOutput, Model: "granite-13b"},
	}}
	svc, store, actor := newFixture(t, gen)

	doc, err := svc.Generate(context.Background(), actor, caseID(t, store), GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Calls() != 2 {
		t.Fatalf("generator called %d times, want 2", gen.Calls())
	}
	if doc.Content == "" || doc.Status != document.StatusDraft {
		t.Fatalf("retry result not stored: %+v", doc)
	}
}

func TestGenerateFailsAfterTwoBadOutputs(t *testing.T) {
	gen := &watsonx.MockGenerator{Responses: []watsonx.GenerationResult{
		{Text: badOutput, Model: "granite-13b"},
	}}
	svc, store, actor := newFixture(t, gen)
	id := caseID(t, store)

	_, err := svc.Generate(context.Background(), actor, id, GenerateParams{})
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("err = %v, want ErrValidationFailed", err)
	}
	if gen.Calls() != 2 {
		t.Fatalf("generator called %d times, want 2", gen.Calls())
	}

	docs, err := svc.ListByCase(context.Background(), actor, id)
	if err != nil {
		t.Fatalf("ListByCase: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("failed generation persisted %d documents", len(docs))
	}
}

func TestGenerateRejectsForeignCase(t *testing.T) {
	svc, store, _ := newFixture(t, &watsonx.MockGenerator{})

	other := Actor{UserID: "clin-2", Role: user.RoleClinician}
	_, err := svc.Generate(context.Background(), other, caseID(t, store), GenerateParams{})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestWorkflowHappyPath(t *testing.T) {
	svc, store, actor := newFixture(t, &watsonx.MockGenerator{
		Responses: []watsonx.GenerationResult{{Text: goodOutput, Model: "granite-13b"}},
	})

	doc, err := svc.Generate(context.Background(), actor, caseID(t, store), GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	doc, err = svc.SubmitForReview(context.Background(), actor, doc.ID)
	if err != nil || doc.Status != document.StatusPendingReview {
		t.Fatalf("SubmitForReview: %v (status %q)", err, doc.Status)
	}

	doc, err = svc.Approve(context.Background(), actor, doc.ID)
	if err != nil || doc.Status != document.StatusApproved {
		t.Fatalf("Approve: %v (status %q)", err, doc.Status)
	}
	if doc.ReviewedBy != actor.UserID || doc.ReviewedAt.IsZero() {
		t.Fatalf("reviewer not recorded: %+v", doc)
	}

	shared, link, err := svc.Share(context.Background(), actor, doc.ID)
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	if shared.Status != document.StatusShared {
		t.Fatalf("status = %q, want shared", shared.Status)
	}
	if link.Token == "" || link.ExpiresAt.Before(time.Now()) {
		t.Fatalf("bad share link: %+v", link)
	}

	resolved, err := svc.ResolveShare(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("ResolveShare: %v", err)
	}
	if resolved.ID != doc.ID {
		t.Fatalf("resolved wrong document: %s", resolved.ID)
	}
}

func TestShareRequiresApproval(t *testing.T) {
	svc, store, actor := newFixture(t, &watsonx.MockGenerator{
		Responses: []watsonx.GenerationResult{{Text: goodOutput, Model: "granite-13b"}},
	})

	doc, err := svc.Generate(context.Background(), actor, caseID(t, store), GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Straight from draft.
	if _, _, err := svc.Share(context.Background(), actor, doc.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("share from draft: err = %v, want ErrInvalidTransition", err)
	}

	// From pending_review.
	doc, err = svc.SubmitForReview(context.Background(), actor, doc.ID)
	if err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}
	if _, _, err := svc.Share(context.Background(), actor, doc.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("share from pending_review: err = %v, want ErrInvalidTransition", err)
	}
}

func TestRejectRequiresReasonAndAllowsResubmit(t *testing.T) {
	svc, store, actor := newFixture(t, &watsonx.MockGenerator{
		Responses: []watsonx.GenerationResult{{Text: goodOutput, Model: "granite-13b"}},
	})

	doc, err := svc.Generate(context.Background(), actor, caseID(t, store), GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	doc, err = svc.SubmitForReview(context.Background(), actor, doc.ID)
	if err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}

	if _, err := svc.Reject(context.Background(), actor, doc.ID, "  "); err == nil {
		t.Fatal("expected error for empty rejection reason")
	}

	doc, err = svc.Reject(context.Background(), actor, doc.ID, "tone too clinical")
	if err != nil || doc.Status != document.StatusRejected {
		t.Fatalf("Reject: %v (status %q)", err, doc.Status)
	}
	if doc.ReviewNote != "tone too clinical" {
		t.Fatalf("review note = %q", doc.ReviewNote)
	}

	// Rejected documents are editable and can be resubmitted.
	doc, err = svc.UpdateContent(context.Background(), actor, doc.ID, goodOutput+" Updated wording.")
	if err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	doc, err = svc.SubmitForReview(context.Background(), actor, doc.ID)
	if err != nil || doc.Status != document.StatusPendingReview {
		t.Fatalf("resubmit: %v (status %q)", err, doc.Status)
	}
}

func TestUpdateContentBlockedAfterSubmit(t *testing.T) {
	svc, store, actor := newFixture(t, &watsonx.MockGenerator{
		Responses: []watsonx.GenerationResult{{Text: goodOutput, Model: "granite-13b"}},
	})

	doc, err := svc.Generate(context.Background(), actor, caseID(t, store), GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := svc.SubmitForReview(context.Background(), actor, doc.ID); err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}

	if _, err := svc.UpdateContent(context.Background(), actor, doc.ID, "edited"); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("err = %v, want ErrNotEditable", err)
	}
}

func TestResolveShareExpired(t *testing.T) {
	svc, store, actor := newFixture(t, &watsonx.MockGenerator{
		Responses: []watsonx.GenerationResult{{Text: goodOutput, Model: "granite-13b"}},
	})
	svc.shareTTL = -time.Minute

	doc, err := svc.Generate(context.Background(), actor, caseID(t, store), GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := svc.SubmitForReview(context.Background(), actor, doc.ID); err != nil {
		t.Fatalf("SubmitForReview: %v", err)
	}
	if _, err := svc.Approve(context.Background(), actor, doc.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	_, link, err := svc.Share(context.Background(), actor, doc.ID)
	if err != nil {
		t.Fatalf("Share: %v", err)
	}

	if _, err := svc.ResolveShare(context.Background(), link.Token); !errors.Is(err, ErrShareExpired) {
		t.Fatalf("err = %v, want ErrShareExpired", err)
	}

	removed, err := svc.PurgeExpiredShareLinks(context.Background())
	if err != nil || removed != 1 {
		t.Fatalf("PurgeExpiredShareLinks = %d, %v", removed, err)
	}
	if _, err := svc.ResolveShare(context.Background(), link.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err after purge = %v, want ErrNotFound", err)
	}
}

func TestGetScoping(t *testing.T) {
	svc, store, actor := newFixture(t, &watsonx.MockGenerator{
		Responses: []watsonx.GenerationResult{{Text: goodOutput, Model: "granite-13b"}},
	})

	doc, err := svc.Generate(context.Background(), actor, caseID(t, store), GenerateParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	other := Actor{UserID: "clin-2", Role: user.RoleClinician}
	if _, err := svc.Get(context.Background(), other, doc.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign get: err = %v, want ErrForbidden", err)
	}

	admin := Actor{UserID: "admin-1", Role: user.RoleAdmin}
	if _, err := svc.Get(context.Background(), admin, doc.ID); err != nil {
		t.Fatalf("admin get: %v", err)
	}
}
