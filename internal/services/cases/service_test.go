package cases

import (
	"context"
	"errors"
	"testing"

	"github.com/medplain/medplain/internal/domain/patientcase"
	"github.com/medplain/medplain/internal/domain/user"
	"github.com/medplain/medplain/internal/storage/memory"
)

func TestCreateValidatesInput(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	actor := Actor{UserID: "clin-1", Role: user.RoleClinician}

	_, err := svc.Create(context.Background(), actor, patientcase.Case{
		PatientRef: "J.D.",
		Title:      "Follow-up",
		NoteText:   "Patient doing well.",
		NoteType:   patientcase.NoteProgress,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Create(context.Background(), actor, patientcase.Case{
		PatientRef: "J.D.",
		Title:      "Bad",
		NoteText:   "note",
		NoteType:   patientcase.NoteType("invoice"),
	}); err == nil {
		t.Fatalf("expected error for unknown note type")
	}
}

func TestRowScoping(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()

	owner := Actor{UserID: "clin-1", Role: user.RoleClinician}
	other := Actor{UserID: "clin-2", Role: user.RoleClinician}
	admin := Actor{UserID: "adm-1", Role: user.RoleAdmin}

	created, err := svc.Create(ctx, owner, patientcase.Case{
		PatientRef: "J.D.", Title: "Visit", NoteText: "note", NoteType: patientcase.NoteProgress,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Get(ctx, other, created.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for other clinician, got %v", err)
	}
	if _, err := svc.Get(ctx, admin, created.ID); err != nil {
		t.Fatalf("admin get: %v", err)
	}

	// List never leaks cross-tenant rows regardless of the filter asked for.
	listed, err := svc.List(ctx, other, owner.UserID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("clinician saw %d foreign cases", len(listed))
	}

	adminListed, err := svc.List(ctx, admin, "")
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(adminListed) != 1 {
		t.Fatalf("admin expected 1 case, got %d", len(adminListed))
	}

	if err := svc.Delete(ctx, other, created.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on delete, got %v", err)
	}
	if err := svc.Delete(ctx, owner, created.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
}

func TestUpdateFields(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil)
	ctx := context.Background()
	actor := Actor{UserID: "clin-1", Role: user.RoleClinician}

	created, err := svc.Create(ctx, actor, patientcase.Case{
		PatientRef: "J.D.", Title: "Visit", NoteText: "original", NoteType: patientcase.NoteProgress,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newNote := "updated note"
	newType := patientcase.NoteDischarge
	updated, err := svc.Update(ctx, actor, created.ID, nil, nil, &newNote, &newType)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.NoteText != newNote || updated.NoteType != newType {
		t.Fatalf("update not applied: %#v", updated)
	}
	if updated.Title != "Visit" {
		t.Fatalf("unchanged field modified: %q", updated.Title)
	}

	empty := " "
	if _, err := svc.Update(ctx, actor, created.ID, nil, &empty, nil, nil); err == nil {
		t.Fatalf("expected error for empty title")
	}
}
