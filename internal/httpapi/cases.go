package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/medplain/medplain/internal/domain/patientcase"
	"github.com/medplain/medplain/internal/httputil"
)

func (h *Handler) createCase(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PatientRef string `json:"patient_ref"`
		Title      string `json:"title"`
		NoteText   string `json:"note_text"`
		NoteType   string `json:"note_type"`
		Language   string `json:"language"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.cases.Create(r.Context(), actorFrom(r), patientcase.Case{
		PatientRef: payload.PatientRef,
		Title:      payload.Title,
		NoteText:   payload.NoteText,
		NoteType:   patientcase.NoteType(payload.NoteType),
		Language:   payload.Language,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) listCases(w http.ResponseWriter, r *http.Request) {
	list, err := h.cases.List(r.Context(), actorFrom(r), r.URL.Query().Get("clinician_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []patientcase.Case{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) getCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.cases.Get(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) updateCase(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PatientRef *string `json:"patient_ref"`
		Title      *string `json:"title"`
		NoteText   *string `json:"note_text"`
		NoteType   *string `json:"note_type"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var noteType *patientcase.NoteType
	if payload.NoteType != nil {
		nt := patientcase.NoteType(*payload.NoteType)
		noteType = &nt
	}
	c, err := h.cases.Update(r.Context(), actorFrom(r), mux.Vars(r)["id"],
		payload.PatientRef, payload.Title, payload.NoteText, noteType)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) deleteCase(w http.ResponseWriter, r *http.Request) {
	if err := h.cases.Delete(r.Context(), actorFrom(r), mux.Vars(r)["id"]); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
