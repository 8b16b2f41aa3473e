package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/medplain/medplain/internal/domain/document"
	"github.com/medplain/medplain/internal/httputil"
	"github.com/medplain/medplain/internal/services/documents"
)

func (h *Handler) generateDocument(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Audience     string `json:"audience"`
		ReadingLevel string `json:"reading_level"`
		Language     string `json:"language"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.documents.Generate(r.Context(), docActorFrom(r), mux.Vars(r)["id"], documents.GenerateParams{
		Audience:     document.Audience(payload.Audience),
		ReadingLevel: payload.ReadingLevel,
		Language:     payload.Language,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, doc)
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	list, err := h.documents.ListByCase(r.Context(), docActorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []document.Document{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.Get(r.Context(), docActorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) updateDocument(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.documents.UpdateContent(r.Context(), docActorFrom(r), mux.Vars(r)["id"], payload.Content)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) submitDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.SubmitForReview(r.Context(), docActorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) approveDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.Approve(r.Context(), docActorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) rejectDocument(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.documents.Reject(r.Context(), docActorFrom(r), mux.Vars(r)["id"], payload.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) shareDocument(w http.ResponseWriter, r *http.Request) {
	doc, link, err := h.documents.Share(r.Context(), docActorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		Document document.Document  `json:"document"`
		Share    document.ShareLink `json:"share"`
	}{Document: doc, Share: link})
}

// resolveShare is the public endpoint patients open from the shared URL.
// The response carries only what the reader needs.
func (h *Handler) resolveShare(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.ResolveShare(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		Audience     document.Audience `json:"audience"`
		ReadingLevel string            `json:"reading_level"`
		Language     string            `json:"language"`
		Content      string            `json:"content"`
	}{
		Audience:     doc.Audience,
		ReadingLevel: doc.ReadingLevel,
		Language:     doc.Language,
		Content:      doc.Content,
	})
}
