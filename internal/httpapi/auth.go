package httpapi

import (
	"net/http"

	"github.com/medplain/medplain/internal/domain/user"
	"github.com/medplain/medplain/internal/httputil"
	"github.com/medplain/medplain/internal/middleware"
	"github.com/medplain/medplain/internal/services/auth"
)

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Self-service registration always creates clinician accounts; admins
	// are promoted out of band.
	u, err := h.auth.Register(r.Context(), payload.Email, payload.Name, payload.Password, user.RoleClinician)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, u)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, pair, err := h.auth.Login(r.Context(), payload.Email, payload.Password, auth.SessionMeta{
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		User user.User `json:"user"`
		auth.TokenPair
	}{User: u, TokenPair: pair})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	pair, err := h.auth.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pair)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.auth.Logout(r.Context(), payload.RefreshToken); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		httputil.Unauthorized(w, "")
		return
	}
	u, err := h.auth.GetUser(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}
