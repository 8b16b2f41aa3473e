// Package httpapi exposes the REST API. Routing is gorilla/mux; every
// response body is JSON.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/medplain/medplain/internal/domain/user"
	"github.com/medplain/medplain/internal/httputil"
	"github.com/medplain/medplain/internal/metrics"
	"github.com/medplain/medplain/internal/middleware"
	"github.com/medplain/medplain/internal/services/auth"
	"github.com/medplain/medplain/internal/services/cases"
	"github.com/medplain/medplain/internal/services/documents"
	"github.com/medplain/medplain/internal/storage"
	"github.com/medplain/medplain/pkg/logger"
)

// maxBodyBytes bounds request bodies; clinical notes fit comfortably.
const maxBodyBytes = 1 << 20

// Handler bundles the HTTP endpoints over the application services.
type Handler struct {
	auth      *auth.Service
	cases     *cases.Service
	documents *documents.Service
	audit     *AuditLog
	health    func() error
	log       *logger.Logger
}

// Config wires the handler's dependencies.
type Config struct {
	Auth      *auth.Service
	Cases     *cases.Service
	Documents *documents.Service
	Audit     *AuditLog
	// Health reports backing-store readiness for /healthz.
	Health func() error
	Logger *logger.Logger

	CORSAllowedOrigins []string
	// RateLimiter is optional; the caller owns its cleanup loop.
	RateLimiter *middleware.RateLimiter
}

// publicPaths pass the auth middleware without a token. Entries ending in
// "/" match by prefix; /api/shared/{token} is readable by patients without
// an account.
var publicPaths = []string{
	"/healthz",
	"/metrics",
	"/api/auth/register",
	"/api/auth/login",
	"/api/auth/refresh",
	"/api/auth/logout",
	"/api/shared/",
}

// NewRouter assembles the full middleware chain and route table. Tracing and
// CORS wrap the router itself: mux only runs Use middleware on a matched
// route, so a browser preflight (OPTIONS is not in any route's method list)
// would otherwise be answered 405 without the Access-Control headers.
func NewRouter(cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &Handler{
		auth:      cfg.Auth,
		cases:     cfg.Cases,
		documents: cfg.Documents,
		audit:     cfg.Audit,
		health:    cfg.Health,
		log:       log,
	}

	r := mux.NewRouter()
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.LoggingMiddleware(log))
	r.Use(middleware.NewAuthMiddleware(cfg.Auth.Tokens(), log, publicPaths).Handler)
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Handler)
	}

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/refresh", h.refresh).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", h.logout).Methods(http.MethodPost)
	r.HandleFunc("/api/me", h.me).Methods(http.MethodGet)

	r.HandleFunc("/api/cases", h.createCase).Methods(http.MethodPost)
	r.HandleFunc("/api/cases", h.listCases).Methods(http.MethodGet)
	r.HandleFunc("/api/cases/{id}", h.getCase).Methods(http.MethodGet)
	r.HandleFunc("/api/cases/{id}", h.updateCase).Methods(http.MethodPut, http.MethodPatch)
	r.HandleFunc("/api/cases/{id}", h.deleteCase).Methods(http.MethodDelete)

	r.HandleFunc("/api/cases/{id}/documents", h.listDocuments).Methods(http.MethodGet)
	r.HandleFunc("/api/cases/{id}/documents/generate", h.generateDocument).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}", h.getDocument).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}", h.updateDocument).Methods(http.MethodPut, http.MethodPatch)
	r.HandleFunc("/api/documents/{id}/submit", h.submitDocument).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/approve", h.approveDocument).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/reject", h.rejectDocument).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/share", h.shareDocument).Methods(http.MethodPost)

	r.HandleFunc("/api/shared/{token}", h.resolveShare).Methods(http.MethodGet)

	r.Handle("/api/admin/audit",
		middleware.RequireRole("admin")(http.HandlerFunc(h.listAudit))).Methods(http.MethodGet)

	handler := middleware.NewCORSMiddleware(cfg.CORSAllowedOrigins).Handler(r)
	return middleware.TracingMiddleware()(handler)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	httputil.WriteJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// actor builds the service-layer identity from the request context.
func actorFrom(r *http.Request) cases.Actor {
	return cases.Actor{
		UserID: middleware.GetUserID(r.Context()),
		Role:   roleFrom(r),
	}
}

func docActorFrom(r *http.Request) documents.Actor {
	return documents.Actor{
		UserID: middleware.GetUserID(r.Context()),
		Role:   roleFrom(r),
	}
}

func roleFrom(r *http.Request) user.Role {
	return user.Role(middleware.GetUserRole(r.Context()))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Reject trailing garbage.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// writeServiceError maps service errors onto HTTP statuses. Foreign-owned
// resources answer 404 so callers cannot probe for other clinicians' data.
// Unrecognized errors are internal failures: they answer 500 with a generic
// message and the raw error goes to the server log only.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, cases.ErrForbidden),
		errors.Is(err, documents.ErrForbidden):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrSessionExpired):
		status, msg = http.StatusUnauthorized, err.Error()
	case errors.Is(err, auth.ErrEmailTaken):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, documents.ErrInvalidTransition),
		errors.Is(err, documents.ErrNotEditable):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, documents.ErrValidationFailed):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, documents.ErrShareExpired):
		status, msg = http.StatusGone, err.Error()
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, cases.ErrInvalidInput),
		errors.Is(err, documents.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, documents.ErrGenerationUnavailable):
		status, msg = http.StatusBadGateway, "document generation unavailable"
	}
	if status >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).Error("request failed")
	}
	httputil.WriteError(w, status, msg)
}
