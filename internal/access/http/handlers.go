package accesshttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/facilityops/housekeeping/internal/access"
	"github.com/facilityops/housekeeping/internal/platform/httpx"
	"github.com/facilityops/housekeeping/internal/rbac"
	"github.com/facilityops/housekeeping/jobs"
)

const defaultHeartbeat = 25 * time.Second

// ReconcileEnqueuer submits catalog reconcile jobs.
type ReconcileEnqueuer interface {
	EnqueueReconcile(ctx context.Context, requestedBy string) (string, error)
}

// Config collects the dependencies of Handler.
type Config struct {
	Logger    *slog.Logger
	Query     *access.QueryService
	Mutations *access.MutationService
	Guard     *access.Guard
	Hub       *access.Hub
	Catalog   *access.Catalog
	Jobs      ReconcileEnqueuer
	RBAC      rbac.Middleware
	Heartbeat time.Duration
}

// Handler serves the permission matrix over JSON.
type Handler struct {
	logger    *slog.Logger
	query     *access.QueryService
	mutations *access.MutationService
	guard     *access.Guard
	hub       *access.Hub
	catalog   *access.Catalog
	jobs      ReconcileEnqueuer
	rbac      rbac.Middleware
	heartbeat time.Duration
	validate  *validator.Validate
}

// NewHandler builds a permission handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Handler{
		logger:    logger,
		query:     cfg.Query,
		mutations: cfg.Mutations,
		guard:     cfg.Guard,
		hub:       cfg.Hub,
		catalog:   cfg.Catalog,
		jobs:      cfg.Jobs,
		rbac:      cfg.RBAC,
		heartbeat: heartbeat,
		validate:  validator.New(),
	}
}

type setRequest struct {
	IsEnabled *bool `json:"is_enabled" validate:"required"`
}

type bulkRequest struct {
	Facility  string `json:"facility" validate:"required"`
	Role      string `json:"role" validate:"required"`
	IsEnabled *bool  `json:"is_enabled" validate:"required"`
}

type bulkResponse struct {
	Updated int `json:"updated"`
}

type checkResponse struct {
	Page    string `json:"page"`
	Allowed bool   `json:"allowed"`
}

type meResponse struct {
	Role     access.Role     `json:"role"`
	Facility access.Facility `json:"facility,omitempty"`
	Pages    []string        `json:"pages"`
}

type reconcileResponse struct {
	TaskID string `json:"task_id"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	facility, err := access.ParseFacility(r.URL.Query().Get("facility"))
	if err != nil {
		h.respondError(w, "list permissions", err)
		return
	}
	entries, err := h.query.List(r.Context(), facility)
	if err != nil {
		h.respondError(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	var req setRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := access.ClaimsFromContext(r.Context())
	entry, err := h.mutations.Set(r.Context(), actor, id, *req.IsEnabled)
	if err != nil {
		h.respondError(w, "set permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	actor, _ := access.ClaimsFromContext(r.Context())
	entry, err := h.mutations.Toggle(r.Context(), actor, id)
	if err != nil {
		h.respondError(w, "toggle permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !h.decode(w, r, &req) {
		return
	}
	facility, err := access.ParseFacility(req.Facility)
	if err != nil {
		h.respondError(w, "bulk set permissions", err)
		return
	}
	role, err := access.ParseRole(req.Role)
	if err != nil {
		h.respondError(w, "bulk set permissions", err)
		return
	}
	actor, _ := access.ClaimsFromContext(r.Context())
	count, err := h.mutations.BulkSetForRole(r.Context(), actor, facility, role, *req.IsEnabled)
	if err != nil {
		h.respondError(w, "bulk set permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bulkResponse{Updated: count})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	page := access.NormalizePage(r.URL.Query().Get("page"))
	if page == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "page is required")
		return
	}
	claims, _ := access.ClaimsFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, checkResponse{Page: page, Allowed: h.guard.CanAccess(r.Context(), claims, page)})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := access.ClaimsFromContext(r.Context())
	resp := meResponse{Role: claims.Role, Facility: claims.Facility, Pages: []string{}}
	switch {
	case claims.IsSuperadmin():
		resp.Pages = h.catalog.AllPages()
		if resp.Pages == nil {
			resp.Pages = []string{}
		}
	case claims.HasFacility():
		pages, err := h.query.EnabledPages(r.Context(), claims.Facility, claims.Role)
		if err != nil {
			h.respondError(w, "list enabled pages", err)
			return
		}
		resp.Pages = pages
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "job queue is not configured")
		return
	}
	actor, _ := access.ClaimsFromContext(r.Context())
	taskID, err := h.jobs.EnqueueReconcile(r.Context(), actor.Subject)
	if errors.Is(err, jobs.ErrAlreadyQueued) {
		httpx.Problem(w, http.StatusConflict, "Conflict", "a reconcile run is already queued")
		return
	}
	if err != nil {
		h.logger.Error("enqueue reconcile", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "reconcile job was not queued")
		return
	}
	httpx.JSON(w, http.StatusAccepted, reconcileResponse{TaskID: taskID})
}

// handleEvents streams change events relevant to the caller as Server-Sent
// Events. An event only tells the client to re-fetch; it carries no decision.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok || h.hub == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Not Implemented", "streaming unsupported")
		return
	}
	claims, _ := access.ClaimsFromContext(r.Context())
	sub := h.hub.Subscribe()
	defer sub.Close()
	// The stream outlives the server write timeout; ignore writers that
	// cannot lift it and let the client reconnect.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if !concerns(claims, event) {
				continue
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, access.DefaultChangeChannel, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// concerns reports whether event affects sessions holding claims.
func concerns(claims access.Claims, event access.ChangeEvent) bool {
	if claims.IsSuperadmin() {
		return true
	}
	return claims.Facility == event.Facility && claims.Role == event.Role
}

func (h *Handler) entryID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid permission id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, access.ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: permission entry", httpx.ErrNotFound))
	case errors.Is(err, access.ErrInvalidEntry),
		errors.Is(err, access.ErrUnknownFacility),
		errors.Is(err, access.ErrUnknownRole):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	case errors.Is(err, access.ErrPersistence):
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: change not applied; re-fetch and retry", httpx.ErrUnavailable))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
