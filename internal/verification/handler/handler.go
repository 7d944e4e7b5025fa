// Package handler exposes the verification center over HTTP: user routes
// behind Bearer JWT auth and reviewer/system routes behind the admin token.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
	"studentverify/pkg/platform/httputil"
	"studentverify/pkg/platform/middleware/admin"
	"studentverify/pkg/platform/middleware/auth"
	"studentverify/pkg/requestcontext"
)

// Service is the verification engine surface used by the handlers.
type Service interface {
	InitializeForUser(ctx context.Context, userID id.UserID) (*models.Center, error)
	GetCenter(ctx context.Context, userID id.UserID) (*models.Center, error)
	GetPillar(ctx context.Context, userID id.UserID, kind models.PillarKind) (*models.PillarView, error)
	GetStepDetails(ctx context.Context, stepID id.StepID) (*models.StepDetails, error)
	EnsureStepOwner(ctx context.Context, stepID id.StepID, userID id.UserID) error
	UpdateStepStatus(ctx context.Context, req *models.UpdateStepStatusRequest) (*models.Step, error)
	RetryStep(ctx context.Context, stepID id.StepID) (*models.Step, error)
	ReviewStepAsAdmin(ctx context.Context, req *models.ReviewRequest) (*models.Step, error)
	UploadStepEvidence(ctx context.Context, req *models.UploadEvidenceRequest) (*models.Evidence, error)
	ListPendingVerifications(ctx context.Context, filter models.PendingFilter) (*models.PendingPage, error)
}

// Handler serves the verification routes.
type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator auth.JWTValidator
	adminToken   string
}

// New creates a verification Handler.
func New(service Service, logger *slog.Logger, jwtValidator auth.JWTValidator, adminToken string) *Handler {
	return &Handler{
		service:      service,
		logger:       logger,
		jwtValidator: jwtValidator,
		adminToken:   adminToken,
	}
}

// Register mounts user and admin routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/verification/initialize", h.handleInitialize)
		r.Get("/verification/center", h.handleGetCenter)
		r.Get("/verification/pillars/{kind}", h.handleGetPillar)
		r.Get("/verification/steps/{stepID}", h.handleGetStep)
		r.Post("/verification/steps/{stepID}/retry", h.handleRetryStep)
		r.Post("/verification/steps/{stepID}/evidence", h.handleUploadEvidence)
	})

	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(h.adminToken, h.logger))
		r.Post("/admin/verification/users/{userID}/initialize", h.handleAdminInitialize)
		r.Get("/admin/verification/users/{userID}/center", h.handleAdminGetCenter)
		r.Patch("/admin/verification/steps/{stepID}/status", h.handleUpdateStatus)
		r.Post("/admin/verification/steps/{stepID}/review", h.handleReview)
		r.Get("/admin/verification/steps/{stepID}", h.handleAdminGetStep)
		r.Get("/admin/verification/pending", h.handleListPending)
	})
}

// fail logs at a level matching the error class and writes the error body.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

// currentUser returns the authenticated user. RequireAuth guarantees it is set.
func (h *Handler) currentUser(ctx context.Context, w http.ResponseWriter) (id.UserID, bool) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		h.logger.ErrorContext(ctx, "userID missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return id.UserID{}, false
	}
	return userID, true
}

func (h *Handler) stepParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (id.StepID, bool) {
	stepID, err := id.ParseStepID(chi.URLParam(r, "stepID"))
	if err != nil {
		h.fail(ctx, w, "invalid step id", err)
		return id.StepID{}, false
	}
	return stepID, true
}

// ownedStepParam parses the step id and checks it belongs to the caller.
func (h *Handler) ownedStepParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (id.StepID, bool) {
	userID, ok := h.currentUser(ctx, w)
	if !ok {
		return id.StepID{}, false
	}
	stepID, ok := h.stepParam(ctx, w, r)
	if !ok {
		return id.StepID{}, false
	}
	if err := h.service.EnsureStepOwner(ctx, stepID, userID); err != nil {
		h.fail(ctx, w, "step ownership check failed", err)
		return id.StepID{}, false
	}
	return stepID, true
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.currentUser(ctx, w)
	if !ok {
		return
	}
	h.initialize(ctx, w, userID)
}

func (h *Handler) handleAdminInitialize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(ctx, w, "invalid user id", err)
		return
	}
	h.initialize(ctx, w, userID)
}

func (h *Handler) initialize(ctx context.Context, w http.ResponseWriter, userID id.UserID) {
	center, err := h.service.InitializeForUser(ctx, userID)
	if err != nil {
		h.fail(ctx, w, "failed to initialize verification center", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toCenterResponse(center))
}

func (h *Handler) handleGetCenter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.currentUser(ctx, w)
	if !ok {
		return
	}
	h.writeCenter(ctx, w, userID)
}

func (h *Handler) handleAdminGetCenter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(ctx, w, "invalid user id", err)
		return
	}
	h.writeCenter(ctx, w, userID)
}

func (h *Handler) writeCenter(ctx context.Context, w http.ResponseWriter, userID id.UserID) {
	center, err := h.service.GetCenter(ctx, userID)
	if err != nil {
		h.fail(ctx, w, "failed to load verification center", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCenterResponse(center))
}

func (h *Handler) handleGetPillar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.currentUser(ctx, w)
	if !ok {
		return
	}
	view, err := h.service.GetPillar(ctx, userID, models.PillarKind(chi.URLParam(r, "kind")))
	if err != nil {
		h.fail(ctx, w, "failed to load pillar", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPillarResponse(*view, nil))
}

func (h *Handler) handleGetStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stepID, ok := h.ownedStepParam(ctx, w, r)
	if !ok {
		return
	}
	h.writeStepDetails(ctx, w, stepID)
}

func (h *Handler) handleAdminGetStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stepID, ok := h.stepParam(ctx, w, r)
	if !ok {
		return
	}
	h.writeStepDetails(ctx, w, stepID)
}

func (h *Handler) writeStepDetails(ctx context.Context, w http.ResponseWriter, stepID id.StepID) {
	details, err := h.service.GetStepDetails(ctx, stepID)
	if err != nil {
		h.fail(ctx, w, "failed to load step", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStepDetailsResponse(details))
}

func (h *Handler) handleRetryStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stepID, ok := h.ownedStepParam(ctx, w, r)
	if !ok {
		return
	}
	step, err := h.service.RetryStep(ctx, stepID)
	if err != nil {
		h.fail(ctx, w, "failed to retry step", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStepResponse(step))
}

func (h *Handler) handleUploadEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stepID, ok := h.ownedStepParam(ctx, w, r)
	if !ok {
		return
	}
	body, ok := httputil.DecodeAndPrepare[evidenceBody](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	evidence, err := h.service.UploadStepEvidence(ctx, body.toModel(stepID))
	if err != nil {
		h.fail(ctx, w, "failed to upload evidence", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, evidence)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stepID, ok := h.stepParam(ctx, w, r)
	if !ok {
		return
	}
	body, ok := httputil.DecodeAndPrepare[updateStatusBody](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	step, err := h.service.UpdateStepStatus(ctx, body.toModel(stepID))
	if err != nil {
		h.fail(ctx, w, "failed to update step status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStepResponse(step))
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stepID, ok := h.stepParam(ctx, w, r)
	if !ok {
		return
	}
	body, ok := httputil.DecodeAndPrepare[reviewBody](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	step, err := h.service.ReviewStepAsAdmin(ctx, body.toModel(stepID))
	if err != nil {
		h.fail(ctx, w, "failed to review step", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStepResponse(step))
}

func (h *Handler) handleListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parsePendingFilter(r)
	if err != nil {
		h.fail(ctx, w, "invalid pending filter", err)
		return
	}
	page, err := h.service.ListPendingVerifications(ctx, filter)
	if err != nil {
		h.fail(ctx, w, "failed to list pending verifications", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPendingResponse(page))
}

func parsePendingFilter(r *http.Request) (models.PendingFilter, error) {
	q := r.URL.Query()
	var filter models.PendingFilter
	for name, dst := range map[string]*int{"page": &filter.Page, "limit": &filter.Limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return filter, dErrors.New(dErrors.CodeValidation, name+" must be a positive integer")
		}
		*dst = n
	}
	if raw := q.Get("pillar"); raw != "" {
		kind, err := models.ParsePillarKind(raw)
		if err != nil {
			return filter, err
		}
		filter.PillarKind = &kind
	}
	filter.StepName = q.Get("step_name")
	return filter, nil
}
