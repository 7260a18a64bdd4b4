package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"signetry/internal/envelope/models"
	"signetry/internal/envelope/service"
	"signetry/internal/envelope/store"
	"signetry/internal/platform/middleware"
	"signetry/internal/provider"
	"signetry/internal/transport/http/shared"
	dErrors "signetry/pkg/domain-errors"
)

// Service defines the orchestrator operations the HTTP layer exposes.
type Service interface {
	Create(ctx context.Context, actor service.Identity, params service.CreateParams) (*models.Envelope, error)
	BulkSend(ctx context.Context, actor service.Identity, items []service.CreateParams) []service.BulkResult
	Get(ctx context.Context, actor service.Identity, id uuid.UUID) (*models.Envelope, error)
	List(ctx context.Context, actor service.Identity, params service.ListParams) ([]*models.Envelope, error)
	Void(ctx context.Context, actor service.Identity, id uuid.UUID, reason string) (*models.Envelope, error)
	Resend(ctx context.Context, actor service.Identity, id uuid.UUID, recipientID *uuid.UUID) error
	SigningURL(ctx context.Context, actor service.Identity, id uuid.UUID, returnURL string) (string, error)
	Download(ctx context.Context, actor service.Identity, id uuid.UUID, selector string) (*service.DocumentContent, error)
	Reconcile(ctx context.Context, actor service.Identity, id uuid.UUID) (*models.Envelope, error)
	Templates(ctx context.Context) ([]provider.Template, error)
}

// Handler serves the envelope routes.
type Handler struct {
	logger       *slog.Logger
	envelopes    Service
	jwtValidator middleware.JWTValidator
}

func New(envelopes Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		envelopes:    envelopes,
		jwtValidator: jwtValidator,
	}
}

// Register mounts the authenticated envelope and template routes.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

		r.Route("/envelopes", func(r chi.Router) {
			r.Post("/", h.handleCreate)
			r.Post("/bulk", h.handleBulk)
			r.Get("/", h.handleList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.handleGet)
				r.Post("/void", h.handleVoid)
				r.Post("/resend", h.handleResend)
				r.Post("/signing-url", h.handleSigningURL)
				r.Get("/documents/{selector}", h.handleDownload)
				r.Post("/reconcile", h.handleReconcile)
			})
		})
		r.Get("/templates", h.handleTemplates)
	})
}

func actorFrom(ctx context.Context) service.Identity {
	return service.Identity{
		UserID: middleware.GetUserID(ctx),
		Email:  middleware.GetUserEmail(ctx),
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createEnvelopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	params, err := req.toParams()
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	env, err := h.envelopes.Create(ctx, actorFrom(ctx), params)
	if err != nil {
		h.logError(ctx, "create envelope failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toEnvelopeResponse(env))
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	if len(req.Envelopes) == 0 {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "envelopes list is empty"))
		return
	}

	items := make([]service.CreateParams, 0, len(req.Envelopes))
	for _, e := range req.Envelopes {
		params, err := e.toParams()
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		items = append(items, params)
	}

	results := h.envelopes.BulkSend(ctx, actorFrom(ctx), items)
	out := make([]bulkItemResponse, len(results))
	for i, res := range results {
		if res.Err != nil {
			msg := res.Err.Error()
			out[i].Error = &msg
			continue
		}
		resp := toEnvelopeResponse(res.Envelope)
		out[i].Envelope = &resp
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	params := service.ListParams{
		AsRecipient: q.Get("view") == "received",
		Page: store.Page{
			Offset: intQuery(q.Get("offset")),
			Limit:  intQuery(q.Get("limit")),
		},
	}
	if v := q.Get("status"); v != "" {
		status := models.EnvelopeStatus(v)
		params.Filter.Status = &status
	}
	if v := q.Get("type"); v != "" {
		docType := models.DocumentType(v)
		params.Filter.DocumentType = &docType
	}
	if v := q.Get("subjectId"); v != "" {
		params.Filter.SubjectID = &v
	}

	envs, err := h.envelopes.List(ctx, actorFrom(ctx), params)
	if err != nil {
		h.logError(ctx, "list envelopes failed", err)
		shared.WriteError(w, err)
		return
	}
	out := make([]envelopeResponse, 0, len(envs))
	for _, env := range envs {
		out = append(out, toEnvelopeResponse(env))
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"envelopes": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.envelopeID(w, r)
	if !ok {
		return
	}
	env, err := h.envelopes.Get(ctx, actorFrom(ctx), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toEnvelopeResponse(env))
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.envelopeID(w, r)
	if !ok {
		return
	}
	var req voidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	env, err := h.envelopes.Void(ctx, actorFrom(ctx), id, req.Reason)
	if err != nil {
		h.logError(ctx, "void envelope failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toEnvelopeResponse(env))
}

func (h *Handler) handleResend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.envelopeID(w, r)
	if !ok {
		return
	}
	// The body is optional; an empty body resends to every pending signer.
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	var recipientID *uuid.UUID
	if req.RecipientID != nil {
		rid, err := uuid.Parse(*req.RecipientID)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "recipientId must be a uuid"))
			return
		}
		recipientID = &rid
	}
	if err := h.envelopes.Resend(ctx, actorFrom(ctx), id, recipientID); err != nil {
		h.logError(ctx, "resend envelope failed", err)
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSigningURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.envelopeID(w, r)
	if !ok {
		return
	}
	var req signingURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	if req.ReturnURL == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "returnUrl is required"))
		return
	}
	url, err := h.envelopes.SigningURL(ctx, actorFrom(ctx), id, req.ReturnURL)
	if err != nil {
		h.logError(ctx, "signing url failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, signingURLResponse{URL: url})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.envelopeID(w, r)
	if !ok {
		return
	}
	doc, err := h.envelopes.Download(ctx, actorFrom(ctx), id, chi.URLParam(r, "selector"))
	if err != nil {
		h.logError(ctx, "download failed", err)
		shared.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", doc.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Data)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.envelopeID(w, r)
	if !ok {
		return
	}
	env, err := h.envelopes.Reconcile(ctx, actorFrom(ctx), id)
	if err != nil {
		h.logError(ctx, "reconcile failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toEnvelopeResponse(env))
}

func (h *Handler) handleTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.envelopes.Templates(r.Context())
	if err != nil {
		h.logError(r.Context(), "list templates failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"templates": toTemplateResponses(templates)})
}

func (h *Handler) envelopeID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "envelope id must be a uuid"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"error", err,
		"request_id", middleware.GetRequestID(ctx),
	)
}

func intQuery(v string) int {
	n, _ := strconv.Atoi(v)
	return n
}
