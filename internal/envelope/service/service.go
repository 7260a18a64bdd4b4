package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"signetry/internal/audit"
	"signetry/internal/blob"
	"signetry/internal/envelope/metrics"
	"signetry/internal/envelope/models"
	"signetry/internal/envelope/store"
	"signetry/internal/notify"
	"signetry/internal/provider"
	"signetry/internal/subject"
	"signetry/internal/webhook"
	dErrors "signetry/pkg/domain-errors"
	"signetry/pkg/platform/sentinel"
)

// Gateway is the slice of the provider client the orchestrator depends on.
type Gateway interface {
	CreateEnvelope(ctx context.Context, params provider.CreateEnvelopeParams) (provider.CreateEnvelopeResult, error)
	EnvelopeStatus(ctx context.Context, providerEnvelopeID string) (provider.StatusSnapshot, error)
	RecipientSigningURL(ctx context.Context, providerEnvelopeID, email, name, returnURL string) (string, error)
	DownloadDocument(ctx context.Context, providerEnvelopeID, selector string) ([]byte, error)
	VoidEnvelope(ctx context.Context, providerEnvelopeID, reason string) error
	ResendEnvelope(ctx context.Context, providerEnvelopeID string, recipient *provider.RecipientSpec) error
	ListTemplates(ctx context.Context) ([]provider.Template, error)
}

// Identity is the authenticated caller, resolved by the auth middleware.
type Identity struct {
	UserID string
	Email  string
}

// Service orchestrates the envelope lifecycle across the store, the provider
// gateway, blob storage, and the audit log. All authorization happens here;
// the store trusts its callers.
type Service struct {
	store    store.Store
	audits   audit.Store
	gateway  Gateway
	blobs    blob.Store
	subjects subject.Directory
	notify   notify.Notifier
	retries  webhook.RetryQueue
	metrics  *metrics.Metrics
	log      *slog.Logger

	defaultExpirationDays int
}

func New(
	envStore store.Store,
	audits audit.Store,
	gateway Gateway,
	blobs blob.Store,
	subjects subject.Directory,
	notifier notify.Notifier,
	retries webhook.RetryQueue,
	m *metrics.Metrics,
	defaultExpirationDays int,
	log *slog.Logger,
) *Service {
	if defaultExpirationDays <= 0 {
		defaultExpirationDays = 30
	}
	return &Service{
		store:                 envStore,
		audits:                audits,
		gateway:               gateway,
		blobs:                 blobs,
		subjects:              subjects,
		notify:                notifier,
		retries:               retries,
		metrics:               m,
		log:                   log,
		defaultExpirationDays: defaultExpirationDays,
	}
}

// RecipientInput describes one signer in a create request.
type RecipientInput struct {
	Email             string
	Name              string
	Role              models.RecipientRole
	RoutingOrder      int
	SignatureRequired bool
	InitialsRequired  bool
	DateRequired      bool
}

// DocumentInput is a source document uploaded with a create request.
type DocumentInput struct {
	Name     string
	MimeType string
	Content  []byte
}

// CreateParams carries a create-and-send request. Exactly one of Documents
// or TemplateRef must be present.
type CreateParams struct {
	Name           string
	DocumentType   models.DocumentType
	SubjectID      *string
	Message        string
	ExpirationDays int
	TemplateRef    string
	Documents      []DocumentInput
	Recipients     []RecipientInput
}

// Create validates the request, persists a DRAFT, sends it through the
// provider, and marks it SENT. A gateway failure leaves the envelope in
// DRAFT; it is never marked SENT without a provider envelope ID in hand.
func (s *Service) Create(ctx context.Context, actor Identity, params CreateParams) (*models.Envelope, error) {
	start := time.Now()
	if err := s.validateCreate(ctx, actor, params); err != nil {
		return nil, err
	}

	expirationDays := params.ExpirationDays
	if expirationDays <= 0 {
		expirationDays = s.defaultExpirationDays
	}

	draftParams := store.CreateDraftParams{
		Name:         params.Name,
		DocumentType: params.DocumentType,
		CreatedByID:  actor.UserID,
		SubjectID:    params.SubjectID,
		Message:      params.Message,
		ExpiresAt:    time.Now().Add(time.Duration(expirationDays) * 24 * time.Hour),
	}
	for _, r := range params.Recipients {
		draftParams.Recipients = append(draftParams.Recipients, store.RecipientParams(r))
	}
	for _, d := range params.Documents {
		key := fmt.Sprintf("uploads/%s/%s", uuid.New(), d.Name)
		ref, err := s.blobs.Put(ctx, key, d.Content, d.MimeType)
		if err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "store source document", err)
		}
		draftParams.Documents = append(draftParams.Documents, store.DocumentParams{
			Name:       d.Name,
			StorageRef: ref,
			MimeType:   d.MimeType,
			Size:       int64(len(d.Content)),
		})
	}

	env, err := s.store.CreateDraft(ctx, draftParams)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "create draft", err)
	}
	s.appendAudit(ctx, env.ID, audit.ActionCreated, actor.UserID, map[string]any{
		"name": env.Name,
		"type": string(env.DocumentType),
	})
	s.metrics.IncrementCreated()

	gwParams := provider.CreateEnvelopeParams{
		TemplateRef:     params.TemplateRef,
		Subject:         "Please sign: " + params.Name,
		Message:         params.Message,
		SendImmediately: true,
	}
	for _, d := range params.Documents {
		gwParams.Documents = append(gwParams.Documents, provider.DocumentSpec{
			Name: d.Name, MimeType: d.MimeType, Content: d.Content,
		})
	}
	for _, r := range params.Recipients {
		gwParams.Recipients = append(gwParams.Recipients, provider.RecipientSpec{
			Email: r.Email, Name: r.Name, RoutingOrder: r.RoutingOrder,
		})
	}

	result, err := s.gateway.CreateEnvelope(ctx, gwParams)
	if err != nil {
		// The draft stays behind for a retried create; it was never sent.
		s.log.Warn("provider create failed, envelope remains draft",
			"envelope_id", env.ID, "error", err)
		return nil, translateGatewayErr(err, "create envelope")
	}

	env, err = s.store.MarkSent(ctx, env.ID, result.ProviderEnvelopeID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "mark sent", err)
	}
	s.appendAudit(ctx, env.ID, audit.ActionSent, actor.UserID, map[string]any{
		"provider_envelope_id": result.ProviderEnvelopeID,
	})
	s.metrics.IncrementTransition(string(models.StatusSent))
	s.metrics.ObserveSend(start)
	s.notifyRecipients(ctx, env, "signature_requested", "Signature requested",
		fmt.Sprintf("You have been asked to sign %q.", env.Name))
	return env, nil
}

// BulkResult is the outcome of one item in a bulk send.
type BulkResult struct {
	Envelope *models.Envelope
	Err      error
}

// BulkSend processes each create independently; one failure does not abort
// the rest.
func (s *Service) BulkSend(ctx context.Context, actor Identity, items []CreateParams) []BulkResult {
	results := make([]BulkResult, len(items))
	for i, item := range items {
		env, err := s.Create(ctx, actor, item)
		results[i] = BulkResult{Envelope: env, Err: err}
	}
	return results
}

// Get returns an envelope visible to the caller: its owner or any recipient.
func (s *Service) Get(ctx context.Context, actor Identity, id uuid.UUID) (*models.Envelope, error) {
	env, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, env) {
		return nil, dErrors.New(dErrors.CodeForbidden, "not a party to this envelope")
	}
	return env, nil
}

// ListParams narrows a listing. AsRecipient switches from the owner view to
// envelopes where the caller appears as a signer.
type ListParams struct {
	Filter      store.Filter
	Page        store.Page
	AsRecipient bool
}

func (s *Service) List(ctx context.Context, actor Identity, params ListParams) ([]*models.Envelope, error) {
	if params.AsRecipient {
		envs, err := s.store.ListByRecipientEmail(ctx, actor.Email, params.Page)
		if err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "list envelopes", err)
		}
		return envs, nil
	}
	envs, err := s.store.ListByOwner(ctx, actor.UserID, params.Filter, params.Page)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list envelopes", err)
	}
	return envs, nil
}

// Void cancels a live envelope. Owner only; the reason is mandatory and is
// recorded both at the provider and locally.
func (s *Service) Void(ctx context.Context, actor Identity, id uuid.UUID, reason string) (*models.Envelope, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "void reason is required")
	}
	env, err := s.findOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !env.Status.Active() {
		return nil, dErrors.Newf(dErrors.CodeInvalidTransition,
			"cannot void an envelope in state %s", env.Status)
	}

	if err := s.gateway.VoidEnvelope(ctx, *env.ProviderEnvelopeID, reason); err != nil {
		return nil, translateGatewayErr(err, "void envelope")
	}
	env, applied, err := s.store.ApplyProviderEvent(ctx, *env.ProviderEnvelopeID,
		models.EventVoided, models.EventPayload{Reason: reason})
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "apply void", err)
	}
	if applied {
		s.appendAudit(ctx, env.ID, audit.ActionVoided, actor.UserID, map[string]any{"reason": reason})
		s.metrics.IncrementTransition(string(models.StatusVoided))
		s.notifyRecipients(ctx, env, "envelope_voided", "Envelope voided",
			fmt.Sprintf("Envelope %q was voided: %s", env.Name, reason))
	}
	return env, nil
}

// Resend asks the provider to re-deliver signing notifications for a live
// envelope, to every pending signer or, when recipientID is non-nil, to that
// recipient only.
func (s *Service) Resend(ctx context.Context, actor Identity, id uuid.UUID, recipientID *uuid.UUID) error {
	env, err := s.findOwned(ctx, actor, id)
	if err != nil {
		return err
	}
	if !env.Status.Active() {
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"cannot resend an envelope in state %s", env.Status)
	}

	var target *provider.RecipientSpec
	var details map[string]any
	if recipientID != nil {
		recipient := env.RecipientByID(*recipientID)
		if recipient == nil {
			return dErrors.New(dErrors.CodeNotFound, "recipient not found on envelope")
		}
		target = &provider.RecipientSpec{
			Email:        recipient.Email,
			Name:         recipient.Name,
			RoutingOrder: recipient.RoutingOrder,
		}
		details = map[string]any{
			"recipient_id":    recipient.ID.String(),
			"recipient_email": recipient.Email,
		}
	}

	if err := s.gateway.ResendEnvelope(ctx, *env.ProviderEnvelopeID, target); err != nil {
		return translateGatewayErr(err, "resend envelope")
	}
	s.appendAudit(ctx, env.ID, audit.ActionResent, actor.UserID, details)
	return nil
}

// SigningURL issues an embedded signing session URL. The caller must be a
// recipient on the envelope and the envelope must still be live.
func (s *Service) SigningURL(ctx context.Context, actor Identity, id uuid.UUID, returnURL string) (string, error) {
	env, err := s.find(ctx, id)
	if err != nil {
		return "", err
	}
	recipient := env.RecipientByEmail(actor.Email)
	if recipient == nil {
		return "", dErrors.New(dErrors.CodeForbidden, "caller is not a recipient on this envelope")
	}
	if !env.Status.Active() {
		return "", dErrors.Newf(dErrors.CodeInvalidTransition,
			"cannot issue a signing url for an envelope in state %s", env.Status)
	}

	url, err := s.gateway.RecipientSigningURL(ctx, *env.ProviderEnvelopeID,
		recipient.Email, recipient.Name, returnURL)
	if err != nil {
		return "", translateGatewayErr(err, "signing url")
	}
	s.appendAudit(ctx, env.ID, audit.ActionSigningURLIssued, actor.UserID, map[string]any{
		"recipient_email": recipient.Email,
	})
	return url, nil
}

// DocumentContent is a downloadable document.
type DocumentContent struct {
	Name     string
	MimeType string
	Data     []byte
}

// Download serves either the signed composite (selector "combined", requires
// COMPLETED, owner or recipient) or a source document by ID (owner only, any
// status).
func (s *Service) Download(ctx context.Context, actor Identity, id uuid.UUID, selector string) (*DocumentContent, error) {
	env, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	if selector == provider.DocumentSelectorCombined {
		if !s.canView(actor, env) {
			return nil, dErrors.New(dErrors.CodeForbidden, "not a party to this envelope")
		}
		if env.Status != models.StatusCompleted {
			return nil, dErrors.Newf(dErrors.CodeInvalidTransition,
				"cannot download the signed document for an envelope in state %s", env.Status)
		}
		return s.downloadSigned(ctx, actor, env)
	}

	if env.CreatedByID != actor.UserID {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the owner may download source documents")
	}
	docID, err := uuid.Parse(selector)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "document selector must be a document id or \"combined\"")
	}
	for i := range env.Documents {
		doc := &env.Documents[i]
		if doc.ID != docID {
			continue
		}
		data, err := s.blobs.Get(ctx, doc.StorageRef)
		if err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "fetch document", err)
		}
		s.appendAudit(ctx, env.ID, audit.ActionDocumentDownloaded, actor.UserID, map[string]any{
			"document_id": doc.ID.String(),
		})
		return &DocumentContent{Name: doc.Name, MimeType: doc.MimeType, Data: data}, nil
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "document not found on envelope")
}

func (s *Service) downloadSigned(ctx context.Context, actor Identity, env *models.Envelope) (*DocumentContent, error) {
	for i := range env.Documents {
		doc := &env.Documents[i]
		if !doc.IsSigned {
			continue
		}
		data, err := s.blobs.Get(ctx, doc.StorageRef)
		if err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "fetch signed document", err)
		}
		s.appendAudit(ctx, env.ID, audit.ActionDocumentDownloaded, actor.UserID, map[string]any{
			"document_id": doc.ID.String(), "signed": true,
		})
		return &DocumentContent{Name: doc.Name, MimeType: doc.MimeType, Data: data}, nil
	}

	// Completion can land before the signed composite has been fetched and
	// persisted; serve it straight from the provider in the meantime.
	data, err := s.gateway.DownloadDocument(ctx, *env.ProviderEnvelopeID, provider.DocumentSelectorCombined)
	if err != nil {
		return nil, translateGatewayErr(err, "download signed document")
	}
	s.appendAudit(ctx, env.ID, audit.ActionDocumentDownloaded, actor.UserID, map[string]any{"signed": true})
	return &DocumentContent{Name: "Signed Documents.pdf", MimeType: "application/pdf", Data: data}, nil
}

// Reconcile polls the provider for the envelope's live status and feeds it
// through the same idempotent transition path used by webhooks. This heals
// missed or delayed deliveries.
func (s *Service) Reconcile(ctx context.Context, actor Identity, id uuid.UUID) (*models.Envelope, error) {
	env, err := s.findOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if env.ProviderEnvelopeID == nil {
		return env, nil
	}

	snapshot, err := s.gateway.EnvelopeStatus(ctx, *env.ProviderEnvelopeID)
	if err != nil {
		return nil, translateGatewayErr(err, "poll status")
	}
	event, ok := eventForSnapshotStatus(snapshot.Status)
	if !ok {
		s.log.Info("reconcile: provider status has no transition",
			"envelope_id", env.ID, "provider_status", snapshot.Status)
		return env, nil
	}

	env, applied, err := s.store.ApplyProviderEvent(ctx, *env.ProviderEnvelopeID, event, models.EventPayload{})
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "apply reconciled status", err)
	}
	if !applied {
		return env, nil
	}

	s.appendAudit(ctx, env.ID, audit.Action(event), actor.UserID, map[string]any{"source": "reconcile"})
	s.metrics.IncrementTransition(string(env.Status))
	if event == models.EventCompleted {
		if err := s.persistSignedDocument(ctx, env); err != nil {
			s.log.Error("reconcile: signed document fetch failed, queued for retry",
				"envelope_id", env.ID, "error", err)
			task := webhook.FetchTask{EnvelopeID: env.ID, ProviderEnvelopeID: *env.ProviderEnvelopeID}
			if qErr := s.retries.Enqueue(ctx, task); qErr != nil {
				s.log.Error("retry enqueue failed", "envelope_id", env.ID, "error", qErr)
			}
		}
	}
	return s.find(ctx, id)
}

// Templates returns the provider account's template metadata.
func (s *Service) Templates(ctx context.Context) ([]provider.Template, error) {
	templates, err := s.gateway.ListTemplates(ctx)
	if err != nil {
		return nil, translateGatewayErr(err, "list templates")
	}
	return templates, nil
}

// History returns the envelope's audit trail, visible to any party.
func (s *Service) History(ctx context.Context, actor Identity, id uuid.UUID) ([]audit.Event, error) {
	env, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, env) {
		return nil, dErrors.New(dErrors.CodeForbidden, "not a party to this envelope")
	}
	events, err := s.audits.ListByEnvelope(ctx, env.ID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list audit trail", err)
	}
	return events, nil
}

func (s *Service) validateCreate(ctx context.Context, actor Identity, params CreateParams) error {
	if strings.TrimSpace(params.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "envelope name is required")
	}
	if !params.DocumentType.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown document type %q", params.DocumentType)
	}
	if len(params.Recipients) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one recipient is required")
	}
	for _, r := range params.Recipients {
		if strings.TrimSpace(r.Email) == "" || strings.TrimSpace(r.Name) == "" {
			return dErrors.New(dErrors.CodeValidation, "recipient email and name are required")
		}
		if !r.Role.Valid() {
			return dErrors.Newf(dErrors.CodeValidation, "unknown recipient role %q", r.Role)
		}
		if r.RoutingOrder <= 0 {
			return dErrors.New(dErrors.CodeValidation, "routing order must be a positive integer")
		}
	}
	hasDocs := len(params.Documents) > 0
	hasTemplate := params.TemplateRef != ""
	if hasDocs == hasTemplate {
		return dErrors.New(dErrors.CodeValidation, "exactly one of documents or templateRef is required")
	}

	if params.SubjectID != nil {
		record, err := s.subjects.Get(ctx, *params.SubjectID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeValidation, "unknown subject %q", *params.SubjectID)
		}
		if err != nil {
			return dErrors.Wrap(dErrors.CodeInternal, "resolve subject", err)
		}
		if record.OwnerID != actor.UserID && record.AgentID != actor.UserID {
			return dErrors.New(dErrors.CodeForbidden, "caller has no rights over the subject")
		}
	}
	return nil
}

func (s *Service) find(ctx context.Context, id uuid.UUID) (*models.Envelope, error) {
	env, err := s.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "envelope not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find envelope", err)
	}
	return env, nil
}

func (s *Service) findOwned(ctx context.Context, actor Identity, id uuid.UUID) (*models.Envelope, error) {
	env, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if env.CreatedByID != actor.UserID {
		return nil, dErrors.New(dErrors.CodeForbidden, "caller does not own this envelope")
	}
	return env, nil
}

func (s *Service) canView(actor Identity, env *models.Envelope) bool {
	if env.CreatedByID == actor.UserID {
		return true
	}
	return env.RecipientByEmail(actor.Email) != nil
}

func (s *Service) persistSignedDocument(ctx context.Context, env *models.Envelope) error {
	data, err := s.gateway.DownloadDocument(ctx, *env.ProviderEnvelopeID, provider.DocumentSelectorCombined)
	if err != nil {
		return fmt.Errorf("download signed document: %w", err)
	}
	key := fmt.Sprintf("envelopes/%s/signed.pdf", env.ID)
	ref, err := s.blobs.Put(ctx, key, data, "application/pdf")
	if err != nil {
		return fmt.Errorf("store signed document: %w", err)
	}
	_, err = s.store.AddDocument(ctx, env.ID, store.DocumentParams{
		Name:       "Signed Documents.pdf",
		StorageRef: ref,
		MimeType:   "application/pdf",
		Size:       int64(len(data)),
		IsSigned:   true,
	})
	if err != nil {
		return fmt.Errorf("attach signed document: %w", err)
	}
	return nil
}

func (s *Service) appendAudit(ctx context.Context, envelopeID uuid.UUID, action audit.Action, actor string, details map[string]any) {
	err := s.audits.Append(ctx, audit.Event{
		ID:         uuid.New(),
		EnvelopeID: envelopeID,
		Action:     action,
		Actor:      actor,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.log.Error("audit append failed", "envelope_id", envelopeID, "error", err)
	}
}

// notifyRecipients is fire-and-forget; a sink failure never aborts the
// operation that triggered it.
func (s *Service) notifyRecipients(ctx context.Context, env *models.Envelope, kind, title, message string) {
	data := map[string]any{"envelope_id": env.ID.String(), "status": string(env.Status)}
	for i := range env.Recipients {
		r := &env.Recipients[i]
		if err := s.notify.Notify(ctx, r.Email, kind, title, message, data); err != nil {
			s.log.Warn("notification dispatch failed",
				"envelope_id", env.ID, "recipient", r.Email, "error", err)
		}
	}
}

// translateGatewayErr maps provider client failures onto the domain error
// taxonomy. Credential failures arrive already coded and pass through.
func translateGatewayErr(err error, op string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de
	}
	var pErr *provider.Error
	if errors.As(err, &pErr) {
		return dErrors.Wrap(dErrors.CodeProvider, op+" rejected by provider", err)
	}
	return dErrors.Wrap(dErrors.CodeProvider, op+" failed", err)
}

// eventForSnapshotStatus maps the provider's polled status onto the event
// that produces it. "created" has no local transition.
func eventForSnapshotStatus(status string) (models.ProviderEvent, bool) {
	switch strings.ToLower(status) {
	case "sent":
		return models.EventSent, true
	case "delivered":
		return models.EventDelivered, true
	case "completed":
		return models.EventCompleted, true
	case "declined":
		return models.EventDeclined, true
	case "voided":
		return models.EventVoided, true
	case "expired":
		return models.EventExpired, true
	}
	return models.EventUnknown, false
}
