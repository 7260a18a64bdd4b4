package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"signetry/internal/audit"
	"signetry/internal/blob"
	"signetry/internal/envelope/models"
	"signetry/internal/envelope/store"
	"signetry/internal/notify"
	"signetry/internal/provider"
	dErrors "signetry/pkg/domain-errors"
	"signetry/pkg/platform/sentinel"
)

// Gateway is the slice of the provider client the processor needs.
type Gateway interface {
	DownloadDocument(ctx context.Context, providerEnvelopeID, selector string) ([]byte, error)
}

// payload is the provider's notification body. Only the fields the engine
// acts on are decoded; everything else is ignored.
type payload struct {
	Event string `json:"event"`
	Data  struct {
		EnvelopeID     string `json:"envelopeId"`
		RecipientEmail string `json:"recipientEmail"`
		DeclineReason  string `json:"declineReason"`
	} `json:"data"`
}

// Processor handles inbound provider notifications: verifies the HMAC,
// applies the event through the store's idempotent transition path, fetches
// the signed composite on completion, and records every delivery in the
// audit trail.
type Processor struct {
	store   store.Store
	audits  audit.Store
	gateway Gateway
	blobs   blob.Store
	notify  notify.Notifier
	retries RetryQueue
	secret  []byte
	log     *slog.Logger
}

func NewProcessor(
	envStore store.Store,
	audits audit.Store,
	gateway Gateway,
	blobs blob.Store,
	notifier notify.Notifier,
	retries RetryQueue,
	secret []byte,
	log *slog.Logger,
) *Processor {
	return &Processor{
		store:   envStore,
		audits:  audits,
		gateway: gateway,
		blobs:   blobs,
		notify:  notifier,
		retries: retries,
		secret:  secret,
		log:     log,
	}
}

// Process handles one delivery. It returns a CodeSignature error when the
// HMAC does not verify; every other outcome, including unknown envelopes and
// unrecognized events, is acknowledged so the provider does not redeliver.
func (p *Processor) Process(ctx context.Context, body []byte, signature string) error {
	if !VerifySignature(p.secret, body, signature) {
		receivedTotal.WithLabelValues(outcomeBadSignature).Inc()
		return dErrors.New(dErrors.CodeSignature, "webhook signature mismatch")
	}

	var pl payload
	if err := json.Unmarshal(body, &pl); err != nil {
		receivedTotal.WithLabelValues(outcomeMalformed).Inc()
		p.log.Warn("malformed webhook payload", "error", err)
		return nil
	}

	env, err := p.store.FindByProviderID(ctx, pl.Data.EnvelopeID)
	if errors.Is(err, sentinel.ErrNotFound) {
		// The provider delivers events for envelopes not tracked here,
		// e.g. test sends from the same account.
		receivedTotal.WithLabelValues(outcomeUnknownEnvelope).Inc()
		p.log.Info("webhook for unknown envelope ignored", "provider_envelope_id", pl.Data.EnvelopeID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("webhook: lookup envelope: %w", err)
	}

	event := MapEvent(pl.Event)
	if event == models.EventUnknown {
		receivedTotal.WithLabelValues(outcomeUnknownEvent).Inc()
		p.log.Info("unrecognized webhook event ignored",
			"event", pl.Event, "envelope_id", env.ID)
		p.appendAudit(ctx, env.ID, pl.Event, false, "unknown_event", pl.Data.RecipientEmail)
		return nil
	}

	eventPayload := models.EventPayload{
		RecipientEmail: pl.Data.RecipientEmail,
		Reason:         pl.Data.DeclineReason,
	}
	env, applied, err := p.store.ApplyProviderEvent(ctx, pl.Data.EnvelopeID, event, eventPayload)
	if err != nil {
		return fmt.Errorf("webhook: apply %s: %w", event, err)
	}

	outcome := outcomeNoop
	if applied {
		outcome = outcomeApplied
	}
	receivedTotal.WithLabelValues(outcome).Inc()
	p.appendAudit(ctx, env.ID, pl.Event, applied, "", pl.Data.RecipientEmail)

	if !applied {
		p.log.Info("webhook event was a no-op",
			"event", event, "envelope_id", env.ID, "status", env.Status)
		return nil
	}

	if event == models.EventCompleted {
		if err := p.FetchSignedDocument(ctx, env.ID, pl.Data.EnvelopeID); err != nil {
			// The transition is durable; the artifact fetch is retried
			// out-of-band, never silently dropped.
			signedDocFetchFailures.Inc()
			p.log.Error("signed document fetch failed, queued for retry",
				"envelope_id", env.ID, "error", err)
			task := FetchTask{EnvelopeID: env.ID, ProviderEnvelopeID: pl.Data.EnvelopeID}
			if qErr := p.retries.Enqueue(ctx, task); qErr != nil {
				p.log.Error("retry enqueue failed", "envelope_id", env.ID, "error", qErr)
			}
		}
	}

	p.dispatchNotification(ctx, env, event, eventPayload)
	return nil
}

// FetchSignedDocument pulls the combined signed PDF from the provider,
// stores it, and attaches it to the envelope. Called inline on completion
// and again by the retry worker on failure.
func (p *Processor) FetchSignedDocument(ctx context.Context, envelopeID uuid.UUID, providerEnvelopeID string) error {
	data, err := p.gateway.DownloadDocument(ctx, providerEnvelopeID, provider.DocumentSelectorCombined)
	if err != nil {
		return fmt.Errorf("webhook: download signed document: %w", err)
	}

	key := fmt.Sprintf("envelopes/%s/signed.pdf", envelopeID)
	ref, err := p.blobs.Put(ctx, key, data, "application/pdf")
	if err != nil {
		return fmt.Errorf("webhook: store signed document: %w", err)
	}

	_, err = p.store.AddDocument(ctx, envelopeID, store.DocumentParams{
		Name:       "Signed Documents.pdf",
		StorageRef: ref,
		MimeType:   "application/pdf",
		Size:       int64(len(data)),
		IsSigned:   true,
	})
	if err != nil {
		return fmt.Errorf("webhook: attach signed document: %w", err)
	}
	return nil
}

func (p *Processor) appendAudit(ctx context.Context, envelopeID uuid.UUID, rawEvent string, applied bool, reason, recipientEmail string) {
	details := map[string]any{
		"event":   rawEvent,
		"applied": applied,
	}
	if reason != "" {
		details["reason"] = reason
	}
	if recipientEmail != "" {
		details["recipient_email"] = recipientEmail
	}
	err := p.audits.Append(ctx, audit.Event{
		ID:         uuid.New(),
		EnvelopeID: envelopeID,
		Action:     audit.ActionWebhookReceived,
		Actor:      audit.ActorWebhook,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		p.log.Error("audit append failed", "envelope_id", envelopeID, "error", err)
	}
}

func (p *Processor) dispatchNotification(ctx context.Context, env *models.Envelope, event models.ProviderEvent, pl models.EventPayload) {
	var kind, title, message string
	switch event {
	case models.EventCompleted:
		kind, title = "envelope_completed", "Envelope completed"
		message = fmt.Sprintf("All parties have signed %q.", env.Name)
	case models.EventDeclined, models.EventRecipientDeclined:
		kind, title = "envelope_declined", "Envelope declined"
		message = fmt.Sprintf("%s declined to sign %q.", pl.RecipientEmail, env.Name)
		if pl.Reason != "" {
			message += " Reason: " + pl.Reason
		}
	case models.EventVoided:
		kind, title = "envelope_voided", "Envelope voided"
		message = fmt.Sprintf("Envelope %q was voided.", env.Name)
	case models.EventExpired:
		kind, title = "envelope_expired", "Envelope expired"
		message = fmt.Sprintf("Envelope %q expired before completion.", env.Name)
	case models.EventRecipientCompleted:
		kind, title = "recipient_signed", "Recipient signed"
		message = fmt.Sprintf("%s signed %q.", pl.RecipientEmail, env.Name)
	default:
		return
	}

	data := map[string]any{"envelope_id": env.ID.String(), "status": string(env.Status)}
	if err := p.notify.Notify(ctx, env.CreatedByID, kind, title, message, data); err != nil {
		p.log.Warn("notification dispatch failed", "envelope_id", env.ID, "error", err)
	}
}
