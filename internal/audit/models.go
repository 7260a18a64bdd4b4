package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action enumerates every state-affecting action recorded per envelope.
type Action string

const (
	ActionCreated            Action = "created"
	ActionSent               Action = "sent"
	ActionDelivered          Action = "delivered"
	ActionCompleted          Action = "completed"
	ActionDeclined           Action = "declined"
	ActionVoided             Action = "voided"
	ActionExpired            Action = "expired"
	ActionResent             Action = "resent"
	ActionSigningURLIssued   Action = "signing_url_issued"
	ActionDocumentDownloaded Action = "document_downloaded"
	// ActionWebhookReceived records every processed notification, including
	// duplicates rejected by the idempotency check, so the trail shows
	// "received, no-op" distinctly from "received, applied".
	ActionWebhookReceived Action = "webhook_received"
)

// ActorWebhook marks events that originated from the provider's webhook
// delivery rather than an authenticated caller.
const ActorWebhook = "provider-webhook"

// Event is one append-only entry in an envelope's history. Events are never
// updated or deleted.
type Event struct {
	ID         uuid.UUID
	EnvelopeID uuid.UUID
	Action     Action
	Actor      string
	Details    map[string]any
	CreatedAt  time.Time
}
