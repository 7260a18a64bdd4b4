package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"signetry/internal/envelope/models"
)

// Page bounds list queries. Limit 0 falls back to DefaultPageSize.
type Page struct {
	Offset int
	Limit  int
}

const DefaultPageSize = 50

func (p Page) limit() int {
	if p.Limit <= 0 {
		return DefaultPageSize
	}
	return p.Limit
}

// Filter narrows owner-scoped listings.
type Filter struct {
	Status       *models.EnvelopeStatus
	DocumentType *models.DocumentType
	SubjectID    *string
}

// RecipientParams describes a recipient at draft creation.
type RecipientParams struct {
	Email             string
	Name              string
	Role              models.RecipientRole
	RoutingOrder      int
	SignatureRequired bool
	InitialsRequired  bool
	DateRequired      bool
}

// DocumentParams describes a document attachment.
type DocumentParams struct {
	Name       string
	StorageRef string
	MimeType   string
	Size       int64
	IsSigned   bool
}

// CreateDraftParams carries everything needed to persist a DRAFT envelope.
type CreateDraftParams struct {
	Name         string
	DocumentType models.DocumentType
	CreatedByID  string
	SubjectID    *string
	Message      string
	ExpiresAt    time.Time
	Recipients   []RecipientParams
	Documents    []DocumentParams
}

// Store owns envelopes, recipients, documents, and their lifecycle. All
// mutation goes through explicit transition operations so lifecycle
// invariants cannot be bypassed by ad hoc field updates.
type Store interface {
	// CreateDraft persists a new envelope in DRAFT with its recipients and
	// source documents.
	CreateDraft(ctx context.Context, params CreateDraftParams) (*models.Envelope, error)

	// MarkSent transitions DRAFT -> SENT, sets sentAt, assigns the provider
	// envelope ID, and activates the lowest routing order group. Returns
	// sentinel.ErrInvalidState if the envelope is not DRAFT.
	MarkSent(ctx context.Context, envelopeID uuid.UUID, providerEnvelopeID string) (*models.Envelope, error)

	// ApplyProviderEvent is the single idempotent entry point for provider
	// state, used by both webhook processing and polling reconciliation.
	// It returns applied=false without mutating anything when the event is
	// not a legal forward transition from the envelope's current state.
	// Concurrent invocations for the same provider envelope are serialized.
	ApplyProviderEvent(ctx context.Context, providerEnvelopeID string, event models.ProviderEvent, payload models.EventPayload) (*models.Envelope, bool, error)

	// AddDocument attaches a document to an existing envelope. Used for the
	// signed composite persisted after completion.
	AddDocument(ctx context.Context, envelopeID uuid.UUID, doc DocumentParams) (*models.Document, error)

	FindByID(ctx context.Context, id uuid.UUID) (*models.Envelope, error)
	FindByProviderID(ctx context.Context, providerEnvelopeID string) (*models.Envelope, error)

	ListByOwner(ctx context.Context, ownerID string, filter Filter, page Page) ([]*models.Envelope, error)
	ListByRecipientEmail(ctx context.Context, email string, page Page) ([]*models.Envelope, error)

	// ListDueForExpiry returns active envelopes whose expiresAt has passed.
	ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*models.Envelope, error)
}
