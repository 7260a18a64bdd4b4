package models

import (
	"time"

	"github.com/google/uuid"
)

// EnvelopeStatus is the envelope lifecycle state. DRAFT and the terminal
// states are immutable once reached.
type EnvelopeStatus string

const (
	StatusDraft     EnvelopeStatus = "DRAFT"
	StatusSent      EnvelopeStatus = "SENT"
	StatusDelivered EnvelopeStatus = "DELIVERED"
	StatusCompleted EnvelopeStatus = "COMPLETED"
	StatusDeclined  EnvelopeStatus = "DECLINED"
	StatusVoided    EnvelopeStatus = "VOIDED"
	StatusExpired   EnvelopeStatus = "EXPIRED"
)

// Terminal reports whether no further transitions are legal from s.
func (s EnvelopeStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDeclined, StatusVoided, StatusExpired:
		return true
	}
	return false
}

// Active reports whether the envelope is live at the provider, i.e. SENT or
// DELIVERED. Void, resend, and signing-url operations require an active
// envelope.
func (s EnvelopeStatus) Active() bool {
	return s == StatusSent || s == StatusDelivered
}

// DocumentType is the closed set of supported agreement types.
type DocumentType string

const (
	TypePurchaseAgreement DocumentType = "purchase_agreement"
	TypeListingAgreement  DocumentType = "listing_agreement"
	TypeDisclosure        DocumentType = "disclosure"
	TypeAddendum          DocumentType = "addendum"
	TypeAmendment         DocumentType = "amendment"
	TypeCounteroffer      DocumentType = "counteroffer"
	TypeLease             DocumentType = "lease"
	TypeOther             DocumentType = "other"
)

func (t DocumentType) Valid() bool {
	switch t {
	case TypePurchaseAgreement, TypeListingAgreement, TypeDisclosure,
		TypeAddendum, TypeAmendment, TypeCounteroffer, TypeLease, TypeOther:
		return true
	}
	return false
}

// RecipientRole identifies the signing party's function in the transaction.
type RecipientRole string

const (
	RoleBuyer        RecipientRole = "buyer"
	RoleSeller       RecipientRole = "seller"
	RoleAgent        RecipientRole = "agent"
	RoleBroker       RecipientRole = "broker"
	RoleAttorney     RecipientRole = "attorney"
	RoleTitleCompany RecipientRole = "title_company"
	RoleLender       RecipientRole = "lender"
	RoleOtherParty   RecipientRole = "other"
)

func (r RecipientRole) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAgent, RoleBroker, RoleAttorney,
		RoleTitleCompany, RoleLender, RoleOtherParty:
		return true
	}
	return false
}

// RecipientStatus tracks a single recipient through signing. Recipients never
// revert from COMPLETED or DECLINED.
type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "PENDING"
	RecipientSent      RecipientStatus = "SENT"
	RecipientCompleted RecipientStatus = "COMPLETED"
	RecipientDeclined  RecipientStatus = "DECLINED"
)

func (s RecipientStatus) Terminal() bool {
	return s == RecipientCompleted || s == RecipientDeclined
}

// Envelope is a multi-party signature request tracked against the signing
// provider. ProviderEnvelopeID is nil exactly while the envelope is DRAFT.
type Envelope struct {
	ID                 uuid.UUID
	ProviderEnvelopeID *string
	Name               string
	DocumentType       DocumentType
	Status             EnvelopeStatus
	CreatedByID        string
	SubjectID          *string
	Message            string
	ExpiresAt          time.Time
	SentAt             *time.Time
	CompletedAt        *time.Time
	DeclinedAt         *time.Time
	VoidedAt           *time.Time
	VoidedReason       *string
	DeclinedReason     *string
	Recipients         []Recipient
	Documents          []Document
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Recipient belongs to exactly one envelope. Recipients sharing a routing
// order sign in parallel; lower orders sign first.
type Recipient struct {
	ID                uuid.UUID
	EnvelopeID        uuid.UUID
	Email             string
	Name              string
	Role              RecipientRole
	RoutingOrder      int
	SignatureRequired bool
	InitialsRequired  bool
	DateRequired      bool
	Status            RecipientStatus
	SignedAt          *time.Time
}

// Document is an attachment on an envelope: either a source document added at
// creation or the signed composite fetched after completion. Documents are
// never mutated, only added.
type Document struct {
	ID         uuid.UUID
	EnvelopeID uuid.UUID
	Name       string
	StorageRef string
	MimeType   string
	Size       int64
	IsSigned   bool
	CreatedAt  time.Time
}

// ProviderEvent is the closed set of recognized provider notifications.
// Unrecognized names map to EventUnknown at the webhook boundary and are
// logged and ignored, never coerced.
type ProviderEvent string

const (
	EventSent               ProviderEvent = "sent"
	EventDelivered          ProviderEvent = "delivered"
	EventCompleted          ProviderEvent = "completed"
	EventDeclined           ProviderEvent = "declined"
	EventVoided             ProviderEvent = "voided"
	EventExpired            ProviderEvent = "expired"
	EventRecipientCompleted ProviderEvent = "recipient-completed"
	EventRecipientDeclined  ProviderEvent = "recipient-declined"
	EventUnknown            ProviderEvent = "unknown"
)

// EventPayload carries the event details relevant to a transition.
type EventPayload struct {
	RecipientEmail string
	Reason         string
}

// RecipientsComplete reports whether every recipient has signed.
func (e *Envelope) RecipientsComplete() bool {
	for i := range e.Recipients {
		if e.Recipients[i].Status != RecipientCompleted {
			return false
		}
	}
	return len(e.Recipients) > 0
}

// LowestIncompleteOrder returns the smallest routing order with an incomplete
// recipient, or 0 when all recipients are complete.
func (e *Envelope) LowestIncompleteOrder() int {
	lowest := 0
	for i := range e.Recipients {
		r := &e.Recipients[i]
		if r.Status == RecipientCompleted {
			continue
		}
		if lowest == 0 || r.RoutingOrder < lowest {
			lowest = r.RoutingOrder
		}
	}
	return lowest
}

// RecipientByEmail finds a recipient by email, or nil.
func (e *Envelope) RecipientByEmail(email string) *Recipient {
	for i := range e.Recipients {
		if e.Recipients[i].Email == email {
			return &e.Recipients[i]
		}
	}
	return nil
}

// RecipientByID finds a recipient by ID, or nil.
func (e *Envelope) RecipientByID(id uuid.UUID) *Recipient {
	for i := range e.Recipients {
		if e.Recipients[i].ID == id {
			return &e.Recipients[i]
		}
	}
	return nil
}

// AllowsEnvelopeEvent reports whether applying event to an envelope in status
// from is a legal forward transition. Recipient-level events are legal while
// the envelope is active; their per-recipient checks happen in the store.
func AllowsEnvelopeEvent(from EnvelopeStatus, event ProviderEvent) bool {
	switch event {
	case EventSent:
		return from == StatusDraft
	case EventDelivered:
		return from == StatusSent
	case EventCompleted, EventDeclined, EventVoided, EventExpired:
		return from.Active()
	case EventRecipientCompleted, EventRecipientDeclined:
		return from.Active()
	}
	return false
}

// TargetStatus maps an envelope-level event to the status it produces.
func TargetStatus(event ProviderEvent) (EnvelopeStatus, bool) {
	switch event {
	case EventSent:
		return StatusSent, true
	case EventDelivered:
		return StatusDelivered, true
	case EventCompleted:
		return StatusCompleted, true
	case EventDeclined:
		return StatusDeclined, true
	case EventVoided:
		return StatusVoided, true
	case EventExpired:
		return StatusExpired, true
	}
	return "", false
}
