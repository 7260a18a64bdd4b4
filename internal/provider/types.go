package provider

import (
	"fmt"
	"time"
)

// Error carries the provider's HTTP status and message for any failed call.
// Transport failures carry Status 0.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("provider: %s", e.Message)
	}
	return fmt.Sprintf("provider: status %d: %s", e.Status, e.Message)
}

// RecipientSpec describes one signer in a create request.
type RecipientSpec struct {
	Email        string
	Name         string
	RoutingOrder int
}

// DocumentSpec is a source document uploaded with a document-based create.
type DocumentSpec struct {
	Name     string
	MimeType string
	Content  []byte
}

// CreateEnvelopeParams builds either a template-based request (TemplateRef
// set) or a document-based one (Documents set).
type CreateEnvelopeParams struct {
	TemplateRef     string
	Documents       []DocumentSpec
	Recipients      []RecipientSpec
	Subject         string
	Message         string
	SendImmediately bool
}

// CreateEnvelopeResult is the provider's acknowledgment of a create.
type CreateEnvelopeResult struct {
	ProviderEnvelopeID string
	URI                string
}

// StatusSnapshot is the provider's live view of an envelope, used by polling
// reconciliation.
type StatusSnapshot struct {
	ProviderEnvelopeID string
	Status             string
	StatusChangedAt    time.Time
}

// Template is provider-side template metadata.
type Template struct {
	ID          string
	Name        string
	Description string
}

// DocumentSelectorCombined selects the flattened signed composite produced
// after completion.
const DocumentSelectorCombined = "combined"
