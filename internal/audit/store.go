package audit

import (
	"context"

	"github.com/google/uuid"
)

// Store persists audit events. Append-only by contract: implementations
// expose no update or delete operations.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByEnvelope(ctx context.Context, envelopeID uuid.UUID) ([]Event, error)
}
