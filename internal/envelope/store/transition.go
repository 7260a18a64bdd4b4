package store

import (
	"time"

	"signetry/internal/envelope/models"
)

// applyEvent mutates env in place according to the lifecycle rules and
// reports whether the event was a legal forward transition. Both store
// implementations funnel through this so the memory and postgres stores
// cannot drift; callers are responsible for serializing access to env.
func applyEvent(env *models.Envelope, event models.ProviderEvent, payload models.EventPayload, now time.Time) bool {
	switch event {
	case models.EventRecipientCompleted:
		return applyRecipientCompleted(env, payload, now)
	case models.EventRecipientDeclined:
		return applyRecipientDeclined(env, payload, now)
	}

	if !models.AllowsEnvelopeEvent(env.Status, event) {
		return false
	}

	target, ok := models.TargetStatus(event)
	if !ok {
		return false
	}

	switch event {
	case models.EventSent:
		env.SentAt = &now
		activateRoutingGroup(env)
	case models.EventCompleted:
		// The provider's envelope-level "completed" only lands once every
		// recipient has signed; until then the recipient-level events are
		// still in flight and this is treated as out-of-order delivery.
		if !env.RecipientsComplete() {
			return false
		}
		env.CompletedAt = &now
	case models.EventDeclined:
		env.DeclinedAt = &now
		if payload.Reason != "" {
			reason := payload.Reason
			env.DeclinedReason = &reason
		}
		if r := env.RecipientByEmail(payload.RecipientEmail); r != nil && !r.Status.Terminal() {
			r.Status = models.RecipientDeclined
		}
	case models.EventVoided:
		env.VoidedAt = &now
		if payload.Reason != "" {
			reason := payload.Reason
			env.VoidedReason = &reason
		}
	case models.EventExpired:
		// Recorded per-recipient completions are preserved for audit; the
		// envelope is never promoted to COMPLETED after expiry.
	}

	env.Status = target
	env.UpdatedAt = now
	return true
}

func applyRecipientCompleted(env *models.Envelope, payload models.EventPayload, now time.Time) bool {
	if !env.Status.Active() {
		return false
	}
	r := env.RecipientByEmail(payload.RecipientEmail)
	if r == nil || r.Status.Terminal() {
		return false
	}
	r.Status = models.RecipientCompleted
	r.SignedAt = &now
	activateRoutingGroup(env)
	env.UpdatedAt = now
	return true
}

func applyRecipientDeclined(env *models.Envelope, payload models.EventPayload, now time.Time) bool {
	if !env.Status.Active() {
		return false
	}
	r := env.RecipientByEmail(payload.RecipientEmail)
	if r == nil || r.Status.Terminal() {
		return false
	}
	r.Status = models.RecipientDeclined
	env.Status = models.StatusDeclined
	env.DeclinedAt = &now
	if payload.Reason != "" {
		reason := payload.Reason
		env.DeclinedReason = &reason
	}
	env.UpdatedAt = now
	return true
}

// activateRoutingGroup moves PENDING recipients in the lowest incomplete
// routing order to SENT. Lower orders sign first; equal orders sign in
// parallel.
func activateRoutingGroup(env *models.Envelope) {
	order := env.LowestIncompleteOrder()
	if order == 0 {
		return
	}
	for i := range env.Recipients {
		r := &env.Recipients[i]
		if r.RoutingOrder == order && r.Status == models.RecipientPending {
			r.Status = models.RecipientSent
		}
	}
}
