package webhook

import "signetry/internal/envelope/models"

// MapEvent translates a provider event name into the internal event set.
// The provider uses both bare and envelope-prefixed names depending on the
// notification configuration, so both spellings are accepted. Anything else
// maps to EventUnknown and is logged and ignored upstream, never coerced.
func MapEvent(name string) models.ProviderEvent {
	switch name {
	case "sent", "envelope-sent":
		return models.EventSent
	case "delivered", "envelope-delivered":
		return models.EventDelivered
	case "completed", "envelope-completed":
		return models.EventCompleted
	case "declined", "envelope-declined":
		return models.EventDeclined
	case "voided", "envelope-voided":
		return models.EventVoided
	case "expired", "envelope-expired":
		return models.EventExpired
	case "recipient-completed", "recipient-signed":
		return models.EventRecipientCompleted
	case "recipient-declined":
		return models.EventRecipientDeclined
	}
	return models.EventUnknown
}
