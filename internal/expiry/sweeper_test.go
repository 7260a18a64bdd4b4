package expiry

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signetry/internal/audit"
	"signetry/internal/envelope/models"
	"signetry/internal/envelope/store"
	"signetry/internal/notify"
)

func seedEnvelope(t *testing.T, mem *store.Memory, expiresAt time.Time, providerID string) *models.Envelope {
	t.Helper()
	draft, err := mem.CreateDraft(t.Context(), store.CreateDraftParams{
		Name:         "Lease",
		DocumentType: models.TypeLease,
		CreatedByID:  "agent-1",
		ExpiresAt:    expiresAt,
		Recipients: []store.RecipientParams{
			{Email: "tenant@example.com", Name: "T", Role: models.RoleOtherParty, RoutingOrder: 1},
		},
	})
	require.NoError(t, err)
	env, err := mem.MarkSent(t.Context(), draft.ID, providerID)
	require.NoError(t, err)
	return env
}

func TestSweepExpiresOverdueEnvelopes(t *testing.T) {
	mem := store.NewMemory()
	audits := audit.NewInMemoryStore()
	notifier := notify.NewMemory()
	sweeper := NewSweeper(mem, audits, notifier, time.Minute, slog.New(slog.DiscardHandler))

	overdue := seedEnvelope(t, mem, time.Now().Add(-time.Hour), "prov-overdue")
	live := seedEnvelope(t, mem, time.Now().Add(24*time.Hour), "prov-live")

	n, err := sweeper.Sweep(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := mem.FindByID(t.Context(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)

	untouched, err := mem.FindByID(t.Context(), live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, untouched.Status)

	events, err := audits.ListByEnvelope(t.Context(), overdue.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionExpired, events[0].Action)
	assert.Equal(t, ActorSweeper, events[0].Actor)

	sent := notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "agent-1", sent[0].UserID)
	assert.Equal(t, "envelope_expired", sent[0].Kind)
}

func TestSweepIsIdempotent(t *testing.T) {
	mem := store.NewMemory()
	audits := audit.NewInMemoryStore()
	sweeper := NewSweeper(mem, audits, notify.NewMemory(), time.Minute, slog.New(slog.DiscardHandler))

	env := seedEnvelope(t, mem, time.Now().Add(-time.Hour), "prov-1")

	n, err := sweeper.Sweep(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = sweeper.Sweep(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n, "already-expired envelopes are not due again")

	events, err := audits.ListByEnvelope(t.Context(), env.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSweepPreservesRecipientCompletions(t *testing.T) {
	mem := store.NewMemory()
	sweeper := NewSweeper(mem, audit.NewInMemoryStore(), notify.NewMemory(), time.Minute, slog.New(slog.DiscardHandler))

	env := seedEnvelope(t, mem, time.Now().Add(-time.Hour), "prov-1")
	_, applied, err := mem.ApplyProviderEvent(t.Context(), "prov-1",
		models.EventRecipientCompleted, models.EventPayload{RecipientEmail: "tenant@example.com"})
	require.NoError(t, err)
	require.True(t, applied)

	_, err = sweeper.Sweep(t.Context())
	require.NoError(t, err)

	got, err := mem.FindByID(t.Context(), env.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.Equal(t, models.RecipientCompleted, got.Recipients[0].Status,
		"expiry keeps recorded signatures")
	require.NotNil(t, got.Recipients[0].SignedAt)
}
