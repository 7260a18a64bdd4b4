package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signetry/internal/audit"
	"signetry/internal/blob"
	"signetry/internal/envelope/models"
	"signetry/internal/envelope/store"
	"signetry/internal/notify"
	dErrors "signetry/pkg/domain-errors"
)

type fakeGateway struct {
	downloadFn func(ctx context.Context, providerEnvelopeID, selector string) ([]byte, error)
	calls      int
}

func (f *fakeGateway) DownloadDocument(ctx context.Context, providerEnvelopeID, selector string) ([]byte, error) {
	f.calls++
	if f.downloadFn != nil {
		return f.downloadFn(ctx, providerEnvelopeID, selector)
	}
	return []byte("%PDF-1.4 signed composite"), nil
}

type harness struct {
	store     *store.Memory
	audits    *audit.InMemoryStore
	gateway   *fakeGateway
	blobs     *blob.Memory
	notifier  *notify.Memory
	queue     *MemoryQueue
	processor *Processor
	env       *models.Envelope
}

var testSecret = []byte("webhook-secret")

const testProviderID = "prov-abc-123"

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    store.NewMemory(),
		audits:   audit.NewInMemoryStore(),
		gateway:  &fakeGateway{},
		blobs:    blob.NewMemory(),
		notifier: notify.NewMemory(),
		queue:    NewMemoryQueue(),
	}
	h.processor = NewProcessor(
		h.store, h.audits, h.gateway, h.blobs, h.notifier, h.queue,
		testSecret, slog.New(slog.DiscardHandler),
	)

	draft, err := h.store.CreateDraft(t.Context(), store.CreateDraftParams{
		Name:         "Purchase Agreement",
		DocumentType: models.TypePurchaseAgreement,
		CreatedByID:  "agent-1",
		ExpiresAt:    time.Now().Add(30 * 24 * time.Hour),
		Recipients: []store.RecipientParams{
			{Email: "buyer@example.com", Name: "Pat Buyer", Role: models.RoleBuyer, RoutingOrder: 1, SignatureRequired: true},
			{Email: "seller@example.com", Name: "Sam Seller", Role: models.RoleSeller, RoutingOrder: 2, SignatureRequired: true},
		},
	})
	require.NoError(t, err)

	h.env, err = h.store.MarkSent(t.Context(), draft.ID, testProviderID)
	require.NoError(t, err)
	return h
}

// deliver signs and submits one webhook payload.
func (h *harness) deliver(t *testing.T, event, recipientEmail, reason string) error {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": event,
		"data": map[string]any{
			"envelopeId":     testProviderID,
			"recipientEmail": recipientEmail,
			"declineReason":  reason,
		},
	})
	require.NoError(t, err)
	return h.processor.Process(t.Context(), body, ComputeSignature(testSecret, body))
}

func (h *harness) reload(t *testing.T) *models.Envelope {
	t.Helper()
	env, err := h.store.FindByID(t.Context(), h.env.ID)
	require.NoError(t, err)
	return env
}

func TestRoutingOrderFlowToCompleted(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.deliver(t, "recipient-completed", "buyer@example.com", ""))
	env := h.reload(t)
	assert.Equal(t, models.RecipientCompleted, env.Recipients[0].Status)
	assert.Equal(t, models.RecipientSent, env.Recipients[1].Status, "next routing group activates")

	require.NoError(t, h.deliver(t, "recipient-completed", "seller@example.com", ""))
	require.NoError(t, h.deliver(t, "envelope-completed", "", ""))

	env = h.reload(t)
	assert.Equal(t, models.StatusCompleted, env.Status)
	require.NotNil(t, env.CompletedAt)

	require.Len(t, env.Documents, 1)
	signed := env.Documents[0]
	assert.True(t, signed.IsSigned)
	assert.Equal(t, "application/pdf", signed.MimeType)
	data, err := h.blobs.Get(t.Context(), signed.StorageRef)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	events, err := h.audits.ListByEnvelope(t.Context(), env.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, audit.ActionWebhookReceived, e.Action)
		assert.Equal(t, audit.ActorWebhook, e.Actor)
		assert.Equal(t, true, e.Details["applied"])
	}
}

func TestCompletedBeforeRecipientsIsOutOfOrder(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.deliver(t, "envelope-completed", "", ""))

	env := h.reload(t)
	assert.Equal(t, models.StatusSent, env.Status, "completed with unsigned recipients must not apply")
	assert.Zero(t, h.gateway.calls, "no signed document fetch on a no-op")

	events, err := h.audits.ListByEnvelope(t.Context(), env.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, false, events[0].Details["applied"])
}

func TestDuplicateCompletedIsNoop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.deliver(t, "recipient-completed", "buyer@example.com", ""))
	require.NoError(t, h.deliver(t, "recipient-completed", "seller@example.com", ""))

	require.NoError(t, h.deliver(t, "envelope-completed", "", ""))
	require.NoError(t, h.deliver(t, "envelope-completed", "", ""))

	env := h.reload(t)
	assert.Equal(t, models.StatusCompleted, env.Status)
	assert.Len(t, env.Documents, 1, "at most one signed document fetch")
	assert.Equal(t, 1, h.gateway.calls)

	events, err := h.audits.ListByEnvelope(t.Context(), env.ID)
	require.NoError(t, err)
	require.Len(t, events, 4, "duplicates are still recorded")
	assert.Equal(t, true, events[2].Details["applied"])
	assert.Equal(t, false, events[3].Details["applied"])
}

func TestSignatureMismatchRejected(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{"event":"envelope-voided","data":{"envelopeId":"` + testProviderID + `"}}`)

	err := h.processor.Process(t.Context(), body, ComputeSignature([]byte("wrong secret"), body))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSignature))

	env := h.reload(t)
	assert.Equal(t, models.StatusSent, env.Status, "rejected payload must not be processed")
	events, err := h.audits.ListByEnvelope(t.Context(), env.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecipientDeclineEndsEnvelope(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.deliver(t, "recipient-declined", "buyer@example.com", "price changed"))

	env := h.reload(t)
	assert.Equal(t, models.StatusDeclined, env.Status)
	require.NotNil(t, env.DeclinedReason)
	assert.Equal(t, "price changed", *env.DeclinedReason)
	assert.Equal(t, models.RecipientDeclined, env.Recipients[0].Status)

	sent := h.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "agent-1", sent[0].UserID)
	assert.Equal(t, "envelope_declined", sent[0].Kind)
	assert.Contains(t, sent[0].Message, "price changed")
}

func TestUnknownEnvelopeAcknowledged(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{"event":"envelope-completed","data":{"envelopeId":"someone-elses-envelope"}}`)

	err := h.processor.Process(t.Context(), body, ComputeSignature(testSecret, body))
	require.NoError(t, err, "events for untracked envelopes are acknowledged and ignored")
}

func TestUnknownEventLoggedAndIgnored(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.deliver(t, "envelope-corrected", "", ""))

	env := h.reload(t)
	assert.Equal(t, models.StatusSent, env.Status)

	events, err := h.audits.ListByEnvelope(t.Context(), env.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "envelope-corrected", events[0].Details["event"])
	assert.Equal(t, "unknown_event", events[0].Details["reason"])
}

func TestFetchFailureQueuesRetryWithoutRollingBack(t *testing.T) {
	h := newHarness(t)
	h.gateway.downloadFn = func(context.Context, string, string) ([]byte, error) {
		return nil, errors.New("provider timeout")
	}
	require.NoError(t, h.deliver(t, "recipient-completed", "buyer@example.com", ""))
	require.NoError(t, h.deliver(t, "recipient-completed", "seller@example.com", ""))

	require.NoError(t, h.deliver(t, "envelope-completed", "", ""))

	env := h.reload(t)
	assert.Equal(t, models.StatusCompleted, env.Status, "transition is durable despite fetch failure")
	assert.Empty(t, env.Documents)
	assert.Equal(t, 1, h.queue.Len())
}

func TestRetryWorkerRecoversFailedFetch(t *testing.T) {
	h := newHarness(t)
	h.gateway.downloadFn = func(context.Context, string, string) ([]byte, error) {
		return nil, errors.New("provider timeout")
	}
	require.NoError(t, h.deliver(t, "recipient-completed", "buyer@example.com", ""))
	require.NoError(t, h.deliver(t, "recipient-completed", "seller@example.com", ""))
	require.NoError(t, h.deliver(t, "envelope-completed", "", ""))
	require.Equal(t, 1, h.queue.Len())

	h.gateway.downloadFn = nil
	worker := NewRetryWorker(h.queue, h.processor, time.Minute, slog.New(slog.DiscardHandler))
	worker.drain(t.Context())

	assert.Zero(t, h.queue.Len())
	env := h.reload(t)
	require.Len(t, env.Documents, 1)
	assert.True(t, env.Documents[0].IsSigned)
}
