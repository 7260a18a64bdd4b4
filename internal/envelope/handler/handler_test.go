package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signetry/internal/audit"
	"signetry/internal/blob"
	"signetry/internal/envelope/service"
	"signetry/internal/envelope/store"
	"signetry/internal/notify"
	"signetry/internal/platform/middleware"
	"signetry/internal/provider"
	"signetry/internal/subject"
	"signetry/internal/webhook"
)

const signingKey = "test-signing-key"

type gatewayStub struct {
	createErr    error
	resendTarget *provider.RecipientSpec
}

func (g *gatewayStub) CreateEnvelope(context.Context, provider.CreateEnvelopeParams) (provider.CreateEnvelopeResult, error) {
	if g.createErr != nil {
		return provider.CreateEnvelopeResult{}, g.createErr
	}
	return provider.CreateEnvelopeResult{ProviderEnvelopeID: uuid.NewString()}, nil
}

func (g *gatewayStub) EnvelopeStatus(_ context.Context, id string) (provider.StatusSnapshot, error) {
	return provider.StatusSnapshot{ProviderEnvelopeID: id, Status: "delivered"}, nil
}

func (g *gatewayStub) RecipientSigningURL(context.Context, string, string, string, string) (string, error) {
	return "https://sign.example.com/session/abc", nil
}

func (g *gatewayStub) DownloadDocument(context.Context, string, string) ([]byte, error) {
	return []byte("%PDF-1.4 signed"), nil
}

func (g *gatewayStub) VoidEnvelope(context.Context, string, string) error { return nil }

func (g *gatewayStub) ResendEnvelope(_ context.Context, _ string, recipient *provider.RecipientSpec) error {
	g.resendTarget = recipient
	return nil
}

func (g *gatewayStub) ListTemplates(context.Context) ([]provider.Template, error) {
	return []provider.Template{{ID: "t1", Name: "Lease"}}, nil
}

type env struct {
	srv     *httptest.Server
	gateway *gatewayStub
}

func newServer(t *testing.T) *env {
	t.Helper()
	gateway := &gatewayStub{}
	log := slog.New(slog.DiscardHandler)
	svc := service.New(
		store.NewMemory(), audit.NewInMemoryStore(), gateway, blob.NewMemory(),
		subject.NewMemory(), notify.NewMemory(), webhook.NewMemoryQueue(),
		nil, 30, log,
	)
	h := New(svc, log, middleware.NewHS256Validator(signingKey))
	r := chi.NewRouter()
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &env{srv: srv, gateway: gateway}
}

func token(t *testing.T, userID, email string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": email,
	}).SignedString([]byte(signingKey))
	require.NoError(t, err)
	return signed
}

func (e *env) request(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func createBody() map[string]any {
	return map[string]any{
		"name":         "Purchase Agreement",
		"documentType": "purchase_agreement",
		"message":      "Please sign.",
		"documents": []map[string]any{
			{
				"name":          "agreement.pdf",
				"mimeType":      "application/pdf",
				"contentBase64": base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")),
			},
		},
		"recipients": []map[string]any{
			{"email": "buyer@example.com", "name": "Pat Buyer", "role": "buyer", "routingOrder": 1, "signatureRequired": true},
		},
	}
}

func (e *env) create(t *testing.T, bearer string) envelopeResponse {
	t.Helper()
	resp := e.request(t, http.MethodPost, "/envelopes", bearer, createBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[envelopeResponse](t, resp)
}

func TestRoutesRequireAuth(t *testing.T) {
	e := newServer(t)

	resp := e.request(t, http.MethodGet, "/envelopes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.request(t, http.MethodGet, "/templates", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndGet(t *testing.T) {
	e := newServer(t)
	agent := token(t, "agent-1", "agent@example.com")

	created := e.create(t, agent)
	assert.Equal(t, "SENT", created.Status)
	assert.NotNil(t, created.ProviderEnvelopeID)
	require.Len(t, created.Recipients, 1)
	assert.Equal(t, "SENT", created.Recipients[0].Status)

	resp := e.request(t, http.MethodGet, "/envelopes/"+created.ID, agent, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[envelopeResponse](t, resp)
	assert.Equal(t, created.ID, got.ID)

	resp = e.request(t, http.MethodGet, "/envelopes/"+created.ID, token(t, "other", "other@example.com"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.request(t, http.MethodGet, "/envelopes/not-a-uuid", agent, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.request(t, http.MethodGet, "/envelopes/"+uuid.NewString(), agent, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateValidationStatus(t *testing.T) {
	e := newServer(t)
	agent := token(t, "agent-1", "agent@example.com")

	body := createBody()
	body["recipients"] = []map[string]any{}
	resp := e.request(t, http.MethodPost, "/envelopes", agent, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateProviderFailureStatus(t *testing.T) {
	e := newServer(t)
	e.gateway.createErr = &provider.Error{Status: 500, Message: "upstream down"}

	resp := e.request(t, http.MethodPost, "/envelopes", token(t, "agent-1", "agent@example.com"), createBody())
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestVoidStatusCodes(t *testing.T) {
	e := newServer(t)
	agent := token(t, "agent-1", "agent@example.com")
	created := e.create(t, agent)

	resp := e.request(t, http.MethodPost, "/envelopes/"+created.ID+"/void", agent, voidRequest{Reason: ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.request(t, http.MethodPost, "/envelopes/"+created.ID+"/void", agent, voidRequest{Reason: "deal off"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	voided := decode[envelopeResponse](t, resp)
	assert.Equal(t, "VOIDED", voided.Status)

	resp = e.request(t, http.MethodPost, "/envelopes/"+created.ID+"/void", agent, voidRequest{Reason: "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "voiding a terminal envelope conflicts")
}

func TestSigningURL(t *testing.T) {
	e := newServer(t)
	agent := token(t, "agent-1", "agent@example.com")
	created := e.create(t, agent)

	resp := e.request(t, http.MethodPost, "/envelopes/"+created.ID+"/signing-url",
		token(t, "user-buyer", "buyer@example.com"), signingURLRequest{ReturnURL: "https://app.example.com/done"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[signingURLResponse](t, resp)
	assert.NotEmpty(t, out.URL)

	resp = e.request(t, http.MethodPost, "/envelopes/"+created.ID+"/signing-url",
		token(t, "other", "other@example.com"), signingURLRequest{ReturnURL: "https://app.example.com/done"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestResend(t *testing.T) {
	e := newServer(t)
	agent := token(t, "agent-1", "agent@example.com")
	created := e.create(t, agent)

	resp := e.request(t, http.MethodPost, "/envelopes/"+created.ID+"/resend", agent, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "empty body resends to all pending signers")
	assert.Nil(t, e.gateway.resendTarget)

	recipientID := created.Recipients[0].ID
	resp = e.request(t, http.MethodPost, "/envelopes/"+created.ID+"/resend", agent,
		resendRequest{RecipientID: &recipientID})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NotNil(t, e.gateway.resendTarget)
	assert.Equal(t, "buyer@example.com", e.gateway.resendTarget.Email)

	badID := "not-a-uuid"
	resp = e.request(t, http.MethodPost, "/envelopes/"+created.ID+"/resend", agent,
		resendRequest{RecipientID: &badID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	unknown := uuid.NewString()
	resp = e.request(t, http.MethodPost, "/envelopes/"+created.ID+"/resend", agent,
		resendRequest{RecipientID: &unknown})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAndViews(t *testing.T) {
	e := newServer(t)
	agent := token(t, "agent-1", "agent@example.com")
	e.create(t, agent)
	e.create(t, agent)

	resp := e.request(t, http.MethodGet, "/envelopes?status=SENT", agent, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decode[map[string][]envelopeResponse](t, resp)
	assert.Len(t, listed["envelopes"], 2)

	resp = e.request(t, http.MethodGet, "/envelopes?view=received", token(t, "user-buyer", "buyer@example.com"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	received := decode[map[string][]envelopeResponse](t, resp)
	assert.Len(t, received["envelopes"], 2)
}

func TestBulkSend(t *testing.T) {
	e := newServer(t)
	agent := token(t, "agent-1", "agent@example.com")
	bad := createBody()
	bad["recipients"] = []map[string]any{}

	resp := e.request(t, http.MethodPost, "/envelopes/bulk", agent,
		map[string]any{"envelopes": []map[string]any{createBody(), bad}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[map[string][]bulkItemResponse](t, resp)
	results := out["results"]
	require.Len(t, results, 2)
	assert.NotNil(t, results[0].Envelope)
	assert.Nil(t, results[0].Error)
	assert.NotNil(t, results[1].Error)
}

func TestReconcile(t *testing.T) {
	e := newServer(t)
	agent := token(t, "agent-1", "agent@example.com")
	created := e.create(t, agent)

	resp := e.request(t, http.MethodPost, "/envelopes/"+created.ID+"/reconcile", agent, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	healed := decode[envelopeResponse](t, resp)
	assert.Equal(t, "DELIVERED", healed.Status, "reconcile applies the provider's polled status")
}

func TestDownloadSourceDocument(t *testing.T) {
	e := newServer(t)
	agent := token(t, "agent-1", "agent@example.com")
	created := e.create(t, agent)
	require.Len(t, created.Documents, 1)

	resp := e.request(t, http.MethodGet,
		"/envelopes/"+created.ID+"/documents/"+created.Documents[0].ID, agent, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	resp = e.request(t, http.MethodGet,
		"/envelopes/"+created.ID+"/documents/combined", agent, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "combined artifact requires completion")
}

func TestTemplates(t *testing.T) {
	e := newServer(t)
	resp := e.request(t, http.MethodGet, "/templates", token(t, "agent-1", "agent@example.com"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string][]templateResponse](t, resp)
	require.Len(t, out["templates"], 1)
	assert.Equal(t, "Lease", out["templates"][0].Name)
}
