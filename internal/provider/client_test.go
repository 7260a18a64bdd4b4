package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signetry/internal/platform/config"
)

type staticTokens struct {
	token string
	err   error
	calls int
}

func (s *staticTokens) Token(context.Context) (string, error) {
	s.calls++
	return s.token, s.err
}

func newTestClient(srvURL string, tokens TokenSource) *Client {
	return NewClient(config.Provider{BaseURL: srvURL, RequestTimeout: 5 * time.Second}, tokens)
}

func TestCreateEnvelopeDocumentBased(t *testing.T) {
	var captured createEnvelopeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/envelopes", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"envelopeId":"prov-123","uri":"/envelopes/prov-123","status":"sent"}`))
	}))
	defer srv.Close()

	tokens := &staticTokens{token: "test-token"}
	c := newTestClient(srv.URL, tokens)

	result, err := c.CreateEnvelope(t.Context(), CreateEnvelopeParams{
		Documents: []DocumentSpec{
			{Name: "Purchase Agreement.pdf", MimeType: "application/pdf", Content: []byte("%PDF-1.4")},
		},
		Recipients: []RecipientSpec{
			{Email: "buyer@example.com", Name: "Pat Buyer", RoutingOrder: 1},
			{Email: "seller@example.com", Name: "Sam Seller", RoutingOrder: 2},
		},
		Subject:         "Please sign: Purchase Agreement",
		Message:         "Signatures needed by Friday.",
		SendImmediately: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "prov-123", result.ProviderEnvelopeID)
	assert.Equal(t, "sent", captured.Status)
	assert.Empty(t, captured.TemplateID)
	require.Len(t, captured.Documents, 1)
	assert.NotEmpty(t, captured.Documents[0].DocumentBase64)
	require.Len(t, captured.Recipients.Signers, 2)
	assert.Equal(t, "1", captured.Recipients.Signers[0].RoutingOrder)
	assert.Equal(t, "2", captured.Recipients.Signers[1].RoutingOrder)
	assert.Equal(t, 1, tokens.calls, "one token fetch per call")
}

func TestCreateEnvelopeTemplateBased(t *testing.T) {
	var captured createEnvelopeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"envelopeId":"prov-tmpl","uri":"/envelopes/prov-tmpl"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &staticTokens{token: "t"})
	result, err := c.CreateEnvelope(t.Context(), CreateEnvelopeParams{
		TemplateRef:     "template-9",
		Recipients:      []RecipientSpec{{Email: "a@example.com", Name: "A", RoutingOrder: 1}},
		SendImmediately: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "prov-tmpl", result.ProviderEnvelopeID)
	assert.Equal(t, "template-9", captured.TemplateID)
	assert.Empty(t, captured.Documents)
}

func TestNon2xxBecomesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorCode":"INVALID_EMAIL","message":"recipient email is malformed"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &staticTokens{token: "t"})
	_, err := c.CreateEnvelope(t.Context(), CreateEnvelopeParams{})
	require.Error(t, err)

	var pErr *Error
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, http.StatusBadRequest, pErr.Status)
	assert.Contains(t, pErr.Message, "INVALID_EMAIL")
}

func TestTokenFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("provider must not be called without a token")
	}))
	defer srv.Close()

	tokenErr := errors.New("invalid grant")
	c := newTestClient(srv.URL, &staticTokens{err: tokenErr})
	_, err := c.EnvelopeStatus(t.Context(), "prov-1")
	require.ErrorIs(t, err, tokenErr)
}

func TestEnvelopeStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/envelopes/prov-1", r.URL.Path)
		w.Write([]byte(`{"envelopeId":"prov-1","status":"completed","statusChangedDateTime":"2026-08-01T12:00:00Z"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &staticTokens{token: "t"})
	snapshot, err := c.EnvelopeStatus(t.Context(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", snapshot.Status)
	assert.Equal(t, 2026, snapshot.StatusChangedAt.Year())
}

func TestRecipientSigningURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/envelopes/prov-1/views/recipient", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://app.example.com/done", req["returnUrl"])
		w.Write([]byte(`{"url":"https://sign.example.com/session/abc"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &staticTokens{token: "t"})
	url, err := c.RecipientSigningURL(t.Context(), "prov-1", "buyer@example.com", "Pat Buyer", "https://app.example.com/done")
	require.NoError(t, err)
	assert.Equal(t, "https://sign.example.com/session/abc", url)
}

func TestDownloadDocumentReturnsRawBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/envelopes/prov-1/documents/combined", r.URL.Path)
		w.Write([]byte("%PDF-1.4 signed"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &staticTokens{token: "t"})
	data, err := c.DownloadDocument(t.Context(), "prov-1", DocumentSelectorCombined)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 signed"), data)
}

func TestVoidEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "voided", req["status"])
		assert.Equal(t, "buyer withdrew", req["voidedReason"])
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &staticTokens{token: "t"})
	require.NoError(t, c.VoidEnvelope(t.Context(), "prov-1", "buyer withdrew"))
}

func TestResendEnvelopeAllPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/envelopes/prov-1", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("resend_envelope"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &staticTokens{token: "t"})
	require.NoError(t, c.ResendEnvelope(t.Context(), "prov-1", nil))
}

func TestResendEnvelopeSingleRecipient(t *testing.T) {
	var captured recipientsEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/envelopes/prov-1/recipients", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("resend_envelope"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &staticTokens{token: "t"})
	require.NoError(t, c.ResendEnvelope(t.Context(), "prov-1",
		&RecipientSpec{Email: "seller@example.com", Name: "Sam Seller", RoutingOrder: 2}))

	require.Len(t, captured.Signers, 1)
	assert.Equal(t, "seller@example.com", captured.Signers[0].Email)
	assert.Equal(t, "2", captured.Signers[0].RoutingOrder)
}

func TestListTemplates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/templates", r.URL.Path)
		w.Write([]byte(`{"envelopeTemplates":[{"templateId":"t1","name":"Lease"},{"templateId":"t2","name":"Disclosure"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, &staticTokens{token: "t"})
	templates, err := c.ListTemplates(t.Context())
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "Lease", templates[0].Name)
}
