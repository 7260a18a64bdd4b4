package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signetry/internal/platform/config"
)

// TokenSource supplies a fresh bearer token per call. The credential manager
// satisfies this; the client never caches tokens itself.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is the stateless wrapper over the signing provider's HTTP API. It
// performs no retries; retry policy belongs to the orchestrator.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewClient(cfg config.Provider, tokens TokenSource) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type createEnvelopeRequest struct {
	EmailSubject string             `json:"emailSubject"`
	EmailBlurb   string             `json:"emailBlurb,omitempty"`
	Status       string             `json:"status"`
	TemplateID   string             `json:"templateId,omitempty"`
	Documents    []documentPayload  `json:"documents,omitempty"`
	Recipients   recipientsEnvelope `json:"recipients"`
}

type documentPayload struct {
	DocumentID     string `json:"documentId"`
	Name           string `json:"name"`
	FileExtension  string `json:"fileExtension,omitempty"`
	DocumentBase64 string `json:"documentBase64"`
}

type recipientsEnvelope struct {
	Signers []signerPayload `json:"signers"`
}

type signerPayload struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	RecipientID  string `json:"recipientId"`
	RoutingOrder string `json:"routingOrder"`
}

// CreateEnvelope creates (and optionally sends) an envelope at the provider.
func (c *Client) CreateEnvelope(ctx context.Context, params CreateEnvelopeParams) (CreateEnvelopeResult, error) {
	status := "created"
	if params.SendImmediately {
		status = "sent"
	}
	req := createEnvelopeRequest{
		EmailSubject: params.Subject,
		EmailBlurb:   params.Message,
		Status:       status,
		TemplateID:   params.TemplateRef,
	}
	for i, d := range params.Documents {
		req.Documents = append(req.Documents, documentPayload{
			DocumentID:     strconv.Itoa(i + 1),
			Name:           d.Name,
			DocumentBase64: base64.StdEncoding.EncodeToString(d.Content),
		})
	}
	for i, r := range params.Recipients {
		req.Recipients.Signers = append(req.Recipients.Signers, signerPayload{
			Email:        r.Email,
			Name:         r.Name,
			RecipientID:  strconv.Itoa(i + 1),
			RoutingOrder: strconv.Itoa(r.RoutingOrder),
		})
	}

	var resp struct {
		EnvelopeID string `json:"envelopeId"`
		URI        string `json:"uri"`
	}
	if err := c.do(ctx, http.MethodPost, "/envelopes", req, &resp); err != nil {
		return CreateEnvelopeResult{}, err
	}
	if resp.EnvelopeID == "" {
		return CreateEnvelopeResult{}, &Error{Message: "create response missing envelopeId"}
	}
	return CreateEnvelopeResult{ProviderEnvelopeID: resp.EnvelopeID, URI: resp.URI}, nil
}

// EnvelopeStatus fetches the provider's current status snapshot.
func (c *Client) EnvelopeStatus(ctx context.Context, providerEnvelopeID string) (StatusSnapshot, error) {
	var resp struct {
		EnvelopeID            string    `json:"envelopeId"`
		Status                string    `json:"status"`
		StatusChangedDateTime time.Time `json:"statusChangedDateTime"`
	}
	if err := c.do(ctx, http.MethodGet, "/envelopes/"+providerEnvelopeID, nil, &resp); err != nil {
		return StatusSnapshot{}, err
	}
	return StatusSnapshot{
		ProviderEnvelopeID: resp.EnvelopeID,
		Status:             resp.Status,
		StatusChangedAt:    resp.StatusChangedDateTime,
	}, nil
}

// RecipientSigningURL requests an embedded signing session URL for one
// recipient. Only meaningful while the envelope is SENT or DELIVERED; the
// orchestrator enforces that before calling.
func (c *Client) RecipientSigningURL(ctx context.Context, providerEnvelopeID, email, name, returnURL string) (string, error) {
	req := map[string]string{
		"returnUrl":            returnURL,
		"email":                email,
		"userName":             name,
		"authenticationMethod": "none",
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, "/envelopes/"+providerEnvelopeID+"/views/recipient", req, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", &Error{Message: "signing view response missing url"}
	}
	return resp.URL, nil
}

// DownloadDocument fetches raw document bytes. Selector is either
// DocumentSelectorCombined or a provider document ID.
func (c *Client) DownloadDocument(ctx context.Context, providerEnvelopeID, selector string) ([]byte, error) {
	return c.doRaw(ctx, http.MethodGet, "/envelopes/"+providerEnvelopeID+"/documents/"+selector)
}

// VoidEnvelope voids a live envelope at the provider.
func (c *Client) VoidEnvelope(ctx context.Context, providerEnvelopeID, reason string) error {
	req := map[string]string{
		"status":       "voided",
		"voidedReason": reason,
	}
	return c.do(ctx, http.MethodPut, "/envelopes/"+providerEnvelopeID, req, nil)
}

// ResendEnvelope asks the provider to re-deliver signing notifications, to
// every pending signer or, when recipient is non-nil, to that signer only.
func (c *Client) ResendEnvelope(ctx context.Context, providerEnvelopeID string, recipient *RecipientSpec) error {
	if recipient == nil {
		return c.do(ctx, http.MethodPut, "/envelopes/"+providerEnvelopeID+"?resend_envelope=true", struct{}{}, nil)
	}
	req := recipientsEnvelope{Signers: []signerPayload{{
		Email:        recipient.Email,
		Name:         recipient.Name,
		RoutingOrder: strconv.Itoa(recipient.RoutingOrder),
	}}}
	return c.do(ctx, http.MethodPut, "/envelopes/"+providerEnvelopeID+"/recipients?resend_envelope=true", req, nil)
}

// ListTemplates returns the account's template metadata.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	var resp struct {
		EnvelopeTemplates []struct {
			TemplateID  string `json:"templateId"`
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"envelopeTemplates"`
	}
	if err := c.do(ctx, http.MethodGet, "/templates", nil, &resp); err != nil {
		return nil, err
	}
	templates := make([]Template, 0, len(resp.EnvelopeTemplates))
	for _, t := range resp.EnvelopeTemplates {
		templates = append(templates, Template{ID: t.TemplateID, Name: t.Name, Description: t.Description})
	}
	return templates, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	data, err := c.request(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Message: fmt.Sprintf("malformed response body: %v", err)}
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string) ([]byte, error) {
	return c.request(ctx, method, path, nil)
}

func (c *Client) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Message: fmt.Sprintf("encode request: %v", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Status: resp.StatusCode, Message: providerMessage(data)}
	}
	return data, nil
}

// providerMessage pulls the human-readable message out of a provider error
// body, falling back to the raw body.
func providerMessage(body []byte) string {
	var parsed struct {
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		if parsed.ErrorCode != "" {
			return parsed.ErrorCode + ": " + parsed.Message
		}
		return parsed.Message
	}
	return strings.TrimSpace(string(body))
}
