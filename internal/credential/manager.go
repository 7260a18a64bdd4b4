package credential

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"signetry/internal/platform/config"
	dErrors "signetry/pkg/domain-errors"
)

// refreshMargin is how close to expiry a cached token may get before the
// next caller refreshes it. Erring toward early refresh keeps clock skew
// from ever serving a dead token.
const refreshMargin = 60 * time.Second

// assertionLifetime bounds the signed grant we exchange for a bearer token.
const assertionLifetime = time.Hour

// Manager obtains and caches a bearer token for the signing provider using a
// signed JWT assertion grant. It is an explicit, injectable instance with its
// own lock; the Gateway holds a reference rather than reading global state.
type Manager struct {
	tokenURL       string
	integrationKey string
	userID         string
	scope          string
	key            *rsa.PrivateKey
	httpClient     *http.Client

	group singleflight.Group
	now   func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewManager parses the private key up front so a malformed key surfaces at
// startup instead of on the first envelope send.
func NewManager(cfg config.Provider) (*Manager, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeAuth, "parse provider private key", err)
	}
	return &Manager{
		tokenURL:       cfg.TokenURL,
		integrationKey: cfg.IntegrationKey,
		userID:         cfg.UserID,
		scope:          "signature impersonation",
		key:            key,
		httpClient:     &http.Client{Timeout: cfg.RequestTimeout},
		now:            time.Now,
	}, nil
}

// Token returns a bearer token that is guaranteed to outlive the refresh
// margin. Concurrent callers during a refresh share one token request.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.token != "" && m.now().Add(refreshMargin).Before(m.expiresAt) {
		token := m.token
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("token", func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	assertion, err := m.buildAssertion()
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeAuth, "sign token assertion", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeAuth, "build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeAuth, "request token", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeAuth, "read token response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", dErrors.Newf(dErrors.CodeAuth, "token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", dErrors.Wrap(dErrors.CodeAuth, "decode token response", err)
	}
	if payload.AccessToken == "" {
		return "", dErrors.New(dErrors.CodeAuth, "token endpoint returned empty access_token")
	}
	lifetime := time.Duration(payload.ExpiresIn) * time.Second
	if lifetime <= refreshMargin {
		// A grant this short would be inside the margin the moment it is
		// served; treat it as a misconfigured provider account.
		return "", dErrors.Newf(dErrors.CodeAuth,
			"token endpoint granted a %s lifetime, not above the %s refresh margin", lifetime, refreshMargin)
	}

	m.mu.Lock()
	m.token = payload.AccessToken
	m.expiresAt = m.now().Add(lifetime)
	m.mu.Unlock()

	return payload.AccessToken, nil
}

func (m *Manager) buildAssertion() (string, error) {
	now := m.now()
	claims := jwt.MapClaims{
		"iss":   m.integrationKey,
		"sub":   m.userID,
		"aud":   m.audience(),
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
		"scope": m.scope,
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
}

func (m *Manager) audience() string {
	u, err := url.Parse(m.tokenURL)
	if err != nil || u.Host == "" {
		return m.tokenURL
	}
	return u.Host
}
