package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// Google OAuth endpoints
	TokenURL = "https://oauth2.googleapis.com/token"

	DefaultRedirectURI       = "http://localhost:8085/oauth2callback"
	DefaultTokenInfoEndpoint = "https://www.googleapis.com/oauth2/v1/tokeninfo"
)

var (
	// Google Cloud scopes
	DefaultScopes = []string{
		"https://www.googleapis.com/auth/cloud-platform",
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	}
)

// ManagerOption customizes Manager creation.
type ManagerOption func(*Manager)

// Manager refreshes and validates Google OAuth access tokens for a
// pooled credential. Initiating a brand new grant (authorization-code
// exchange, PKCE, project/API discovery) is an administrative,
// one-time action handled outside the request path; Manager only
// covers the two operations the refresh coordinator and health
// checker call on every credential's existing refresh token.
type Manager struct {
	clientID     string
	clientSecret string
	redirectURI  string
	scopes       []string
	httpClient   *http.Client

	tokenURL          string
	tokenInfoEndpoint string
	now               func() time.Time
}

// NewManager creates a new OAuth manager
func NewManager(clientID, clientSecret, redirectURI string, opts ...ManagerOption) *Manager {
	m := &Manager{
		clientID:          clientID,
		clientSecret:      clientSecret,
		redirectURI:       firstNonEmpty(redirectURI, DefaultRedirectURI),
		scopes:            append([]string(nil), DefaultScopes...),
		httpClient:        &http.Client{Timeout: 30 * time.Second},
		tokenURL:          TokenURL,
		tokenInfoEndpoint: DefaultTokenInfoEndpoint,
		now:               time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// WithHTTPClient overrides the HTTP client used for outbound calls.
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// WithTokenURL overrides the token refresh endpoint.
func WithTokenURL(tokenURL string) ManagerOption {
	return func(m *Manager) {
		if tokenURL != "" {
			m.tokenURL = tokenURL
		}
	}
}

// WithTokenInfoEndpoint overrides the token validation endpoint.
func WithTokenInfoEndpoint(endpoint string) ManagerOption {
	return func(m *Manager) {
		if endpoint != "" {
			m.tokenInfoEndpoint = endpoint
		}
	}
}

// WithNowFunc overrides the clock used for time calculations (testing).
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (m *Manager) ensureClientCredentials() error {
	if strings.TrimSpace(m.clientID) == "" || strings.TrimSpace(m.clientSecret) == "" {
		return fmt.Errorf("oauth client credentials not configured")
	}
	return nil
}

// RefreshToken exchanges a credential's refresh token for a new access
// token in place, the only write path the refresh coordinator drives.
func (m *Manager) RefreshToken(ctx context.Context, creds *Credentials) error {
	if creds.RefreshToken == "" {
		return fmt.Errorf("no refresh token available")
	}
	if err := m.ensureClientCredentials(); err != nil {
		return err
	}

	data := url.Values{
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"refresh_token": {creds.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}

	// Update credentials
	creds.AccessToken = tokenResp.AccessToken
	if tokenResp.RefreshToken != "" {
		creds.RefreshToken = tokenResp.RefreshToken
	}
	if tokenResp.ExpiresIn > 0 {
		creds.ExpiresAt = m.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}

	log.Infof("Token refreshed successfully for project: %s", creds.ProjectID)
	return nil
}

// ValidateToken checks if an access token is still valid against
// Google's tokeninfo endpoint; used by the health checker to decide
// whether a credential needs an unscheduled refresh.
func (m *Manager) ValidateToken(ctx context.Context, accessToken string) (bool, error) {
	if accessToken == "" {
		return false, fmt.Errorf("access token is required")
	}

	u, err := url.Parse(m.tokenInfoEndpoint)
	if err != nil {
		return false, fmt.Errorf("failed to parse token info endpoint: %w", err)
	}
	query := u.Query()
	query.Set("access_token", accessToken)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to validate token: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}
