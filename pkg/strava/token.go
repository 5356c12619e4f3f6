package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/stridecoach/server/pkg/httputil"
)

// DefaultTokenURL is the Strava OAuth token endpoint.
const DefaultTokenURL = "https://www.strava.com/oauth/token"

// defaultTokenWindow is how long an exchanged token is cached. Deliberately
// shorter than Strava's ~6h access-token lifetime so we refresh early.
const defaultTokenWindow = 5 * time.Hour

// Credentials is the long-lived credential triple used for the
// refresh-token exchange.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Token is a short-lived access token.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// AuthError indicates the credential exchange could not be performed or was
// rejected. It is fatal for the current pass; callers must not retry silently.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("strava auth: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("strava auth: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TokenSource returns a valid token.
// It is safe for concurrent use by multiple goroutines.
type TokenSource interface {
	Token(ctx context.Context) (*Token, error)
	ForceRefresh(ctx context.Context) (*Token, error)
}

// CachedTokenSource exchanges the refresh token for access tokens and caches
// them in memory. Tokens are never persisted to disk.
type CachedTokenSource struct {
	creds      Credentials
	tokenURL   string
	window     time.Duration
	httpClient *http.Client
	now        func() time.Time

	mu     sync.Mutex
	cached *Token
}

func NewCachedTokenSource(creds Credentials) *CachedTokenSource {
	return &CachedTokenSource{
		creds:      creds,
		tokenURL:   DefaultTokenURL,
		window:     defaultTokenWindow,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// Token returns the cached token while it is fresh, refreshing otherwise.
func (s *CachedTokenSource) Token(ctx context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Before(s.cached.Expiry) {
		return s.cached, nil
	}
	return s.exchangeLocked(ctx)
}

// ForceRefresh discards the cached token and performs a fresh exchange.
func (s *CachedTokenSource) ForceRefresh(ctx context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = nil
	return s.exchangeLocked(ctx)
}

func (s *CachedTokenSource) exchangeLocked(ctx context.Context) (*Token, error) {
	if s.creds.ClientID == "" || s.creds.ClientSecret == "" || s.creds.RefreshToken == "" {
		return nil, &AuthError{Reason: "missing client credentials or refresh token"}
	}

	data := url.Values{}
	data.Set("client_id", s.creds.ClientID)
	data.Set("client_secret", s.creds.ClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", s.creds.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, "POST", s.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &AuthError{Reason: "build token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &AuthError{Reason: "token exchange request failed", Err: err}
	}
	defer resp.Body.Close()

	if err := httputil.ErrorFromResponse(resp); err != nil {
		return nil, &AuthError{Reason: "token exchange rejected", Err: err}
	}

	var result tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &AuthError{Reason: "decode token response", Err: err}
	}
	if result.AccessToken == "" {
		return nil, &AuthError{Reason: "token response missing access_token"}
	}

	// Cache for a conservative fixed window, never past the provider's own
	// expiry when it reports one.
	expiry := s.now().Add(s.window)
	if result.ExpiresAt != 0 {
		if providerExpiry := time.Unix(result.ExpiresAt, 0); providerExpiry.Before(expiry) {
			expiry = providerExpiry
		}
	}

	s.cached = &Token{AccessToken: result.AccessToken, Expiry: expiry}
	return s.cached, nil
}
