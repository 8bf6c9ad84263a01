package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	graphScope = "https://graph.microsoft.com/.default"

	// tokenExpiryBuffer is taken off the advertised lifetime so a token is
	// not presented right at its expiry.
	tokenExpiryBuffer = 5 * time.Minute

	// defaultTokenLifetime applies when the endpoint omits expires_in.
	defaultTokenLifetime = time.Hour

	maxTokenResponseBytes = 64 << 10
)

// accessToken is a bearer token and the instant it stops being used.
type accessToken struct {
	value     string
	expiresAt time.Time
}

func (t accessToken) valid(now time.Time) bool {
	return t.value != "" && now.Before(t.expiresAt)
}

// tokenError is a non-200 answer from the token endpoint. The raw body is
// not kept because it may echo request parameters.
type tokenError struct {
	status      int
	code        string
	description string
}

func (e *tokenError) Error() string {
	if e.code == "" {
		return fmt.Sprintf("token endpoint returned %d", e.status)
	}
	if e.description == "" {
		return fmt.Sprintf("token endpoint returned %d: %s", e.status, e.code)
	}
	return fmt.Sprintf("token endpoint returned %d: %s: %s", e.status, e.code, e.description)
}

// tokenCache holds one client-credentials token for the Graph provider.
// Concurrent callers share a single fetch.
type tokenCache struct {
	tokenURL   string
	form       url.Values
	httpClient *http.Client
	now        func() time.Time

	mu      sync.Mutex
	current accessToken
}

func newTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *tokenCache {
	return &tokenCache{
		tokenURL: tokenURL,
		form: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
			"scope":         {graphScope},
		},
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Token returns the cached token, fetching a new one when there is none or
// it has expired.
func (tc *tokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.current.valid(tc.now()) {
		return tc.current.value, nil
	}
	return tc.renewLocked(ctx)
}

// ForceRefresh fetches a new token even if the cached one looks valid. Used
// after the API rejects a token with 401.
func (tc *tokenCache) ForceRefresh(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.current = accessToken{}
	return tc.renewLocked(ctx)
}

func (tc *tokenCache) renewLocked(ctx context.Context) (string, error) {
	issued := tc.now()
	resp, err := tc.fetch(ctx)
	if err != nil {
		return "", err
	}
	tc.current = accessToken{
		value:     resp.AccessToken,
		expiresAt: issued.Add(usableLifetime(resp.ExpiresIn)),
	}
	return tc.current.value, nil
}

// usableLifetime converts expires_in seconds into how long the token is
// handed out. Lifetimes shorter than twice the buffer are halved instead.
func usableLifetime(expiresIn int64) time.Duration {
	lifetime := time.Duration(expiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	if lifetime < 2*tokenExpiryBuffer {
		return lifetime / 2
	}
	return lifetime - tokenExpiryBuffer
}

// fetch performs one client-credentials grant. It does not touch the cache.
func (tc *tokenCache) fetch(ctx context.Context) (tokenResponse, error) {
	var out tokenResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.tokenURL, strings.NewReader(tc.form.Encode()))
	if err != nil {
		return out, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return out, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Best effort: a non-JSON error body still yields the status.
		json.Unmarshal(body, &out)
		return tokenResponse{}, &tokenError{status: resp.StatusCode, code: out.Error, description: out.ErrorDescription}
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("failed to parse token response: %w", err)
	}
	if out.AccessToken == "" {
		return out, fmt.Errorf("token response missing access_token")
	}
	return out, nil
}
