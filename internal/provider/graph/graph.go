package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shineum/form-relay/internal/email"
	"github.com/shineum/form-relay/internal/provider"
)

const (
	defaultAuthority = "https://login.microsoftonline.com"
	defaultGraphBase = "https://graph.microsoft.com/v1.0"
)

// GraphProviderConfig holds the configuration for creating a GraphProvider.
// The mailbox used for sending is the message's From address.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// GraphProvider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication.
type GraphProvider struct {
	graphBase  string
	httpClient *http.Client
	token      *tokenCache
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", defaultAuthority, cfg.TenantID)
	return newWithOverrides(cfg, defaultGraphBase, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides creates a GraphProvider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg GraphProviderConfig, graphBase, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		graphBase:  graphBase,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// Send posts the message to the sendMail endpoint of the sender's mailbox.
// A 401 triggers one token refresh and one more attempt; nothing else is
// retried.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Email) error {
	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return provider.Fail(provider.OpCompose, fmt.Errorf("failed to marshal request body: %w", err))
	}
	endpoint := fmt.Sprintf("%s/users/%s/sendMail", g.graphBase, url.PathEscape(msg.From))

	token, err := g.token.Token(ctx)
	if err != nil {
		return provider.Fail(provider.OpAuth, err)
	}

	err = g.doSendRequest(ctx, endpoint, token, bodyJSON)
	var se *sendError
	if errors.As(err, &se) && se.statusCode == http.StatusUnauthorized {
		slog.Info("refreshing Graph API token after 401")
		token, err = g.token.ForceRefresh(ctx)
		if err != nil {
			return provider.Fail(provider.OpAuth, fmt.Errorf("token refresh failed: %w", err))
		}
		err = g.doSendRequest(ctx, endpoint, token, bodyJSON)
	}
	if err != nil {
		return provider.Fail(provider.OpAPI, err)
	}
	return nil
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// doSendRequest performs a single HTTP request to the sendMail endpoint.
func (g *GraphProvider) doSendRequest(ctx context.Context, endpoint, token string, bodyJSON []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return &sendError{statusCode: resp.StatusCode, code: graphErrResp.Error.Code, message: graphErrResp.Error.Message}
	}
	return &sendError{statusCode: resp.StatusCode, message: string(body)}
}

// sendError is a non-2xx response from the sendMail endpoint.
type sendError struct {
	statusCode int
	code       string
	message    string
}

func (e *sendError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.statusCode, e.code, e.message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}
