// Package turnstile verifies Cloudflare Turnstile challenge tokens.
//
// Verification fails closed: any transport, status or decoding problem is
// reported as a failed Result, never as an error the caller must handle.
package turnstile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBytes bounds the siteverify response body that is read.
const maxResponseBytes = 64 << 10

// Failure reasons reported in Result.Reason.
const (
	ReasonNetwork  = "network"
	ReasonStatus   = "status"
	ReasonDecode   = "decode"
	ReasonRejected = "rejected"
)

// Config holds the settings for a Verifier.
type Config struct {
	Secret    string
	VerifyURL string
	Timeout   time.Duration
}

// Verifier calls the siteverify endpoint.
type Verifier struct {
	secret     string
	verifyURL  string
	timeout    time.Duration
	httpClient *http.Client
}

// Result is the outcome of one verification.
type Result struct {
	Success    bool
	Reason     string
	ErrorCodes []string
	Hostname   string
	Err        error
}

// verifyRequest is the siteverify request body.
type verifyRequest struct {
	Secret   string `json:"secret"`
	Response string `json:"response"`
	RemoteIP string `json:"remoteip,omitempty"`
}

// verifyResponse is the subset of the siteverify response that is used.
type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
	Action     string   `json:"action"`
}

// New creates a Verifier. A zero Timeout means 10 seconds.
func New(cfg Config) *Verifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Verifier{
		secret:     cfg.Secret,
		verifyURL:  cfg.VerifyURL,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// newWithClient creates a Verifier using a custom HTTP client, used for testing.
func newWithClient(cfg Config, client *http.Client) *Verifier {
	v := New(cfg)
	v.httpClient = client
	return v
}

// Verify checks token for the given client IP. An empty token is still
// sent so that the service reports the failure.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) Result {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	payload, err := json.Marshal(verifyRequest{
		Secret:   v.secret,
		Response: token,
		RemoteIP: remoteIP,
	})
	if err != nil {
		return Result{Reason: ReasonNetwork, Err: fmt.Errorf("failed to marshal request body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader(payload))
	if err != nil {
		return Result{Reason: ReasonNetwork, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Result{Reason: ReasonNetwork, Err: fmt.Errorf("siteverify request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{Reason: ReasonNetwork, Err: fmt.Errorf("failed to read siteverify response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{Reason: ReasonStatus, Err: fmt.Errorf("siteverify returned %d: %s", resp.StatusCode, string(body))}
	}

	var out verifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{Reason: ReasonDecode, Err: fmt.Errorf("failed to parse siteverify response: %w", err)}
	}

	if !out.Success {
		return Result{
			Reason:     ReasonRejected,
			ErrorCodes: out.ErrorCodes,
			Hostname:   out.Hostname,
		}
	}

	return Result{
		Success:  true,
		Hostname: out.Hostname,
	}
}
