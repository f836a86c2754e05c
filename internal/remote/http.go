package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// HTTP SETTLEMENT CLIENT
// =============================================================================

// HTTPClient settles operations against POST <base>/v1/settle.
type HTTPClient struct {
	baseURL    string
	token      string
	healthPath string
	client     *http.Client
}

// NewHTTPClient creates a client. timeout bounds every request.
func NewHTTPClient(baseURL, token string, timeout time.Duration) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("remote base URL is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		healthPath: "/healthz",
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// WithHealthPath sets the path probed by HealthURL.
func (c *HTTPClient) WithHealthPath(path string) *HTTPClient {
	if path != "" {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		c.healthPath = path
	}
	return c
}

// HealthURL is the endpoint the network prober checks.
func (c *HTTPClient) HealthURL() string {
	return c.baseURL + c.healthPath
}

// Submit sends one operation. The operation id doubles as the idempotency key
// so a resend after a lost response is deduplicated by the server.
func (c *HTTPClient) Submit(ctx context.Context, sub Submission) (Verdict, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/settle", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", sub.OperationID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("settle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Verdict{}, fmt.Errorf("settle returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return Verdict{}, fmt.Errorf("failed to decode verdict: %w", err)
	}
	if !verdict.Accepted && verdict.Reason == "" {
		verdict.Reason = "rejected"
	}
	return verdict, nil
}
