// Package trustapi is the HTTP client for the upstream Agntor trust backend,
// the system of record for agent profiles, trust scores and the active flag
// that backs the kill switch.
package trustapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agntor/agntor-mcp/internal/registry/normalize"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNotFound is returned when the backend reports that an agent does not exist.
var ErrNotFound = errors.New("agent not found upstream")

// StatusError is returned for any non-2xx response other than 404.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("trust backend returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Client talks to the trust backend. It holds no per-agent state and never
// caches responses.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithAPIKey sends key in the x-agntor-api-key header on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) error {
		c.apiKey = key
		return nil
	}
}

// WithClientCredentials authenticates against the backend with an OAuth2
// client-credentials grant. Tokens are fetched and refreshed by the oauth2
// transport; the client's timeout is preserved.
func WithClientCredentials(clientID, clientSecret, tokenURL string, scopes ...string) Option {
	return func(c *Client) error {
		if clientID == "" || clientSecret == "" || tokenURL == "" {
			return fmt.Errorf("client credentials require client id, secret and token url")
		}
		cfg := &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		}
		timeout := c.httpClient.Timeout
		hc := cfg.Client(context.Background())
		hc.Timeout = timeout
		c.httpClient = hc
		return nil
	}
}

// New creates a Client for the backend at baseURL.
//
//	c, err := trustapi.New("https://api.agntor.com", 10*time.Second,
//	    trustapi.WithClientCredentials(id, secret, "https://auth.agntor.com/oauth/token"),
//	)
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("trust backend base URL is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FetchAgent retrieves the raw agent payload for agentID.
func (c *Client) FetchAgent(ctx context.Context, agentID string) (*normalize.RawAgent, error) {
	body, err := c.get(ctx, "/v1/agents/"+url.PathEscape(agentID))
	if err != nil {
		return nil, err
	}
	return normalize.Decode(body)
}

// FetchScore retrieves the raw trust score snapshot for agentID.
func (c *Client) FetchScore(ctx context.Context, agentID string) (*normalize.RawScore, error) {
	body, err := c.get(ctx, "/v1/agents/"+url.PathEscape(agentID)+"/trust-score")
	if err != nil {
		return nil, err
	}
	var raw normalize.RawScore
	if len(body) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("decode score payload: %w", err)
		}
	}
	return &raw, nil
}

// SetActive flips the upstream active flag. active=false engages the kill switch.
func (c *Client) SetActive(ctx context.Context, agentID string, active bool, reason string) error {
	payload, err := json.Marshal(map[string]any{"active": active, "reason": reason})
	if err != nil {
		return fmt.Errorf("marshal kill switch request: %w", err)
	}
	path := "/v1/agents/" + url.PathEscape(agentID) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req)
	return err
}

// get fetches path. A 2xx body of JSON null means the resource is absent.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		return nil, ErrNotFound
	}
	return body, nil
}

// do executes req and returns the response body for 2xx responses.
func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-agntor-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
