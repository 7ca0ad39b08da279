// Package api implements the HTTP client for the session endpoint. It
// performs single requests only; classification of failures into
// SessionGone versus transient is done here, retry policy belongs to
// the caller.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yosida95/uritemplate/v3"

	"github.com/txn2/session-keeper/pkg/session"
)

const (
	// requestIDHeader carries a per-request correlation ID.
	requestIDHeader = "X-Request-Id"

	// defaultTimeout bounds every request issued by the client.
	defaultTimeout = 10 * time.Second

	// defaultBeaconTimeout bounds the fire-and-forget close issued at
	// teardown. Short so it never holds up shutdown.
	defaultBeaconTimeout = 2 * time.Second

	// sessionGoneCode is the sentinel error code some deployments
	// return instead of a 404/410 status.
	sessionGoneCode = "session_gone"

	// slogKeyError is the slog attribute key for error values.
	slogKeyError = "error"
)

// Endpoint path templates.
var (
	createPath    = uritemplate.MustNew("/session")
	heartbeatPath = uritemplate.MustNew("/session/{id}/heartbeat")
	closePath     = uritemplate.MustNew("/session/{id}/close")
	restartPath   = uritemplate.MustNew("/session/{id}/restart")
	languagePath  = uritemplate.MustNew("/session/{id}/language")
)

// CreateResult is the server's response to session creation or restart.
type CreateResult struct {
	ID        string
	State     session.State
	CreatedAt time.Time
	ExpiresAt time.Time
	Language  string
}

// Service is the session API surface consumed by the lifecycle
// controller.
type Service interface {
	// Create requests a new session.
	Create(ctx context.Context, opts session.CreateOptions) (*CreateResult, error)

	// Heartbeat performs one keep-alive request. Returns
	// session.ErrSessionGone when the server no longer recognizes the
	// id, or a *session.TransientError for any other failure.
	Heartbeat(ctx context.Context, id string) (*session.HeartbeatResult, error)

	// Close requests server-side close. Best-effort for callers; the
	// error is informational.
	Close(ctx context.Context, id string) error

	// Restart requests a replacement session tied to the old id.
	Restart(ctx context.Context, id string, opts session.CreateOptions) (*CreateResult, error)

	// UpdateLanguage requests a server-side language change and
	// returns the server-confirmed (possibly normalized) code.
	UpdateLanguage(ctx context.Context, id, language string) (string, error)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the session API origin, e.g. "https://api.example.com".
	BaseURL string

	// BearerToken, when set, is attached as an Authorization header.
	// Opaque passthrough; the client never inspects it.
	BearerToken string

	// Timeout bounds each request. Zero means defaultTimeout.
	Timeout time.Duration

	// BeaconTimeout bounds CloseBeacon. Zero means defaultBeaconTimeout.
	BeaconTimeout time.Duration

	// HTTPClient overrides the transport. Nil means a fresh
	// http.Client with Timeout applied.
	HTTPClient *http.Client
}

// Client implements Service against a plain JSON HTTP API.
type Client struct {
	baseURL       string
	bearerToken   string
	beaconTimeout time.Duration
	httpClient    *http.Client
}

// NewClient creates a session API client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	beaconTimeout := cfg.BeaconTimeout
	if beaconTimeout == 0 {
		beaconTimeout = defaultBeaconTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		bearerToken:   cfg.BearerToken,
		beaconTimeout: beaconTimeout,
		httpClient:    httpClient,
	}
}

// Wire types. Timestamps are RFC 3339 instants.
type createRequest struct {
	Language            string  `json:"language"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	CustomPrompt        string  `json:"custom_prompt,omitempty"`
}

type createResponse struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Language  string    `json:"language"`
}

type heartbeatResponse struct {
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}

type languageRequest struct {
	Language string `json:"language"`
}

type languageResponse struct {
	Language string `json:"language"`
}

// apiError is the error body shape. Deployments vary between a flat
// message and a code+message pair, so both are decoded.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e apiError) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// Create requests a new session.
func (c *Client) Create(ctx context.Context, opts session.CreateOptions) (*CreateResult, error) {
	body := createRequest{
		Language:            opts.Language,
		SimilarityThreshold: opts.SimilarityThreshold,
		CustomPrompt:        opts.CustomPrompt,
	}
	var out createResponse
	if err := c.do(ctx, http.MethodPost, createPath.Raw(), body, &out); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &CreateResult{
		ID:        out.SessionID,
		State:     session.State(out.State),
		CreatedAt: out.CreatedAt,
		ExpiresAt: out.ExpiresAt,
		Language:  out.Language,
	}, nil
}

// Heartbeat performs one keep-alive request for the given session id.
func (c *Client) Heartbeat(ctx context.Context, id string) (*session.HeartbeatResult, error) {
	path, err := expand(heartbeatPath, id)
	if err != nil {
		return nil, err
	}
	var out heartbeatResponse
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &session.HeartbeatResult{
		ExpiresAt:    out.ExpiresAt,
		LastActivity: out.LastActivity,
	}, nil
}

// Close requests server-side close for the given session id.
func (c *Client) Close(ctx context.Context, id string) error {
	path, err := expand(closePath, id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// CloseBeacon issues a fire-and-forget close with its own bounded
// deadline, detached from any caller context so it survives teardown.
// The response is discarded and failures are unobservable by design of
// the teardown path; they are logged at debug level only.
func (c *Client) CloseBeacon(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.beaconTimeout)
	defer cancel()

	path, err := expand(closePath, id)
	if err != nil {
		return
	}
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		slog.Debug("api: close beacon failed", "session_id", id, slogKeyError, err)
	}
}

// Restart requests a replacement session tied to the old id.
func (c *Client) Restart(ctx context.Context, id string, opts session.CreateOptions) (*CreateResult, error) {
	path, err := expand(restartPath, id)
	if err != nil {
		return nil, err
	}
	body := createRequest{
		Language:            opts.Language,
		SimilarityThreshold: opts.SimilarityThreshold,
		CustomPrompt:        opts.CustomPrompt,
	}
	var out createResponse
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, fmt.Errorf("restarting session: %w", err)
	}
	return &CreateResult{
		ID:        out.SessionID,
		State:     session.State(out.State),
		CreatedAt: out.CreatedAt,
		ExpiresAt: out.ExpiresAt,
		Language:  out.Language,
	}, nil
}

// UpdateLanguage requests a server-side language change.
func (c *Client) UpdateLanguage(ctx context.Context, id, language string) (string, error) {
	path, err := expand(languagePath, id)
	if err != nil {
		return "", err
	}
	var out languageResponse
	if err := c.do(ctx, http.MethodPut, path, languageRequest{Language: language}, &out); err != nil {
		return "", err
	}
	return out.Language, nil
}

// do performs one JSON request/response round trip. Network failures
// and error statuses come back classified: session.ErrSessionGone for
// a gone session, *session.TransientError for everything else.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &session.TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return classify(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &session.TransientError{Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return nil
}

// classify turns an error response into the two-kind taxonomy. A gone
// session is detected defensively by status code, sentinel error code,
// and message keywords, because transport layers do not expose status
// uniformly.
func classify(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var apiErr apiError
	_ = json.Unmarshal(data, &apiErr)

	if isSessionGone(resp.StatusCode, apiErr) {
		return session.ErrSessionGone
	}

	msg := apiErr.text()
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if msg == "" {
		msg = resp.Status
	}
	return &session.TransientError{
		Err: fmt.Errorf("server returned %d: %s", resp.StatusCode, msg),
	}
}

func isSessionGone(status int, apiErr apiError) bool {
	if status == http.StatusNotFound || status == http.StatusGone {
		return true
	}
	if apiErr.Code == sessionGoneCode {
		return true
	}
	msg := strings.ToLower(apiErr.text())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "expired")
}

// expand fills a path template with the session id.
func expand(tmpl *uritemplate.Template, id string) (string, error) {
	path, err := tmpl.Expand(uritemplate.Values{
		"id": uritemplate.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("expanding path template: %w", err)
	}
	return path, nil
}

// Verify interface compliance.
var _ Service = (*Client)(nil)
