// Package api is the REST client for the remote question service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/astromechza/ama-live/pkg/ama"
	"github.com/astromechza/ama-live/pkg/wire"
)

// APIError is a non-2xx response. It unwraps to ama.ErrNetwork: the request did not complete
// successfully from the caller's point of view.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: unexpected status code %d: %s", e.Method, e.Path, e.Status, e.Body)
	}
	return fmt.Sprintf("%s %s: unexpected status code %d", e.Method, e.Path, e.Status)
}

func (e *APIError) Unwrap() error {
	return ama.ErrNetwork
}

// Client talks to the remote service. It never retries; callers decide.
type Client struct {
	baseURL    *url.URL
	liveURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default http client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithLiveURL overrides the base address of the live channel. By default it is derived from the
// base URL.
func WithLiveURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(strings.TrimRight(raw, "/")); err == nil && raw != "" {
			c.liveURL = u
		}
	}
}

// NewClient builds a client for the service rooted at baseURL, for example
// http://localhost:8080/api.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.liveURL == nil {
		c.liveURL = deriveLiveURL(u)
	}
	return c, nil
}

// NormalizeBaseURL checks that raw is an absolute http(s) url and strips trailing slashes.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("base url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https":
	case "":
		return "", fmt.Errorf("base url must include scheme (http:// or https://)")
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("base url must include a host")
	}
	return strings.TrimRight(value, "/"), nil
}

// deriveLiveURL maps http://host/api to ws://host. The subscribe route sits next to, not under,
// the REST prefix.
func deriveLiveURL(base *url.URL) *url.URL {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), "/api")
	u.RawQuery = ""
	return &u
}

// BaseURL returns the normalized REST base.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// SubscribeURL is the address of the room scoped live channel.
func (c *Client) SubscribeURL(roomID string) string {
	return c.liveURL.JoinPath("subscribe", roomID).String()
}

func (c *Client) doJSON(ctx context.Context, method string, path []string, reqBody any, handle func([]byte) error) error {
	endpoint := c.baseURL.JoinPath(path...).String()

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ama.ErrNetwork, method, endpoint, err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read body: %w", ama.ErrNetwork, err)
	}
	c.logger.Debug("handled", "method", method, "url", endpoint, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Method: method,
			Path:   req.URL.Path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(respData)),
		}
	}
	if handle == nil {
		return nil
	}
	return handle(respData)
}

func decodeInto(target any) func([]byte) error {
	return func(data []byte) error {
		if err := json.Unmarshal(data, target); err != nil {
			return fmt.Errorf("%w: failed to decode response: %w", ama.ErrDecode, err)
		}
		return nil
	}
}

// GetRoomMessages fetches the full current message set of a room.
func (c *Client) GetRoomMessages(ctx context.Context, roomID string) ([]ama.Message, error) {
	var out []ama.Message
	err := c.doJSON(ctx, http.MethodGet, []string{"rooms", roomID, "messages"}, nil, func(data []byte) error {
		msgs, err := wire.DecodeSnapshot(roomID, data)
		if err != nil {
			return err
		}
		out = msgs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get messages of room %s: %w", roomID, err)
	}
	return out, nil
}

type idResponse struct {
	ID string `json:"id"`
}

// CreateMessage submits a new question. The returned id is informational: the message becomes
// visible through the live channel, not through this response.
func (c *Client) CreateMessage(ctx context.Context, roomID, text string) (string, error) {
	var out idResponse
	body := struct {
		Message string `json:"message"`
	}{Message: text}
	if err := c.doJSON(ctx, http.MethodPost, []string{"rooms", roomID, "messages"}, body, decodeInto(&out)); err != nil {
		return "", fmt.Errorf("failed to create message in room %s: %w", roomID, err)
	}
	return out.ID, nil
}
