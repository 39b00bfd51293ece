// Package cloud is the HTTP transport for the remote event API. It owns
// authentication headers, retry of idempotent requests, and conversion
// between the wire format and [model.Event].
package cloud

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
	"strings"
	"time"

	"github.com/njoerd114/daydial/internal/model"
)

var (
	// ErrUnauthorized is returned for 401/403 responses and when no token is
	// available.
	ErrUnauthorized = errors.New("cloud: unauthorized")

	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("cloud: not found")

	// ErrDecode is returned when a response body cannot be decoded.
	ErrDecode = errors.New("cloud: malformed response")
)

// StatusError is any other non-2xx response.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("cloud: %s %s: %d %s", e.Method, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("cloud: %s %s: status %d", e.Method, e.Path, e.Code)
}

// Temporary reports whether the request may succeed if repeated.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// TokenSource yields the bearer token for each request.
// Implemented by [auth.Session].
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Range limits a listing to the date keys [Start, End]. Empty bounds are open.
type Range struct {
	Start string
	End   string
}

func (r Range) query() string {
	v := url.Values{}
	if r.Start != "" {
		v.Set("startDate", r.Start)
	}
	if r.End != "" {
		v.Set("endDate", r.End)
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// Client talks to the remote event API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	tokens      TokenSource
	maxAttempts int
	log         *slog.Logger
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxAttempts sets how often idempotent requests are tried.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithLogger sets the logger for retried requests.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a Client for the API rooted at baseURL.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tokens:      tokens,
		maxAttempts: defaultMaxAttempts,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchEvents lists the account's events within r. Any malformed record
// fails the whole listing with [ErrDecode].
func (c *Client) FetchEvents(ctx context.Context, r Range) ([]model.Event, error) {
	var raw []remoteEvent
	if err := c.do(ctx, http.MethodGet, "/events"+r.query(), nil, &raw); err != nil {
		return nil, err
	}

	events := make([]model.Event, 0, len(raw))
	for _, re := range raw {
		e, err := toModel(re)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// CreateEvent creates e remotely and returns the stored record.
func (c *Client) CreateEvent(ctx context.Context, e model.Event) (model.Event, error) {
	var out remoteEvent
	if err := c.do(ctx, http.MethodPost, "/events", toInput(e), &out); err != nil {
		return model.Event{}, err
	}
	return c.decoded(out)
}

// UpdateEvent replaces the content of the remote record e.CloudID.
func (c *Client) UpdateEvent(ctx context.Context, e model.Event) (model.Event, error) {
	if e.CloudID == "" {
		return model.Event{}, fmt.Errorf("updating %q: no cloud id", e.Title)
	}
	var out remoteEvent
	if err := c.do(ctx, http.MethodPut, "/events/"+url.PathEscape(e.CloudID), toInput(e), &out); err != nil {
		return model.Event{}, err
	}
	if out.ID == "" {
		// Some deployments answer 204; the record is unchanged otherwise.
		return e, nil
	}
	return c.decoded(out)
}

// DeleteEvent removes the remote record cloudID.
func (c *Client) DeleteEvent(ctx context.Context, cloudID string) error {
	return c.do(ctx, http.MethodDelete, "/events/"+url.PathEscape(cloudID), nil, nil)
}

// DeleteAllEvents removes every event of the account.
func (c *Client) DeleteAllEvents(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/events/all", nil, nil)
}

// BatchCreateEvents creates events in one request. With clearExisting the
// server first discards the account's events.
func (c *Client) BatchCreateEvents(ctx context.Context, events []model.Event, clearExisting bool) ([]model.Event, error) {
	body := batchRequest{
		Events:        make([]eventInput, 0, len(events)),
		ClearExisting: clearExisting,
	}
	for _, e := range events {
		body.Events = append(body.Events, toInput(e))
	}

	var raw []remoteEvent
	if err := c.do(ctx, http.MethodPost, "/events/batch", body, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(raw))
	for _, re := range raw {
		e, err := toModel(re)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *Client) decoded(r remoteEvent) (model.Event, error) {
	e, err := toModel(r)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return e, nil
}

// do sends one request. GET, PUT and DELETE are retried on network errors
// and temporary statuses; POST is sent once since a lost response would
// otherwise create a duplicate.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		payload = b
	}

	attempts := c.maxAttempts
	if method == http.MethodPost {
		attempts = 1
	}

	try := 0
	return Retry(ctx, attempts, func() error {
		try++
		err := c.once(ctx, method, path, payload, out)
		if err != nil && attempts > 1 && try < attempts && !isPermanent(err) {
			c.log.Debug("retrying request", "method", method, "path", path, "attempt", try, "error", err)
		}
		return err
	})
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return permanent(fmt.Errorf("%w: %w", ErrUnauthorized, err))
	}

	var r io.Reader
	if payload != nil {
		r = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return permanent(fmt.Errorf("building request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = "Bearer " + token
	}
	req.Header.Set("Authorization", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return permanent(err)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading %s %s: %w", method, path, err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return permanent(fmt.Errorf("%w: %s %s: %w", ErrDecode, method, path, err))
		}
		return nil
	}

	var eb struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb)
	msg := strings.TrimSpace(eb.Error)
	if msg == "" {
		msg = strings.TrimSpace(eb.Message)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return permanent(ErrUnauthorized)
	case http.StatusNotFound:
		return permanent(ErrNotFound)
	}
	se := &StatusError{Method: method, Path: path, Code: resp.StatusCode, Message: msg}
	if se.Temporary() {
		return se
	}
	return permanent(se)
}
