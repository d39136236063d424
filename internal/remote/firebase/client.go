// Package firebase is a remote.Store backed by the Firebase Realtime
// Database REST and streaming API.
package firebase

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

	"golang.org/x/oauth2"

	"github.com/Tiliavir/trivial-work-log/internal/logging"
	"github.com/Tiliavir/trivial-work-log/internal/remote"
)

// Client is an authenticated Realtime Database client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.log = l.WithComponent("firebase") }
}

// NewClient returns a client for the database at databaseURL, e.g.
// https://<project>-default-rtdb.firebaseio.com. Requests carry the ID token
// from ts; a nil ts sends unauthenticated requests.
func NewClient(databaseURL string, ts oauth2.TokenSource, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(databaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid database URL %q", databaseURL)
	}
	c := &Client{
		baseURL:    u.String(),
		httpClient: &http.Client{Transport: &authTransport{ts: ts}},
		log:        logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// authTransport adds the ID token as the auth query parameter, which is how
// the REST API accepts Firebase user tokens.
type authTransport struct {
	base http.RoundTripper
	ts   oauth2.TokenSource
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.ts == nil {
		return base.RoundTrip(req)
	}
	tok, err := t.ts.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining id token: %w", err)
	}
	r := req.Clone(req.Context())
	q := r.URL.Query()
	q.Set("auth", tok.AccessToken)
	r.URL.RawQuery = q.Encode()
	return base.RoundTrip(r)
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + "/" + path + ".json"
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("firebase request failed: %w", err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding firebase response: %w", err)
		}
	}
	return nil
}

// StatusError is a non-200 response from the database.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("firebase error %d: %s", e.Code, e.Body)
}

// IsPermissionDenied reports whether err is a 401 or 403 from the database.
func IsPermissionDenied(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden)
}

// Get returns the value at path.
func (c *Client) Get(ctx context.Context, path string) (any, error) {
	p, err := remote.CleanPath(path)
	if err != nil {
		return nil, err
	}
	var v any
	if err := c.do(ctx, http.MethodGet, p, nil, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Set implements remote.Store.
func (c *Client) Set(ctx context.Context, path string, value any) error {
	p, err := remote.CleanPath(path)
	if err != nil {
		return err
	}
	if value == nil {
		return c.do(ctx, http.MethodDelete, p, nil, nil)
	}
	return c.do(ctx, http.MethodPut, p, value, nil)
}

// Update implements remote.Store.
func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	p, err := remote.CleanPath(path)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	body := make(map[string]any, len(fields))
	for k, v := range fields {
		rel, err := remote.CleanPath(k)
		if err != nil {
			return err
		}
		if rel == "" {
			return fmt.Errorf("%w: empty update key", remote.ErrInvalidPath)
		}
		body[rel] = v
	}
	return c.do(ctx, http.MethodPatch, p, body, nil)
}

type pushResponse struct {
	Name string `json:"name"`
}

// Push implements remote.Store. The database mints the key.
func (c *Client) Push(ctx context.Context, path string, value any) (string, error) {
	p, err := remote.CleanPath(path)
	if err != nil {
		return "", err
	}
	var out pushResponse
	if err := c.do(ctx, http.MethodPost, p, value, &out); err != nil {
		return "", err
	}
	if out.Name == "" {
		return "", errors.New("firebase push returned no key")
	}
	return out.Name, nil
}

// Remove implements remote.Store.
func (c *Client) Remove(ctx context.Context, path string) error {
	p, err := remote.CleanPath(path)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, p, nil, nil)
}

// Close implements remote.Store. Open streams end with their contexts or
// unsubscribe functions.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
