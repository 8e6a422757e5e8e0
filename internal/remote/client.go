// Package remote talks to the game backend over HTTP. Every authenticated
// call goes through Client.do, which re-authenticates and retries exactly
// once when the backend answers 401.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/playperu/geoquest/internal/geoquest"
)

// Authorizer supplies bearer tokens and renews them on demand.
type Authorizer interface {
	Token() (string, bool)
	Reauthenticate(ctx context.Context) error
}

var errUnauthorized = errors.New("unauthorized")

// Client is safe for concurrent use.
type Client struct {
	base   string
	hc     *http.Client
	logger *slog.Logger

	mu   sync.RWMutex
	auth Authorizer
}

// New creates a client for the backend at baseURL.
func New(baseURL string, hc *http.Client, logger *slog.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		hc:     hc,
		logger: logger,
	}
}

// UseAuth sets the authorizer used by authenticated calls.
func (c *Client) UseAuth(a Authorizer) {
	c.mu.Lock()
	c.auth = a
	c.mu.Unlock()
}

func (c *Client) authorizer() Authorizer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth
}

// do performs an authenticated JSON call. On 401 it triggers
// re-authentication once and retries once; a second 401 is ErrUnauthenticated.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	err := c.attempt(ctx, method, path, in, out)
	if !errors.Is(err, errUnauthorized) {
		return err
	}

	auth := c.authorizer()
	if auth == nil {
		return fmt.Errorf("%s %s: %w", method, path, geoquest.ErrUnauthenticated)
	}

	c.logger.Info("backend rejected credentials, re-authenticating", "method", method, "path", path)
	if rerr := auth.Reauthenticate(ctx); rerr != nil {
		return fmt.Errorf("re-authenticating for %s %s: %w", method, path, errors.Join(geoquest.ErrUnauthenticated, rerr))
	}

	err = c.attempt(ctx, method, path, in, out)
	if errors.Is(err, errUnauthorized) {
		return fmt.Errorf("%s %s after re-authentication: %w", method, path, geoquest.ErrUnauthenticated)
	}
	return err
}

func (c *Client) attempt(ctx context.Context, method, path string, in, out any) error {
	var token string
	if auth := c.authorizer(); auth != nil {
		token, _ = auth.Token()
	}
	if token == "" {
		return errUnauthorized
	}

	req, err := c.newJSONRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.roundTrip(req, out)
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// roundTrip sends req and maps the response onto the error taxonomy.
func (c *Client) roundTrip(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, errors.Join(geoquest.ErrNetwork, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		io.Copy(io.Discard, resp.Body)
		return errUnauthorized

	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s: status %d: %w", req.Method, req.URL.Path, resp.StatusCode, geoquest.ErrNetwork)

	case resp.StatusCode >= 400:
		return &geoquest.RejectedError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", req.Method, req.URL.Path, errors.Join(geoquest.ErrMalformedPayload, err))
	}
	return nil
}

// errorMessage extracts a human message from common error bodies:
// {"detail": "..."}, {"message": "..."} or {"error": "..."}.
func errorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data))
	}
	if s, ok := body.Detail.(string); ok && s != "" {
		return s
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}
