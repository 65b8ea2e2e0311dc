// Package fcm is a client for the legacy Firebase Cloud Messaging HTTP API,
// which authenticates with a server API key and fans one message out to a
// list of registration ids.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
)

// ServerURI is the legacy HTTP send endpoint.
const ServerURI = "https://fcm.googleapis.com/fcm/send"

const maxRedirects = 10

// HTTPDoer is the transport capability the client needs. *http.Client
// satisfies it. A shared HTTPDoer must be safe for concurrent use.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	apiKey   string
	endpoint string
	logger   *slog.Logger

	mu         sync.Mutex
	httpClient HTTPDoer
}

type Option func(*Client)

func WithHTTPClient(h HTTPDoer) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithEndpoint overrides ServerURI, for tests and local fakes.
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	c := &Client{
		endpoint: ServerURI,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.SetAPIKey(apiKey); err != nil {
		return nil, err
	}
	c.logger = c.logger.With("component", "FCMLegacyClient")
	return c, nil
}

func (c *Client) APIKey() string {
	return c.apiKey
}

func (c *Client) SetAPIKey(apiKey string) error {
	if apiKey == "" {
		return invalidArgument("the api key must be a non-empty string")
	}
	c.apiKey = apiKey
	return nil
}

// HTTPClient returns the transport, creating a default one on first use.
func (c *Client) HTTPClient() HTTPDoer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.httpClient == nil {
		c.httpClient = &http.Client{CheckRedirect: strictRedirects}
	}
	return c.httpClient
}

func (c *Client) SetHTTPClient(h HTTPDoer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpClient = h
}

// strictRedirects follows a redirect only if it keeps the request method,
// so a POST is never silently turned into a GET.
func strictRedirects(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.Method != via[0].Method {
		return http.ErrUseLastResponse
	}
	return nil
}

// Send posts m and parses the multicast response. It blocks for the whole
// round trip; ctx is handed to the transport.
//
// Per-recipient failures are not errors: read them from the returned
// Response with Result(FieldError).
func (c *Client) Send(ctx context.Context, m *Message) (*Response, error) {
	body, err := m.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("serialize message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Authorization", "key="+c.apiKey)
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending message", "recipients", len(m.registrationIDs), "bytes", len(body))
	resp, err := c.HTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		c.logger.Warn("FCM rejected request", "status", resp.StatusCode, "err", err)
		return nil, err
	}

	decoded, err := decodeBody(resp.Body)
	if err != nil {
		return nil, err
	}
	return NewResponse(decoded, m)
}

func statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusInternalServerError:
		return &Error{Kind: KindServer, Status: resp.StatusCode, Detail: "500 Internal Server Error"}
	case http.StatusServiceUnavailable:
		e := &Error{Kind: KindServer, Status: resp.StatusCode, Detail: "503 Server Unavailable"}
		if retry := resp.Header.Get("Retry-After"); retry != "" {
			e.RetryAfter = retry
			e.Detail += "; Retry After: " + retry
		}
		return e
	case http.StatusUnauthorized:
		return &Error{Kind: KindAuth, Status: resp.StatusCode, Detail: "401 Forbidden; Authentication Error"}
	case http.StatusBadRequest:
		return &Error{Kind: KindBadRequest, Status: resp.StatusCode, Detail: "400 Bad Request; invalid message"}
	}
	return nil
}

const invalidBody = "Response body did not contain a valid JSON response"

// decodeBody requires a non-empty JSON object. Numbers are kept as
// json.Number so large multicast ids survive.
func decodeBody(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var decoded map[string]any
	if err := dec.Decode(&decoded); err != nil {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return nil, &Error{Kind: KindProtocol, Detail: invalidBody, Err: err}
	}
	if len(decoded) == 0 {
		return nil, &Error{Kind: KindProtocol, Detail: invalidBody}
	}
	return decoded, nil
}
