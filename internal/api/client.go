// Package api talks to the remote chatbot endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Request is the JSON body posted for every user message.
type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// Reply carries either Response or Error. SessionID is optional.
type Reply struct {
	Response  string `json:"response"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrEmptyReply is returned for a 2xx answer whose body is JSON null.
var ErrEmptyReply = errors.New("decode reply: body is null")

// StatusError reports a non-2xx answer from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.Code)
}

func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

type Options struct {
	Endpoint  string
	Timeout   time.Duration
	UserAgent string
	// HTTPClient replaces the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client posts chat messages. It never retries.
type Client struct {
	client *resty.Client

	mu       sync.RWMutex
	endpoint string
}

func New(opts Options) *Client {
	var client *resty.Client
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	} else {
		client = resty.New()
	}
	client.SetTimeout(opts.Timeout)
	client.SetRetryCount(0)
	client.SetHeader("Accept", "application/json")
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}

	return &Client{
		client:   client,
		endpoint: strings.TrimSpace(opts.Endpoint),
	}
}

func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

// SetEndpoint swaps the target URL for subsequent requests.
func (c *Client) SetEndpoint(endpoint string) {
	c.mu.Lock()
	c.endpoint = strings.TrimSpace(endpoint)
	c.mu.Unlock()
}

// SetTimeout applies to subsequent requests. Zero disables the timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.client.SetTimeout(d)
}

// Send posts req and decodes the reply. Non-2xx answers return *StatusError.
func (c *Client) Send(ctx context.Context, req Request) (*Reply, error) {
	endpoint := c.Endpoint()
	if endpoint == "" {
		return nil, errors.New("endpoint is not configured")
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}

	if !resp.IsSuccess() {
		return nil, &StatusError{Code: resp.StatusCode(), Body: truncate(resp.String(), 512)}
	}

	var reply *Reply
	if err := json.Unmarshal(resp.Body(), &reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if reply == nil {
		return nil, ErrEmptyReply
	}
	return reply, nil
}

// Ping checks that something answers HTTP at the endpoint. Any status counts.
func (c *Client) Ping(ctx context.Context) (int, error) {
	endpoint := c.Endpoint()
	if endpoint == "" {
		return 0, errors.New("endpoint is not configured")
	}
	resp, err := c.client.R().SetContext(ctx).Head(endpoint)
	if err != nil {
		return 0, fmt.Errorf("head %s: %w", endpoint, err)
	}
	return resp.StatusCode(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
