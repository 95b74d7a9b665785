// Package httplink carries tier-1 messages between peers over HTTP.
package httplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"example.com/activitysync/internal/transport"
)

// MessagesPath is the counterpart endpoint that accepts tier-1 messages.
const MessagesPath = "/v1/peer/messages"

// HealthPath is probed to decide reachability.
const HealthPath = "/healthz"

// TokenSource supplies bearer tokens for outbound requests.
type TokenSource interface {
	Token() (string, error)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithProbeTimeout bounds reachability probes.
func WithProbeTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.probeTimeout = d }
}

// Client delivers envelopes to the counterpart peer. It implements
// transport.Immediate.
type Client struct {
	baseURL      string
	tokens       TokenSource
	httpClient   *http.Client
	probeTimeout time.Duration
}

// NewClient constructs a Client for the counterpart at baseURL.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		probeTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wireEnvelope is the JSON body exchanged on MessagesPath.
type wireEnvelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sentAt"`
}

// Send posts env to the counterpart. Any 2xx response is the acknowledgement.
func (c *Client) Send(ctx context.Context, env transport.Envelope) error {
	body, err := json.Marshal(wireEnvelope{Topic: env.Topic, Payload: env.Payload, SentAt: env.SentAt})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+MessagesPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("counterpart rejected message: %s: %s", resp.Status, bytes.TrimSpace(data))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Probe reports whether the counterpart answers its health endpoint.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
