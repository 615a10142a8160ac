// Package sms delivers contact notices through an HTTP SMS gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/tripguard/internal/alert"
	"github.com/linnemanlabs/tripguard/internal/dispatch"
)

const httpTimeout = 15 * time.Second

// Gateway posts messages to an SMS gateway's send endpoint.
type Gateway struct {
	url    string
	token  string
	sender string
	client *http.Client
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSenderID sets the alphanumeric sender shown on the handset.
func WithSenderID(id string) Option {
	return func(g *Gateway) { g.sender = id }
}

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// New creates a Gateway posting to url with token as bearer credential.
func New(url, token string, opts ...Option) *Gateway {
	g := &Gateway{
		url:    url,
		token:  token,
		sender: "TripGuard",
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

type sendRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
	Reference string `json:"reference"`
}

// Send delivers msg to the contact's phone. Client errors other than 429
// are permanent and stop the caller's retries.
func (g *Gateway) Send(ctx context.Context, to alert.Contact, msg dispatch.Message) error {
	body, err := json.Marshal(sendRequest{
		From:      g.sender,
		To:        to.Phone,
		Body:      msg.Text,
		Reference: msg.AlertID + ":" + string(msg.Kind),
	})
	if err != nil {
		return backoff.Permanent(fmt.Errorf("sms: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("sms: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req) //nolint:gosec // G704: gateway URL is from trusted config
	if err != nil {
		return fmt.Errorf("sms: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("sms: gateway returned %d: %s", resp.StatusCode, string(respBody))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

var _ dispatch.Sender = (*Gateway)(nil)
