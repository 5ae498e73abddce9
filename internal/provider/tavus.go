// Package provider calls back into the conversational video provider.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no API key was provided.
var ErrNotConfigured = errors.New("provider api key not configured")

// Client talks to the Tavus REST API. Calls go through a circuit breaker so a
// provider outage does not stall webhook acknowledgements.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

func NewClient(baseURL, apiKey string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: 10 * time.Second,
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tavus",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// EndConversation asks the provider to terminate a live conversation. A
// conversation the provider no longer knows about counts as ended.
func (c *Client) EndConversation(ctx context.Context, conversationID string) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.endConversation(ctx, conversationID)
	})
	if err != nil {
		return fmt.Errorf("end conversation %s: %w", conversationID, err)
	}
	return nil
}

func (c *Client) endConversation(ctx context.Context, conversationID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/v2/conversations/" + url.PathEscape(conversationID) + "/end"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("provider returned %s", resp.Status)
	}
}
