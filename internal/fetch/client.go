package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/clock/system"
	"github.com/JakeFAU/snowball-crawler/internal/metrics"
)

// DefaultMaxAttempts bounds the attempts made for one request.
const DefaultMaxAttempts = 9

// Limiter gates each attempt on a request budget.
type Limiter interface {
	Wait(ctx context.Context, route string) error
}

// Sleeper suspends the caller between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Header      http.Header
	MaxAttempts int
	Transport   Transport
	Limiter     Limiter
	Sleeper     Sleeper
	Policy      Policy
	// Jitter draws a random duration in [0, limit). Defaults to crypto/rand.
	Jitter func(limit time.Duration) time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

// Client performs classified, retried GETs against one base URL.
type Client struct {
	baseURL     string
	header      http.Header
	maxAttempts int
	transport   Transport
	limiter     Limiter
	sleeper     Sleeper
	policy      Policy
	jitter      func(time.Duration) time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewClient wires a Client, filling defaults for unset options.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:     opts.BaseURL,
		header:      opts.Header.Clone(),
		maxAttempts: opts.MaxAttempts,
		transport:   opts.Transport,
		limiter:     opts.Limiter,
		sleeper:     opts.Sleeper,
		policy:      opts.Policy,
		jitter:      opts.Jitter,
		now:         opts.Now,
		logger:      opts.Logger,
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.transport == nil {
		c.transport = NewCollyTransport("", 0)
	}
	if c.sleeper == nil {
		c.sleeper = system.Clock{}
	}
	if c.policy == nil {
		c.policy = DefaultPolicy()
	}
	if c.jitter == nil {
		c.jitter = randomJitter
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Get returns the body of a successful response for endpoint.
func (c *Client) Get(ctx context.Context, endpoint Endpoint) ([]byte, error) {
	url := endpoint.URL(c.baseURL)
	var last Outcome

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, endpoint.Route); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, err
			}
		}

		resp, err := c.transport.Do(ctx, Request{URL: url, Header: c.header})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		last = classify(url, resp, err, c.now())
		metrics.ObserveFetchAttempt(endpoint.Route, last.Label())

		switch last.Verdict {
		case Success:
			return last.Body, nil
		case Fatal:
			return nil, last.Err
		}

		if attempt == c.maxAttempts-1 {
			break
		}
		wait := c.policy.Delay(last, attempt, c.jitter)
		c.logger.Warn("retrying request",
			zap.String("route", endpoint.Route),
			zap.String("url", url),
			zap.String("class", string(last.Class)),
			zap.Int("status", last.Status),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(last.Err),
		)
		metrics.ObserveBackoff(string(last.Class), wait)
		if err := c.sleeper.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, &RetriesExhaustedError{
		URL:        url,
		Attempts:   c.maxAttempts,
		LastStatus: last.Status,
		Last:       last.Err,
	}
}

// GetJSON fetches endpoint and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, endpoint Endpoint, out any) error {
	body, err := c.Get(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint.Route, err)
	}
	return nil
}
