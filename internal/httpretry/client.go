// Package httpretry provides an outbound JSON HTTP client with exponential
// backoff. Transport failures and 5xx responses are retried; 4xx responses
// fail immediately.
package httpretry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrClientStatus indicates a 4xx response. Never retried.
var ErrClientStatus = errors.New("client error response")

// StatusError carries the HTTP status and response body of a failed call.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// RetryConfig configures backoff behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the first call.
	MaxRetries int

	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay between attempts.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default backoff configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// Client issues JSON requests with retry.
type Client struct {
	http   *http.Client
	retry  *RetryConfig
	logger *zap.Logger
}

// NewClient creates a client with the given per-call timeout.
func NewClient(timeout time.Duration, retry *RetryConfig, logger *zap.Logger) *Client {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	retry.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		retry:  retry,
		logger: logger,
	}
}

// PostJSON POSTs in as a JSON body and decodes the response into out.
// out may be nil to discard the response body.
func (c *Client) PostJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	backoff := c.retry.InitialBackoff
	start := time.Now()

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		err := c.do(ctx, url, body, out)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("outbound call recovered after retries",
					zap.String("url", url),
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return nil
		}
		if errors.Is(err, ErrClientStatus) {
			c.logger.Debug("outbound call rejected, not retrying",
				zap.String("url", url),
				zap.Error(err),
			)
			return err
		}

		lastErr = err
		if attempt == c.retry.MaxRetries {
			break
		}

		c.logger.Info("retrying outbound call after transient error",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.retry.MaxRetries+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("call canceled: %w", ctx.Err())
		case <-time.After(backoff):
			next := time.Duration(float64(backoff) * c.retry.BackoffMultiplier)
			if next > c.retry.MaxBackoff {
				next = c.retry.MaxBackoff
			}
			backoff = next
		}
	}

	c.logger.Warn("outbound call failed after all retries",
		zap.String("url", url),
		zap.Int("total_attempts", c.retry.MaxRetries+1),
		zap.Duration("total_time", time.Since(start)),
		zap.Error(lastErr),
	)
	return fmt.Errorf("call failed after %d retries: %w", c.retry.MaxRetries, lastErr)
}

// do performs a single request attempt.
func (c *Client) do(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %w", ErrClientStatus,
			&StatusError{StatusCode: resp.StatusCode, Body: string(respBody)})
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
}
