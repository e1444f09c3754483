// Package upstream is the transport to the annotation providers.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/illmade-knight/go-annotationcache/pkg/cacheerr"
	"github.com/rs/zerolog"
)

// maxErrorBody bounds how much of a failed response is kept for diagnostics.
const maxErrorBody = 64 << 10

// ClientConfig holds configuration for the upstream HTTP client.
type ClientConfig struct {
	// Timeout bounds a single request including reading the body.
	Timeout time.Duration `yaml:"timeout"`
	// RetryMax enables retries of failed requests when non-zero. The caches
	// themselves never retry.
	RetryMax     int           `yaml:"retry_max"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max"`
	// Headers are added to every request.
	Headers map[string]string `yaml:"headers"`
}

// DefaultClientConfig returns a config with a 30 second timeout and no retries.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:      30 * time.Second,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
	}
}

// Client performs JSON requests against upstream providers.
type Client struct {
	http    *http.Client
	headers http.Header
	logger  zerolog.Logger
}

// NewClient creates a new upstream client. A nil httpClient uses a fresh
// client with the configured timeout.
func NewClient(cfg ClientConfig, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	if cfg.RetryMax != 0 {
		rclient := &retryablehttp.Client{
			HTTPClient:   httpClient,
			RetryWaitMin: cfg.RetryWaitMin,
			RetryWaitMax: cfg.RetryWaitMax,
			RetryMax:     cfg.RetryMax,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			Backoff:      retryablehttp.DefaultBackoff,
			// Hand the last response back so its status and body reach the caller.
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
		}
		httpClient = rclient.StandardClient()
	}

	headers := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}

	return &Client{
		http:    httpClient,
		headers: headers,
		logger:  logger.With().Str("component", "UpstreamClient").Logger(),
	}
}

// Post sends body encoded as JSON and returns the raw response document.
func (c *Client) Post(ctx context.Context, target string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, cacheerr.Mapping("upstream.post", fmt.Errorf("encode request body: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, cacheerr.Transport("upstream.post", 0, nil, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "upstream.post")
}

// Get fetches target, optionally scoped by pathSuffix, and returns the raw body.
func (c *Client) Get(ctx context.Context, target string, pathSuffix string) ([]byte, error) {
	if pathSuffix != "" {
		joined, err := url.JoinPath(target, pathSuffix)
		if err != nil {
			return nil, cacheerr.Transport("upstream.get", 0, nil, fmt.Errorf("join %q to %q: %w", pathSuffix, target, err))
		}
		target = joined
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, cacheerr.Transport("upstream.get", 0, nil, err)
	}
	return c.do(req, "upstream.get")
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	for key, vals := range c.headers {
		for _, val := range vals {
			req.Header.Add(key, val)
		}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("url", req.URL.String()).Msg("Upstream request failed.")
		return nil, cacheerr.Transport(op, 0, nil, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("url", req.URL.String()).
			Msg("Upstream returned a non-success status.")
		return nil, cacheerr.Transport(op, resp.StatusCode, body, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cacheerr.Transport(op, resp.StatusCode, nil, fmt.Errorf("read body: %w", err))
	}

	c.logger.Debug().
		Str("url", req.URL.String()).
		Int("bytes", len(body)).
		Dur("elapsed", time.Since(start)).
		Msg("Upstream request complete.")
	return body, nil
}
