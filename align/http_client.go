package align

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultFetchTimeout is the per-request timeout for feature-set fetches
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes caps the response body at 50 MB
	maxResponseBytes = 50 << 20
)

// errStatus marks a non-200 response
var errStatus = errors.New("unexpected status")

// FetchOption configures FetchFeatureSet
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) { c.timeout = d }
}

// WithMaxRetries sets the number of attempts (minimum 1).
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) { c.maxRetries = n }
}

// WithBaseBackoff sets the delay before the first retry; it doubles on each
// further retry.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) { c.baseBackoff = d }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) { c.client = client }
}

// FetchFeatureSet downloads a feature set from the extractor API and decodes
// it. Transport failures and non-200 responses are retried with exponential
// backoff; decode failures are not.
func FetchFeatureSet(ctx context.Context, apiURL string, opts ...FetchOption) (*FeatureSet, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("fetch feature set: API URL is empty")
	}

	cfg := fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = 1
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	backoff := cfg.baseBackoff
	for attempt := range cfg.maxRetries {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch feature set: %w", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		body, err := getBody(ctx, client, apiURL)
		if err != nil {
			lastErr = err
			continue
		}

		fs, err := DecodeFeatureSet(body)
		if err != nil {
			return nil, fmt.Errorf("fetch feature set: %w", err)
		}
		return fs, nil
	}

	return nil, fmt.Errorf("fetch feature set: all %d attempts failed: %w", cfg.maxRetries, lastErr)
}

func getBody(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: %w %d", url, errStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	return body, nil
}
