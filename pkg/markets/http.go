package markets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"

	"github.com/joshklop/cryptoapi/pkg/logging"
	"github.com/joshklop/cryptoapi/pkg/ratelimit"
)

// ClientConfig holds configuration for the metadata HTTP client.
type ClientConfig struct {
	Timeout   time.Duration
	RateLimit ratelimit.Rate

	MaxRetries uint
	RetryDelay time.Duration

	Logger logging.Logger
}

// DefaultClientConfig returns the default metadata client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:    30 * time.Second,
		RateLimit:  ratelimit.Rate{Limit: 10, Interval: time.Second},
		MaxRetries: 3,
		RetryDelay: time.Second,
		Logger:     logging.NewNopLogger(),
	}
}

// httpClient fetches REST metadata with retries and request pacing.
type httpClient struct {
	config  *ClientConfig
	client  *http.Client
	limiter ratelimit.Limiter
	logger  logging.Logger
}

func newHTTPClient(config *ClientConfig) *httpClient {
	if config == nil {
		config = DefaultClientConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &httpClient{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: ratelimit.NewTokenBucketLimiter(config.RateLimit),
		logger:  logger,
	}
}

// getJSON fetches url and returns the response body, retrying server errors
// and 429s.
func (c *httpClient) getJSON(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := c.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return fmt.Errorf("retryable status code: %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(fmt.Errorf("unexpected status code: %d", resp.StatusCode))
			}

			body, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Attempts(c.config.MaxRetries),
		retry.Delay(c.config.RetryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying metadata request",
				logging.Int("attempt", int(n+1)),
				logging.String("url", url),
				logging.Error(err),
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return body, nil
}
