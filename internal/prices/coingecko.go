package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCoinGeckoURL is the public CoinGecko API base URL.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// HTTPClient describes an HTTP client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CoinGecko is a Source backed by the CoinGecko simple price endpoint.
type CoinGecko struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP client.
	httpClient HTTPClient
	// header contains additional headers sent with each request.
	header http.Header
	// retries is the number of extra attempts on retryable failures.
	retries int
	// backoff is the delay before the first retry; it doubles per attempt.
	backoff time.Duration
}

// CoinGeckoOption is a configuration option for the CoinGecko client.
type CoinGeckoOption func(*CoinGecko)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) CoinGeckoOption {
	return func(c *CoinGecko) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) CoinGeckoOption {
	return func(c *CoinGecko) {
		c.httpClient = httpClient
	}
}

// WithAPIKey sets the demo API key header.
func WithAPIKey(key string) CoinGeckoOption {
	return func(c *CoinGecko) {
		if key != "" {
			// https://docs.coingecko.com/v3.0.1/reference/authentication
			c.header.Set("x-cg-demo-api-key", key)
		}
	}
}

// WithRetries sets the number of retries and the initial backoff.
func WithRetries(retries int, backoff time.Duration) CoinGeckoOption {
	return func(c *CoinGecko) {
		if retries >= 0 {
			c.retries = retries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// NewCoinGecko creates a CoinGecko client.
func NewCoinGecko(options ...CoinGeckoOption) *CoinGecko {
	c := &CoinGecko{
		baseURL:    DefaultCoinGeckoURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		retries:    2,
		backoff:    250 * time.Millisecond,
	}
	c.header.Set("Accept", "application/json")
	for _, option := range options {
		option(c)
	}
	return c
}

// Name implements Source.
func (c *CoinGecko) Name() string { return "coingecko" }

// statusError is a non-200 response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	switch e.code {
	case http.StatusTooManyRequests:
		return "rate limited"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "unauthorized"
	default:
		return fmt.Sprintf("unexpected status code: %d", e.code)
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var de *decodeError
	return !errors.As(err, &de)
}

type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "decoding price response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// FetchPrices implements Source. Retryable failures (transport errors, 429
// and 5xx) are retried with exponential backoff until ctx is done.
func (c *CoinGecko) FetchPrices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	if len(ids) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(delay):
			}
		}

		out, err := c.fetchOnce(ctx, sorted)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (c *CoinGecko) fetchOnce(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")

	endpoint := fmt.Sprintf("%s/simple/price?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, &statusError{code: res.StatusCode}
	}

	// {"ethereum":{"usd":2501.23},"usd-coin":{"usd":0.9998}}
	var body map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, &decodeError{err: err}
	}

	out := make(map[string]decimal.Decimal, len(body))
	for id, quotes := range body {
		usd, ok := quotes["usd"]
		if !ok {
			continue
		}
		out[id] = usd
	}
	return out, nil
}
