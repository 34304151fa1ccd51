package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/mwieland/graphmail/internal/auth"
	"github.com/mwieland/graphmail/internal/logging"
)

const (
	// DefaultEndpoint is the Microsoft Graph v1.0 base URL.
	DefaultEndpoint = "https://graph.microsoft.com/v1.0"

	// DefaultTimeout bounds a single provider HTTP request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of additional attempts made for
	// rate-limited or transient server failures.
	DefaultMaxRetries = 3

	// maxErrorBody limits how much of an error response is kept as detail.
	maxErrorBody = 64 * 1024
)

// TokenSource supplies a valid bearer token for provider requests.
// *auth.Store satisfies it.
type TokenSource interface {
	EnsureValid(ctx context.Context) (auth.Token, error)
}

// Options configures a Client. Use DefaultOptions as the starting point.
type Options struct {
	Endpoint   string
	Timeout    time.Duration
	MaxRetries uint64
	RateLimit  rate.Limit
	RateBurst  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultOptions returns client options with provider defaults applied.
func DefaultOptions() Options {
	return Options{
		Endpoint:   DefaultEndpoint,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		RateLimit:  rate.Limit(10),
		RateBurst:  10,
	}
}

// Client is a Microsoft Graph REST client. It injects bearer tokens from
// the token store, rate-limits outgoing requests, and retries rate-limited
// and transient server failures with exponential backoff.
type Client struct {
	httpClient *http.Client
	endpoint   string
	tokens     TokenSource
	limiter    *rate.Limiter
	maxRetries uint64
	logger     *slog.Logger
}

// NewClient creates a Graph client using tokens from the given source.
func NewClient(tokens TokenSource, opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Inf
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient: httpClient,
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		tokens:     tokens,
		limiter:    rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		maxRetries: opts.MaxRetries,
		logger:     logger,
	}
}

// Endpoint returns the base URL the client issues requests against.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// GetJSON issues a GET against path (relative to the endpoint, or an
// absolute @odata.nextLink URL) and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	data, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// PostJSON issues a POST with a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body for %s: %w", path, err)
	}
	data, err := c.do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.endpoint + path
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		data, err := c.roundTrip(ctx, method, target, body)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Retryable() {
				c.logger.Debug("provider request failed, retrying",
					logging.Endpoint(path),
					slog.Int("attempt", attempt),
					logging.Err(err))
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return data, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0

	return backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
}

func (c *Client) roundTrip(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	token, err := c.tokens.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewTimeout(fmt.Sprintf("request to %s timed out", target))
		}
		// Transport-level failures are treated as transient.
		return nil, &APIError{Kind: KindTransient, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &APIError{Kind: KindTransient, Detail: fmt.Sprintf("read response body: %v", err)}
		}
		return data, nil
	}

	// Error bodies only contribute a detail string; cap the read.
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := classifyStatus(resp.StatusCode, errorDetail(data))
	if apiErr.Kind == KindRateLimited {
		// Graph signals the mandated pause via Retry-After; waiting here
		// keeps the backoff loop above simple.
		if d := retryAfter(resp); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, backoff.Permanent(NewTimeout("cancelled while honoring Retry-After"))
			}
		}
	}
	return nil, apiErr
}

// errorDetail extracts a human-readable message from a Graph error
// envelope, falling back to a truncated raw body.
func errorDetail(body []byte) string {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		if envelope.Error.Code != "" {
			return envelope.Error.Code + ": " + envelope.Error.Message
		}
		return envelope.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
