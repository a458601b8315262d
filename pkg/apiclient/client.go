// Package apiclient executes outbound HTTP calls with authentication, caching, retries and rate limiting.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/otelhelper"
	"github.com/dukex/chatflow/pkg/ratelimit"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultBackoffBase = time.Second
	maxResponseBytes   = 10 << 20
)

// Request describes one outbound call.
type Request struct {
	Method      string            `json:"method"                  validate:"omitempty,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	URL         string            `json:"url"                     validate:"required,url"`
	Headers     map[string]string `json:"headers,omitempty"`
	Query       map[string]string `json:"query,omitempty"`
	Body        any               `json:"body,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"       validate:"gte=0"`
	Retries     int               `json:"retries,omitempty"       validate:"gte=0,lte=10"`
	Auth        *Auth             `json:"auth,omitempty"`
	RateLimitID string            `json:"rate_limit_id,omitempty"`
}

// Response is a completed 2xx exchange.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Cached     bool
}

// Value decodes a JSON body, falling back to the raw text.
func (r *Response) Value() any {
	var decoded any
	if err := json.Unmarshal(r.Body, &decoded); err == nil {
		return decoded
	}

	return string(r.Body)
}

// RateLimiter is the subset of the rate limiter used for outbound calls.
type RateLimiter interface {
	Check(ctx context.Context, limitType ratelimit.LimitType, identifier string) (ratelimit.Result, error)
}

// Client is safe for concurrent use by many runs.
type Client struct {
	httpClient  *http.Client
	cache       *responseCache
	group       singleflight.Group
	limiter     RateLimiter
	tracer      trace.Tracer
	logger      *slog.Logger
	validate    *validator.Validate
	backoffBase time.Duration
	cacheTTL    time.Duration
	cacheSize   int
	now         func() time.Time
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithRateLimiter(limiter RateLimiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) { c.tracer = tracer }
}

// WithBackoffBase sets the delay before the first retry; each further retry doubles it.
func WithBackoffBase(base time.Duration) Option {
	return func(c *Client) { c.backoffBase = base }
}

func WithCache(ttl time.Duration, maxEntries int) Option {
	return func(c *Client) {
		c.cacheTTL = ttl
		c.cacheSize = maxEntries
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{},
		tracer:      otelhelper.NoopTracer(),
		logger:      logger.With("module", "apiclient"),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		backoffBase: DefaultBackoffBase,
		cacheTTL:    DefaultCacheTTL,
		cacheSize:   DefaultCacheMaxEntries,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.cache = newResponseCache(c.cacheTTL, c.cacheSize, c.now)

	return c
}

// Execute performs the request. GET responses are served from the cache when fresh,
// and concurrent identical GETs share one network call.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	req.Method = strings.ToUpper(req.Method)
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	headers := copyMap(req.Headers)
	query := copyMap(req.Query)

	if err := req.Auth.apply(headers, query); err != nil {
		return nil, err
	}

	if req.Method != http.MethodGet {
		return c.executeWithRetry(ctx, req, headers, query)
	}

	key := cacheKey(req.Method, req.URL, query, headers)
	if cached, ok := c.cache.get(key); ok {
		return cachedCopy(cached), nil
	}

	// The shared call outlives any single caller; each caller still honours its own ctx.
	shared := context.WithoutCancel(ctx)

	results := c.group.DoChan(key, func() (any, error) {
		if cached, ok := c.cache.get(key); ok {
			return cachedCopy(cached), nil
		}

		response, err := c.executeWithRetry(shared, req, headers, query)
		if err != nil {
			return nil, err
		}

		c.cache.put(key, response)

		return response, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("request abandoned: %w", ctx.Err())
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}

		return cloneResponse(result.Val.(*Response)), nil
	}
}

func (c *Client) executeWithRetry(ctx context.Context, req Request, headers, query map[string]string) (*Response, error) {
	logger := c.logger.With("method", req.Method, "url", req.URL)
	started := c.now()

	if c.limiter != nil && req.RateLimitID != "" {
		result, err := c.limiter.Check(ctx, ratelimit.APICall, req.RateLimitID)
		if err == nil && !result.Allowed {
			return nil, &RequestError{
				Method:   req.Method,
				URL:      req.URL,
				Duration: c.now().Sub(started),
				Err:      fmt.Errorf("%w, retry after %s", ErrRateLimited, result.RetryAfter),
			}
		}
	}

	body, err := encodeBody(req.Body, headers)
	if err != nil {
		return nil, err
	}

	target, err := buildURL(req.URL, query)
	if err != nil {
		return nil, err
	}

	var (
		lastErr    error
		statusCode int
		attempts   int
	)

	for attempt := 0; attempt <= req.Retries; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase * time.Duration(1<<(attempt-1))
			logger.DebugContext(ctx, "Retrying outbound request", "attempt", attempt+1, "delay", delay, "error", lastErr)

			if err := sleep(ctx, delay); err != nil {
				lastErr = err

				break
			}
		}

		attempts++

		response, err := c.attempt(ctx, req, target, headers, body, attempt)
		if err == nil {
			response.Duration = c.now().Sub(started)

			logger.DebugContext(ctx, "Outbound request completed", "status", response.StatusCode, "attempts", attempts, "duration", response.Duration)

			return response, nil
		}

		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			statusCode = statusErr.StatusCode
		} else {
			statusCode = 0
		}

		if !retryable(err) {
			break
		}
	}

	requestErr := &RequestError{
		Method:     req.Method,
		URL:        req.URL,
		StatusCode: statusCode,
		Duration:   c.now().Sub(started),
		Attempts:   attempts,
		Err:        lastErr,
	}

	logger.ErrorContext(ctx, "Outbound request failed",
		"status", requestErr.StatusCode,
		"attempts", requestErr.Attempts,
		"duration", requestErr.Duration,
		"error", lastErr,
	)

	return nil, requestErr
}

func (c *Client) attempt(ctx context.Context, req Request, target string, headers map[string]string, body []byte, attempt int) (*Response, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "apiclient.attempt",
		attribute.String(otelhelper.HTTPMethodKey, req.Method),
		attribute.String(otelhelper.HTTPURLKey, req.URL),
		attribute.Int(otelhelper.HTTPAttemptKey, attempt+1),
	)
	defer span.End()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for name, value := range headers {
		httpReq.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = classifyTransportError(attemptCtx, err, timeout)
		otelhelper.SetError(span, err)

		return nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		err = classifyTransportError(attemptCtx, err, timeout)
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.Int(otelhelper.HTTPStatusKey, resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(payload), 512)}
		otelhelper.SetError(span, err)

		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       payload,
	}, nil
}

func classifyTransportError(ctx context.Context, err error, timeout time.Duration) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}

	return fmt.Errorf("request failed: %w", err)
}

func encodeBody(body any, headers map[string]string) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}

		setDefaultContentType(headers)

		return []byte(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}

		setDefaultContentType(headers)

		return data, nil
	}
}

func setDefaultContentType(headers map[string]string) {
	for name := range headers {
		if strings.EqualFold(name, "Content-Type") {
			return
		}
	}

	headers["Content-Type"] = "application/json"
}

func buildURL(raw string, query map[string]string) (string, error) {
	if len(query) == 0 {
		return raw, nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	values := parsed.Query()
	for k, v := range query {
		values.Set(k, v)
	}

	parsed.RawQuery = values.Encode()

	return parsed.String(), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}

func cachedCopy(response *Response) *Response {
	clone := cloneResponse(response)
	clone.Cached = true

	return clone
}

// cloneResponse gives each caller its own headers and body.
func cloneResponse(response *Response) *Response {
	clone := *response
	clone.Headers = response.Headers.Clone()
	clone.Body = bytes.Clone(response.Body)

	return &clone
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
