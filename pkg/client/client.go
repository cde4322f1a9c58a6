// Package client provides the Bauplan API client: authenticated requests with
// retry, shared back-off and caching, typed error classification, and the
// catalog, job and table plan operations.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bauplanlabs/bauplan-go/pkg/cache"
	"github.com/bauplanlabs/bauplan-go/pkg/logging"
	"github.com/bauplanlabs/bauplan-go/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultAPIEndpoint is the production API.
const DefaultAPIEndpoint = "https://api.use1.aprod.bauplanlabs.com"

// Prometheus metrics for API client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bauplan_requests_total",
		Help: "Total API requests by operation and status",
	}, []string{"operation", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bauplan_request_duration_seconds",
		Help:    "API request duration in seconds by operation",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bauplan_errors_total",
		Help: "Total classified API errors by error class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bauplan_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bauplan_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bauplan_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// ErrorClass groups transport failures by how they should be retried.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassUnsafe represents a server or network failure of a request
	// that may already have taken effect. It is never retried.
	ErrorClassUnsafe ErrorClass = "unsafe"
)

// Client talks to the Bauplan API.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	cacheScope  string
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// APIEndpoint is the API base URL.
	APIEndpoint string

	// APIKey authenticates every request (REQUIRED).
	APIKey string

	// UserAgent identifies the caller, e.g. "bauplan-go/0.3.0".
	UserAgent string

	// Redis enables the shared back-off tracker and the response cache for
	// hash-pinned reads. Optional.
	Redis *redis.Client

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Retry
	MaxRetries     int
	InitialBackoff time.Duration

	// CacheTTL applies to cached responses without freshness headers.
	CacheTTL time.Duration

	// HTTPClient overrides the default transport. Timeout is ignored when set.
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey, userAgent string) Config {
	return Config{
		APIEndpoint:    DefaultAPIEndpoint,
		APIKey:         apiKey,
		UserAgent:      userAgent,
		Timeout:        30 * time.Second,
		MaxRetries:     2,
		InitialBackoff: 1 * time.Second,
		CacheTTL:       cache.DefaultTTL,
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = DefaultAPIEndpoint
	}
	base, err := url.Parse(strings.TrimRight(cfg.APIEndpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid api endpoint %q: scheme must be http or https", cfg.APIEndpoint)
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	logger := logging.NewLogger("bauplan-client")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		httpClient: httpClient,
		baseURL:    base,
		cacheScope: cache.ScopeFor(cfg.APIKey),
		config:     cfg,
		logger:     logger,
	}

	if cfg.Redis != nil {
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, logger, c.cacheScope)
		c.cache = cache.NewManager(cfg.Redis)
	}

	return c, nil
}

// Request describes one API call.
type Request struct {
	Op     Operation
	Method string
	Path   string
	Query  url.Values

	// Body is JSON-encoded when non-nil.
	Body any

	// Idempotent allows retrying a write after a server or network failure.
	// GET and HEAD are always retried; other methods only on 429 unless set.
	Idempotent bool
}

func (r Request) retriable() bool {
	switch r.Method {
	case "", http.MethodGet, http.MethodHead:
		return true
	}
	return r.Idempotent
}

// statusError is an HTTP failure seen inside the retry loop.
type statusError struct {
	status     int
	body       []byte
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d", e.status)
}

func (e *statusError) RetryAfter() time.Duration {
	return e.retryAfter
}

// Do performs an API call: back-off gate, cache lookup for hash-pinned reads,
// the request with retries, back-off bookkeeping, cache store, and
// classification of failures. On success it returns the decoded envelope.
func (c *Client) Do(ctx context.Context, r Request) (*Envelope, error) {
	op := string(r.Op.Name)
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: shared back-off
	if c.rateLimiter != nil {
		allowed, wait, err := c.rateLimiter.ShouldAllowRequest(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Rate limit check failed")
		} else if !allowed {
			requestsTotal.WithLabelValues(op, "blocked").Inc()
			return nil, fmt.Errorf("%w: retry in %s", ErrRequestBlocked, wait.Round(time.Second))
		}
	}

	// Step 2: cache
	var (
		cacheKey    cache.CacheKey
		cachedEntry *cache.CacheEntry
		cacheable   = c.cache != nil && cache.Cacheable(r.Method, r.Path)
	)
	if cacheable {
		cacheKey = cache.CacheKey{Endpoint: r.Path, QueryParams: r.Query, Scope: c.cacheScope}
		entry, err := c.cache.Lookup(ctx, cacheKey)
		switch {
		case err == nil:
			cachedEntry = entry
		case errors.Is(err, cache.ErrCacheMiss):
			cache.CacheMisses.Inc()
		default:
			c.logger.Warn().Err(err).Str("path", r.Path).Msg("Cache get error")
		}

		if cachedEntry != nil && !cachedEntry.IsExpired() {
			c.logger.Debug().
				Str("operation", op).
				Str("ref", cachedEntry.Ref).
				Dur("age", cachedEntry.Age()).
				Msg("Serving from cache")
			cache.CacheHits.WithLabelValues("redis").Inc()
			requestsTotal.WithLabelValues(op, "cached").Inc()
			return decodeEnvelope(cachedEntry.Data)
		}
		if cachedEntry != nil && !cache.ShouldMakeConditionalRequest(cachedEntry) {
			cachedEntry = nil
		}
	}

	var payload []byte
	if r.Body != nil {
		var err error
		if payload, err = json.Marshal(r.Body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	// Step 3: request with retry
	var (
		resp *http.Response
		body []byte
	)
	classifyAttempt := classifyError
	if !r.retriable() {
		classifyAttempt = classifyWriteError
	}
	retryErr := retry(ctx, c.retryConfigFor, func() error {
		req, err := c.newRequest(ctx, r, payload)
		if err != nil {
			return err
		}
		if cachedEntry != nil {
			cache.AddConditionalHeaders(req, cachedEntry)
			cache.ConditionalRequestsSent.Inc()
		}

		c.logger.Debug().
			Str("operation", op).
			Str("method", req.Method).
			Str("path", r.Path).
			Msg("Executing API request")

		resp, err = c.httpClient.Do(req)
		if err != nil {
			requestsTotal.WithLabelValues(op, "network_error").Inc()
			c.logger.Warn().Err(err).Str("operation", op).Msg("HTTP request failed")
			return err
		}

		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		requestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

		// Step 4: back-off bookkeeping
		if c.rateLimiter != nil {
			if err := c.rateLimiter.UpdateFromResponse(ctx, resp.StatusCode, resp.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update rate limit state")
			}
		}

		if resp.StatusCode >= 400 {
			se := &statusError{status: resp.StatusCode, body: body}
			if d, ok := ratelimit.ParseRetryAfter(resp.Header, time.Now()); ok {
				se.retryAfter = d
			}
			return se
		}
		return nil
	}, classifyAttempt)

	// Step 5: failures
	if retryErr != nil {
		var se *statusError
		if errors.As(retryErr, &se) {
			classified := c.classify(r.Op, se.status, se.body)
			if errors.Is(retryErr, ErrRetryExhausted) {
				return nil, fmt.Errorf("%w: %w", ErrRetryExhausted, classified)
			}
			return nil, classified
		}
		return nil, &TransportError{Op: r.Op.Name, Err: retryErr}
	}

	// Step 6: 304 Not Modified
	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		c.logger.Debug().Str("operation", op).Msg("304 Not Modified - using cache")
		cache.NotModifiedResponses.Inc()

		if err := c.cache.UpdateTTL(ctx, cacheKey, time.Now().Add(c.cacheTTL())); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cache entry")
		}
		return decodeEnvelope(cachedEntry.Data)
	}

	// Step 7: cache store
	if cacheable && resp.StatusCode == http.StatusOK {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		entry, err := cache.ResponseToEntry(resp, c.config.CacheTTL)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if entry.TTL() > 0 {
			if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to cache response")
			} else {
				c.logger.Debug().
					Str("path", r.Path).
					Dur("ttl", entry.TTL()).
					Msg("Cached response")
			}
		}
	}

	return decodeEnvelope(body)
}

func (c *Client) newRequest(ctx context.Context, r Request, payload []byte) (*http.Request, error) {
	// r.Path is already escaped segment by segment.
	path, err := url.PathUnescape(r.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", r.Path, err)
	}
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawPath = c.baseURL.EscapedPath() + r.Path
	if len(r.Query) > 0 {
		u.RawQuery = r.Query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) cacheTTL() time.Duration {
	if c.config.CacheTTL > 0 {
		return c.config.CacheTTL
	}
	return cache.DefaultTTL
}

func (c *Client) classify(op Operation, status int, body []byte) error {
	err := Classify(op, status, body)
	class := ClassOf(err)
	errorsTotal.WithLabelValues(class.Name()).Inc()

	c.logger.Debug().
		Str("operation", string(op.Name)).
		Int("status", status).
		Str("class", class.Name()).
		Msg("Error classified")
	return err
}

// retryConfigFor scales the per-class defaults by the client's settings.
func (c *Client) retryConfigFor(class ErrorClass) RetryConfig {
	cfg := RetryConfigForErrorClass(class)
	cfg.MaxAttempts = c.config.MaxRetries + 1
	if c.config.InitialBackoff > 0 {
		base := RetryConfigForErrorClass(ErrorClassServer).InitialBackoff
		scale := float64(c.config.InitialBackoff) / float64(base)
		cfg.InitialBackoff = time.Duration(float64(cfg.InitialBackoff) * scale)
		cfg.MaxBackoff = time.Duration(float64(cfg.MaxBackoff) * scale)
	}
	return cfg
}

// classifyStatus maps a status code to its retry class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// classifyError categorizes an error from the retry loop.
func classifyError(err error) ErrorClass {
	var se *statusError
	if errors.As(err, &se) {
		return classifyStatus(se.status)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassClient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorClassNetwork
	}
	return ErrorClassClient
}

// classifyWriteError is classifyError for requests that are not safe to
// repeat. Only 429 stays retryable: the server rejects those before acting.
func classifyWriteError(err error) ErrorClass {
	switch class := classifyError(err); class {
	case ErrorClassServer, ErrorClassNetwork:
		return ErrorClassUnsafe
	default:
		return class
	}
}

func decodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if len(bytes.TrimSpace(body)) == 0 {
		return &env, nil
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &env, nil
}

// Close releases resources held by the client. The Redis client is owned by
// the caller and is left open.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the cache manager, or nil when caching is disabled.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}

// RateLimiter returns the back-off tracker, or nil when Redis is not configured.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}
