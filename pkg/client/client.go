// Package client provides the Apollo people search and enrichment HTTP client
// with quota tracking, retry, optional enrichment caching and error handling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/apollo-enricher/pkg/cache"
	"github.com/Sternrassler/apollo-enricher/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for Apollo client operations.
var (
	apolloRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apollo_requests_total",
		Help: "Total Apollo requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apolloRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "apollo_request_duration_seconds",
		Help:    "Apollo request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	apolloErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apollo_errors_total",
		Help: "Total Apollo errors by class",
	}, []string{"class"})
)

// API paths.
const (
	SearchPath = "/api/v1/mixed_people/search"
	EnrichPath = "/api/v1/people/enrich"
)

// DefaultBaseURL is the production Apollo API.
const DefaultBaseURL = "https://api.apollo.io"

// Client is the Apollo API client.
type Client struct {
	httpClient *http.Client
	quota      *ratelimit.Tracker
	cache      *cache.Manager
	config     Config
	baseURL    *url.URL
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// APIKey is sent in the x-api-key header (REQUIRED).
	APIKey string

	// BaseURL of the API, without trailing path.
	BaseURL string

	// WebhookURL receives Apollo's asynchronous phone number delivery.
	// Omitted from enrich requests when empty.
	WebhookURL string

	// Reveal flags sent as query parameters on both endpoints.
	RevealPersonalEmails bool
	RevealPhoneNumber    bool

	UserAgent string

	// Timeout for a single HTTP attempt.
	Timeout time.Duration

	Retry RetryConfig

	// Redis is optional. When set, quota state is shared through Redis
	// and enrichment responses are cached for CacheTTL.
	Redis *redis.Client

	// CacheTTL of enrichment responses. <= 0 disables the cache.
	CacheTTL time.Duration

	Quota ratelimit.TrackerOptions
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:               apiKey,
		BaseURL:              DefaultBaseURL,
		RevealPersonalEmails: true,
		RevealPhoneNumber:    true,
		UserAgent:            "apollo-enricher/dev",
		Timeout:              30 * time.Second,
		Retry:                DefaultRetryConfig(),
		CacheTTL:             cache.DefaultTTL,
		Quota:                ratelimit.DefaultTrackerOptions(),
	}
}

// New creates a new Apollo client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be an absolute url (got %q)", cfg.BaseURL)
	}

	if cfg.WebhookURL != "" {
		hook, err := url.Parse(cfg.WebhookURL)
		if err != nil || (hook.Scheme != "http" && hook.Scheme != "https") || hook.Host == "" {
			return nil, fmt.Errorf("webhook url must be an absolute http(s) url (got %q)", cfg.WebhookURL)
		}
	}

	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	logger := log.With().Str("component", "apollo-client").Logger()

	var store ratelimit.StateStore = ratelimit.NewMemoryStore()
	var cacheManager *cache.Manager
	if cfg.Redis != nil {
		store = ratelimit.NewRedisStore(cfg.Redis)
		if cfg.CacheTTL > 0 {
			cacheManager = cache.NewManager(cfg.Redis, cfg.CacheTTL)
		}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		quota:   ratelimit.NewTracker(store, logger, cfg.Quota),
		cache:   cacheManager,
		config:  cfg,
		baseURL: base,
		logger:  logger,
	}, nil
}

// Do performs an HTTP request with quota gating, retry and metrics.
// Non-success responses that are not retried are returned to the caller
// with their body intact; retriable failures that exhaust their attempts
// are returned as errors wrapping *APIError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		apolloRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check quota
	allowed, err := c.quota.ShouldAllowRequest(ctx)
	if err != nil {
		return nil, fmt.Errorf("quota check: %w", err)
	}
	if !allowed {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Msg("Request blocked by quota tracker")
		apolloRequestsTotal.WithLabelValues(endpoint, "quota_blocked").Inc()
		return nil, ErrQuotaExhausted
	}

	// Step 2: Set headers
	req.Header.Set("x-api-key", c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing Apollo request")

	// Step 3: Execute with retry
	var resp *http.Response
	attempt := 0
	retryErr := retryWithBackoff(ctx, c.config.Retry, func() error {
		attempt++
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return fmt.Errorf("rewind request body: %w", err)
			}
			req.Body = body
		}

		var reqErr error
		resp, reqErr = c.httpClient.Do(req)
		if reqErr != nil {
			c.logger.Warn().Err(redactError(reqErr, c.config.APIKey)).Str("endpoint", endpoint).Msg("HTTP request failed")
			apolloErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			apolloRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return reqErr
		}

		if err := c.quota.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update quota from headers")
		}

		apolloRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		errClass := classifyStatus(resp.StatusCode)
		if errClass == "" {
			return nil
		}

		apolloErrorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Apollo request error")

		if !shouldRetry(errClass) {
			// Let the caller read status and body
			return nil
		}

		apiErr := c.responseError(resp)
		resp.Body.Close()
		return apiErr
	}, classifyRequestError)

	if retryErr != nil {
		return nil, retryErr
	}

	return resp, nil
}

// SearchPeople requests one page of people matching query.
// The page sent is exactly query.Page.
func (c *Client) SearchPeople(ctx context.Context, query SearchQuery) (*SearchResponse, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	resp, err := c.postJSON(ctx, SearchPath, c.revealParams(false), query)
	if err != nil {
		return nil, fmt.Errorf("search page %d: %w", query.Page, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, c.responseError(resp)
	}

	var out SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if out.People == nil {
		out.People = []PersonSummary{}
	}

	c.logger.Debug().
		Int("page", query.Page).
		Int("people", len(out.People)).
		Msg("Search page fetched")

	return &out, nil
}

// EnrichPerson requests contact details for one person.
// When the enrichment cache is enabled a cached response is returned without
// calling the API.
func (c *Client) EnrichPerson(ctx context.Context, personID string) (*EnrichResponse, error) {
	if out, ok := c.CachedEnrichment(ctx, personID); ok {
		return out, nil
	}
	return c.FetchEnrichment(ctx, personID)
}

// CachedEnrichment returns the cached enrichment of personID, if any.
// It never calls the API. Cache errors are logged and reported as a miss.
func (c *Client) CachedEnrichment(ctx context.Context, personID string) (*EnrichResponse, bool) {
	personID = strings.TrimSpace(personID)
	if c.cache == nil || personID == "" {
		return nil, false
	}

	entry, err := c.cache.GetEnrichment(ctx, personID, c.revealParams(false))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("person_id", personID).Msg("Cache get error")
		}
		return nil, false
	}

	resp := entry.Response(time.Now())
	defer resp.Body.Close()

	var out EnrichResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		c.logger.Warn().Err(err).Str("person_id", personID).Msg("Cached enrichment is not valid JSON")
		return nil, false
	}
	out.Cached = cache.IsCached(resp)

	c.logger.Debug().
		Str("person_id", personID).
		Dur("age", entry.Age(time.Now())).
		Msg("Enrichment served from cache")
	return &out, true
}

// FetchEnrichment calls the enrich endpoint for personID, bypassing the cache
// lookup. Successful responses are stored in the cache when it is enabled.
func (c *Client) FetchEnrichment(ctx context.Context, personID string) (*EnrichResponse, error) {
	personID = strings.TrimSpace(personID)
	if personID == "" {
		return nil, ErrEmptyPersonID
	}

	resp, err := c.postJSON(ctx, EnrichPath, c.revealParams(true), enrichRequest{PersonID: personID})
	if err != nil {
		return nil, fmt.Errorf("enrich person %s: %w", personID, err)
	}
	defer resp.Body.Close()

	if c.cache != nil {
		// The key leaves webhook_url out, so it is built without it.
		stored, err := c.cache.SetEnrichment(ctx, personID, c.revealParams(false), resp)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Str("person_id", personID).Msg("Failed to cache enrichment")
		case stored:
			c.logger.Debug().
				Str("person_id", personID).
				Dur("ttl", c.cache.TTL()).
				Msg("Cached enrichment")
		}
	}

	if !isSuccess(resp.StatusCode) {
		return nil, c.responseError(resp)
	}

	var out EnrichResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode enrich response: %w", err)
	}
	return &out, nil
}

// revealParams builds the query string shared by both endpoints.
// url.Values encodes keys in sorted order, so the reveal flags always precede webhook_url.
func (c *Client) revealParams(withWebhook bool) url.Values {
	params := url.Values{}
	if c.config.RevealPersonalEmails {
		params.Set("reveal_personal_emails", "true")
	}
	if c.config.RevealPhoneNumber {
		params.Set("reveal_phone_number", "true")
	}
	if withWebhook && c.config.WebhookURL != "" {
		params.Set("webhook_url", c.config.WebhookURL)
	}
	return params
}

func (c *Client) postJSON(ctx context.Context, path string, params url.Values, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// responseError reads resp into an *APIError. The caller closes the body.
func (c *Client) responseError(resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		ErrorClass: classifyStatus(resp.StatusCode),
		Message:    resp.Status,
		Body:       redactSecrets(truncateBody(data), c.config.APIKey),
	}
	if apiErr.ErrorClass == "" {
		apiErr.ErrorClass = ErrorClassClient
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return apiErr
}

// classifyRequestError maps an attempt error to an ErrorClass for retry decisions.
func classifyRequestError(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ErrorClassNetwork
}

func redactError(err error, apiKey string) error {
	if err == nil {
		return nil
	}
	return errors.New(redactSecrets(err.Error(), apiKey))
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Quota returns the quota tracker.
func (c *Client) Quota() *ratelimit.Tracker {
	return c.quota
}

// CacheEnabled reports whether enrichment responses are cached.
func (c *Client) CacheEnabled() bool {
	return c.cache != nil
}
