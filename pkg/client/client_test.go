package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/apollo-enricher/internal/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testAPIKey = "test-api-key-0123456789"

// newTestClient creates a client against the mock with fast retries.
func newTestClient(t *testing.T, mock *testutil.MockApollo, mutate ...func(*Config)) *Client {
	t.Helper()

	cfg := DefaultConfig(testAPIKey)
	cfg.BaseURL = mock.URL()
	cfg.WebhookURL = "https://hooks.example.com/apollo?source=test"
	cfg.Retry = RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
	cfg.Quota.ThrottleDelay = time.Millisecond
	cfg.Quota.MaxWait = 10 * time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig(testAPIKey)
		return cfg
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:     "missing api key",
			mutate:   func(c *Config) { c.APIKey = "  " },
			errorMsg: "api key is required",
		},
		{
			name:     "relative base url",
			mutate:   func(c *Config) { c.BaseURL = "/api" },
			errorMsg: `base url must be an absolute url (got "/api")`,
		},
		{
			name:     "bad webhook url",
			mutate:   func(c *Config) { c.WebhookURL = "ftp://hooks.example.com" },
			errorMsg: `webhook url must be an absolute http(s) url (got "ftp://hooks.example.com")`,
		},
		{
			name:     "zero attempts",
			mutate:   func(c *Config) { c.Retry.MaxAttempts = 0 },
			errorMsg: "retry max attempts must be >= 1 (got 0)",
		},
		{
			name:     "zero timeout",
			mutate:   func(c *Config) { c.Timeout = 0 },
			errorMsg: "timeout must be > 0 (got 0s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			c, err := New(cfg)
			if tt.errorMsg == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				if c == nil {
					t.Fatal("Client is nil")
				}
				return
			}
			if err == nil {
				t.Fatal("Expected error but got nil")
			}
			if err.Error() != tt.errorMsg {
				t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(testAPIKey)

	if cfg.APIKey != testAPIKey {
		t.Errorf("APIKey = %q, want %q", cfg.APIKey, testAPIKey)
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, DefaultBaseURL)
	}
	if !cfg.RevealPersonalEmails || !cfg.RevealPhoneNumber {
		t.Error("Reveal flags should default to true")
	}
	if cfg.Retry.MaxAttempts < 1 {
		t.Errorf("Retry.MaxAttempts = %d, should be >= 1", cfg.Retry.MaxAttempts)
	}
	if cfg.Timeout <= 0 {
		t.Errorf("Timeout = %v, should be > 0", cfg.Timeout)
	}
}

func TestSearchPeople_SendsExactPage(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	c := newTestClient(t, mock)

	base := SearchQuery{PersonLocations: []string{"Florida, United States"}, Page: 1, PerPage: 10}
	pages := []int{1, 2, 3, 7, 2}

	for _, page := range pages {
		if _, err := c.SearchPeople(context.Background(), base.WithPage(page)); err != nil {
			t.Fatalf("SearchPeople(%d) failed: %v", page, err)
		}
	}

	reqs := mock.RequestsTo(testutil.SearchPath)
	if len(reqs) != len(pages) {
		t.Fatalf("Expected %d search requests, got %d", len(pages), len(reqs))
	}
	for i, req := range reqs {
		body, err := req.SearchBody()
		if err != nil {
			t.Fatalf("Decode search body: %v", err)
		}
		if body.Page != pages[i] {
			t.Errorf("Request %d page = %d, want %d", i, body.Page, pages[i])
		}
		if body.PerPage != 10 {
			t.Errorf("Request %d per_page = %d, want 10", i, body.PerPage)
		}
		if len(body.PersonLocations) != 1 || body.PersonLocations[0] != "Florida, United States" {
			t.Errorf("Request %d person_locations = %v", i, body.PersonLocations)
		}
	}

	if base.Page != 1 {
		t.Errorf("Base query was mutated: page = %d", base.Page)
	}
}

func TestSearchPeople_RequestShape(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	c := newTestClient(t, mock)

	if _, err := c.SearchPeople(context.Background(), SearchQuery{Page: 1, PerPage: 10}); err != nil {
		t.Fatalf("SearchPeople failed: %v", err)
	}

	req := mock.RequestsTo(testutil.SearchPath)[0]
	if req.Method != http.MethodPost {
		t.Errorf("Method = %s, want POST", req.Method)
	}
	if req.Query.Get("reveal_personal_emails") != "true" || req.Query.Get("reveal_phone_number") != "true" {
		t.Errorf("Reveal flags missing: %v", req.Query)
	}
	if req.Query.Has("webhook_url") {
		t.Error("Search request should not carry webhook_url")
	}

	headers := map[string]string{
		"X-Api-Key":     testAPIKey,
		"Content-Type":  "application/json",
		"Cache-Control": "no-cache",
		"Accept":        "application/json",
	}
	for key, want := range headers {
		if got := req.Header.Get(key); got != want {
			t.Errorf("Header %s = %q, want %q", key, got, want)
		}
	}
}

func TestSearchPeople_Results(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	mock.SetSearchPeople(1,
		testutil.MockPerson{ID: "p1", FirstName: "Jane", LastName: "Doe"},
		testutil.MockPerson{ID: "p2", FirstName: "John", LastName: "Roe"},
	)
	c := newTestClient(t, mock)

	resp, err := c.SearchPeople(context.Background(), SearchQuery{Page: 1, PerPage: 10})
	if err != nil {
		t.Fatalf("SearchPeople failed: %v", err)
	}
	if len(resp.People) != 2 {
		t.Fatalf("Expected 2 people, got %d", len(resp.People))
	}
	if resp.People[0].ID != "p1" || resp.People[0].FullName() != "Jane Doe" {
		t.Errorf("First person = %+v", resp.People[0])
	}
	if resp.Pagination == nil || resp.Pagination.Page != 1 {
		t.Errorf("Pagination = %+v", resp.Pagination)
	}
}

func TestSearchPeople_MissingPeopleIsEmpty(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	mock.SetSearchPage(1, testutil.NewHealthyResponse(`{"breadcrumbs":[]}`))
	c := newTestClient(t, mock)

	resp, err := c.SearchPeople(context.Background(), SearchQuery{Page: 1, PerPage: 10})
	if err != nil {
		t.Fatalf("SearchPeople failed: %v", err)
	}
	if resp.People == nil || len(resp.People) != 0 {
		t.Errorf("Expected empty non-nil people, got %#v", resp.People)
	}
}

func TestSearchPeople_ClientErrorNotRetried(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	mock.SetSearchPage(1, testutil.NewClientErrorResponse(http.StatusForbidden, `{"error":"api key has no access"}`))
	c := newTestClient(t, mock)

	_, err := c.SearchPeople(context.Background(), SearchQuery{Page: 1, PerPage: 10})
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", apiErr.StatusCode)
	}
	if apiErr.ErrorClass != ErrorClassClient {
		t.Errorf("ErrorClass = %q, want client", apiErr.ErrorClass)
	}
	if !strings.Contains(apiErr.Body, "no access") {
		t.Errorf("Body = %q", apiErr.Body)
	}
	if n := mock.RequestCount(); n != 1 {
		t.Errorf("Expected 1 request, got %d", n)
	}
}

func TestSearchPeople_ServerErrorRetried(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	mock.SetSearchPage(1,
		testutil.NewServerErrorResponse(),
		testutil.NewServerErrorResponse(),
		testutil.NewHealthyResponse(`{"people":[{"id":"p1","first_name":"Jane","last_name":"Doe"}]}`),
	)
	c := newTestClient(t, mock)

	resp, err := c.SearchPeople(context.Background(), SearchQuery{Page: 1, PerPage: 10})
	if err != nil {
		t.Fatalf("SearchPeople failed: %v", err)
	}
	if len(resp.People) != 1 {
		t.Errorf("Expected 1 person, got %d", len(resp.People))
	}
	if n := mock.RequestCount(); n != 3 {
		t.Errorf("Expected 3 requests, got %d", n)
	}

	// Every retry carries the full body again.
	for _, req := range mock.Requests() {
		body, err := req.SearchBody()
		if err != nil || body.Page != 1 {
			t.Errorf("Retried body = %+v, err %v", body, err)
		}
	}
}

func TestSearchPeople_ServerErrorExhausted(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	mock.SetSearchPage(1, testutil.NewServerErrorResponse())
	c := newTestClient(t, mock)

	_, err := c.SearchPeople(context.Background(), SearchQuery{Page: 1, PerPage: 10})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	apiErr, ok := AsAPIError(err)
	if !ok || apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected wrapped 500 APIError, got %v", err)
	}
	if n := mock.RequestCount(); n != 3 {
		t.Errorf("Expected 3 requests, got %d", n)
	}
}

func TestSearchPeople_InvalidQuery(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	c := newTestClient(t, mock)

	_, err := c.SearchPeople(context.Background(), SearchQuery{Page: 0, PerPage: 10})
	if !errors.Is(err, ErrInvalidPage) {
		t.Errorf("Expected ErrInvalidPage, got %v", err)
	}

	_, err = c.SearchPeople(context.Background(), SearchQuery{Page: 1, PerPage: 0})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("Expected ErrInvalidQuery, got %v", err)
	}

	if n := mock.RequestCount(); n != 0 {
		t.Errorf("Invalid queries should not reach the API, got %d requests", n)
	}
}

func TestEnrichPerson_Success(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	mock.SetEnrichContact("p1", "+16502530000", "jane@example.com")
	c := newTestClient(t, mock)

	resp, err := c.EnrichPerson(context.Background(), "p1")
	if err != nil {
		t.Fatalf("EnrichPerson failed: %v", err)
	}
	if resp.Person == nil {
		t.Fatal("Expected person in response")
	}
	if resp.Person.Email == nil || *resp.Person.Email != "jane@example.com" {
		t.Errorf("Email = %v", resp.Person.Email)
	}
	if resp.Person.MobilePhone == nil || *resp.Person.MobilePhone != "+16502530000" {
		t.Errorf("MobilePhone = %v", resp.Person.MobilePhone)
	}
	if resp.Cached {
		t.Error("Response should not be marked cached")
	}

	req := mock.RequestsTo(testutil.EnrichPath)[0]
	body, err := req.EnrichBody()
	if err != nil || body.PersonID != "p1" {
		t.Errorf("Enrich body = %+v, err %v", body, err)
	}
	if got := req.Query.Get("webhook_url"); got != "https://hooks.example.com/apollo?source=test" {
		t.Errorf("webhook_url = %q", got)
	}
	if req.Query.Get("reveal_personal_emails") != "true" || req.Query.Get("reveal_phone_number") != "true" {
		t.Errorf("Reveal flags missing: %v", req.Query)
	}
}

func TestEnrichPerson_NullContactFields(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	mock.SetEnrichContact("p1", "", "")
	c := newTestClient(t, mock)

	resp, err := c.EnrichPerson(context.Background(), "p1")
	if err != nil {
		t.Fatalf("EnrichPerson failed: %v", err)
	}
	if resp.Person.Email != nil || resp.Person.MobilePhone != nil {
		t.Errorf("Expected nil contact fields, got %+v", resp.Person)
	}
}

func TestEnrichPerson_HTTPError(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	mock.SetEnrich("p1", testutil.NewClientErrorResponse(http.StatusUnprocessableEntity, `{"error":"insufficient credits"}`))
	c := newTestClient(t, mock)

	resp, err := c.EnrichPerson(context.Background(), "p1")
	if resp != nil {
		t.Errorf("Expected nil response, got %+v", resp)
	}
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode = %d, want 422", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "insufficient credits") {
		t.Errorf("Body = %q", apiErr.Body)
	}
}

func TestEnrichPerson_EmptyID(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	c := newTestClient(t, mock)

	if _, err := c.EnrichPerson(context.Background(), " "); !errors.Is(err, ErrEmptyPersonID) {
		t.Errorf("Expected ErrEmptyPersonID, got %v", err)
	}
	if n := mock.RequestCount(); n != 0 {
		t.Errorf("Expected no requests, got %d", n)
	}
}

func TestEnrichPerson_WithoutWebhook(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	mock.SetEnrichContact("p1", "+16502530000", "jane@example.com")
	c := newTestClient(t, mock, func(cfg *Config) { cfg.WebhookURL = "" })

	if _, err := c.EnrichPerson(context.Background(), "p1"); err != nil {
		t.Fatalf("EnrichPerson failed: %v", err)
	}
	if mock.RequestsTo(testutil.EnrichPath)[0].Query.Has("webhook_url") {
		t.Error("webhook_url should be omitted when not configured")
	}
}

func TestEnrichPerson_Cache(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	mock := testutil.NewMockApollo()
	defer mock.Close()
	mock.SetEnrichContact("p1", "+16502530000", "jane@example.com")
	mock.SetEnrich("p2", testutil.NewClientErrorResponse(http.StatusNotFound, `{"error":"not found"}`))

	c := newTestClient(t, mock, func(cfg *Config) {
		cfg.Redis = redisClient
		cfg.CacheTTL = time.Hour
	})
	if !c.CacheEnabled() {
		t.Fatal("Expected cache to be enabled with redis")
	}
	ctx := context.Background()

	first, err := c.EnrichPerson(ctx, "p1")
	if err != nil {
		t.Fatalf("First EnrichPerson failed: %v", err)
	}
	second, err := c.EnrichPerson(ctx, "p1")
	if err != nil {
		t.Fatalf("Second EnrichPerson failed: %v", err)
	}

	if first.Cached || !second.Cached {
		t.Errorf("Cached flags = (%v, %v), want (false, true)", first.Cached, second.Cached)
	}
	if second.Person == nil || *second.Person.Email != "jane@example.com" {
		t.Errorf("Cached person = %+v", second.Person)
	}
	if n := len(mock.RequestsTo(testutil.EnrichPath)); n != 1 {
		t.Errorf("Expected 1 enrich request, got %d", n)
	}

	// Failures are never cached.
	for i := 0; i < 2; i++ {
		if _, err := c.EnrichPerson(ctx, "p2"); err == nil {
			t.Fatal("Expected error for p2")
		}
	}
	if n := len(mock.RequestsTo(testutil.EnrichPath)); n != 3 {
		t.Errorf("Expected 3 enrich requests, got %d", n)
	}
}

func TestCachedEnrichment(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	mock := testutil.NewMockApollo()
	defer mock.Close()
	mock.SetEnrichContact("p1", "+16502530000", "jane@example.com")

	c := newTestClient(t, mock, func(cfg *Config) {
		cfg.Redis = redisClient
		cfg.CacheTTL = time.Hour
		cfg.WebhookURL = "https://hooks.example.com/apollo"
	})
	ctx := context.Background()

	if _, ok := c.CachedEnrichment(ctx, "p1"); ok {
		t.Fatal("Expected miss before the first fetch")
	}
	if _, err := c.FetchEnrichment(ctx, "p1"); err != nil {
		t.Fatalf("FetchEnrichment failed: %v", err)
	}

	cached, ok := c.CachedEnrichment(ctx, "p1")
	if !ok {
		t.Fatal("Expected hit after fetch")
	}
	if !cached.Cached || cached.Person == nil || *cached.Person.Email != "jane@example.com" {
		t.Errorf("Cached enrichment = %+v", cached)
	}
	if n := mock.RequestCount(); n != 1 {
		t.Errorf("Expected 1 request, got %d", n)
	}

	// FetchEnrichment always reaches the API.
	if _, err := c.FetchEnrichment(ctx, "p1"); err != nil {
		t.Fatalf("FetchEnrichment failed: %v", err)
	}
	if n := mock.RequestCount(); n != 2 {
		t.Errorf("Expected 2 requests, got %d", n)
	}
}

func TestCachedEnrichment_Disabled(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	c := newTestClient(t, mock)

	if c.CacheEnabled() {
		t.Fatal("Cache should be disabled without redis")
	}
	if _, ok := c.CachedEnrichment(context.Background(), "p1"); ok {
		t.Error("Expected miss with the cache disabled")
	}
	if mock.RequestCount() != 0 {
		t.Errorf("CachedEnrichment must not call the API, got %d requests", mock.RequestCount())
	}
}

func TestDo_RateLimitRetried(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	mock.SetEnrich("p1",
		testutil.NewRateLimitResponse(),
		testutil.NewHealthyResponse(`{"person":{"id":"p1","email":"jane@example.com"}}`),
	)
	c := newTestClient(t, mock)

	resp, err := c.EnrichPerson(context.Background(), "p1")
	if err != nil {
		t.Fatalf("EnrichPerson failed: %v", err)
	}
	if resp.Person == nil || resp.Person.ID != "p1" {
		t.Errorf("Person = %+v", resp.Person)
	}
	if n := mock.RequestCount(); n != 2 {
		t.Errorf("Expected 2 requests, got %d", n)
	}
}

func TestDo_QuotaExhausted(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	exhausted := testutil.NewHealthyResponse(`{"people":[]}`)
	exhausted.Headers["X-24-Hour-Requests-Left"] = "0"
	mock.SetSearchPage(1, exhausted)
	c := newTestClient(t, mock)
	ctx := context.Background()

	if _, err := c.SearchPeople(ctx, SearchQuery{Page: 1, PerPage: 10}); err != nil {
		t.Fatalf("First SearchPeople failed: %v", err)
	}

	_, err := c.SearchPeople(ctx, SearchQuery{Page: 2, PerPage: 10})
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Errorf("Expected ErrQuotaExhausted, got %v", err)
	}
	if n := mock.RequestCount(); n != 1 {
		t.Errorf("Expected 1 request, got %d", n)
	}

	state, err := c.Quota().GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Day.Remaining != 0 {
		t.Errorf("Day.Remaining = %d, want 0", state.Day.Remaining)
	}
}

func TestDo_NetworkError(t *testing.T) {
	mock := testutil.NewMockApollo()
	c := newTestClient(t, mock, func(cfg *Config) { cfg.Retry.MaxAttempts = 2 })
	mock.Close()

	_, err := c.SearchPeople(context.Background(), SearchQuery{Page: 1, PerPage: 10})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if strings.Contains(err.Error(), testAPIKey) {
		t.Errorf("Error leaks api key: %v", err)
	}
}

func TestDo_RedactsAPIKeyInBody(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	mock.SetHandler(testutil.SearchPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid key ` + r.Header.Get("x-api-key") + `"}`))
	})
	c := newTestClient(t, mock)

	_, err := c.SearchPeople(context.Background(), SearchQuery{Page: 1, PerPage: 10})
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if strings.Contains(apiErr.Body, testAPIKey) {
		t.Errorf("Body leaks api key: %q", apiErr.Body)
	}
	if !strings.Contains(apiErr.Body, "<redacted>") {
		t.Errorf("Body = %q, want redaction marker", apiErr.Body)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockApollo()
	defer mock.Close()
	c := newTestClient(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.SearchPeople(ctx, SearchQuery{Page: 1, PerPage: 10}); err == nil {
		t.Error("Expected error for cancelled context")
	}
}
