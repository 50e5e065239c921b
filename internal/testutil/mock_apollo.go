// Package testutil provides testing utilities for the Apollo client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// Paths served by the mock, mirroring the real API.
const (
	SearchPath = "/api/v1/mixed_people/search"
	EnrichPath = "/api/v1/people/enrich"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is a request received by the mock.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// SearchBody decodes the body of a search request.
func (r RecordedRequest) SearchBody() (SearchRequestBody, error) {
	var body SearchRequestBody
	err := json.Unmarshal(r.Body, &body)
	return body, err
}

// EnrichBody decodes the body of an enrich request.
func (r RecordedRequest) EnrichBody() (EnrichRequestBody, error) {
	var body EnrichRequestBody
	err := json.Unmarshal(r.Body, &body)
	return body, err
}

// SearchRequestBody is the JSON body of a search request.
type SearchRequestBody struct {
	PersonLocations []string `json:"person_locations"`
	Page            int      `json:"page"`
	PerPage         int      `json:"per_page"`
}

// EnrichRequestBody is the JSON body of an enrich request.
type EnrichRequestBody struct {
	PersonID string `json:"person_id"`
}

// MockPerson is a search result entry.
type MockPerson struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// MockApollo is a configurable mock Apollo API for testing.
// Search pages without a configured response return an empty people list.
// Enrichments without a configured response return 404.
type MockApollo struct {
	server *httptest.Server
	mu     sync.Mutex

	searchPages map[int][]MockResponse
	enrich      map[string][]MockResponse
	handlers    map[string]func(w http.ResponseWriter, r *http.Request)
	requests    []RecordedRequest
}

// NewMockApollo creates a new mock Apollo server.
func NewMockApollo() *MockApollo {
	mock := &MockApollo{
		searchPages: make(map[int][]MockResponse),
		enrich:      make(map[string][]MockResponse),
		handlers:    make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockApollo) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockApollo) Close() {
	m.server.Close()
}

// Reset clears recorded requests.
func (m *MockApollo) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// SetHandler overrides all behavior for a path.
func (m *MockApollo) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetSearchPage queues responses for a search page. Each request consumes one
// response; the last one is repeated.
func (m *MockApollo) SetSearchPage(page int, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchPages[page] = responses
}

// SetSearchPeople configures a healthy search page with the given people.
func (m *MockApollo) SetSearchPeople(page int, people ...MockPerson) {
	if people == nil {
		people = []MockPerson{}
	}
	data, _ := json.Marshal(map[string]any{
		"people": people,
		"pagination": map[string]int{
			"page":     page,
			"per_page": len(people),
		},
	})
	m.SetSearchPage(page, NewHealthyResponse(string(data)))
}

// SetEnrich queues responses for a person. Each request consumes one
// response; the last one is repeated.
func (m *MockApollo) SetEnrich(personID string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrich[personID] = responses
}

// SetEnrichContact configures a healthy enrichment. Empty phone or email
// are returned as JSON null.
func (m *MockApollo) SetEnrichContact(personID, phone, email string) {
	person := map[string]any{
		"id":           personID,
		"email":        nullable(email),
		"mobile_phone": nullable(phone),
	}
	data, _ := json.Marshal(map[string]any{"person": person})
	m.SetEnrich(personID, NewHealthyResponse(string(data)))
}

// Requests returns a copy of all recorded requests.
func (m *MockApollo) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestsTo returns the recorded requests for one path.
func (m *MockApollo) RequestsTo(path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// RequestCount returns the number of requests made to the server.
func (m *MockApollo) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockApollo) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec := RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	handler, exists := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if exists {
		handler(w, r)
		return
	}

	switch r.URL.Path {
	case SearchPath:
		req, err := rec.SearchBody()
		if err != nil {
			write(w, NewClientErrorResponse(http.StatusUnprocessableEntity, `{"error":"invalid body"}`))
			return
		}
		resp, ok := next(m, m.searchPages, req.Page)
		if !ok {
			resp = NewHealthyResponse(`{"people":[]}`)
		}
		write(w, resp)
	case EnrichPath:
		req, err := rec.EnrichBody()
		if err != nil {
			write(w, NewClientErrorResponse(http.StatusUnprocessableEntity, `{"error":"invalid body"}`))
			return
		}
		resp, ok := next(m, m.enrich, req.PersonID)
		if !ok {
			resp = NewClientErrorResponse(http.StatusNotFound, fmt.Sprintf(`{"error":"person %s not found"}`, req.PersonID))
		}
		write(w, resp)
	default:
		write(w, NewClientErrorResponse(http.StatusNotFound, `{"error":"not found"}`))
	}
}

// next pops the next queued response for key, keeping the last one.
func next[K comparable](m *MockApollo, queues map[K][]MockResponse, key K) (MockResponse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := queues[key]
	if len(q) == 0 {
		return MockResponse{}, false
	}
	resp := q[0]
	if len(q) > 1 {
		queues[key] = q[1:]
	}
	return resp, true
}

func write(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func quotaHeaders() map[string]string {
	return map[string]string{
		"X-Rate-Limit-Minute":     "200",
		"X-Minute-Requests-Left":  "199",
		"X-Rate-Limit-Hourly":     "400",
		"X-Hourly-Requests-Left":  "399",
		"X-Rate-Limit-24-Hour":    "2000",
		"X-24-Hour-Requests-Left": "1999",
		"Content-Type":            "application/json; charset=utf-8",
	}
}

// NewHealthyResponse creates a standard 200 OK response with quota headers.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers:    quotaHeaders(),
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "The maximum number of api calls allowed for api/v1/people/enrich is 200 times per minute."}`,
		Headers:    quotaHeaders(),
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    quotaHeaders(),
	}
}

// NewClientErrorResponse creates a 4xx response with the given body.
func NewClientErrorResponse(status int, body string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       body,
		Headers:    quotaHeaders(),
	}
}
