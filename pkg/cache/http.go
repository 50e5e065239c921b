package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// DefaultTTL keeps enrichment responses for a week.
const DefaultTTL = 7 * 24 * time.Hour

// Headers set on responses rebuilt from the cache.
const (
	HeaderCache    = "X-Apollo-Enricher-Cache"
	HeaderCacheAge = "X-Apollo-Enricher-Cache-Age"
)

// readEnrichment copies the body of resp into an Enrichment. The body of
// resp stays readable for the caller.
func readEnrichment(personID string, resp *http.Response, now time.Time, ttl time.Duration) (*Enrichment, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("response has no body")
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Enrichment{
		PersonID:    personID,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StoredAt:    now,
		ExpiresAt:   now.Add(ttl),
	}, nil
}

// Response rebuilds the 200 enrich response of e, marked as a cache hit.
func (e *Enrichment) Response(now time.Time) *http.Response {
	header := http.Header{}
	if e.ContentType != "" {
		header.Set("Content-Type", e.ContentType)
	}
	header.Set(HeaderCache, "HIT")
	header.Set(HeaderCacheAge, strconv.Itoa(int(e.Age(now).Seconds())))
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))

	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
	}
}

// IsCached reports whether resp was served from the cache.
func IsCached(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(HeaderCache) == "HIT"
}
