package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ignoredQueryParams never change the response body and are left out of keys.
var ignoredQueryParams = map[string]bool{
	"webhook_url": true,
}

// EnrichEndpoint is the Apollo path whose responses are cached.
const EnrichEndpoint = "/api/v1/people/enrich"

// EnrichmentKey returns the key of a person's enrichment requested with params.
// webhook_url does not change the response and is left out.
func EnrichmentKey(personID string, params url.Values) CacheKey {
	return CacheKey{Endpoint: EnrichEndpoint, PersonID: personID, QueryParams: params}
}

// CacheKey represents a unique identifier for a cached Apollo response.
type CacheKey struct {
	// Endpoint is the API path (e.g., "/api/v1/people/enrich")
	Endpoint string

	// PersonID is the Apollo person ID the response belongs to
	PersonID string

	// QueryParams are the query parameters (e.g., reveal flags)
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: apollo:endpoint:person=<id>:query1=val1
//
// Example:
//
//	apollo:api/v1/people/enrich:person=5f2a:reveal_personal_emails=true:reveal_phone_number=true
func (k CacheKey) String() string {
	parts := []string{"apollo"}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if k.PersonID != "" {
		parts = append(parts, "person="+k.PersonID)
	}

	// Add query params (sorted for determinism)
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			if ignoredQueryParams[key] {
				continue
			}
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.QueryParams.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
