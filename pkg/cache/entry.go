package cache

import (
	"time"
)

// Enrichment is the stored enrich response of one person.
type Enrichment struct {
	PersonID string `json:"person_id"`

	// Body is the raw JSON body of the 200 response.
	Body        []byte `json:"body"`
	ContentType string `json:"content_type,omitempty"`

	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the enrichment is past its expiry at now.
func (e *Enrichment) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Age is the time since the enrichment was stored.
func (e *Enrichment) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Remaining is the time left before expiry, 0 once expired.
func (e *Enrichment) Remaining(now time.Time) time.Duration {
	if e.Expired(now) {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}
