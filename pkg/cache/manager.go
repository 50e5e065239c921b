package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss means no live enrichment is stored for the person.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry means the stored value could not be decoded. The
	// value is removed so the next lookup is a plain miss.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager stores successful enrich responses in Redis, one key per person
// and reveal flag combination.
type Manager struct {
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

// NewManager creates an enrichment cache. ttl <= 0 uses DefaultTTL.
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{redis: redisClient, ttl: ttl, now: time.Now}
}

// TTL returns how long enrichments are kept.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// GetEnrichment returns the enrichment stored for personID under params.
func (m *Manager) GetEnrichment(ctx context.Context, personID string, params url.Values) (*Enrichment, error) {
	key := EnrichmentKey(personID, params).String()

	data, err := m.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues("absent").Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Enrichment
	if err := json.Unmarshal(data, &entry); err != nil || entry.PersonID != personID {
		CacheMisses.WithLabelValues("invalid").Inc()
		_ = m.redis.Del(ctx, key).Err()
		if err == nil {
			err = fmt.Errorf("stored for person %q", entry.PersonID)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.Expired(m.now()) {
		CacheMisses.WithLabelValues("expired").Inc()
		_ = m.redis.Del(ctx, key).Err()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return &entry, nil
}

// SetEnrichment stores the enrich response resp of personID. Only 200
// responses are stored; stored reports whether resp was kept. The body of
// resp stays readable.
func (m *Manager) SetEnrichment(ctx context.Context, personID string, params url.Values, resp *http.Response) (stored bool, err error) {
	if strings.TrimSpace(personID) == "" {
		return false, errors.New("person id is required")
	}
	if resp == nil {
		return false, errors.New("response cannot be nil")
	}
	if resp.StatusCode != http.StatusOK {
		CacheStores.WithLabelValues("skipped").Inc()
		return false, nil
	}

	entry, err := readEnrichment(personID, resp, m.now(), m.ttl)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return false, err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return false, fmt.Errorf("marshal enrichment: %w", err)
	}

	if err := m.redis.Set(ctx, EnrichmentKey(personID, params).String(), data, m.ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return false, fmt.Errorf("redis set: %w", err)
	}

	CacheStores.WithLabelValues("stored").Inc()
	CacheSize.Add(float64(len(data)))
	return true, nil
}

// DeleteEnrichment forgets the enrichment of personID under params.
func (m *Manager) DeleteEnrichment(ctx context.Context, personID string, params url.Values) error {
	if err := m.redis.Del(ctx, EnrichmentKey(personID, params).String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
