// Package metrics exposes the Prometheus metrics of the enricher.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, pagination, enrich) to keep packages independent; this package
// serves them and documents the catalogue.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the enricher.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Path is where the metrics server exposes the metrics.
const Path = "/metrics"

// Handler returns the HTTP handler exposing all registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Server serves Handler on Path until its context is cancelled.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(Path, Handler())

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Serve listens on ln and blocks until ctx is cancelled or serving fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("Metrics server listening")
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Debug().Msg("Metrics server stopped")
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Metrics Documentation
//
// Quota Metrics (pkg/ratelimit):
//   - apollo_requests_left{window} (Gauge): Requests left in the minute, hour and day windows
//   - apollo_quota_blocks_total{window} (Counter): Requests blocked on an exhausted window
//   - apollo_quota_throttles_total (Counter): Requests throttled in warning state
//   - apollo_pacer_wait_seconds (Histogram): Time spent waiting on the pacing limiter
//
// Cache Metrics (pkg/cache):
//   - apollo_cache_hits_total (Counter): Enrichments served from the cache
//   - apollo_cache_misses_total{reason} (Counter): Misses (absent, expired, invalid)
//   - apollo_cache_stores_total{outcome} (Counter): Responses stored or skipped (non-200)
//   - apollo_cache_size_bytes (Gauge): Bytes written to the cache
//   - apollo_cache_errors_total{operation} (Counter): Redis errors (get, set, delete)
//
// Request Metrics (pkg/client):
//   - apollo_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - apollo_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - apollo_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - apollo_retries_total{error_class} (Counter): Retry attempts by error class
//   - apollo_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - apollo_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Run Metrics (pkg/pagination, pkg/enrich):
//   - apollo_pages_total{outcome} (Counter): Search pages by outcome (items, empty, failed)
//   - apollo_enrichments_total{outcome} (Counter): Enrichments by outcome (enriched, cached, failed, duplicate)
//   - apollo_runs_total{stop_reason} (Counter): Completed runs by stop reason
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(apollo_cache_hits_total[5m])) /
//   (sum(rate(apollo_cache_hits_total[5m])) + sum(rate(apollo_cache_misses_total[5m])))
//
//   # Daily quota running low
//   apollo_requests_left{window="day"} < 100
//
//   # Enrichment failure ratio
//   sum(rate(apollo_enrichments_total{outcome="failed"}[1h])) / sum(rate(apollo_enrichments_total[1h]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(apollo_request_duration_seconds_bucket[5m]))
