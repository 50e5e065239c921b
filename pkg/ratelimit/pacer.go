package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var apolloPacerWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "apollo_pacer_wait_seconds",
	Help:    "Time spent waiting for the request pacer",
	Buckets: []float64{0.01, 0.1, 0.25, 0.5, 1, 2, 5},
})

// DefaultPaceInterval spaces enrichment calls by half a second.
const DefaultPaceInterval = 500 * time.Millisecond

// Pacer spaces consecutive requests by a fixed interval.
type Pacer struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewPacer creates a pacer allowing one request per interval.
// An interval <= 0 disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// Interval returns the configured spacing, 0 when pacing is disabled.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Wait blocks until the next request slot or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	apolloPacerWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}
