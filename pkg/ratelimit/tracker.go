package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota tracking.
var (
	apolloRequestsLeft = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "apollo_requests_left",
		Help: "Requests remaining in the current Apollo quota window",
	}, []string{"window"})

	apolloQuotaBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apollo_quota_blocks_total",
		Help: "Total number of requests blocked or delayed by an exhausted quota window",
	}, []string{"window"})

	apolloQuotaThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apollo_quota_throttles_total",
		Help: "Total number of requests throttled because the minute window is nearly exhausted",
	})
)

// TrackerOptions tunes how the tracker reacts to low quota.
type TrackerOptions struct {
	// ThrottleDelay is slept before a request while the minute window is in warning state.
	ThrottleDelay time.Duration

	// MaxWait is the longest the tracker waits for an exhausted window to reset.
	// Requests that would wait longer are rejected.
	MaxWait time.Duration

	// MaxStateAge discards stored state older than this, 0 keeps it forever.
	// A shared Redis state left by an earlier run says nothing about the
	// current windows once it is that old.
	MaxStateAge time.Duration
}

// DefaultTrackerOptions returns the default options.
func DefaultTrackerOptions() TrackerOptions {
	return TrackerOptions{
		ThrottleDelay: 1 * time.Second,
		MaxWait:       2 * time.Minute,
		MaxStateAge:   WindowDay.Length(),
	}
}

// Tracker monitors Apollo quota headers and gates requests.
type Tracker struct {
	store  StateStore
	logger zerolog.Logger
	opts   TrackerOptions
	now    func() time.Time
}

// NewTracker creates a new quota tracker.
func NewTracker(store StateStore, logger zerolog.Logger, opts TrackerOptions) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	if opts.ThrottleDelay < 0 {
		opts.ThrottleDelay = 0
	}
	return &Tracker{
		store:  store,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// GetState retrieves the current quota state.
// Returns a state with all windows unknown if nothing was recorded yet or
// the stored state is older than MaxStateAge.
func (t *Tracker) GetState(ctx context.Context) (*QuotaState, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		t.logger.Debug().Msg("No quota state recorded, assuming healthy")
		return unknownState(t.now()), nil
	}
	if t.opts.MaxStateAge > 0 && state.IsStale(t.opts.MaxStateAge, t.now()) {
		t.logger.Debug().
			Time("last_update", state.LastUpdate).
			Msg("Quota state is stale, assuming healthy")
		return unknownState(t.now()), nil
	}
	return state, nil
}

// UpdateFromHeaders parses Apollo quota headers and stores the new state.
// Responses without quota headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	now := t.now()

	prev, err := t.GetState(ctx)
	if err != nil {
		return err
	}

	windows := []struct {
		window Window
		limit  string
		left   string
		dst    *WindowState
	}{
		{WindowMinute, HeaderMinuteLimit, HeaderMinuteLeft, &prev.Minute},
		{WindowHour, HeaderHourlyLimit, HeaderHourlyLeft, &prev.Hour},
		{WindowDay, HeaderDailyLimit, HeaderDailyLeft, &prev.Day},
	}

	updated := false
	for _, w := range windows {
		leftStr := headers.Get(w.left)
		if leftStr == "" {
			continue
		}
		left, err := parseIntHeader(leftStr)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", w.left, err)
		}

		limit := w.dst.Limit
		if limitStr := headers.Get(w.limit); limitStr != "" {
			if limit, err = parseIntHeader(limitStr); err != nil {
				return fmt.Errorf("parse %s header: %w", w.limit, err)
			}
		}

		*w.dst = WindowState{
			Limit:     limit,
			Remaining: left,
			ResetAt:   windowReset(w.window, now),
		}
		apolloRequestsLeft.WithLabelValues(string(w.window)).Set(float64(left))
		updated = true
	}

	if !updated {
		return nil
	}
	prev.LastUpdate = now

	if err := t.store.Save(ctx, prev); err != nil {
		return err
	}

	if window, blocked := prev.NeedsCriticalBlock(now); blocked {
		t.logger.Error().
			Str("window", string(window)).
			Time("reset_at", prev.Windows()[window].ResetAt).
			Msg("Apollo quota exhausted - requests will wait for reset")
	} else if prev.NeedsThrottling(now) {
		t.logger.Warn().
			Int("requests_left", prev.Minute.Remaining).
			Msg("Apollo minute quota low - requests will be throttled")
	} else {
		t.logger.Debug().
			Int("minute_left", prev.Minute.Remaining).
			Int("hourly_left", prev.Hour.Remaining).
			Int("daily_left", prev.Day.Remaining).
			Msg("Apollo quota state updated")
	}

	return nil
}

// ShouldAllowRequest checks if a request should be allowed based on current quota state.
// An exhausted minute or hour window is waited out when it resets within MaxWait.
// Returns false if the request should be rejected.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get quota state: %w", err)
	}

	now := t.now()
	if window, blocked := state.NeedsCriticalBlock(now); blocked {
		apolloQuotaBlocksTotal.WithLabelValues(string(window)).Inc()
		wait := state.TimeUntilReset(window, now)
		if window == WindowDay || wait > t.opts.MaxWait {
			t.logger.Error().
				Str("window", string(window)).
				Dur("wait_duration", wait).
				Msg("Apollo quota exhausted - rejecting request")
			return false, nil
		}

		t.logger.Warn().
			Str("window", string(window)).
			Dur("wait_duration", wait).
			Msg("Apollo quota exhausted - waiting for reset")
		if err := sleepContext(ctx, wait); err != nil {
			return false, err
		}
		return true, nil
	}

	if state.NeedsThrottling(now) {
		t.logger.Warn().
			Int("requests_left", state.Minute.Remaining).
			Msg("Apollo minute quota low - throttling request")
		apolloQuotaThrottlesTotal.Inc()
		if err := sleepContext(ctx, t.opts.ThrottleDelay); err != nil {
			return false, err
		}
	}

	return true, nil
}

func parseIntHeader(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative value")
	}
	return n, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
