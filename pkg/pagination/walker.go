package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var apolloPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "apollo_pages_total",
	Help: "Total search pages walked by outcome",
}, []string{"outcome"})

// Config holds walker configuration
type Config struct {
	// MaxPages is the last page requested (inclusive)
	MaxPages int
	// StartPage is the first page requested
	StartPage int
	// Timeout per page fetch, 0 disables it
	Timeout time.Duration
}

// DefaultConfig returns the default configuration: pages 1 through 5.
func DefaultConfig() Config {
	return Config{
		MaxPages:  5,
		StartPage: 1,
		Timeout:   2 * time.Minute,
	}
}

// Outcome discriminates the result of fetching one page.
type Outcome int

const (
	// OutcomeItems is a page with at least one item.
	OutcomeItems Outcome = iota
	// OutcomeEmpty is a page without items. It ends the walk.
	OutcomeEmpty
	// OutcomeFailed is a page that could not be fetched. It ends the walk.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeItems:
		return "items"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// PageResult is the outcome of fetching a single page.
// Err is set only for OutcomeFailed.
type PageResult[T any] struct {
	Page    int
	Items   []T
	Outcome Outcome
	Err     error
}

// NewPageResult classifies a fetch result.
func NewPageResult[T any](page int, items []T, err error) PageResult[T] {
	switch {
	case err != nil:
		return PageResult[T]{Page: page, Outcome: OutcomeFailed, Err: err}
	case len(items) == 0:
		return PageResult[T]{Page: page, Items: []T{}, Outcome: OutcomeEmpty}
	default:
		return PageResult[T]{Page: page, Items: items, Outcome: OutcomeItems}
	}
}

// StopReason records why a walk ended.
type StopReason string

const (
	StopEmptyPage  StopReason = "empty_page"
	StopFailedPage StopReason = "failed_page"
	StopPageLimit  StopReason = "page_limit"
	StopVisitError StopReason = "visit_error"
	StopCancelled  StopReason = "cancelled"
)

// WalkStats summarizes a walk.
type WalkStats struct {
	// Pages is the number of pages fetched, whatever their outcome
	Pages int
	// Items is the number of items across all visited pages
	Items int
	// LastPage is the last page number fetched, 0 if none
	LastPage   int
	StopReason StopReason
	Duration   time.Duration
}

// FetchFunc fetches one page. Implementations usually build the result with NewPageResult.
type FetchFunc[T any] func(ctx context.Context, page int) PageResult[T]

// VisitFunc handles one fetched page. A non-nil error ends the walk.
type VisitFunc[T any] func(result PageResult[T]) error

// Walker fetches pages sequentially
type Walker[T any] struct {
	config Config
}

// NewWalker creates a new walker
func NewWalker[T any](config Config) *Walker[T] {
	if config.StartPage < 1 {
		config.StartPage = 1
	}
	if config.MaxPages < config.StartPage {
		config.MaxPages = config.StartPage
	}

	return &Walker[T]{config: config}
}

// Config returns the effective configuration.
func (w *Walker[T]) Config() Config {
	return w.config
}

// Walk fetches pages StartPage..MaxPages in order and visits each one.
// It returns ctx.Err() when cancelled and the wrapped visit error when visit
// fails. Empty and failed pages end the walk without an error; the failure
// is available to visit through PageResult.Err.
func (w *Walker[T]) Walk(ctx context.Context, fetch FetchFunc[T], visit VisitFunc[T]) (stats WalkStats, err error) {
	start := time.Now()
	defer func() {
		stats.Duration = time.Since(start)
	}()

	for page := w.config.StartPage; page <= w.config.MaxPages; page++ {
		if ctx.Err() != nil {
			stats.StopReason = StopCancelled
			return stats, ctx.Err()
		}

		result := w.fetch(ctx, fetch, page)
		result.Page = page
		stats.Pages++
		stats.LastPage = page
		stats.Items += len(result.Items)
		apolloPagesTotal.WithLabelValues(result.Outcome.String()).Inc()

		if result.Outcome == OutcomeFailed && ctx.Err() != nil {
			stats.StopReason = StopCancelled
			return stats, ctx.Err()
		}

		log.Debug().
			Int("page", page).
			Int("items", len(result.Items)).
			Str("outcome", result.Outcome.String()).
			Msg("Page fetched")

		if visitErr := visit(result); visitErr != nil {
			stats.StopReason = StopVisitError
			if errors.Is(visitErr, context.Canceled) || errors.Is(visitErr, context.DeadlineExceeded) {
				stats.StopReason = StopCancelled
			}
			return stats, fmt.Errorf("visit page %d: %w", page, visitErr)
		}

		switch result.Outcome {
		case OutcomeEmpty:
			stats.StopReason = StopEmptyPage
			return stats, nil
		case OutcomeFailed:
			log.Warn().
				Err(result.Err).
				Int("page", page).
				Msg("Page fetch failed, stopping walk")
			stats.StopReason = StopFailedPage
			return stats, nil
		}
	}

	stats.StopReason = StopPageLimit
	log.Debug().
		Int("pages", stats.Pages).
		Int("items", stats.Items).
		Msg("Page limit reached")

	return stats, nil
}

func (w *Walker[T]) fetch(ctx context.Context, fetch FetchFunc[T], page int) PageResult[T] {
	if w.config.Timeout <= 0 {
		return fetch(ctx, page)
	}

	pageCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()
	return fetch(pageCtx, page)
}
