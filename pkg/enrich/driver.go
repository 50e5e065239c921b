// Package enrich drives a search-and-enrich run: it walks the search pages,
// enriches every person found and reports the contact details.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/apollo-enricher/pkg/client"
	"github.com/Sternrassler/apollo-enricher/pkg/contact"
	"github.com/Sternrassler/apollo-enricher/pkg/pagination"
	"github.com/Sternrassler/apollo-enricher/pkg/ratelimit"
	"github.com/Sternrassler/apollo-enricher/pkg/report"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	apolloEnrichmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apollo_enrichments_total",
		Help: "Enrichments by outcome",
	}, []string{"outcome"})

	apolloRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apollo_runs_total",
		Help: "Completed runs by stop reason",
	}, []string{"stop_reason"})
)

// API is the part of the Apollo client the driver uses.
type API interface {
	SearchPeople(ctx context.Context, query client.SearchQuery) (*client.SearchResponse, error)
	// CachedEnrichment returns a stored enrichment without calling the API.
	CachedEnrichment(ctx context.Context, personID string) (*client.EnrichResponse, bool)
	FetchEnrichment(ctx context.Context, personID string) (*client.EnrichResponse, error)
}

// Pacer spaces out API calls.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Config holds the run configuration.
type Config struct {
	// MaxPages is the last search page requested.
	MaxPages int
	PerPage  int
	// Locations filter the search (person_locations).
	Locations []string
	// PaceInterval is the minimum gap between API calls when no Pacer is given.
	PaceInterval time.Duration
	// PageTimeout bounds one search request including retries, 0 disables it.
	PageTimeout time.Duration
	// Normalize formats phone numbers as E.164 and lowercases emails.
	Normalize   bool
	PhoneRegion string
	// RunID tags logs and JSON output. Generated when empty.
	RunID string
}

// DefaultConfig returns the default run: 5 pages of 10 people in Florida,
// one call every 500ms.
func DefaultConfig() Config {
	return Config{
		MaxPages:     5,
		PerPage:      10,
		Locations:    []string{"Florida, United States"},
		PaceInterval: ratelimit.DefaultPaceInterval,
		PageTimeout:  2 * time.Minute,
		Normalize:    true,
		PhoneRegion:  contact.DefaultRegion,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxPages < 1 {
		return fmt.Errorf("max pages must be >= 1 (got %d)", c.MaxPages)
	}
	if c.PerPage < 1 || c.PerPage > client.MaxPerPage {
		return fmt.Errorf("per page must be between 1 and %d (got %d)", client.MaxPerPage, c.PerPage)
	}
	if c.PaceInterval < 0 {
		return fmt.Errorf("pace interval must be >= 0 (got %s)", c.PaceInterval)
	}
	return nil
}

// Query returns the first page search query for the configuration.
func (c Config) Query() client.SearchQuery {
	return client.SearchQuery{
		PersonLocations: append([]string(nil), c.Locations...),
		Page:            1,
		PerPage:         c.PerPage,
	}
}

// Option configures a Driver.
type Option func(*Driver)

// WithPacer replaces the pacer built from Config.PaceInterval.
func WithPacer(p Pacer) Option {
	return func(d *Driver) {
		if p != nil {
			d.pacer = p
		}
	}
}

// WithLogger sets the driver logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// Driver runs the search-and-enrich loop. A Driver is not safe for
// concurrent Runs.
type Driver struct {
	api        API
	reporter   report.Reporter
	pacer      Pacer
	normalizer contact.Normalizer
	config     Config
	logger     zerolog.Logger
}

// NewDriver creates a driver.
func NewDriver(api API, reporter report.Reporter, cfg Config, opts ...Option) (*Driver, error) {
	if api == nil {
		return nil, errors.New("api client is required")
	}
	if reporter == nil {
		return nil, errors.New("reporter is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Locations = append([]string(nil), cfg.Locations...)

	d := &Driver{
		api:        api,
		reporter:   reporter,
		pacer:      ratelimit.NewPacer(cfg.PaceInterval),
		normalizer: contact.NewNormalizer(cfg.PhoneRegion),
		config:     cfg,
		logger:     log.With().Str("component", "enrich-driver").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// run holds the state of one Run.
type run struct {
	id      string
	logger  zerolog.Logger
	summary report.Summary
	seen    map[string]struct{}
	// reportErr is a reporter failure raised while fetching a page.
	reportErr error
}

// Run walks the search pages and enriches every person found.
//
// Search and enrich failures are reported and logged; they never fail the
// run. A search failure ends paging like an empty page does. Run returns an
// error only when ctx is cancelled or the reporter fails.
func (d *Driver) Run(ctx context.Context) (report.Summary, error) {
	r := &run{
		id:   d.config.RunID,
		seen: make(map[string]struct{}),
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	r.logger = d.logger.With().Str("run_id", r.id).Logger()
	r.summary.RunID = r.id

	r.logger.Info().
		Int("max_pages", d.config.MaxPages).
		Int("per_page", d.config.PerPage).
		Strs("locations", d.config.Locations).
		Msg("Starting enrichment run")

	query := d.config.Query()
	walkCfg := pagination.DefaultConfig()
	walkCfg.MaxPages = d.config.MaxPages
	walkCfg.Timeout = d.config.PageTimeout
	walker := pagination.NewWalker[client.PersonSummary](walkCfg)

	fetch := func(ctx context.Context, page int) pagination.PageResult[client.PersonSummary] {
		return d.searchPage(ctx, r, query, page)
	}
	visit := func(result pagination.PageResult[client.PersonSummary]) error {
		return d.visitPage(ctx, r, result)
	}

	stats, err := walker.Walk(ctx, fetch, visit)
	r.summary.PagesFetched = stats.Pages
	r.summary.StopReason = string(stats.StopReason)
	r.summary.Duration = stats.Duration
	apolloRunsTotal.WithLabelValues(r.summary.StopReason).Inc()

	event := r.logger.Info()
	if err != nil {
		event = r.logger.Warn().Err(err)
	}
	event.
		Int("pages", r.summary.PagesFetched).
		Int("people", r.summary.PeopleSeen).
		Int("enriched", r.summary.Enriched).
		Int("failed", r.summary.EnrichFailed).
		Int("cache_hits", r.summary.CacheHits).
		Str("stop_reason", r.summary.StopReason).
		Dur("duration", r.summary.Duration).
		Msg("Enrichment run finished")

	if err != nil && stats.StopReason == pagination.StopVisitError {
		// The reporter is broken, do not write to it again.
		return r.summary, err
	}
	if doneErr := d.reporter.Done(r.summary); doneErr != nil && err == nil {
		err = fmt.Errorf("report summary: %w", doneErr)
	}
	return r.summary, err
}

// searchPage fetches one page. Reporter failures are kept in r and surface
// from visitPage.
func (d *Driver) searchPage(ctx context.Context, r *run, query client.SearchQuery, page int) pagination.PageResult[client.PersonSummary] {
	if err := d.reporter.Searching(page); err != nil {
		r.reportErr = err
		return pagination.NewPageResult[client.PersonSummary](page, nil, err)
	}

	if err := d.pacer.Wait(ctx); err != nil {
		return pagination.NewPageResult[client.PersonSummary](page, nil, err)
	}

	resp, err := d.api.SearchPeople(ctx, query.WithPage(page))
	if err != nil {
		return pagination.NewPageResult[client.PersonSummary](page, nil, err)
	}
	return pagination.NewPageResult(page, resp.People, nil)
}

func (d *Driver) visitPage(ctx context.Context, r *run, result pagination.PageResult[client.PersonSummary]) error {
	if r.reportErr != nil {
		return r.reportErr
	}

	switch result.Outcome {
	case pagination.OutcomeFailed:
		logFailure(r.logger.Error(), result.Err).
			Int("page", result.Page).
			Msg("Search request failed")
		if err := d.reporter.Failure(report.FailureSearch, strconv.Itoa(result.Page), result.Err); err != nil {
			return err
		}
		return d.reporter.NoMorePeople()

	case pagination.OutcomeEmpty:
		r.logger.Info().Int("page", result.Page).Msg("No more people found")
		return d.reporter.NoMorePeople()
	}

	r.logger.Debug().
		Int("page", result.Page).
		Int("people", len(result.Items)).
		Msg("Enriching page")

	for _, person := range result.Items {
		if err := d.enrichPerson(ctx, r, person); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) enrichPerson(ctx context.Context, r *run, person client.PersonSummary) error {
	r.summary.PeopleSeen++

	if _, dup := r.seen[person.ID]; dup && person.ID != "" {
		r.logger.Debug().Str("person_id", person.ID).Msg("Skipping person already enriched in this run")
		r.summary.Duplicates++
		apolloEnrichmentsTotal.WithLabelValues("duplicate").Inc()
		return nil
	}
	r.seen[person.ID] = struct{}{}

	if err := d.reporter.Enriching(person); err != nil {
		return err
	}

	// Cache hits do not reach the API and are not paced.
	resp, cached := d.api.CachedEnrichment(ctx, person.ID)
	if !cached {
		if err := d.pacer.Wait(ctx); err != nil {
			return err
		}

		var err error
		resp, err = d.api.FetchEnrichment(ctx, person.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.summary.EnrichFailed++
			apolloEnrichmentsTotal.WithLabelValues("failed").Inc()
			logFailure(r.logger.Warn(), err).
				Str("person_id", person.ID).
				Msg("Enrich request failed")
			return d.reporter.Failure(report.FailureEnrich, person.ID, err)
		}
	}

	r.summary.Enriched++
	outcome := "enriched"
	if cached {
		r.summary.CacheHits++
		outcome = "cached"
	}
	apolloEnrichmentsTotal.WithLabelValues(outcome).Inc()

	return d.reporter.Contact(person, d.normalize(resp.Person))
}

// normalize returns a copy of p with normalized contact fields.
func (d *Driver) normalize(p *client.EnrichedPerson) *client.EnrichedPerson {
	if p == nil || !d.config.Normalize {
		return p
	}
	out := *p
	out.MobilePhone = d.normalizer.Phone(p.Phone())
	out.Email = d.normalizer.Email(p.Email)
	return &out
}

// logFailure adds status and body of API errors to ev.
func logFailure(ev *zerolog.Event, err error) *zerolog.Event {
	ev = ev.Err(err)
	if apiErr, ok := client.AsAPIError(err); ok {
		ev = ev.
			Int("status", apiErr.StatusCode).
			Str("error_class", string(apiErr.ErrorClass)).
			Str("body", apiErr.Body)
	}
	return ev
}
