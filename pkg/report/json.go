package report

import (
	"io"
	"strconv"

	"github.com/Sternrassler/apollo-enricher/pkg/client"
	"github.com/rs/zerolog"
)

// JSONReporter writes one JSON object per event.
// Events are written through a zerolog logger without a level field.
type JSONReporter struct {
	out zerolog.Logger
	w   *eventWriter
}

// NewJSONReporter creates a reporter writing JSON lines to w.
func NewJSONReporter(w io.Writer, runID string) *JSONReporter {
	ew := &eventWriter{w: w}
	ctx := zerolog.New(ew).With().Timestamp()
	if runID != "" {
		ctx = ctx.Str("run_id", runID)
	}
	return &JSONReporter{out: ctx.Logger(), w: ew}
}

// eventWriter keeps the error of the last write. zerolog only prints
// write errors to stderr, so the error is held here and returned by send.
type eventWriter struct {
	w   io.Writer
	err error
}

func (e *eventWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	e.err = err
	return len(p), nil
}

// send writes ev and returns the write error of that event.
func (r *JSONReporter) send(ev *zerolog.Event) error {
	r.w.err = nil
	ev.Send()
	return r.w.err
}

func (r *JSONReporter) Searching(page int) error {
	return r.send(r.out.Log().Str("event", "searching").Int("page", page))
}

func (r *JSONReporter) NoMorePeople() error {
	return r.send(r.out.Log().Str("event", "no_more_people"))
}

func (r *JSONReporter) Enriching(person client.PersonSummary) error {
	return r.send(r.out.Log().
		Str("event", "enriching").
		Str("person_id", person.ID).
		Str("name", person.FullName()))
}

func (r *JSONReporter) Contact(person client.PersonSummary, enriched *client.EnrichedPerson) error {
	ev := r.out.Log().
		Str("event", "contact").
		Str("person_id", person.ID).
		Str("name", person.FullName())

	if phone := enriched.Phone(); phone != nil {
		ev = ev.Str("phone", *phone)
	} else {
		ev = ev.Interface("phone", nil)
	}
	if enriched != nil && enriched.Email != nil {
		ev = ev.Str("email", *enriched.Email)
	} else {
		ev = ev.Interface("email", nil)
	}
	if enriched != nil && enriched.Title != "" {
		ev = ev.Str("title", enriched.Title)
	}
	if enriched != nil && enriched.Organization != nil && enriched.Organization.Name != "" {
		ev = ev.Str("organization", enriched.Organization.Name)
	}
	return r.send(ev)
}

func (r *JSONReporter) Failure(kind FailureKind, subject string, failure error) error {
	ev := r.out.Log().
		Str("event", "failure").
		Str("kind", string(kind))

	if kind == FailureSearch {
		if page, err := strconv.Atoi(subject); err == nil {
			ev = ev.Int("page", page)
		}
	} else {
		ev = ev.Str("person_id", subject)
	}

	if status, body := failureDetail(failure); status != 0 {
		ev = ev.Int("status", status).Str("body", body)
	} else {
		ev = ev.Str("error", errString(failure))
	}
	return r.send(ev)
}

func (r *JSONReporter) Done(s Summary) error {
	return r.send(r.out.Log().
		Str("event", "done").
		Int("pages_fetched", s.PagesFetched).
		Int("people_seen", s.PeopleSeen).
		Int("enriched", s.Enriched).
		Int("enrich_failed", s.EnrichFailed).
		Int("cache_hits", s.CacheHits).
		Int("duplicates", s.Duplicates).
		Str("stop_reason", s.StopReason).
		Dur("duration", s.Duration))
}
