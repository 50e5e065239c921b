package report

import (
	"fmt"
	"io"

	"github.com/Sternrassler/apollo-enricher/pkg/client"
	"github.com/Sternrassler/apollo-enricher/pkg/contact"
)

// TextReporter prints the console lines of a run.
type TextReporter struct {
	w io.Writer
}

// NewTextReporter creates a reporter writing to w.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

func (r *TextReporter) Searching(page int) error {
	_, err := fmt.Fprintf(r.w, "\nSearching page %d...\n", page)
	return err
}

func (r *TextReporter) NoMorePeople() error {
	_, err := fmt.Fprintln(r.w, "No more people found.")
	return err
}

func (r *TextReporter) Enriching(person client.PersonSummary) error {
	_, err := fmt.Fprintf(r.w, "Enriching: %s (ID: %s)\n", person.FullName(), person.ID)
	return err
}

func (r *TextReporter) Contact(_ client.PersonSummary, enriched *client.EnrichedPerson) error {
	var email *string
	if enriched != nil {
		email = enriched.Email
	}
	_, err := fmt.Fprintf(r.w, "Phone: %s | Email: %s\n",
		contact.Display(enriched.Phone()), contact.Display(email))
	return err
}

func (r *TextReporter) Failure(kind FailureKind, subject string, failure error) error {
	var err error
	status, body := failureDetail(failure)
	switch {
	case kind == FailureSearch && status != 0:
		_, err = fmt.Fprintf(r.w, "[ERROR] Search API failed on page %s: %d - %s\n", subject, status, body)
	case kind == FailureSearch:
		_, err = fmt.Fprintf(r.w, "[ERROR] Search API failed on page %s: %s\n", subject, errString(failure))
	case status != 0:
		_, err = fmt.Fprintf(r.w, "[ERROR] Enrich failed for ID %s: %d - %s\n", subject, status, body)
	default:
		_, err = fmt.Fprintf(r.w, "[ERROR] Enrich failed for ID %s: %s\n", subject, errString(failure))
	}
	return err
}

func (r *TextReporter) Done(s Summary) error {
	_, err := fmt.Fprintf(r.w, "\nDone: %d pages, %d people, %d enriched (%d from cache), %d failed [%s]\n",
		s.PagesFetched, s.PeopleSeen, s.Enriched, s.CacheHits, s.EnrichFailed, s.StopReason)
	return err
}
