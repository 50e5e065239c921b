// Package report renders the progress of an enrichment run.
//
// TextReporter writes the human readable console lines. JSONReporter writes
// one JSON object per event for piping into other tools.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Sternrassler/apollo-enricher/pkg/client"
)

// FailureKind identifies which operation failed.
type FailureKind string

const (
	FailureSearch FailureKind = "search"
	FailureEnrich FailureKind = "enrich"
)

// Summary is the outcome of one run.
type Summary struct {
	RunID        string
	PagesFetched int
	PeopleSeen   int
	Enriched     int
	EnrichFailed int
	CacheHits    int
	// Duplicates are people returned again on a later page and skipped.
	Duplicates int
	StopReason string
	Duration   time.Duration
}

// Reporter receives run events in order. A returned error aborts the run.
type Reporter interface {
	Searching(page int) error
	NoMorePeople() error
	Enriching(person client.PersonSummary) error
	Contact(person client.PersonSummary, enriched *client.EnrichedPerson) error
	// Failure reports a failed search (subject is the page) or enrichment
	// (subject is the person ID).
	Failure(kind FailureKind, subject string, err error) error
	Done(summary Summary) error
}

// Format selects a Reporter implementation.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// failureDetail splits err into status and body when it carries an API error.
func failureDetail(err error) (status int, body string) {
	if apiErr, ok := client.AsAPIError(err); ok {
		return apiErr.StatusCode, apiErr.Body
	}
	return 0, ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Body != "" {
		return apiErr.Body
	}
	return err.Error()
}

// New creates the Reporter for format.
func New(format Format, w io.Writer, runID string) Reporter {
	if format == FormatJSON {
		return NewJSONReporter(w, runID)
	}
	return NewTextReporter(w)
}
