package client

import (
	"errors"
	"fmt"
	"strings"
)

// SearchQuery is the filter sent to the people search endpoint.
// It is a value type: WithPage returns a copy and never mutates the receiver.
type SearchQuery struct {
	PersonLocations []string `json:"person_locations,omitempty"`
	Page            int      `json:"page"`
	PerPage         int      `json:"per_page"`
}

// WithPage returns a copy of q requesting exactly the given page.
func (q SearchQuery) WithPage(page int) SearchQuery {
	q.PersonLocations = append([]string(nil), q.PersonLocations...)
	q.Page = page
	return q
}

// Validate checks the query before it is sent.
func (q SearchQuery) Validate() error {
	if q.Page < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPage, q.Page)
	}
	if q.PerPage < 1 || q.PerPage > MaxPerPage {
		return fmt.Errorf("%w: per_page must be between 1 and %d (got %d)", ErrInvalidQuery, MaxPerPage, q.PerPage)
	}
	return nil
}

// MaxPerPage is the largest page size the search endpoint accepts.
const MaxPerPage = 100

// PersonSummary is one entry of a search response.
type PersonSummary struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Name           string `json:"name,omitempty"`
	Title          string `json:"title,omitempty"`
	LinkedInURL    string `json:"linkedin_url,omitempty"`
	City           string `json:"city,omitempty"`
	State          string `json:"state,omitempty"`
	Country        string `json:"country,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// FullName joins first and last name the way results are printed.
func (p PersonSummary) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Pagination is the paging block of a search response.
type Pagination struct {
	Page         int `json:"page"`
	PerPage      int `json:"per_page"`
	TotalEntries int `json:"total_entries"`
	TotalPages   int `json:"total_pages"`
}

// SearchResponse is the decoded people search response.
// A response without a people field decodes to an empty slice.
type SearchResponse struct {
	People     []PersonSummary `json:"people"`
	Pagination *Pagination     `json:"pagination,omitempty"`
}

// PhoneNumber is one phone entry of an enriched person.
type PhoneNumber struct {
	RawNumber       string `json:"raw_number"`
	SanitizedNumber string `json:"sanitized_number,omitempty"`
	Type            string `json:"type,omitempty"`
	Position        int    `json:"position,omitempty"`
	Status          string `json:"status,omitempty"`
}

// Employment is one employment history entry.
type Employment struct {
	ID               string `json:"id,omitempty"`
	Key              string `json:"key,omitempty"`
	Current          bool   `json:"current"`
	StartDate        string `json:"start_date,omitempty"`
	EndDate          string `json:"end_date,omitempty"`
	Title            string `json:"title,omitempty"`
	OrganizationID   string `json:"organization_id,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
}

// Organization is the current employer of an enriched person.
type Organization struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	LinkedInURL           string   `json:"linkedin_url,omitempty"`
	LinkedInUID           string   `json:"linkedin_uid,omitempty"`
	FoundedYear           int      `json:"founded_year,omitempty"`
	LogoURL               string   `json:"logo_url,omitempty"`
	Industry              string   `json:"industry,omitempty"`
	EstimatedNumEmployees int      `json:"estimated_num_employees,omitempty"`
	Keywords              []string `json:"keywords,omitempty"`
	Industries            []string `json:"industries,omitempty"`
	ShortDescription      string   `json:"short_description,omitempty"`
	City                  string   `json:"city,omitempty"`
	State                 string   `json:"state,omitempty"`
	Country               string   `json:"country,omitempty"`
}

// EnrichedPerson is the person block of an enrich response.
// Email and MobilePhone are nil when Apollo did not reveal them.
type EnrichedPerson struct {
	ID                string        `json:"id"`
	FirstName         string        `json:"first_name"`
	LastName          string        `json:"last_name"`
	Name              string        `json:"name,omitempty"`
	Email             *string       `json:"email"`
	EmailStatus       string        `json:"email_status,omitempty"`
	MobilePhone       *string       `json:"mobile_phone"`
	PhoneNumbers      []PhoneNumber `json:"phone_numbers,omitempty"`
	Title             string        `json:"title,omitempty"`
	Headline          string        `json:"headline,omitempty"`
	LinkedInURL       string        `json:"linkedin_url,omitempty"`
	PhotoURL          string        `json:"photo_url,omitempty"`
	City              string        `json:"city,omitempty"`
	State             string        `json:"state,omitempty"`
	Country           string        `json:"country,omitempty"`
	Seniority         string        `json:"seniority,omitempty"`
	Departments       []string      `json:"departments,omitempty"`
	Subdepartments    []string      `json:"subdepartments,omitempty"`
	OrganizationID    string        `json:"organization_id,omitempty"`
	EmploymentHistory []Employment  `json:"employment_history,omitempty"`
	Organization      *Organization `json:"organization,omitempty"`
}

// Phone returns the mobile phone, falling back to the first listed number.
func (p *EnrichedPerson) Phone() *string {
	if p == nil {
		return nil
	}
	if p.MobilePhone != nil && strings.TrimSpace(*p.MobilePhone) != "" {
		return p.MobilePhone
	}
	for _, n := range p.PhoneNumbers {
		if n.SanitizedNumber != "" {
			v := n.SanitizedNumber
			return &v
		}
		if n.RawNumber != "" {
			v := n.RawNumber
			return &v
		}
	}
	return nil
}

// EnrichResponse is the decoded enrich response.
type EnrichResponse struct {
	Person *EnrichedPerson `json:"person"`

	// Cached is true when the response was served from the enrichment cache.
	Cached bool `json:"-"`
}

type enrichRequest struct {
	PersonID string `json:"person_id"`
}

var (
	// ErrInvalidPage is returned for page numbers below 1.
	ErrInvalidPage = errors.New("page must be >= 1")

	// ErrInvalidQuery is returned for malformed search queries.
	ErrInvalidQuery = errors.New("invalid search query")

	// ErrEmptyPersonID is returned when enriching without a person ID.
	ErrEmptyPersonID = errors.New("person id is required")
)
