// Package patents provides the domain types for patent search results,
// along with deduplication and statistics aggregation over raw search hits.
package patents

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultLimit is the number of patents retrieved when the caller does not
// specify a limit.
const DefaultLimit = 50

// MaxLimit is the upper bound on the number of raw hits a single search
// may examine.
const MaxLimit = 1000

// DefaultCountries lists the jurisdictions searched when the caller does
// not filter by country. The order is fixed so traversal (and therefore
// first-seen dedup ordering) is deterministic.
var DefaultCountries = []string{
	"BR", "US", "EP", "WO", "CN", "JP", "KR", "GB", "DE", "FR", "CA", "AU", "IN", "RU",
}

// CountryNames maps the supported PatentScope country/region codes to
// their display names.
var CountryNames = map[string]string{
	"BR": "Brazil",
	"US": "United States",
	"EP": "European Patent Office",
	"WO": "PCT International",
	"CN": "China",
	"JP": "Japan",
	"KR": "Korea",
	"GB": "United Kingdom",
	"DE": "Germany",
	"FR": "France",
	"CA": "Canada",
	"AU": "Australia",
	"IN": "India",
	"RU": "Russia",
}

// SearchSpec is the caller's search request. It is immutable once a task
// has been created from it.
type SearchSpec struct {
	Term       string   `json:"term" validate:"required,min=1"`
	Limit      int      `json:"limit,omitempty" validate:"omitempty,min=1,max=1000"`
	Countries  []string `json:"countries,omitempty"`
	UseLogin   bool     `json:"use_login,omitempty"`
	GetDetails bool     `json:"get_details,omitempty"`
	MaxDetails int      `json:"max_details,omitempty" validate:"omitempty,min=1"`
}

// ValidationError describes a rejected SearchSpec field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Message)
}

var validate = validator.New()

// Validate checks the spec against its field constraints. It returns a
// *ValidationError describing the first offending field.
func (s *SearchSpec) Validate() error {
	if err := validate.Struct(s); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok || len(errs) == 0 {
			return &ValidationError{Field: "spec", Message: err.Error()}
		}
		fe := errs[0]
		return &ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: fmt.Sprintf("failed constraint %q", fe.Tag()),
		}
	}
	if strings.TrimSpace(s.Term) == "" {
		return &ValidationError{Field: "term", Message: "must not be blank"}
	}
	limit := s.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if s.MaxDetails > limit {
		return &ValidationError{
			Field:   "max_details",
			Message: fmt.Sprintf("must not exceed limit (%d)", limit),
		}
	}
	for _, c := range s.Countries {
		if _, ok := CountryNames[strings.ToUpper(strings.TrimSpace(c))]; !ok {
			return &ValidationError{
				Field:   "countries",
				Message: fmt.Sprintf("unknown country code %q", c),
			}
		}
	}
	return nil
}

// Normalized returns a copy of the spec with defaults applied and country
// codes upper-cased.
func (s SearchSpec) Normalized() SearchSpec {
	out := s
	out.Term = strings.TrimSpace(s.Term)
	if out.Limit == 0 {
		out.Limit = DefaultLimit
	}
	if len(s.Countries) > 0 {
		out.Countries = make([]string, len(s.Countries))
		for i, c := range s.Countries {
			out.Countries[i] = strings.ToUpper(strings.TrimSpace(c))
		}
	}
	return out
}

// RawHit is one unprocessed record returned by a single country/page
// search call, before deduplication.
type RawHit struct {
	PublicationNumber string   `json:"publication_number"`
	Title             string   `json:"title"`
	PublicationDate   string   `json:"publication_date"`
	Applicants        []string `json:"applicants"`
	Inventors         []string `json:"inventors"`
	Country           string   `json:"country"`
	DetailURL         string   `json:"detail_url,omitempty"`
}

// DetailPayload is the fuller record retrieved by detail enrichment,
// beyond the search-result summary.
type DetailPayload struct {
	Abstract           string   `json:"abstract,omitempty"`
	Claims             []string `json:"claims,omitempty"`
	Description        string   `json:"description,omitempty"`
	ApplicationNumber  string   `json:"application_number,omitempty"`
	ApplicationDate    string   `json:"application_date,omitempty"`
	PriorityNumber     string   `json:"priority_number,omitempty"`
	PriorityDate       string   `json:"priority_date,omitempty"`
	IPCClassifications []string `json:"ipc_classifications,omitempty"`
	CPCClassifications []string `json:"cpc_classifications,omitempty"`
	CitedPatents       []string `json:"cited_patents,omitempty"`
	CitedLiterature    []string `json:"cited_literature,omitempty"`
	RelatedDocuments   []string `json:"related_documents,omitempty"`
}

// PatentRecord is one deduplicated patent in the final result set,
// keyed by normalized publication number.
//
// Detail is populated only when detail enrichment ran and succeeded for
// this record; DetailError carries the reason when enrichment was
// attempted and failed. Both empty means enrichment was not requested
// or this record fell outside max_details.
type PatentRecord struct {
	PublicationNumber string         `json:"publication_number"`
	Title             string         `json:"title"`
	PublicationDate   string         `json:"publication_date"`
	Applicants        []string       `json:"applicants"`
	Inventors         []string       `json:"inventors"`
	Country           string         `json:"country"`
	DetailURL         string         `json:"detail_url,omitempty"`
	Detail            *DetailPayload `json:"detail,omitempty"`
	DetailError       string         `json:"detail_error,omitempty"`
}

// NameCount is a frequency entry in the top-applicants/inventors lists.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Statistics summarizes a deduplicated result set.
type Statistics struct {
	ByCountry     map[string]int `json:"by_country"`
	ByYear        map[string]int `json:"by_year"`
	TopApplicants []NameCount    `json:"top_applicants"`
	TopInventors  []NameCount    `json:"top_inventors"`
}

// SearchInfo echoes the effective parameters of a completed search.
type SearchInfo struct {
	Term       string    `json:"term"`
	Limit      int       `json:"limit"`
	Countries  []string  `json:"countries,omitempty"`
	UseLogin   bool      `json:"use_login"`
	GetDetails bool      `json:"get_details"`
	MaxDetails int       `json:"max_details,omitempty"`
	SearchedAt time.Time `json:"searched_at"`
	Elapsed    string    `json:"elapsed,omitempty"`
}

// SearchResult is the final payload of a completed search task.
type SearchResult struct {
	SearchInfo  SearchInfo     `json:"search_info"`
	TotalFound  int            `json:"total_found"`
	TotalUnique int            `json:"total_unique"`
	Statistics  Statistics     `json:"statistics"`
	Patents     []PatentRecord `json:"patents"`
}
