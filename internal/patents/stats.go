package patents

import "sort"

// DefaultTopN bounds the top-applicants and top-inventors lists.
const DefaultTopN = 10

// UnknownCountry is the ByCountry bucket for records whose search did
// not carry a country filter.
const UnknownCountry = "unknown"

// Aggregate computes summary statistics over a deduplicated result set.
//
// ByCountry counts each unique record once, under the country whose
// query first surfaced it; records from country-unfiltered searches
// land in the UnknownCountry bucket, so the counts always sum to the
// number of records. ByYear buckets records by the 4-digit year
// prefix of the publication date; records with unparseable dates are
// skipped there but still count toward the total. The top lists are
// sorted by descending frequency, ties broken by first appearance, and
// truncated to topN entries.
func Aggregate(records []PatentRecord, topN int) Statistics {
	if topN <= 0 {
		topN = DefaultTopN
	}

	stats := Statistics{
		ByCountry: make(map[string]int),
		ByYear:    make(map[string]int),
	}

	applicants := newNameCounter()
	inventors := newNameCounter()

	for _, rec := range records {
		country := rec.Country
		if country == "" {
			// Hits from a country-unfiltered search carry no country
			// tag; bucket them so the counts still sum to the total.
			country = UnknownCountry
		}
		stats.ByCountry[country]++
		if year, ok := yearOf(rec.PublicationDate); ok {
			stats.ByYear[year]++
		}
		for _, name := range rec.Applicants {
			applicants.add(name)
		}
		for _, name := range rec.Inventors {
			inventors.add(name)
		}
	}

	stats.TopApplicants = applicants.top(topN)
	stats.TopInventors = inventors.top(topN)
	return stats
}

// yearOf extracts the 4-digit year prefix from a publication date such
// as "2021-03-15". PatentScope result lists use ISO-ordered dates, so
// the year is always the leading token when the date parsed at all.
func yearOf(date string) (string, bool) {
	if len(date) < 4 {
		return "", false
	}
	for _, r := range date[:4] {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return date[:4], true
}

// nameCounter tracks name frequencies while remembering first-seen order
// for deterministic tie-breaking.
type nameCounter struct {
	counts map[string]int
	first  map[string]int
	order  int
}

func newNameCounter() *nameCounter {
	return &nameCounter{
		counts: make(map[string]int),
		first:  make(map[string]int),
	}
}

func (c *nameCounter) add(name string) {
	if name == "" {
		return
	}
	if _, seen := c.counts[name]; !seen {
		c.first[name] = c.order
		c.order++
	}
	c.counts[name]++
}

func (c *nameCounter) top(n int) []NameCount {
	out := make([]NameCount, 0, len(c.counts))
	for name, count := range c.counts {
		out = append(out, NameCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return c.first[out[i].Name] < c.first[out[j].Name]
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
