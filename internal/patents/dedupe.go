package patents

import "strings"

// NormalizeKey canonicalizes a publication number for dedup comparison.
// Formatting characters and case differences between country-scoped
// queries ("WO 2021/123456" vs "WO2021123456") must not split a patent
// into two records.
func NormalizeKey(publicationNumber string) string {
	var b strings.Builder
	b.Grow(len(publicationNumber))
	for _, r := range publicationNumber {
		switch r {
		case ' ', '\t', '-', '/', '.', ',':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// Deduplicate collapses raw hits into unique patent records keyed by
// normalized publication number. Output order is first-seen order across
// the traversal. On a key collision the first-seen record keeps its
// position and source country; empty fields are filled from later
// duplicates that carry data for them.
//
// Hits without a publication number cannot be keyed and are dropped.
func Deduplicate(hits []RawHit) []PatentRecord {
	records := make([]PatentRecord, 0, len(hits))
	index := make(map[string]int, len(hits))

	for _, h := range hits {
		key := NormalizeKey(h.PublicationNumber)
		if key == "" {
			continue
		}
		i, seen := index[key]
		if !seen {
			index[key] = len(records)
			records = append(records, PatentRecord{
				PublicationNumber: h.PublicationNumber,
				Title:             h.Title,
				PublicationDate:   h.PublicationDate,
				Applicants:        h.Applicants,
				Inventors:         h.Inventors,
				Country:           h.Country,
				DetailURL:         h.DetailURL,
			})
			continue
		}
		merge(&records[i], h)
	}
	return records
}

// merge fills empty fields of an existing record from a later duplicate.
// The record's position and source country are left alone.
func merge(rec *PatentRecord, h RawHit) {
	if rec.Title == "" {
		rec.Title = h.Title
	}
	if rec.PublicationDate == "" {
		rec.PublicationDate = h.PublicationDate
	}
	if len(rec.Applicants) == 0 {
		rec.Applicants = h.Applicants
	}
	if len(rec.Inventors) == 0 {
		rec.Inventors = h.Inventors
	}
	if rec.DetailURL == "" {
		rec.DetailURL = h.DetailURL
	}
}
