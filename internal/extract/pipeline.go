// Package extract classifies raw email bodies against known vendor
// formats and pulls structured booking fields out of them. Extraction is
// pure and total: unknown content and missing fields degrade to zero
// values, never to errors.
package extract

import "regexp"

// Fields are the per-vendor extracted booking fields. A missing field is
// the empty string. Amounts are kept as the literal numeric text found in
// the email.
type Fields struct {
	CustomerName string
	BookingID    string
	Venue        string
	Location     string
	Court        string
	Sport        string

	StartTime string
	EndTime   string
	StartDate string
	EndDate   string

	BookedDate string
	BookedTime string

	TotalAmount    string
	CourtPrice     string
	ConvenienceFee string
	Discount       string
	AdvancePaid    string
	PaidOnline     string
	PayableAtVenue string
}

// Classification is the outcome of matching a body against the known
// vendors. RawBody always carries the original text verbatim so a record
// can be re-processed without a second fetch.
type Classification struct {
	Vendor    string // empty when no vendor marker matched
	Confirmed bool
	Fields    Fields
	RawBody   string
}

// IsBooking reports whether the body was recognized as a confirmed
// booking and may be persisted as one.
func (c Classification) IsBooking() bool {
	return c.Vendor != "" && c.Confirmed
}

// Extractor is one vendor strategy. Adding a vendor means adding one
// implementation, not editing a shared branch.
type Extractor interface {
	Vendor() string
	Match(body string) bool
	Extract(body string) (Fields, bool)
}

// Pipeline selects the first matching vendor strategy for a body.
type Pipeline struct {
	extractors []Extractor
}

// NewPipeline creates a pipeline with the default vendor set.
func NewPipeline() *Pipeline {
	return &Pipeline{
		extractors: []Extractor{
			playoExtractor{},
			hudleExtractor{},
		},
	}
}

// Extract classifies body. Content with no vendor marker yields a
// classification with an empty Vendor and no parsing attempted.
func (p *Pipeline) Extract(body string) Classification {
	for _, e := range p.extractors {
		if !e.Match(body) {
			continue
		}
		fields, confirmed := e.Extract(body)
		return Classification{
			Vendor:    e.Vendor(),
			Confirmed: confirmed,
			Fields:    fields,
			RawBody:   body,
		}
	}
	return Classification{RawBody: body}
}

// firstGroup returns the first capture group of re in s, or "".
func firstGroup(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}
