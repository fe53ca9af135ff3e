package extract

import (
	"regexp"
	"strings"
)

var (
	reHudleName     = regexp.MustCompile(`\*Name\*:\s*(.+)`)
	reHudleID       = regexp.MustCompile(`\*Booking ID\*:\s*#?([A-Z0-9]+)`)
	reHudleVenue    = regexp.MustCompile(`\*Venue Name & Address\*:\s*(.+)`)
	reHudleFacility = regexp.MustCompile(`\*Facility\*:\s*(.+)`)
	reHudleSport    = regexp.MustCompile(`\*Sport\*:\s*(.+)`)
	reHudleSlot     = regexp.MustCompile(`(\w{3},\s\w{3}\s\d{1,2},\s\d{4})\s(\d{1,2}:\d{2}\s[APMapm]+)\s-\s\w{3},\s\w{3}\s\d{1,2},\s\d{4}\s(\d{1,2}:\d{2}\s[APMapm]+)`)
)

// hudleExtractor has no separate confirmation marker: any recognized
// Hudle email counts as a confirmed booking.
type hudleExtractor struct{}

func (hudleExtractor) Vendor() string { return "Hudle" }

func (hudleExtractor) Match(body string) bool {
	return strings.Contains(body, "Hudle")
}

func (hudleExtractor) Extract(body string) (Fields, bool) {
	var f Fields
	f.CustomerName = strings.TrimSpace(firstGroup(reHudleName, body))
	f.BookingID = firstGroup(reHudleID, body)
	f.Venue = strings.TrimSpace(firstGroup(reHudleVenue, body))
	f.Court = strings.TrimSpace(firstGroup(reHudleFacility, body))
	f.Sport = strings.TrimSpace(firstGroup(reHudleSport, body))

	if m := reHudleSlot.FindStringSubmatch(body); m != nil {
		f.StartDate = normalizeDate(m[1])
		f.StartTime = m[2]
		f.EndTime = m[3]
		f.EndDate = f.StartDate
		f.BookedDate = f.StartDate
		f.BookedTime = f.StartTime
	}

	return f, true
}
