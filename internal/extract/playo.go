package extract

import (
	"regexp"
	"strings"
)

// playoConfirmation is the literal phrase that marks a Playo email as a
// confirmed booking. A body without it still yields parsed fields, but
// the classification stays unconfirmed.
const playoConfirmation = "Your Booking for"

var (
	rePlayoName    = regexp.MustCompile(`Hey\s+([A-Za-z]+)`)
	rePlayoSport   = regexp.MustCompile(`Sport:\s*\*?([A-Za-z]+)\*?`)
	rePlayoPhrase  = regexp.MustCompile(`(?i)Your Booking for\s+(.+?)\s+has been confirmed`)
	rePlayoID      = regexp.MustCompile(`Booking ID:\s*\*([A-Z0-9]+)\*`)
	rePlayoCourt   = regexp.MustCompile(`Court:\s*\*(.+?)\*`)
	rePlayoSlot    = regexp.MustCompile(`Slot:\s*\*(.+?)\*`)
	rePlayoTimes   = regexp.MustCompile(`(\d{1,2}:\d{2}\s?[APMapm]+)-(\d{1,2}:\d{2}\s?[APMapm]+)`)
	rePlayoBooked  = regexp.MustCompile(`Booked on\s*(.+?),\s*([0-9: ]+[APMapm]+)`)
	rePlayoAtSplit = regexp.MustCompile(`(?i)\s+at\s+`)

	rePlayoTotal       = regexp.MustCompile(`Total Amount Paid ₹\s*([0-9.]+)`)
	rePlayoCourtPrice  = regexp.MustCompile(`Court Price:\s*₹\s*([0-9.]+)`)
	rePlayoConvenience = regexp.MustCompile(`Convenience Fee:\s*₹\s*([0-9.]+)`)
	rePlayoDiscount    = regexp.MustCompile(`Discount / Karma availed:\s*- ₹\s*([0-9.]+)`)
	rePlayoAdvance     = regexp.MustCompile(`Advance Paid:\s*₹\s*([0-9.]+)`)
	rePlayoPaidOnline  = regexp.MustCompile(`Paid Online:\s*₹\s*([0-9.]+)`)
	rePlayoPayable     = regexp.MustCompile(`Payable at the venue:\s*₹\s*([0-9.]+)`)

	reHTMLTag    = regexp.MustCompile(`<[^>]*>`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

type playoExtractor struct{}

func (playoExtractor) Vendor() string { return "Playo" }

func (playoExtractor) Match(body string) bool {
	return strings.Contains(body, "playo")
}

func (playoExtractor) Extract(body string) (Fields, bool) {
	confirmed := strings.Contains(body, playoConfirmation)

	var f Fields
	if confirmed {
		f.CustomerName = firstGroup(rePlayoName, body)
	}
	f.Sport = firstGroup(rePlayoSport, body)

	// Venue and location live inside the confirmation phrase, which line
	// breaks can split anywhere.
	normalized := strings.TrimSpace(reWhitespace.ReplaceAllString(body, " "))
	if m := rePlayoPhrase.FindStringSubmatch(normalized); m != nil {
		full := strings.TrimSpace(reHTMLTag.ReplaceAllString(m[1], ""))
		if parts := rePlayoAtSplit.Split(full, 2); len(parts) > 1 {
			segs := strings.SplitN(strings.TrimSpace(parts[1]), ",", 2)
			f.Venue = strings.TrimSpace(segs[0])
			if len(segs) > 1 {
				f.Location = strings.TrimSpace(segs[1])
			}
		}
	}

	f.BookingID = firstGroup(rePlayoID, body)
	f.Court = firstGroup(rePlayoCourt, body)

	if slot := firstGroup(rePlayoSlot, body); slot != "" {
		if m := rePlayoTimes.FindStringSubmatch(slot); m != nil {
			f.StartTime = strings.TrimSpace(m[1])
			f.EndTime = strings.TrimSpace(m[2])
		}
	}

	if m := rePlayoBooked.FindStringSubmatch(body); m != nil {
		f.BookedDate = strings.TrimSpace(m[1])
		f.BookedTime = strings.TrimSpace(m[2])
		if d := normalizeDate(f.BookedDate); d != "" {
			f.StartDate = d
			f.EndDate = d
		}
	}

	f.TotalAmount = firstGroup(rePlayoTotal, body)
	f.CourtPrice = firstGroup(rePlayoCourtPrice, body)
	f.ConvenienceFee = firstGroup(rePlayoConvenience, body)
	f.Discount = firstGroup(rePlayoDiscount, body)
	f.AdvancePaid = firstGroup(rePlayoAdvance, body)
	f.PaidOnline = firstGroup(rePlayoPaidOnline, body)
	f.PayableAtVenue = firstGroup(rePlayoPayable, body)

	return f, confirmed
}
