package extract

import (
	"strings"
	"time"
)

// dateLayouts are the free-text date shapes seen in vendor emails.
var dateLayouts = []string{
	"Mon, Jan 2, 2006",
	"Mon, Jan 02, 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"Mon Jan 2 2006",
	"2006-01-02",
}

// normalizeDate parses a free-text date into the canonical yyyy-mm-dd
// form. Unparseable input degrades to the empty string.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
