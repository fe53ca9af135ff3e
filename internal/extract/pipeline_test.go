package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractNoVendorMarker(t *testing.T) {
	p := NewPipeline()

	tests := []struct {
		name string
		body string
	}{
		{name: "plain text", body: "Your package has shipped!"},
		{name: "empty body", body: ""},
		{name: "other vendor", body: "Thanks for ordering from SportsDirect"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := p.Extract(tt.body)
			assert.Empty(t, c.Vendor)
			assert.False(t, c.IsBooking())
			assert.Equal(t, tt.body, c.RawBody)
		})
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	p := NewPipeline()
	a := p.Extract(playoConfirmedBody)
	b := p.Extract(playoConfirmedBody)
	assert.Equal(t, a, b)
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12 Aug 2025", "2025-08-12"},
		{"Aug 12, 2025", "2025-08-12"},
		{"Tue, Sep 2, 2025", "2025-09-02"},
		{"2025-09-02", "2025-09-02"},
		{"not a date", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeDate(tt.in))
		})
	}
}
