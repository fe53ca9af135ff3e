package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const hudleBody = `Thanks for booking with Hudle!

*Name*: Priya Sharma
*Booking ID*: #HDL789XY
*Venue Name & Address*: Play Arena, Sarjapur Road, Bengaluru
*Facility*: Court 2
*Sport*: Badminton

Tue, Sep 2, 2025 7:00 PM - Tue, Sep 2, 2025 8:00 PM
`

func TestHudleExtract(t *testing.T) {
	p := NewPipeline()
	c := p.Extract(hudleBody)

	assert.Equal(t, "Hudle", c.Vendor)
	// Any recognized Hudle message counts as confirmed.
	assert.True(t, c.Confirmed)
	assert.True(t, c.IsBooking())
	assert.Equal(t, hudleBody, c.RawBody)

	f := c.Fields
	assert.Equal(t, "Priya Sharma", f.CustomerName)
	assert.Equal(t, "HDL789XY", f.BookingID)
	assert.Equal(t, "Play Arena, Sarjapur Road, Bengaluru", f.Venue)
	assert.Equal(t, "Court 2", f.Court)
	assert.Equal(t, "Badminton", f.Sport)
	assert.Equal(t, "2025-09-02", f.StartDate)
	assert.Equal(t, "2025-09-02", f.EndDate)
	assert.Equal(t, "7:00 PM", f.StartTime)
	assert.Equal(t, "8:00 PM", f.EndTime)
	assert.Equal(t, "2025-09-02", f.BookedDate)
	assert.Equal(t, "7:00 PM", f.BookedTime)

	// Hudle emails carry no price breakdown.
	assert.Empty(t, f.TotalAmount)
	assert.Empty(t, f.CourtPrice)
}

func TestHudleMissingSlot(t *testing.T) {
	p := NewPipeline()
	c := p.Extract("Hudle\n*Name*: Dev\n*Booking ID*: #ABC123")

	assert.Equal(t, "Hudle", c.Vendor)
	assert.True(t, c.Confirmed)
	assert.Equal(t, "Dev", c.Fields.CustomerName)
	assert.Equal(t, "ABC123", c.Fields.BookingID)
	assert.Empty(t, c.Fields.StartDate)
	assert.Empty(t, c.Fields.StartTime)
}
