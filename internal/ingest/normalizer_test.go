package ingest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/david/bid-tracker/internal/models"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "  Road \n\t Repair  ", "Road Repair"},
		{"strips tags", "<b>Road</b> <span class=x>Repair</span>", "Road Repair"},
		{"keeps ampersand", "Curb &amp; Gutter", "Curb & Gutter"},
		{"drops scripts", "Bid<script>alert(1)</script> 7", "Bid 7"},
		{"invalid utf8", "Bid\xff 7", "Bid 7"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanText(tt.in))
		})
	}
}

func TestNormalizeCandidate(t *testing.T) {
	c := NormalizeCandidate(models.Candidate{
		Organization:      " City  A ",
		OpportunityNumber: "\nRFP-1 ",
		Title:             "<em>Road</em>   Repair",
		Link:              " https://a.gov/bid?id=1&tab=2 ",
	})

	assert.Equal(t, "City A", c.Organization)
	assert.Equal(t, "RFP-1", c.OpportunityNumber)
	assert.Equal(t, "Road Repair", c.Title)
	assert.Equal(t, "https://a.gov/bid?id=1&tab=2", c.Link)
	assert.Equal(t, models.ProvenanceScraped, c.Provenance)
}

func TestValidateCandidate(t *testing.T) {
	tests := []struct {
		name   string
		org    string
		number string
		ok     bool
	}{
		{"valid", "City A", "RFP-1", true},
		{"no org", "", "RFP-1", false},
		{"no number", "City A", "", false},
		{"n/a number", "City A", "N/A", false},
		{"tbd number", "City A", "tbd", false},
		{"dash number", "City A", "-", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCandidate(models.Candidate{Organization: tt.org, OpportunityNumber: tt.number})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrMalformedCandidate))
		})
	}
}
