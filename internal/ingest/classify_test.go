package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyWorkType(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Road Repair Phase 2", WorkTypeUtility},
		{"STORM DRAIN Improvements", WorkTypeUtility},
		{"Bridge and Landscaping Maintenance", WorkTypeUtility},
		{"Park Landscaping Services", WorkTypeMaintenance},
		{"HVAC Maintenance", WorkTypeMaintenance},
		{"Audit Services", WorkTypeUnknown},
		{"", WorkTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyWorkType(tt.title))
		})
	}
}

func TestParsePastedText(t *testing.T) {
	text := "Open Solicitations\r\n" +
		"RFP #2025-014 - Sewer Line Rehabilitation\r\n" +
		"RFP #2025-015 -  Park Landscaping Services  \r\n" +
		"Not a bid line\r\n" +
		"Due Date (local time)\r\n" +
		"  12/05/2025 2:00 PM \r\n"

	got := ParsePastedText("  City of Mesa ", text)

	if assert.Len(t, got, 2) {
		assert.Equal(t, "City of Mesa", got[0].Organization)
		assert.Equal(t, "RFP #2025-014", got[0].OpportunityNumber)
		assert.Equal(t, "Sewer Line Rehabilitation", got[0].Title)
		assert.Equal(t, "12/05/2025 2:00 PM", got[0].DueDate)
		assert.Equal(t, WorkTypeUtility, got[0].WorkType)

		assert.Equal(t, "Park Landscaping Services", got[1].Title)
		assert.Equal(t, WorkTypeMaintenance, got[1].WorkType)
		assert.Equal(t, "12/05/2025 2:00 PM", got[1].DueDate)
	}
	for _, c := range got {
		assert.Equal(t, "parsed", string(c.Provenance))
	}
}

func TestParsePastedText_Defaults(t *testing.T) {
	got := ParsePastedText("", "RFP#77 - Street Sweeping")
	if assert.Len(t, got, 1) {
		assert.Equal(t, UnknownOrganization, got[0].Organization)
		assert.Equal(t, "RFP#77", got[0].OpportunityNumber)
		assert.Empty(t, got[0].DueDate)
	}

	assert.Empty(t, ParsePastedText("City", "nothing to see here"))
}
