package ingest

import (
	"regexp"
	"strings"

	"github.com/david/bid-tracker/internal/models"
)

var (
	pastedLinePattern = regexp.MustCompile(`(?m)(RFP\s*#\S+)\s*-\s*(.*)$`)
	pastedDuePattern  = regexp.MustCompile(`(?i)(?:End Date|Due Date)[^\n]*\n([^\n]+)`)
)

// UnknownOrganization is used when pasted text arrives without an organization.
const UnknownOrganization = "Unknown"

// ParsePastedText extracts "RFP #<number> - <title>" lines from text copied out of a portal.
// The first "Due Date" or "End Date" heading's next line is used as every candidate's due date.
func ParsePastedText(organization, text string) []models.Candidate {
	organization = strings.TrimSpace(organization)
	if organization == "" {
		organization = UnknownOrganization
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	due := ""
	if m := pastedDuePattern.FindStringSubmatch(text); m != nil {
		due = strings.TrimSpace(m[1])
	}

	var out []models.Candidate
	for _, m := range pastedLinePattern.FindAllStringSubmatch(text, -1) {
		title := strings.TrimSpace(m[2])
		out = append(out, models.Candidate{
			Organization:      organization,
			OpportunityNumber: strings.TrimSpace(m[1]),
			Title:             title,
			DueDate:           due,
			WorkType:          ClassifyWorkType(title),
			Provenance:        models.ProvenanceParsed,
		})
	}
	return out
}
