package ingest

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/david/bid-tracker/internal/models"
)

// textPolicy strips every tag. Scraped cells sometimes carry inline markup.
var textPolicy = bluemonday.StrictPolicy()

// placeholders are values portals print in place of a missing field.
var placeholders = map[string]bool{
	"n/a":  true,
	"na":   true,
	"tbd":  true,
	"tba":  true,
	"-":    true,
	"--":   true,
	"none": true,
	"null": true,
}

// cleanText strips markup, drops invalid UTF-8 and collapses whitespace.
func cleanText(s string) string {
	if s == "" {
		return s
	}
	s = sanitizeUTF8(s)
	s = html.UnescapeString(textPolicy.Sanitize(s))
	return normalizeSpace(s)
}

// normalizeSpace collapses runs of whitespace into one space and trims the string.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// sanitizeUTF8 removes invalid UTF-8 byte sequences that the stores reject.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}

// isPlaceholder reports whether a cleaned value means "missing".
func isPlaceholder(s string) bool {
	return s == "" || placeholders[strings.ToLower(s)]
}

// NormalizeCandidate cleans every text field of c. Links are only trimmed, since sanitizing
// would escape their query strings.
func NormalizeCandidate(c models.Candidate) models.Candidate {
	c.Organization = cleanText(c.Organization)
	c.OpportunityNumber = cleanText(c.OpportunityNumber)
	c.Title = cleanText(c.Title)
	c.DueDate = cleanText(c.DueDate)
	c.Info = cleanText(c.Info)
	c.WorkType = cleanText(c.WorkType)
	c.Link = strings.TrimSpace(sanitizeUTF8(c.Link))
	if !c.Provenance.Valid() {
		c.Provenance = models.ProvenanceScraped
	}
	return c
}
