package models

import (
	"time"

	"github.com/david/bid-tracker/internal/identity"
)

// DateLayout is the storage format of observation dates.
const DateLayout = "2006-01-02"

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MergeResult describes what an ingestion upsert did to one record.
type MergeResult struct {
	ID              string `json:"id"`
	Created         bool   `json:"created"`
	Updated         bool   `json:"updated"`
	TitleConflict   bool   `json:"title_conflict,omitempty"`
	DueDateConflict bool   `json:"due_date_conflict,omitempty"`
	// ObservedChange is set when the observed number, title, due date or link differ from what
	// was stored, and on creation.
	ObservedChange bool `json:"-"`
}

// Conflicted reports whether a manually edited field disagreed with the candidate.
func (r MergeResult) Conflicted() bool {
	return r.TitleConflict || r.DueDateConflict
}

// NewFromCandidate builds the record inserted the first time a candidate is seen.
func NewFromCandidate(c Candidate, today time.Time) Opportunity {
	day := Day(today)
	prov := c.Provenance
	if !prov.Valid() {
		prov = ProvenanceScraped
	}
	return Opportunity{
		ID:                identity.Derive(c.Organization, c.OpportunityNumber),
		Organization:      c.Organization,
		OpportunityNumber: c.OpportunityNumber,
		Title:             c.Title,
		DueDate:           c.DueDate,
		Link:              c.Link,
		Info:              c.Info,
		WorkType:          c.WorkType,
		Provenance:        prov,
		FirstObserved:     day,
		LastObserved:      day,
		Presence:          PresenceActive,
		Decision:          DecisionNew,
	}
}

// Merge applies an ingested candidate to an existing record.
//
// Title and due date follow the candidate unless their manually-edited flag is set, in which
// case the stored value wins and a disagreement is reported as a conflict. Link, info, work type
// and provenance always follow the candidate. Identity fields, first-observed, the decision,
// notes and the flags themselves are never touched.
func Merge(existing Opportunity, c Candidate, today time.Time) (Opportunity, MergeResult) {
	merged := existing
	res := MergeResult{ID: existing.ID, Updated: true}

	if existing.TitleManuallyEdited && existing.Title != c.Title {
		res.TitleConflict = true
	} else {
		merged.Title = c.Title
	}

	if existing.DueDateManuallyEdited && existing.DueDate != c.DueDate {
		res.DueDateConflict = true
	} else {
		merged.DueDate = c.DueDate
	}

	merged.Link = c.Link
	merged.Info = c.Info
	merged.WorkType = c.WorkType
	if c.Provenance.Valid() {
		merged.Provenance = c.Provenance
	} else {
		merged.Provenance = ProvenanceScraped
	}

	merged.LastObserved = Day(today)
	merged.Presence = PresenceActive

	res.ObservedChange = c.OpportunityNumber != existing.OpportunityNumber ||
		c.Title != existing.Title ||
		c.DueDate != existing.DueDate ||
		c.Link != existing.Link

	return merged, res
}

// RevisionOf snapshots the observed fields of a candidate for the revision log.
func RevisionOf(id string, c Candidate, today time.Time) Revision {
	return Revision{
		OpportunityID:     id,
		ObservedOn:        Day(today),
		OpportunityNumber: c.OpportunityNumber,
		Title:             c.Title,
		DueDate:           c.DueDate,
		Link:              c.Link,
	}
}
