package models

import (
	"time"
)

// Provenance records how an opportunity entered the system.
type Provenance string

const (
	ProvenanceScraped Provenance = "scraped" // ingested by an automated source
	ProvenanceManual  Provenance = "manual"  // typed in by a user
	ProvenanceParsed  Provenance = "parsed"  // parsed from pasted text
)

// Valid reports whether p is a known provenance.
func (p Provenance) Valid() bool {
	switch p {
	case ProvenanceScraped, ProvenanceManual, ProvenanceParsed:
		return true
	}
	return false
}

// Presence says whether the most recent run still observed the opportunity.
type Presence string

const (
	PresenceActive      Presence = "active"
	PresenceDisappeared Presence = "disappeared"
)

func (p Presence) Valid() bool {
	return p == PresenceActive || p == PresenceDisappeared
}

// Decision is the user's triage state for an opportunity.
type Decision string

const (
	DecisionNew       Decision = "new"
	DecisionIgnored   Decision = "ignored"
	DecisionPursuing  Decision = "pursuing"
	DecisionCompleted Decision = "completed"
	DecisionDeclined  Decision = "declined"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionNew, DecisionIgnored, DecisionPursuing, DecisionCompleted, DecisionDeclined:
		return true
	}
	return false
}

// ParseDecision maps a requested decision onto the stored value. Requests use "ignore" while
// the stored status is "ignored"; both spellings are accepted. "new" is not a valid request.
func ParseDecision(s string) (Decision, bool) {
	switch Decision(s) {
	case "ignore", DecisionIgnored:
		return DecisionIgnored, true
	case DecisionPursuing, DecisionCompleted, DecisionDeclined:
		return Decision(s), true
	}
	return "", false
}

// Opportunity is the durable record of one procurement listing.
type Opportunity struct {
	ID                string     `json:"id"`
	Organization      string     `json:"organization"`
	OpportunityNumber string     `json:"opportunity_number"`
	Title             string     `json:"title"`
	DueDate           string     `json:"due_date"` // opaque, source formatted
	Link              string     `json:"link"`
	Info              string     `json:"info"`
	WorkType          string     `json:"work_type"`
	Provenance        Provenance `json:"provenance"`

	FirstObserved time.Time `json:"first_observed"`
	LastObserved  time.Time `json:"last_observed"`
	Presence      Presence  `json:"presence"`

	Decision              Decision `json:"decision"`
	Notes                 string   `json:"notes"`
	TitleManuallyEdited   bool     `json:"title_manually_edited"`
	DueDateManuallyEdited bool     `json:"due_date_manually_edited"`
}

// Candidate is a freshly observed, not yet reconciled listing handed over by a source adapter,
// a manual entry or the pasted-text parser.
type Candidate struct {
	Organization      string     `json:"organization"`
	OpportunityNumber string     `json:"opportunity_number"`
	Title             string     `json:"title"`
	DueDate           string     `json:"due_date"`
	Link              string     `json:"link"`
	Info              string     `json:"info"`
	WorkType          string     `json:"work_type"`
	Provenance        Provenance `json:"provenance"`
}

// ManualEdit carries user corrections. A non-nil field is written and its manually-edited flag set.
type ManualEdit struct {
	Title   *string `json:"title,omitempty"`
	DueDate *string `json:"due_date,omitempty"`
}

// Empty reports whether the edit changes nothing.
func (e ManualEdit) Empty() bool {
	return e.Title == nil && e.DueDate == nil
}

// DecisionRequest is a user's triage decision about one opportunity.
type DecisionRequest struct {
	ID       string `json:"id"`
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

// DecisionEntry is one row of the decision log.
type DecisionEntry struct {
	OpportunityID string    `json:"opportunity_id"`
	Decision      Decision  `json:"decision"`
	Notes         string    `json:"notes"`
	DecidedOn     time.Time `json:"decided_on"`
}

// Revision is a snapshot of the observed fields of an opportunity, appended on creation and
// whenever an ingestion run observes different values.
type Revision struct {
	OpportunityID     string    `json:"opportunity_id"`
	ObservedOn        time.Time `json:"observed_on"`
	OpportunityNumber string    `json:"opportunity_number"`
	Title             string    `json:"title"`
	DueDate           string    `json:"due_date"`
	Link              string    `json:"link"`
}

// Stats summarizes the store contents.
type Stats struct {
	Total      int              `json:"total"`
	ByDecision map[Decision]int `json:"by_decision"`
	ByPresence map[Presence]int `json:"by_presence"`
}
