package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/bid-tracker/internal/identity"
)

var (
	day1 = time.Date(2025, 11, 3, 15, 4, 5, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
)

func roadRepair() Candidate {
	return Candidate{
		Organization:      "City A",
		OpportunityNumber: "RFP-1",
		Title:             "Road Repair",
		DueDate:           "12/01/25",
		Link:              "https://city-a.example/bids/1",
		Info:              "Pre-bid meeting 11/15",
		WorkType:          "utility/transportation",
		Provenance:        ProvenanceScraped,
	}
}

func TestNewFromCandidate(t *testing.T) {
	o := NewFromCandidate(roadRepair(), day1)

	assert.Equal(t, identity.Derive("City A", "RFP-1"), o.ID)
	assert.Equal(t, PresenceActive, o.Presence)
	assert.Equal(t, DecisionNew, o.Decision)
	assert.Equal(t, Day(day1), o.FirstObserved)
	assert.Equal(t, o.FirstObserved, o.LastObserved)
	assert.Equal(t, ProvenanceScraped, o.Provenance)
}

func TestNewFromCandidate_DefaultsProvenance(t *testing.T) {
	c := roadRepair()
	c.Provenance = ""
	assert.Equal(t, ProvenanceScraped, NewFromCandidate(c, day1).Provenance)
}

func TestMerge_AdoptsUnflaggedFields(t *testing.T) {
	existing := NewFromCandidate(roadRepair(), day1)
	c := roadRepair()
	c.Title = "Road Repair Phase 2"
	c.DueDate = "12/15/25"

	merged, res := Merge(existing, c, day2)

	assert.True(t, res.Updated)
	assert.False(t, res.Created)
	assert.False(t, res.Conflicted())
	assert.True(t, res.ObservedChange)
	assert.Equal(t, "Road Repair Phase 2", merged.Title)
	assert.Equal(t, "12/15/25", merged.DueDate)
	assert.Equal(t, Day(day2), merged.LastObserved)
	assert.Equal(t, Day(day1), merged.FirstObserved)
}

func TestMerge_ManualFlagsWin(t *testing.T) {
	existing := NewFromCandidate(roadRepair(), day1)
	existing.Title = "My Custom Title"
	existing.TitleManuallyEdited = true
	existing.DueDate = "Dec 1"
	existing.DueDateManuallyEdited = true

	c := roadRepair()
	c.Title = "Road Repair Phase 3"

	merged, res := Merge(existing, c, day2)

	assert.True(t, res.TitleConflict)
	assert.True(t, res.DueDateConflict)
	assert.Equal(t, "My Custom Title", merged.Title)
	assert.Equal(t, "Dec 1", merged.DueDate)
	assert.True(t, merged.TitleManuallyEdited)
	assert.True(t, merged.DueDateManuallyEdited)
}

func TestMerge_FlagWithoutDisagreementIsNoConflict(t *testing.T) {
	existing := NewFromCandidate(roadRepair(), day1)
	existing.TitleManuallyEdited = true

	merged, res := Merge(existing, roadRepair(), day2)

	assert.False(t, res.TitleConflict)
	assert.Equal(t, "Road Repair", merged.Title)
}

func TestMerge_NeverTouchesUserState(t *testing.T) {
	existing := NewFromCandidate(roadRepair(), day1)
	existing.Decision = DecisionPursuing
	existing.Notes = "call the engineer"
	existing.Presence = PresenceDisappeared

	c := roadRepair()
	c.Link = "https://city-a.example/bids/1?v=2"
	c.Info = ""
	c.Provenance = ProvenanceParsed

	merged, _ := Merge(existing, c, day2)

	assert.Equal(t, DecisionPursuing, merged.Decision)
	assert.Equal(t, "call the engineer", merged.Notes)
	assert.Equal(t, existing.ID, merged.ID)
	assert.Equal(t, existing.Organization, merged.Organization)
	assert.Equal(t, PresenceActive, merged.Presence)
	assert.Equal(t, c.Link, merged.Link)
	assert.Empty(t, merged.Info)
	assert.Equal(t, ProvenanceParsed, merged.Provenance)
}

func TestMerge_Idempotent(t *testing.T) {
	existing := NewFromCandidate(roadRepair(), day1)

	first, _ := Merge(existing, roadRepair(), day2)
	second, res := Merge(first, roadRepair(), day2)

	require.Equal(t, first, second)
	assert.False(t, res.ObservedChange)
}

func TestParseDecision(t *testing.T) {
	cases := map[string]struct {
		want Decision
		ok   bool
	}{
		"ignore":    {DecisionIgnored, true},
		"ignored":   {DecisionIgnored, true},
		"pursuing":  {DecisionPursuing, true},
		"completed": {DecisionCompleted, true},
		"declined":  {DecisionDeclined, true},
		"new":       {"", false},
		"maybe":     {"", false},
	}
	for in, c := range cases {
		got, ok := ParseDecision(in)
		assert.Equal(t, c.ok, ok, in)
		assert.Equal(t, c.want, got, in)
	}
}
