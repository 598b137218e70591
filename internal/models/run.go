package models

import (
	"time"

	"github.com/google/uuid"
)

type SourceStatus string

const (
	SourceSuccess SourceStatus = "success"
	SourceError   SourceStatus = "error"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// SeverityOrder ranks severities from most to least urgent, for reports.
var SeverityOrder = []Severity{SeverityCritical, SeverityError, SeverityWarning, SeverityInfo}

// SourceOutcome is what reconciling one source's batch did to the store.
type SourceOutcome struct {
	Count      int `json:"count"`
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Conflicts  int `json:"conflicts"`
	Rejected   int `json:"rejected"`
	Duplicates int `json:"duplicates"`
}

// SourceResult is the per-source entry of a run record.
type SourceResult struct {
	Source    string       `json:"source"`
	Count     int          `json:"count"`
	Status    SourceStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
	Strategy  string       `json:"strategy,omitempty"`
	Created   int          `json:"created"`
	Updated   int          `json:"updated"`
	Conflicts int          `json:"conflicts"`
	Rejected  int          `json:"rejected"`
}

func (r SourceResult) Succeeded() bool {
	return r.Status == SourceSuccess
}

// Alert is an anomaly raised for one source by the health rules.
type Alert struct {
	Source        string   `json:"source"`
	Severity      Severity `json:"severity"`
	Message       string   `json:"message"`
	PreviousCount *int     `json:"previous_count,omitempty"`
	CurrentCount  int      `json:"current_count"`
	PercentChange *float64 `json:"percent_change,omitempty"`
}

// RunRecord is one immutable entry of the ingestion history.
type RunRecord struct {
	ID           uuid.UUID               `json:"id"`
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   time.Time               `json:"finished_at"`
	Sources      map[string]SourceResult `json:"sources"`
	TotalRecords int                     `json:"total_records"`
	Alerts       []Alert                 `json:"alerts"`
}

// Checkpoint states.
type CheckpointStatus string

const (
	CheckpointNotStarted CheckpointStatus = "not_started"
	CheckpointInProgress CheckpointStatus = "in_progress"
	CheckpointCompleted  CheckpointStatus = "completed"
)

// Checkpoint marks progress through one multi-source run.
type Checkpoint struct {
	LastIndex  int              `json:"last_index"`
	LastSource string           `json:"last_source"`
	LastCount  int              `json:"last_count"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Status     CheckpointStatus `json:"status"`
	// StartedOn is the calendar date of the first completed source of the logical run.
	StartedOn time.Time `json:"started_on"`
}

// EmptyCheckpoint is the not-started state.
func EmptyCheckpoint() Checkpoint {
	return Checkpoint{LastIndex: -1, Status: CheckpointNotStarted}
}

type ResumeInfo struct {
	ShouldResume    bool      `json:"should_resume"`
	ResumeFromIndex int       `json:"resume_from_index"`
	LastSource      string    `json:"last_source"`
	Timestamp       time.Time `json:"timestamp"`
}
