package health

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/david/bid-tracker/internal/models"
)

// RunReport is the rendered outcome of one run: every source, including failures, plus alerts.
type RunReport struct {
	RunID        uuid.UUID             `json:"run_id"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
	TotalRecords int                   `json:"total_records"`
	SourceCount  int                   `json:"source_count"`
	Succeeded    int                   `json:"succeeded"`
	Failed       int                   `json:"failed"`
	Sources      []models.SourceResult `json:"sources"`
	Alerts       []models.Alert        `json:"alerts"`
}

// NewReport builds a report from a run record. Sources are sorted by name and alerts by
// severity, most urgent first.
func NewReport(rec models.RunRecord) *RunReport {
	r := &RunReport{
		RunID:        rec.ID,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
		TotalRecords: rec.TotalRecords,
		SourceCount:  len(rec.Sources),
		Sources:      make([]models.SourceResult, 0, len(rec.Sources)),
		Alerts:       append([]models.Alert{}, rec.Alerts...),
	}
	for name, res := range rec.Sources {
		if res.Source == "" {
			res.Source = name
		}
		if res.Succeeded() {
			r.Succeeded++
		} else {
			r.Failed++
		}
		r.Sources = append(r.Sources, res)
	}
	sort.Slice(r.Sources, func(i, j int) bool { return r.Sources[i].Source < r.Sources[j].Source })

	rank := map[models.Severity]int{}
	for i, s := range models.SeverityOrder {
		rank[s] = i
	}
	sort.SliceStable(r.Alerts, func(i, j int) bool {
		if rank[r.Alerts[i].Severity] != rank[r.Alerts[j].Severity] {
			return rank[r.Alerts[i].Severity] < rank[r.Alerts[j].Severity]
		}
		return r.Alerts[i].Source < r.Alerts[j].Source
	})
	return r
}

// AlertsBySeverity counts alerts per severity.
func (r *RunReport) AlertsBySeverity() map[models.Severity]int {
	out := map[models.Severity]int{}
	for _, a := range r.Alerts {
		out[a.Severity]++
	}
	return out
}

func (r *RunReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// RenderText renders the report as plain text tables.
func (r *RunReport) RenderText() string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)

	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Run Health Report - %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Total records collected: %d\n", r.TotalRecords)
	fmt.Fprintf(&b, "Sources processed: %d\n", r.SourceCount)
	fmt.Fprintf(&b, "Success: %d | Failed: %d\n", r.Succeeded, r.Failed)
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	}
	fmt.Fprintln(&b)

	if len(r.Alerts) == 0 {
		fmt.Fprintln(&b, "No alerts.")
	} else {
		by := r.AlertsBySeverity()
		var parts []string
		for _, s := range models.SeverityOrder {
			if by[s] > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", s, by[s]))
			}
		}
		fmt.Fprintf(&b, "ALERTS (%d): %s\n", len(r.Alerts), strings.Join(parts, " "))

		t := table.NewWriter()
		t.AppendHeader(table.Row{"Severity", "Source", "Message"})
		for _, a := range r.Alerts {
			t.AppendRow(table.Row{strings.ToUpper(string(a.Severity)), a.Source, a.Message})
		}
		fmt.Fprintln(&b, t.Render())
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "SOURCE RESULTS")
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Source", "Status", "Records", "Created", "Updated", "Conflicts", "Rejected", "Strategy", "Error"})
	for _, s := range r.Sources {
		t.AppendRow(table.Row{s.Source, s.Status, s.Count, s.Created, s.Updated, s.Conflicts, s.Rejected, s.Strategy, s.Error})
	}
	t.AppendFooter(table.Row{"Total", "", r.TotalRecords})
	fmt.Fprintln(&b, t.Render())
	fmt.Fprintln(&b, rule)

	return b.String()
}
