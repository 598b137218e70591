package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/david/bid-tracker/internal/health"
	"github.com/david/bid-tracker/internal/ingest"
	"github.com/david/bid-tracker/internal/models"
)

const timeLayout = "2006-01-02 15:04"

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatRunsList(w io.Writer, reports []*health.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Run", "Started", "Duration", "Sources", "Failed", "Records", "Alerts"})
	for _, r := range reports {
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			shortID(r.RunID.String()),
			r.StartedAt.Format(timeLayout),
			duration,
			r.SourceCount,
			r.Failed,
			r.TotalRecords,
			len(r.Alerts),
		})
	}
	t.Render()
}

func formatOpportunities(w io.Writer, opps []models.Opportunity) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Organization", "Number", "Title", "Due", "Type", "Presence", "Decision"})
	for _, o := range opps {
		title := truncate(o.Title, 50)
		if o.TitleManuallyEdited {
			title += " *"
		}
		due := o.DueDate
		if o.DueDateManuallyEdited {
			due += " *"
		}
		t.AppendRow(table.Row{o.ID, o.Organization, o.OpportunityNumber, title, due, o.WorkType, o.Presence, o.Decision})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d shown", len(opps))})
	t.Render()
}

func formatCandidates(w io.Writer, cands []models.Candidate) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Organization", "Number", "Title", "Due"})
	for _, c := range cands {
		t.AppendRow(table.Row{c.Organization, c.OpportunityNumber, truncate(c.Title, 60), c.DueDate})
	}
	t.Render()
}

func formatStats(w io.Writer, stats *models.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Group", "Value", "Count"})
	for _, d := range sortedKeys(stats.ByDecision) {
		t.AppendRow(table.Row{"decision", d, stats.ByDecision[models.Decision(d)]})
	}
	for _, p := range sortedKeys(stats.ByPresence) {
		t.AppendRow(table.Row{"presence", p, stats.ByPresence[models.Presence(p)]})
	}
	t.AppendFooter(table.Row{"Total", "", stats.Total})
	t.Render()
}

func sortedKeys[K ~string, V any](m map[K]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

func formatCheckpoint(w io.Writer, cp models.Checkpoint, info models.ResumeInfo) {
	fmt.Fprintf(w, "Status:      %s\n", cp.Status)
	if cp.Status == models.CheckpointNotStarted {
		return
	}
	fmt.Fprintf(w, "Last source: %s (index %d, %d records)\n", cp.LastSource, cp.LastIndex, cp.LastCount)
	fmt.Fprintf(w, "Updated at:  %s\n", cp.UpdatedAt.Format(timeLayout))
	if !cp.StartedOn.IsZero() {
		fmt.Fprintf(w, "Started on:  %s\n", cp.StartedOn.Format("2006-01-02"))
	}
	if info.ShouldResume {
		fmt.Fprintf(w, "Resumable from index %d. Run: tracker run --resume\n", info.ResumeFromIndex)
	}
}

func formatSources(w io.Writer, sources []ingest.SourceConfig) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "ID", "Organization", "Strategy", "URL"})
	// The index is the run position checkpoints refer to; disabled sources have none.
	i := 0
	for _, s := range sources {
		pos := "-"
		if !s.Disabled {
			pos = fmt.Sprint(i)
			i++
		}
		t.AppendRow(table.Row{pos, s.ID, s.Organization, s.Strategy, s.URL})
	}
	t.Render()
}
