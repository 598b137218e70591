package health

import (
	"fmt"
	"math"

	"github.com/david/bid-tracker/internal/models"
)

// Alert thresholds, in percent change against the last successful count.
const (
	criticalDropPct = -50.0
	warningDropPct  = -25.0
	surgePct        = 100.0
)

// PercentChange returns (current-last)/last*100, defined as 100 when last is zero and current
// is not, and 0 when both are zero.
func PercentChange(last, current int) float64 {
	if last == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return float64(current-last) / float64(last) * 100
}

// LastSuccessfulCount finds the most recent successful count for source in history, which is
// ordered newest first. Failed entries are skipped.
func LastSuccessfulCount(source string, history []models.RunRecord) (int, bool) {
	for _, run := range history {
		r, ok := run.Sources[source]
		if ok && r.Succeeded() {
			return r.Count, true
		}
	}
	return 0, false
}

// Evaluate applies the anomaly rules to one source result. It returns nil when the result is
// unremarkable.
func Evaluate(cur models.SourceResult, history []models.RunRecord) *models.Alert {
	last, ok := LastSuccessfulCount(cur.Source, history)
	if !ok {
		if cur.Succeeded() {
			return nil
		}
		return &models.Alert{
			Source:       cur.Source,
			Severity:     models.SeverityWarning,
			Message:      "first scrape failed: " + failureDetail(cur),
			CurrentCount: cur.Count,
		}
	}

	if !cur.Succeeded() {
		return &models.Alert{
			Source:        cur.Source,
			Severity:      models.SeverityError,
			Message:       fmt.Sprintf("scrape failed (previously got %d records): %s", last, failureDetail(cur)),
			PreviousCount: &last,
			CurrentCount:  cur.Count,
		}
	}

	pct := PercentChange(last, cur.Count)
	var severity models.Severity
	var verb string
	switch {
	case pct < criticalDropPct:
		severity, verb = models.SeverityCritical, "dropped"
	case pct < warningDropPct:
		severity, verb = models.SeverityWarning, "dropped"
	case pct > surgePct:
		severity, verb = models.SeverityInfo, "increased"
	default:
		return nil
	}
	return &models.Alert{
		Source:        cur.Source,
		Severity:      severity,
		Message:       fmt.Sprintf("record count %s %.1f%% (%d → %d)", verb, math.Abs(pct), last, cur.Count),
		PreviousCount: &last,
		CurrentCount:  cur.Count,
		PercentChange: &pct,
	}
}

func failureDetail(r models.SourceResult) string {
	if r.Error != "" {
		return r.Error
	}
	return string(r.Status)
}
