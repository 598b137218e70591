// Package health compares each run's per-source record counts with history, raises alerts on
// anomalous swings and keeps a bounded run history.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/david/bid-tracker/internal/metrics"
	"github.com/david/bid-tracker/internal/models"
)

// DefaultRetention is the number of runs kept in history.
const DefaultRetention = 30

var ErrFinalized = eris.New("run already finalized")

// HistoryStore persists run records.
type HistoryStore interface {
	AppendRunRecord(ctx context.Context, rec models.RunRecord, retain int) error
	// ListRunRecords returns up to limit records, newest first.
	ListRunRecords(ctx context.Context, limit int) ([]models.RunRecord, error)
}

// Monitor accumulates the outcome of one run.
type Monitor struct {
	mu        sync.Mutex
	history   HistoryStore
	retention int
	now       func() time.Time

	prior     []models.RunRecord
	current   models.RunRecord
	finalized bool
}

type Option func(*Monitor)

func WithRetention(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.retention = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor loads the retained history that this run will be compared against.
func NewMonitor(ctx context.Context, history HistoryStore, opts ...Option) (*Monitor, error) {
	m := &Monitor{history: history, retention: DefaultRetention, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}

	prior, err := history.ListRunRecords(ctx, m.retention)
	if err != nil {
		return nil, eris.Wrap(err, "health: load history")
	}
	m.prior = prior
	m.current = models.RunRecord{
		ID:        uuid.New(),
		StartedAt: m.now().UTC(),
		Sources:   map[string]models.SourceResult{},
		Alerts:    []models.Alert{},
	}
	return m, nil
}

// RecordSourceResult stores one source's outcome and returns the alert it raised, if any.
// Recording the same source again replaces its earlier result.
func (m *Monitor) RecordSourceResult(r models.SourceResult) *models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.Status == "" {
		r.Status = models.SourceSuccess
	}
	if prev, ok := m.current.Sources[r.Source]; ok {
		m.current.TotalRecords -= prev.Count
		m.dropAlertLocked(r.Source)
	}
	m.current.Sources[r.Source] = r
	m.current.TotalRecords += r.Count

	alert := Evaluate(r, m.prior)
	if alert != nil {
		m.current.Alerts = append(m.current.Alerts, *alert)
		zap.L().Info("source alert",
			zap.String("source", r.Source),
			zap.String("severity", string(alert.Severity)),
			zap.String("message", alert.Message))
	}
	return alert
}

func (m *Monitor) dropAlertLocked(source string) {
	kept := m.current.Alerts[:0]
	for _, a := range m.current.Alerts {
		if a.Source != source {
			kept = append(kept, a)
		}
	}
	m.current.Alerts = kept
}

// FinalizeRun appends the run to history, evicting entries beyond the retention count, and
// returns the report. A monitor can be finalized once.
func (m *Monitor) FinalizeRun(ctx context.Context) (*RunReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return nil, ErrFinalized
	}
	m.current.FinishedAt = m.now().UTC()

	if err := m.history.AppendRunRecord(ctx, m.current, m.retention); err != nil {
		return nil, eris.Wrap(err, "health: append run record")
	}
	m.finalized = true

	for _, a := range m.current.Alerts {
		metrics.ObserveAlert(string(a.Severity))
	}
	return NewReport(m.current), nil
}

// Current returns a copy of the record being accumulated.
func (m *Monitor) Current() models.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.current
	rec.Sources = make(map[string]models.SourceResult, len(m.current.Sources))
	for k, v := range m.current.Sources {
		rec.Sources[k] = v
	}
	rec.Alerts = append([]models.Alert(nil), m.current.Alerts...)
	return rec
}
