package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/david/bid-tracker/internal/checkpoint"
	"github.com/david/bid-tracker/internal/db"
	"github.com/david/bid-tracker/internal/health"
	"github.com/david/bid-tracker/internal/metrics"
	"github.com/david/bid-tracker/internal/models"
)

var ErrRunInProgress = eris.New("ingestion run already in progress")

// RunOptions controls one run.
type RunOptions struct {
	// Resume continues an interrupted run from its checkpoint. Without it an interrupted run is
	// discarded and every source is visited again.
	Resume bool
}

// RunResult is what a finished run produced.
type RunResult struct {
	Report  *health.RunReport `json:"report"`
	Swept   int64             `json:"swept"`
	Resumed bool              `json:"resumed"`
	Skipped int               `json:"skipped"`
}

// Runner drives ingestion runs: every enabled source in registry order, then the lifecycle
// sweep, then the health report.
type Runner struct {
	store      db.Store
	registry   *Registry
	adapters   *AdapterFactory
	reconciler *Reconciler
	sweeper    *Sweeper
	retention  int
	now        func() time.Time

	mu    sync.Mutex
	regMu sync.RWMutex
}

type RunnerOption func(*Runner)

// WithHistoryRetention sets how many run records are kept.
func WithHistoryRetention(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.retention = n
		}
	}
}

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

func NewRunner(store db.Store, registry *Registry, adapters *AdapterFactory, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:      store,
		registry:   registry,
		adapters:   adapters,
		reconciler: NewReconciler(store),
		sweeper:    NewSweeper(store),
		retention:  health.DefaultRetention,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the sources the runner iterates.
func (r *Runner) Registry() *Registry {
	r.regMu.RLock()
	defer r.regMu.RUnlock()
	return r.registry
}

// SetRegistry replaces the source list. A run in progress keeps the list it started with.
func (r *Runner) SetRegistry(reg *Registry) {
	r.regMu.Lock()
	r.registry = reg
	r.regMu.Unlock()
}

// Run executes one run. Source failures, store outages during a source included, are recorded
// and skipped over, and a checkpoint that cannot be saved is logged. Only loading state at the
// start, the sweep and writing the run record abort it. A cancelled context stops the run between sources without
// sweeping, leaving the checkpoint at the last completed source.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if !r.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.mu.Unlock()

	start := r.now()
	tracker, err := checkpoint.New(ctx, r.store, checkpoint.WithClock(r.now))
	if err != nil {
		return nil, err
	}

	info := tracker.ResumeInfo()
	resumed := opts.Resume && info.ShouldResume
	if info.ShouldResume && !opts.Resume {
		zap.L().Info("discarding interrupted run", zap.String("last_source", info.LastSource))
		if err := tracker.Reset(ctx); err != nil {
			zap.L().Warn("interrupted run discarded in memory only", zap.Error(err))
		}
	}
	if resumed {
		zap.L().Info("resuming interrupted run",
			zap.Int("from_index", info.ResumeFromIndex),
			zap.String("last_source", info.LastSource))
	}

	monitor, err := health.NewMonitor(ctx, r.store,
		health.WithRetention(r.retention),
		health.WithClock(r.now))
	if err != nil {
		return nil, err
	}

	result := &RunResult{Resumed: resumed}
	sources := r.Registry().Enabled()
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			zap.L().Warn("run cancelled", zap.Int("next_index", i), zap.Error(err))
			return nil, err
		}
		if tracker.ShouldSkip(i) {
			result.Skipped++
			continue
		}

		res := r.ingestSource(ctx, src)
		if ctx.Err() != nil {
			// The source was cut short; leave it for the resumed run.
			return nil, ctx.Err()
		}
		monitor.RecordSourceResult(res)
		metrics.ObserveSource(res.Source, string(res.Status))

		// The tracker advances in memory even when the save fails; a lost checkpoint only
		// costs a resumed run some repeated work.
		if err := tracker.MarkSourceComplete(ctx, i, src.ID, res.Count); err != nil {
			zap.L().Warn("continuing without checkpoint", zap.String("source", src.ID), zap.Error(err))
		}
	}

	asOf := r.now()
	if cp := tracker.Snapshot(); cp.Status == models.CheckpointInProgress && !cp.StartedOn.IsZero() {
		asOf = cp.StartedOn
	}
	swept, err := r.sweeper.Sweep(ctx, asOf)
	if err != nil {
		return nil, err
	}
	result.Swept = swept

	if err := tracker.MarkRunComplete(ctx); err != nil {
		zap.L().Warn("run complete but checkpoint not saved", zap.Error(err))
	}

	report, err := monitor.FinalizeRun(ctx)
	if err != nil {
		return nil, err
	}
	result.Report = report

	metrics.ObserveRun(r.now().Sub(start))
	zap.L().Info("run finished",
		zap.String("run_id", report.RunID.String()),
		zap.Int("sources", report.SourceCount),
		zap.Int("failed", report.Failed),
		zap.Int("records", report.TotalRecords),
		zap.Int("alerts", len(report.Alerts)),
		zap.Int64("swept", swept))
	return result, nil
}

// ingestSource collects and reconciles one source. Every failure is folded into the result.
func (r *Runner) ingestSource(ctx context.Context, src SourceConfig) models.SourceResult {
	res := models.SourceResult{Source: src.ID, Status: models.SourceSuccess, Strategy: src.Strategy}
	log := zap.L().With(zap.String("source", src.ID))

	adapter, err := r.adapters.Get(src.Strategy)
	if err != nil {
		return failedResult(res, err, log)
	}

	log.Info("collecting", zap.String("name", src.Name), zap.String("url", src.URL))
	coll, err := adapter.Collect(ctx, src)
	if err != nil {
		return failedResult(res, err, log)
	}
	if coll.Strategy != "" {
		res.Strategy = coll.Strategy
	}
	for i := range coll.Candidates {
		if coll.Candidates[i].Organization == "" {
			coll.Candidates[i].Organization = src.Organization
		}
	}

	out, err := r.reconciler.ReconcileSource(ctx, src.ID, coll.Candidates)
	res.Created, res.Updated, res.Conflicts, res.Rejected = out.Created, out.Updated, out.Conflicts, out.Rejected
	if err != nil {
		return failedResult(res, err, log)
	}
	res.Count = out.Count

	log.Info("source reconciled",
		zap.String("strategy", res.Strategy),
		zap.Int("count", out.Count),
		zap.Int("created", out.Created),
		zap.Int("updated", out.Updated),
		zap.Int("conflicts", out.Conflicts),
		zap.Int("rejected", out.Rejected),
		zap.Int("duplicates", out.Duplicates))
	return res
}

func failedResult(res models.SourceResult, err error, log *zap.Logger) models.SourceResult {
	res.Status = models.SourceError
	res.Error = err.Error()
	res.Count = 0
	log.Warn("source failed", zap.Error(err))
	return res
}
