// Package checkpoint tracks per-source progress through one multi-source ingestion run so an
// interrupted run can resume after the last completed source.
package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/david/bid-tracker/internal/models"
)

// Persister stores the single current checkpoint.
type Persister interface {
	LoadCheckpoint(ctx context.Context) (models.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error
}

// Tracker is safe for concurrent use; the API reads it while a run mutates it.
type Tracker struct {
	mu  sync.Mutex
	p   Persister
	cp  models.Checkpoint
	now func() time.Time
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New loads the persisted checkpoint.
func New(ctx context.Context, p Persister, opts ...Option) (*Tracker, error) {
	cp, err := p.LoadCheckpoint(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: load")
	}
	t := &Tracker{p: p, cp: cp, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// ShouldSkip reports whether source index i already completed in the run being resumed.
func (t *Tracker) ShouldSkip(i int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cp.Status == models.CheckpointInProgress && i <= t.cp.LastIndex
}

// MarkSourceComplete records that source i finished. The first mark of a run moves the
// checkpoint to in progress and stamps the run's start date.
func (t *Tracker) MarkSourceComplete(ctx context.Context, i int, source string, count int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	if t.cp.Status != models.CheckpointInProgress {
		t.cp.Status = models.CheckpointInProgress
		t.cp.StartedOn = models.Day(now)
	}
	t.cp.LastIndex = i
	t.cp.LastSource = source
	t.cp.LastCount = count
	t.cp.UpdatedAt = now
	return t.saveLocked(ctx)
}

func (t *Tracker) MarkRunComplete(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cp.Status = models.CheckpointCompleted
	t.cp.UpdatedAt = t.now().UTC()
	return t.saveLocked(ctx)
}

// Reset returns to not started and clears the indices.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cp = models.EmptyCheckpoint()
	return t.saveLocked(ctx)
}

func (t *Tracker) ResumeInfo() models.ResumeInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := models.ResumeInfo{
		LastSource: t.cp.LastSource,
		Timestamp:  t.cp.UpdatedAt,
	}
	if t.cp.Status == models.CheckpointInProgress && t.cp.LastIndex >= 0 {
		info.ShouldResume = true
		info.ResumeFromIndex = t.cp.LastIndex + 1
	}
	return info
}

// Snapshot returns a copy of the current checkpoint.
func (t *Tracker) Snapshot() models.Checkpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cp
}

func (t *Tracker) saveLocked(ctx context.Context) error {
	if err := t.p.SaveCheckpoint(ctx, t.cp); err != nil {
		zap.L().Warn("checkpoint save failed",
			zap.Int("last_index", t.cp.LastIndex),
			zap.String("status", string(t.cp.Status)),
			zap.Error(err))
		return eris.Wrap(err, "checkpoint: save")
	}
	return nil
}
