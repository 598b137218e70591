package db

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/david/bid-tracker/internal/models"
)

var (
	ErrNotFound        = eris.New("opportunity not found")
	ErrInvalidDecision = eris.New("invalid decision")
	ErrEmptyEdit       = eris.New("manual edit sets no field")
)

// Store is the reconciliation store plus the run bookkeeping that lives next to it.
// Every read-modify-write of one opportunity is atomic, so the API may call it while an
// ingestion run is in progress.
type Store interface {
	Get(ctx context.Context, id string) (*models.Opportunity, error)
	UpsertFromIngestion(ctx context.Context, c models.Candidate) (models.MergeResult, error)
	// ApplyUserDecision accepts "ignore", "pursuing", "completed" or "declined".
	// Re-applying the current decision and notes changes nothing and logs nothing.
	ApplyUserDecision(ctx context.Context, id, decision, notes string) error
	ApplyManualEdit(ctx context.Context, id string, edit models.ManualEdit) (*models.Opportunity, error)
	// MarkAbsent flips every active record last observed before asOf to disappeared.
	MarkAbsent(ctx context.Context, asOf time.Time) (int64, error)
	Query(ctx context.Context, f QueryFilter) ([]models.Opportunity, error)

	Stats(ctx context.Context) (*models.Stats, error)
	DecisionLog(ctx context.Context, id string) ([]models.DecisionEntry, error)
	Revisions(ctx context.Context, id string) ([]models.Revision, error)

	AppendRunRecord(ctx context.Context, rec models.RunRecord, retain int) error
	ListRunRecords(ctx context.Context, limit int) ([]models.RunRecord, error)

	LoadCheckpoint(ctx context.Context) (models.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error

	Ping(ctx context.Context) error
	Close() error
}

// QueryFilter narrows Query. Zero values match everything.
type QueryFilter struct {
	Presence     models.Presence
	Decision     models.Decision
	Organization string
	Limit        int
	Offset       int
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

func (f QueryFilter) limit() int {
	if f.Limit <= 0 {
		return defaultQueryLimit
	}
	if f.Limit > maxQueryLimit {
		return maxQueryLimit
	}
	return f.Limit
}

func (f QueryFilter) offset() int {
	if f.Offset < 0 {
		return 0
	}
	return f.Offset
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used for observation dates and log timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

type statsBuilder struct {
	*models.Stats
}

func newStats() statsBuilder {
	return statsBuilder{&models.Stats{
		ByDecision: map[models.Decision]int{},
		ByPresence: map[models.Presence]int{},
	}}
}

func (b statsBuilder) add(decision, presence string, n int) {
	b.Total += n
	b.ByDecision[models.Decision(decision)] += n
	b.ByPresence[models.Presence(presence)] += n
}
