package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/david/bid-tracker/internal/metrics"
	"github.com/david/bid-tracker/internal/models"
)

// AbsenceMarker flips records not seen since a date to disappeared.
type AbsenceMarker interface {
	MarkAbsent(ctx context.Context, asOf time.Time) (int64, error)
}

// Sweeper runs the end-of-run lifecycle pass.
type Sweeper struct {
	store AbsenceMarker
}

func NewSweeper(store AbsenceMarker) *Sweeper {
	return &Sweeper{store: store}
}

// Sweep marks every active record last observed before asOf's date as disappeared. Running it
// again with the same date changes nothing.
func (s *Sweeper) Sweep(ctx context.Context, asOf time.Time) (int64, error) {
	day := models.Day(asOf)
	n, err := s.store.MarkAbsent(ctx, day)
	if err != nil {
		return 0, eris.Wrap(err, "sweep")
	}
	zap.L().Info("lifecycle sweep finished",
		zap.String("as_of", day.Format(models.DateLayout)),
		zap.Int64("disappeared", n))
	metrics.ObserveSwept(n)
	return n, nil
}
