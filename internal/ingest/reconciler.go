package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/david/bid-tracker/internal/identity"
	"github.com/david/bid-tracker/internal/metrics"
	"github.com/david/bid-tracker/internal/models"
)

var ErrMalformedCandidate = eris.New("malformed candidate")

// UpsertStore is the part of the store the reconciler writes through.
type UpsertStore interface {
	UpsertFromIngestion(ctx context.Context, c models.Candidate) (models.MergeResult, error)
}

// Reconciler turns a source's raw candidates into store upserts.
type Reconciler struct {
	store UpsertStore
}

func NewReconciler(store UpsertStore) *Reconciler {
	return &Reconciler{store: store}
}

// ValidateCandidate rejects candidates whose identity would be meaningless.
func ValidateCandidate(c models.Candidate) error {
	if isPlaceholder(c.Organization) {
		return eris.Wrap(ErrMalformedCandidate, "missing organization")
	}
	if isPlaceholder(c.OpportunityNumber) {
		return eris.Wrap(ErrMalformedCandidate, "missing opportunity number")
	}
	return nil
}

// prepare normalizes, validates and classifies one candidate.
func prepare(c models.Candidate) (models.Candidate, error) {
	c = NormalizeCandidate(c)
	if err := ValidateCandidate(c); err != nil {
		return c, err
	}
	if c.WorkType == "" {
		c.WorkType = ClassifyWorkType(c.Title)
	}
	return c, nil
}

// Reconcile merges a single candidate, as entered by hand or parsed from pasted text.
func (r *Reconciler) Reconcile(ctx context.Context, c models.Candidate) (models.MergeResult, error) {
	c, err := prepare(c)
	if err != nil {
		return models.MergeResult{}, err
	}
	res, err := r.store.UpsertFromIngestion(ctx, c)
	if err != nil {
		return models.MergeResult{}, eris.Wrap(err, "reconcile candidate")
	}
	logConflict("", c, res)
	return res, nil
}

// ReconcileSource merges one source's batch. Malformed candidates are rejected and counted, and
// repeated identities within the batch are dropped after the first. A store error aborts the
// batch; the outcome so far is returned with it.
func (r *Reconciler) ReconcileSource(ctx context.Context, source string, candidates []models.Candidate) (models.SourceOutcome, error) {
	var out models.SourceOutcome
	seen := make(map[string]bool, len(candidates))

	for _, raw := range candidates {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		c, err := prepare(raw)
		if err != nil {
			out.Rejected++
			zap.L().Debug("candidate rejected",
				zap.String("source", source),
				zap.String("title", c.Title),
				zap.Error(err))
			continue
		}

		id := identity.Derive(c.Organization, c.OpportunityNumber)
		if seen[id] {
			out.Duplicates++
			continue
		}
		seen[id] = true

		res, err := r.store.UpsertFromIngestion(ctx, c)
		if err != nil {
			metrics.ObserveReconcile(out.Created, out.Updated, out.Conflicts, out.Rejected, out.Duplicates)
			return out, eris.Wrapf(err, "reconcile %s: upsert %s", source, id)
		}

		out.Count++
		if res.Created {
			out.Created++
		}
		if res.Updated {
			out.Updated++
		}
		if res.Conflicted() {
			out.Conflicts++
			logConflict(source, c, res)
		}
	}

	metrics.ObserveReconcile(out.Created, out.Updated, out.Conflicts, out.Rejected, out.Duplicates)
	return out, nil
}

func logConflict(source string, c models.Candidate, res models.MergeResult) {
	if !res.Conflicted() {
		return
	}
	zap.L().Info("manual edit kept over ingested value",
		zap.String("source", source),
		zap.String("id", res.ID),
		zap.Bool("title", res.TitleConflict),
		zap.Bool("due_date", res.DueDateConflict),
		zap.String("ingested_title", c.Title),
		zap.String("ingested_due_date", c.DueDate))
}
