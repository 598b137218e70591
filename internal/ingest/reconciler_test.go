package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/bid-tracker/internal/identity"
	"github.com/david/bid-tracker/internal/models"
)

// fakeUpsertStore merges in memory with the real merge rule.
type fakeUpsertStore struct {
	records map[string]models.Opportunity
	calls   []models.Candidate
	failOn  string
	today   time.Time
}

func newFakeUpsertStore() *fakeUpsertStore {
	return &fakeUpsertStore{
		records: map[string]models.Opportunity{},
		today:   time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeUpsertStore) UpsertFromIngestion(_ context.Context, c models.Candidate) (models.MergeResult, error) {
	f.calls = append(f.calls, c)
	if f.failOn != "" && c.OpportunityNumber == f.failOn {
		return models.MergeResult{}, errors.New("database is locked")
	}
	id := identity.Derive(c.Organization, c.OpportunityNumber)
	existing, ok := f.records[id]
	if !ok {
		o := models.NewFromCandidate(c, f.today)
		f.records[id] = o
		return models.MergeResult{ID: id, Created: true}, nil
	}
	merged, res := models.Merge(existing, c, f.today)
	f.records[id] = merged
	return res, nil
}

func TestReconcileSource_CountsEveryOutcome(t *testing.T) {
	store := newFakeUpsertStore()
	edited := models.NewFromCandidate(models.Candidate{
		Organization: "City A", OpportunityNumber: "RFP-2", Title: "Edited title",
	}, store.today)
	edited.TitleManuallyEdited = true
	store.records[edited.ID] = edited

	r := NewReconciler(store)
	out, err := r.ReconcileSource(context.Background(), "city-a", []models.Candidate{
		{Organization: "City A", OpportunityNumber: "RFP-1", Title: "Road Repair"},
		{Organization: "city a ", OpportunityNumber: " rfp-1", Title: "Road Repair again"},
		{Organization: "City A", OpportunityNumber: "RFP-2", Title: "Scraped title"},
		{Organization: "City A", OpportunityNumber: "N/A", Title: "No number"},
		{Organization: "", OpportunityNumber: "RFP-9", Title: "No org"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.SourceOutcome{
		Count: 2, Created: 1, Updated: 1, Conflicts: 1, Rejected: 2, Duplicates: 1,
	}, out)
	assert.Len(t, store.calls, 2)
	assert.Equal(t, "Road Repair", store.calls[0].Title, "first occurrence wins")
	assert.Equal(t, WorkTypeUtility, store.calls[0].WorkType)
	assert.Equal(t, "Edited title", store.records[edited.ID].Title)
}

func TestReconcileSource_KeepsGivenWorkType(t *testing.T) {
	store := newFakeUpsertStore()
	r := NewReconciler(store)

	_, err := r.ReconcileSource(context.Background(), "s", []models.Candidate{
		{Organization: "O", OpportunityNumber: "1", Title: "Road work", WorkType: "design"},
	})
	require.NoError(t, err)
	assert.Equal(t, "design", store.calls[0].WorkType)
}

func TestReconcileSource_StoreErrorAborts(t *testing.T) {
	store := newFakeUpsertStore()
	store.failOn = "2"
	r := NewReconciler(store)

	out, err := r.ReconcileSource(context.Background(), "s", []models.Candidate{
		{Organization: "O", OpportunityNumber: "1"},
		{Organization: "O", OpportunityNumber: "2"},
		{Organization: "O", OpportunityNumber: "3"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, 1, out.Created)
	assert.Len(t, store.calls, 2)
}

func TestReconcileSource_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newFakeUpsertStore()
	_, err := NewReconciler(store).ReconcileSource(ctx, "s", []models.Candidate{
		{Organization: "O", OpportunityNumber: "1"},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.calls)
}

func TestReconcile_Single(t *testing.T) {
	store := newFakeUpsertStore()
	r := NewReconciler(store)

	res, err := r.Reconcile(context.Background(), models.Candidate{
		Organization: "Town of Florence", OpportunityNumber: "IFB 25-3", Title: "Sidewalk Maintenance",
		Provenance: models.ProvenanceManual,
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, models.ProvenanceManual, store.calls[0].Provenance)
	assert.Equal(t, WorkTypeMaintenance, store.calls[0].WorkType)

	_, err = r.Reconcile(context.Background(), models.Candidate{Organization: "X"})
	assert.ErrorIs(t, err, ErrMalformedCandidate)
}
