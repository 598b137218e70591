package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/bid-tracker/internal/models"
)

type memPersister struct {
	cp      models.Checkpoint
	saves   int
	saveErr error
	loadErr error
}

func (m *memPersister) LoadCheckpoint(context.Context) (models.Checkpoint, error) {
	if m.loadErr != nil {
		return models.Checkpoint{}, m.loadErr
	}
	return m.cp, nil
}

func (m *memPersister) SaveCheckpoint(_ context.Context, cp models.Checkpoint) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.cp = cp
	m.saves++
	return nil
}

var fixedNow = time.Date(2025, 11, 3, 22, 15, 0, 0, time.UTC)

func newTracker(t *testing.T, p *memPersister) *Tracker {
	t.Helper()
	tr, err := New(context.Background(), p, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return tr
}

func TestTracker_FreshState(t *testing.T) {
	tr := newTracker(t, &memPersister{cp: models.EmptyCheckpoint()})

	assert.False(t, tr.ShouldSkip(0))
	info := tr.ResumeInfo()
	assert.False(t, info.ShouldResume)
	assert.Zero(t, info.ResumeFromIndex)
}

func TestTracker_MarkSourceComplete(t *testing.T) {
	p := &memPersister{cp: models.EmptyCheckpoint()}
	tr := newTracker(t, p)
	ctx := context.Background()

	require.NoError(t, tr.MarkSourceComplete(ctx, 0, "city-a", 12))
	require.NoError(t, tr.MarkSourceComplete(ctx, 1, "county-b", 3))

	assert.True(t, tr.ShouldSkip(0))
	assert.True(t, tr.ShouldSkip(1))
	assert.False(t, tr.ShouldSkip(2))

	info := tr.ResumeInfo()
	assert.True(t, info.ShouldResume)
	assert.Equal(t, 2, info.ResumeFromIndex)
	assert.Equal(t, "county-b", info.LastSource)
	assert.Equal(t, fixedNow, info.Timestamp)

	assert.Equal(t, 2, p.saves)
	assert.Equal(t, models.CheckpointInProgress, p.cp.Status)
	assert.Equal(t, models.Day(fixedNow), p.cp.StartedOn)
}

func TestTracker_ResumesFromPersistedState(t *testing.T) {
	p := &memPersister{cp: models.Checkpoint{
		LastIndex:  3,
		LastSource: "town-c",
		Status:     models.CheckpointInProgress,
		StartedOn:  models.Day(fixedNow.AddDate(0, 0, -1)),
	}}
	tr := newTracker(t, p)

	assert.True(t, tr.ShouldSkip(3))
	assert.False(t, tr.ShouldSkip(4))
	assert.Equal(t, 4, tr.ResumeInfo().ResumeFromIndex)

	require.NoError(t, tr.MarkSourceComplete(context.Background(), 4, "town-d", 1))
	assert.Equal(t, models.Day(fixedNow.AddDate(0, 0, -1)), tr.Snapshot().StartedOn)
}

func TestTracker_CompletedRunSkipsNothing(t *testing.T) {
	p := &memPersister{cp: models.EmptyCheckpoint()}
	tr := newTracker(t, p)
	ctx := context.Background()

	require.NoError(t, tr.MarkSourceComplete(ctx, 0, "city-a", 1))
	require.NoError(t, tr.MarkRunComplete(ctx))

	assert.False(t, tr.ShouldSkip(0))
	assert.False(t, tr.ResumeInfo().ShouldResume)
	assert.Equal(t, models.CheckpointCompleted, p.cp.Status)
}

func TestTracker_Reset(t *testing.T) {
	p := &memPersister{cp: models.EmptyCheckpoint()}
	tr := newTracker(t, p)
	ctx := context.Background()

	require.NoError(t, tr.MarkSourceComplete(ctx, 5, "city-a", 1))
	require.NoError(t, tr.Reset(ctx))

	assert.Equal(t, models.EmptyCheckpoint(), tr.Snapshot())
	assert.Equal(t, models.EmptyCheckpoint(), p.cp)
	assert.False(t, tr.ShouldSkip(0))
}

func TestTracker_SaveErrorStillAdvancesMemory(t *testing.T) {
	p := &memPersister{cp: models.EmptyCheckpoint(), saveErr: errors.New("disk full")}
	tr := newTracker(t, p)

	err := tr.MarkSourceComplete(context.Background(), 0, "city-a", 1)
	require.Error(t, err)
	assert.True(t, tr.ShouldSkip(0))
}

func TestNew_LoadError(t *testing.T) {
	_, err := New(context.Background(), &memPersister{loadErr: errors.New("no db")})
	require.Error(t, err)
}
