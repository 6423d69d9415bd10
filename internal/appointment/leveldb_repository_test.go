package appointment

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelDBRepository_ConditionedWrites(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenLevelDBInMemory()
	require.NoError(t, err)
	defer repo.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := &Appointment{ID: uuid.New(), InsuredID: "00123", ScheduleID: 100, CountryISO: CountryPE, Status: StatusPending, CreatedAt: now, UpdatedAt: now}

	require.NoError(t, repo.Insert(ctx, a))
	assert.ErrorIs(t, repo.Insert(ctx, a), ErrAppointmentExists)

	_, err = repo.UpdateStatus(ctx, a.ID, StatusProcessing, StatusCompleted, now)
	assert.ErrorIs(t, err, ErrStaleStatus)

	updated, err := repo.UpdateStatus(ctx, a.ID, StatusPending, StatusProcessing, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, updated.Status)
	assert.True(t, now.Add(time.Second).Equal(updated.UpdatedAt))

	_, err = repo.UpdateStatus(ctx, uuid.New(), StatusPending, StatusProcessing, now)
	assert.ErrorIs(t, err, ErrNotFound)

	active, err := repo.FindActiveBySchedule(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = repo.UpdateStatus(ctx, a.ID, StatusProcessing, StatusCompleted, now)
	require.NoError(t, err)
	active, err = repo.FindActiveBySchedule(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestLevelDBRepository_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "primary")

	repo, err := OpenLevelDB(path)
	require.NoError(t, err)
	now := time.Now().UTC()
	a := &Appointment{ID: uuid.New(), InsuredID: "00042", ScheduleID: 7, CountryISO: CountryCL, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Close())

	repo, err = OpenLevelDB(path)
	require.NoError(t, err)
	defer repo.Close()

	list, err := repo.ListByInsured(ctx, "00042")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
	assert.NoError(t, repo.Ping(ctx))
}
