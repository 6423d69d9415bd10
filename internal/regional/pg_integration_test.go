//go:build integration

package regional

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/db"
)

func TestPgRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("regional_pe"),
		tcpostgres.WithUsername("saga"),
		tcpostgres.WithPassword("saga"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewPgRepository(pool)
	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, repo.EnsureSchema(ctx), "schema bootstrap is repeatable")

	first := newRecord("00123", 100)
	require.NoError(t, repo.Insert(ctx, first))
	second := newRecord("00123", 100)
	second.CreatedAt = second.CreatedAt.Add(time.Second)
	require.NoError(t, repo.Insert(ctx, second))
	assert.ErrorIs(t, repo.Insert(ctx, first), ErrRecordExists)

	records, err := repo.ListBySchedule(ctx, 100)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, appointment.StatusProcessing, records[0].Status)
	assert.True(t, first.AppointmentDate.Equal(records[0].AppointmentDate))

	byInsured, err := repo.ListByInsured(ctx, "00123")
	require.NoError(t, err)
	assert.Len(t, byInsured, 2)

	assert.NoError(t, repo.Ping(ctx))
}
