//go:build integration

package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	redisclient "github.com/hackgods/appointment-saga/internal/redis"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisRepository(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t)

	repo := NewRedisRepository(client)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first := &Appointment{ID: uuid.New(), InsuredID: "00123", ScheduleID: 100, CountryISO: CountryPE, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	second := &Appointment{ID: uuid.New(), InsuredID: "00123", ScheduleID: 200, CountryISO: CountryCL, Status: StatusPending, CreatedAt: now.Add(time.Minute), UpdatedAt: now}

	require.NoError(t, repo.Insert(ctx, second))
	require.NoError(t, repo.Insert(ctx, first))
	assert.ErrorIs(t, repo.Insert(ctx, first), ErrAppointmentExists)

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.InsuredID, got.InsuredID)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt))

	list, err := repo.ListByInsured(ctx, "00123")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID, "ordered by creation time")

	active, err := repo.FindActiveBySchedule(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	updated, err := repo.UpdateStatus(ctx, first.ID, StatusPending, StatusProcessing, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, updated.Status)

	_, err = repo.UpdateStatus(ctx, first.ID, StatusPending, StatusFailed, now)
	assert.ErrorIs(t, err, ErrStaleStatus)

	_, err = repo.UpdateStatus(ctx, uuid.New(), StatusPending, StatusProcessing, now)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

type countingPublisher struct {
	mu sync.Mutex
	n  int
}

func (p *countingPublisher) PublishCreated(context.Context, CreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return nil
}

func TestService_ConcurrentBookingsOfOneSchedule(t *testing.T) {
	ctx := context.Background()
	client := startRedis(t)

	repo := NewRedisRepository(client)
	publisher := &countingPublisher{}
	log, _ := test.NewNullLogger()
	svc := NewService(repo, publisher, redisclient.NewRedisScheduleLocker(client, 5*time.Second), log)

	const bookers = 30
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		rejected int
		other    []error
	)
	start := make(chan struct{})
	for i := range bookers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			in := CreateInput{InsuredID: fmt.Sprintf("%05d", i+1), ScheduleID: 100, CountryISO: CountryPE}
			_, err := svc.Create(ctx, in)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrConflict):
				rejected++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 1, created)
	assert.Equal(t, bookers-1, rejected)
	assert.Equal(t, 1, publisher.n)

	active, err := repo.FindActiveBySchedule(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	exists, err := client.Exists(ctx, "lock:schedule:100").Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "lock released after booking")
}
