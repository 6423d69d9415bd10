package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/metrics"
)

type recordingNotifier struct {
	got []Failure
	err error
}

func (r *recordingNotifier) Notify(ctx context.Context, f Failure) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.got = append(r.got, f)
	return r.err
}

func TestBestEffort_StampsAndForwards(t *testing.T) {
	log, _ := test.NewNullLogger()
	rec := &recordingNotifier{}
	be := NewBestEffort(rec, log, nil)
	be.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	be.Report(context.Background(), Failure{Stage: "processor_pe", AppointmentID: uuid.New(), Error: "boom"})

	require.Len(t, rec.got, 1)
	assert.Equal(t, be.now(), rec.got[0].OccurredAt)
}

func TestBestEffort_SwallowsNotifierErrors(t *testing.T) {
	log, hook := test.NewNullLogger()
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	be := NewBestEffort(&recordingNotifier{err: errors.New("channel down")}, log, m)

	assert.NotPanics(t, func() {
		be.Report(context.Background(), Failure{Stage: "reconciler", Error: "not found"})
	})
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("failed")))
}

func TestBestEffort_SurvivesCancelledInvocation(t *testing.T) {
	log, _ := test.NewNullLogger()
	rec := &recordingNotifier{}
	be := NewBestEffort(rec, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	be.Report(ctx, Failure{Stage: "processor_cl", Error: "deadline"})

	assert.Len(t, rec.got, 1)
}

func TestLogNotifier_WritesErrorEntry(t *testing.T) {
	log, hook := test.NewNullLogger()
	id := uuid.New()

	require.NoError(t, NewLogNotifier(log).Notify(context.Background(), Failure{
		Stage:         "processor_pe",
		Country:       appointment.CountryPE,
		AppointmentID: id,
		ScheduleID:    100,
		Error:         "regional store unreachable",
	}))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "regional store unreachable", entry.Message)
	assert.Equal(t, id, entry.Data["appointment_id"])
}
