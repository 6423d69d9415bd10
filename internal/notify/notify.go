// Package notify is the error side channel. Processors and the reconciler
// report failures here; delivery is best effort and never changes how the
// failing message is retried.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/metrics"
)

type Failure struct {
	Stage         string              `json:"stage"`
	Country       appointment.Country `json:"countryISO,omitempty"`
	AppointmentID uuid.UUID           `json:"appointmentId"`
	ScheduleID    int64               `json:"scheduleId,omitempty"`
	Error         string              `json:"error"`
	OccurredAt    time.Time           `json:"occurredAt"`
}

type Notifier interface {
	Notify(ctx context.Context, f Failure) error
}

// RedisNotifier publishes failures as JSON on a pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, f Failure) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode failure: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", n.channel, err)
	}
	return nil
}

// LogNotifier writes failures to the log. Standalone mode uses it instead of
// a pub/sub channel.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, f Failure) error {
	n.log.WithFields(logrus.Fields{
		"stage":          f.Stage,
		"country":        f.Country,
		"appointment_id": f.AppointmentID,
		"schedule_id":    f.ScheduleID,
		"occurred_at":    f.OccurredAt,
	}).Error(f.Error)
	return nil
}

// BestEffort wraps a Notifier and swallows its errors.
type BestEffort struct {
	next    Notifier
	log     logrus.FieldLogger
	metrics *metrics.Pipeline
	timeout time.Duration
	now     func() time.Time
}

func NewBestEffort(next Notifier, log logrus.FieldLogger, m *metrics.Pipeline) *BestEffort {
	return &BestEffort{next: next, log: log, metrics: m, timeout: 2 * time.Second, now: time.Now}
}

// Report sends a failure for the given stage. It never fails; a notifier error
// is logged and counted.
func (b *BestEffort) Report(ctx context.Context, f Failure) {
	if f.OccurredAt.IsZero() {
		f.OccurredAt = b.now().UTC()
	}

	// the invocation budget may be exhausted already; the report gets its own
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	if err := b.next.Notify(ctx, f); err != nil {
		b.metrics.IncNotification("failed")
		b.log.WithError(err).WithFields(logrus.Fields{
			"stage":          f.Stage,
			"appointment_id": f.AppointmentID,
		}).Warn("error notification dropped")
		return
	}
	b.metrics.IncNotification("sent")
}
