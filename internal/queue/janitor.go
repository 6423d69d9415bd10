package queue

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Janitor periodically returns expired in-flight messages to their queues
// (or to the DLQ once out of receives) and drops messages past retention.
// Receive does the same lazily; the janitor keeps idle queues tidy.
type Janitor struct {
	queues   []Queue
	interval time.Duration
	log      logrus.FieldLogger
}

func NewJanitor(interval time.Duration, log logrus.FieldLogger, queues ...Queue) *Janitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Janitor{queues: queues, interval: interval, log: log.WithField("stage", "janitor")}
}

// Run sweeps once at startup and then on every tick until ctx ends.
func (j *Janitor) Run(ctx context.Context) error {
	j.RunOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("janitor stopped")
			return nil
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps every queue and returns how many messages were moved.
func (j *Janitor) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	total := 0
	for _, q := range j.queues {
		start := time.Now()
		moved, err := q.Reclaim(runCtx)
		if err != nil {
			j.log.WithError(err).WithField("queue", q.Name()).Error("reclaim failed")
			continue
		}
		total += moved
		if moved > 0 {
			j.log.WithFields(logrus.Fields{
				"queue":       q.Name(),
				"moved":       moved,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("expired messages reclaimed")
		}
	}
	return total
}

// RedriveAll moves up to max dead-lettered messages of every queue back to
// its source queue.
func (j *Janitor) RedriveAll(ctx context.Context, max int) (int, error) {
	total := 0
	for _, q := range j.queues {
		n, err := q.Redrive(ctx, max)
		if err != nil {
			return total, err
		}
		if n > 0 {
			j.log.WithFields(logrus.Fields{"queue": q.Name(), "redriven": n}).Info("dead letters redriven")
		}
		total += n
	}
	return total, nil
}
