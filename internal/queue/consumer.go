package queue

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/metrics"
)

type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// AckMode decides how a batch is acknowledged.
type AckMode int

const (
	// AckPerBatch acknowledges the batch as a unit: one retryable failure
	// returns every message of the batch to the queue.
	AckPerBatch AckMode = iota
	// AckPerMessage acknowledges successes and releases only the failures.
	AckPerMessage
)

func ParseAckMode(s string) AckMode {
	if s == "message" {
		return AckPerMessage
	}
	return AckPerBatch
}

type ConsumerConfig struct {
	Stage             string
	BatchSize         int
	InvocationTimeout time.Duration
	PollInterval      time.Duration
	AckMode           AckMode
}

type Consumer struct {
	queue   Queue
	handler Handler
	cfg     ConsumerConfig
	log     logrus.FieldLogger
	metrics *metrics.Pipeline
}

func NewConsumer(q Queue, h Handler, cfg ConsumerConfig, log logrus.FieldLogger, m *metrics.Pipeline) *Consumer {
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatch {
		cfg.BatchSize = MaxBatch
	}
	if cfg.InvocationTimeout <= 0 {
		cfg.InvocationTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Consumer{
		queue:   q,
		handler: h,
		cfg:     cfg,
		log:     log.WithFields(logrus.Fields{"stage": cfg.Stage, "queue": q.Name()}),
		metrics: m,
	}
}

// BatchResult summarizes one invocation.
type BatchResult struct {
	Received     int
	Succeeded    int
	Failed       int
	DeadLettered int
	// Unfinished messages were cut off by the invocation timeout and stay
	// in flight until their visibility expires.
	Unfinished int
	Acked      int
	Released   int
}

// Run polls until ctx is cancelled. Invocations run one after another; scale
// out by running more consumers.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("consumer started")
	for {
		if ctx.Err() != nil {
			c.log.Info("consumer stopped")
			return nil
		}

		res, err := c.PollOnce(ctx)
		if err != nil && ctx.Err() == nil {
			c.log.WithError(err).Error("poll failed")
		}
		if res.Received > 0 {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

// PollOnce receives one batch and handles it sequentially within the
// invocation budget.
func (c *Consumer) PollOnce(ctx context.Context) (BatchResult, error) {
	msgs, err := c.queue.Receive(ctx, c.cfg.BatchSize)
	if err != nil {
		return BatchResult{}, err
	}
	res := BatchResult{Received: len(msgs)}
	if len(msgs) == 0 {
		return res, nil
	}

	invCtx, cancel := context.WithTimeout(ctx, c.cfg.InvocationTimeout)
	defer cancel()

	var succeeded, failed []Message
	timedOut := false

	for i, msg := range msgs {
		if invCtx.Err() != nil {
			timedOut = true
			res.Unfinished += len(msgs) - i
			break
		}

		log := c.log.WithFields(logrus.Fields{
			"message_id":    msg.ID,
			"receive_count": msg.ReceiveCount,
		})

		start := time.Now()
		err := c.handler.Handle(invCtx, msg)
		elapsed := time.Since(start)

		switch {
		case err == nil:
			c.metrics.ObserveStage(c.cfg.Stage, "ok", elapsed)
			succeeded = append(succeeded, msg)

		case IsPermanent(err):
			c.metrics.ObserveStage(c.cfg.Stage, "permanent", elapsed)
			log.WithError(err).Warn("permanent failure, dead-lettering message")
			if dlErr := c.queue.DeadLetter(ctx, msg.ReceiptHandle); dlErr != nil {
				log.WithError(dlErr).Error("dead-letter failed")
				continue
			}
			res.DeadLettered++

		case errors.Is(invCtx.Err(), context.DeadlineExceeded):
			c.metrics.ObserveStage(c.cfg.Stage, "timeout", elapsed)
			log.WithError(err).Error("invocation timed out")
			timedOut = true
			res.Unfinished += len(msgs) - i

		default:
			c.metrics.ObserveStage(c.cfg.Stage, "error", elapsed)
			log.WithError(err).Error("message handling failed")
			failed = append(failed, msg)
		}

		if timedOut {
			break
		}
	}

	res.Succeeded = len(succeeded)
	res.Failed = len(failed)

	switch c.cfg.AckMode {
	case AckPerMessage:
		res.Acked = c.settle(ctx, succeeded, c.queue.Ack, "ack")
		res.Released = c.settle(ctx, failed, c.queue.Nack, "release")
	default:
		switch {
		case len(failed) > 0:
			// the whole batch goes back, successes included
			res.Released = c.settle(ctx, append(succeeded, failed...), c.queue.Nack, "release")
		case timedOut:
			// an aborted invocation acknowledges nothing
		default:
			res.Acked = c.settle(ctx, succeeded, c.queue.Ack, "ack")
		}
	}

	if res.DeadLettered+res.Failed+res.Unfinished > 0 {
		c.log.WithFields(logrus.Fields{
			"received":      res.Received,
			"succeeded":     res.Succeeded,
			"failed":        res.Failed,
			"dead_lettered": res.DeadLettered,
			"unfinished":    res.Unfinished,
		}).Warn("batch finished with failures")
	}
	return res, nil
}

func (c *Consumer) settle(ctx context.Context, msgs []Message, op func(context.Context, string) error, name string) int {
	done := 0
	for _, msg := range msgs {
		if err := op(ctx, msg.ReceiptHandle); err != nil {
			c.log.WithError(err).WithField("message_id", msg.ID).Errorf("%s failed", name)
			continue
		}
		done++
	}
	return done
}
