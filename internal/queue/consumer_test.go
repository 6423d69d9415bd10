package queue

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/hackgods/appointment-saga/internal/metrics"
)

type ConsumerSuite struct {
	suite.Suite
	ctx   context.Context
	queue *MemoryQueue
	log   *logrus.Logger
}

func TestConsumerSuite(t *testing.T) {
	suite.Run(t, new(ConsumerSuite))
}

func (s *ConsumerSuite) SetupTest() {
	s.ctx = context.Background()
	s.queue = NewMemoryQueue("appointments-pe", DefaultPolicy())
	s.log = logrus.New()
	s.log.SetOutput(io.Discard)
}

func (s *ConsumerSuite) send(bodies ...string) {
	for _, b := range bodies {
		_, err := s.queue.Send(s.ctx, []byte(b))
		s.Require().NoError(err)
	}
}

func (s *ConsumerSuite) consumer(mode AckMode, h HandlerFunc) *Consumer {
	return NewConsumer(s.queue, h, ConsumerConfig{
		Stage:             "processor_pe",
		BatchSize:         10,
		InvocationTimeout: time.Second,
		AckMode:           mode,
	}, s.log, nil)
}

var errTransient = errors.New("regional store unreachable")

func failOn(poison string) HandlerFunc {
	return func(ctx context.Context, msg Message) error {
		if string(msg.Body) == poison {
			return errTransient
		}
		return nil
	}
}

func (s *ConsumerSuite) TestBatchMode_AllSucceedAcksEverything() {
	s.send(`{"a":1}`, `{"a":2}`)

	res, err := s.consumer(AckPerBatch, failOn("never")).PollOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, res.Received)
	s.Equal(2, res.Acked)

	depth, err := s.queue.Depth(s.ctx)
	s.Require().NoError(err)
	s.Equal(Depth{}, depth)
}

func (s *ConsumerSuite) TestBatchMode_OnePoisonReturnsSiblings() {
	s.send(`{"a":1}`, `poison`, `{"a":3}`)

	res, err := s.consumer(AckPerBatch, failOn("poison")).PollOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, res.Succeeded)
	s.Equal(1, res.Failed)
	s.Equal(0, res.Acked)
	s.Equal(3, res.Released)

	msgs, err := s.queue.Receive(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(msgs, 3, "successful siblings are redelivered with the poison message")
	for _, m := range msgs {
		s.Equal(2, m.ReceiveCount)
	}
}

func (s *ConsumerSuite) TestMessageMode_OnlyFailuresReturn() {
	s.send(`{"a":1}`, `poison`, `{"a":3}`)

	res, err := s.consumer(AckPerMessage, failOn("poison")).PollOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, res.Acked)
	s.Equal(1, res.Released)

	msgs, err := s.queue.Receive(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Equal("poison", string(msgs[0].Body))
}

func (s *ConsumerSuite) TestPoisonMessageReachesDLQAfterThreeInvocations() {
	s.send(`poison`)
	c := s.consumer(AckPerMessage, failOn("poison"))

	for range 3 {
		res, err := c.PollOnce(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, res.Received)
	}

	res, err := c.PollOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, res.Received, "no fourth delivery")

	depth, err := s.queue.DLQ().Depth(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, depth.Ready)
}

func (s *ConsumerSuite) TestDeadLetterMetricCountsReceiveLimit() {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	policy := DefaultPolicy()
	policy.OnDeadLetter = m.AddDeadLettered
	s.queue = NewMemoryQueue("appointments-pe", policy)
	s.send(`poison`)

	c := NewConsumer(s.queue, failOn("poison"), ConsumerConfig{
		Stage:             "processor_pe",
		InvocationTimeout: time.Second,
		AckMode:           AckPerMessage,
	}, s.log, m)

	for range 3 {
		_, err := c.PollOnce(s.ctx)
		s.Require().NoError(err)
	}

	s.Equal(1.0, testutil.ToFloat64(m.DeadLettered.WithLabelValues("appointments-pe")))
}

func (s *ConsumerSuite) TestPermanentErrorDeadLettersImmediately() {
	s.send(`{"country":"CL"}`, `{"ok":true}`)

	h := HandlerFunc(func(ctx context.Context, msg Message) error {
		if string(msg.Body) == `{"country":"CL"}` {
			return Permanent(errors.New("country mismatch"))
		}
		return nil
	})

	res, err := s.consumer(AckPerBatch, h).PollOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, res.DeadLettered)
	s.Equal(1, res.Acked, "a permanent failure does not fail the batch")

	depth, err := s.queue.DLQ().Depth(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, depth.Ready)
}

func (s *ConsumerSuite) TestInvocationTimeoutLeavesBatchInFlight() {
	s.send(`{"a":1}`, `slow`, `{"a":3}`)

	h := HandlerFunc(func(ctx context.Context, msg Message) error {
		if string(msg.Body) == "slow" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	c := NewConsumer(s.queue, h, ConsumerConfig{
		Stage:             "reconciler",
		InvocationTimeout: 20 * time.Millisecond,
		AckMode:           AckPerBatch,
	}, s.log, nil)

	res, err := c.PollOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, res.Unfinished)
	s.Equal(0, res.Acked)
	s.Equal(0, res.Released)

	depth, err := s.queue.Depth(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, depth.InFlight, "aborted invocation acknowledges nothing")
}

func (s *ConsumerSuite) TestRunStopsOnCancel() {
	ctx, cancel := context.WithCancel(s.ctx)
	c := NewConsumer(s.queue, failOn("never"), ConsumerConfig{PollInterval: 5 * time.Millisecond}, s.log, nil)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	s.send(`{"a":1}`)
	s.Eventually(func() bool {
		d, _ := s.queue.Depth(s.ctx)
		return d == Depth{}
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("consumer did not stop")
	}
}

func (s *ConsumerSuite) TestParseAckMode() {
	s.Equal(AckPerMessage, ParseAckMode("message"))
	s.Equal(AckPerBatch, ParseAckMode("batch"))
	s.Equal(AckPerBatch, ParseAckMode(""))
}
