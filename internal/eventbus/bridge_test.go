package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/queue"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

// flakySender fails the first n sends.
type flakySender struct {
	mu       sync.Mutex
	failures int
	target   queue.Sender
}

func (s *flakySender) Send(ctx context.Context, body []byte) (string, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return "", errors.New("queue unavailable")
	}
	s.mu.Unlock()
	return s.target.Send(ctx, body)
}

func busMessage(t *testing.T, detailType string, header bool) kafka.Message {
	t.Helper()
	env, err := newEnvelope(DefaultSource, detailType, confirmedEvent(), time.Now())
	require.NoError(t, err)
	value, err := json.Marshal(env)
	require.NoError(t, err)

	msg := kafka.Message{Value: value}
	if header {
		msg.Headers = []kafka.Header{{Key: headerDetailType, Value: []byte(detailType)}}
	}
	return msg
}

func runBridge(t *testing.T, b *Bridge) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("bridge did not stop")
		}
	}
}

func TestBridge_ForwardsMatchingAndCommitsAll(t *testing.T) {
	log, _ := test.NewNullLogger()
	target := queue.NewMemoryQueue("appointments-confirmation", queue.DefaultPolicy())
	reader := &fakeReader{pending: []kafka.Message{
		busMessage(t, appointment.EventAppointmentConfirmed, true),
		busMessage(t, "Appointment Cancelled", true),
		busMessage(t, appointment.EventAppointmentConfirmed, false),
	}}

	stop := runBridge(t, newBridge(reader, log, ConfirmationRule(target)))
	require.Eventually(t, func() bool { return reader.commits() == 3 }, time.Second, 5*time.Millisecond)
	stop()

	depth, err := target.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, depth.Ready)
}

func TestBridge_RetriesBeforeCommitting(t *testing.T) {
	log, _ := test.NewNullLogger()
	target := queue.NewMemoryQueue("appointments-confirmation", queue.DefaultPolicy())
	sender := &flakySender{failures: 2, target: target}
	reader := &fakeReader{pending: []kafka.Message{busMessage(t, appointment.EventAppointmentConfirmed, true)}}

	b := newBridge(reader, log, ConfirmationRule(sender))
	b.backoff = time.Millisecond

	stop := runBridge(t, b)
	require.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	stop()

	depth, err := target.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth.Ready)
}

func TestBridge_StopsWithoutCommitWhileTargetDown(t *testing.T) {
	log, _ := test.NewNullLogger()
	sender := &flakySender{failures: 1 << 20, target: queue.NewMemoryQueue("x", queue.DefaultPolicy())}
	reader := &fakeReader{pending: []kafka.Message{busMessage(t, appointment.EventAppointmentConfirmed, true)}}

	b := newBridge(reader, log, ConfirmationRule(sender))
	b.backoff = time.Millisecond

	stop := runBridge(t, b)
	time.Sleep(20 * time.Millisecond)
	stop()

	assert.Zero(t, reader.commits())
}
