//go:build integration

package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"

	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/queue"
)

func TestKafkaBus_BridgeForwardsToConfirmationQueue(t *testing.T) {
	ctx := context.Background()

	container, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v23.3.3", redpanda.WithAutoCreateTopics())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	broker, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)
	brokers := []string{broker}

	log, _ := test.NewNullLogger()
	bus := NewKafkaBus(brokers, "appointment-events", "", log)
	t.Cleanup(func() { _ = bus.Close() })

	ev := confirmedEvent()
	require.NoError(t, bus.PublishConfirmed(ctx, ev))

	target := queue.NewMemoryQueue("appointments-confirmation", queue.DefaultPolicy())
	bridge := NewBridge(brokers, "appointment-events", "bridge-test", log, ConfirmationRule(target))
	t.Cleanup(func() { _ = bridge.Close() })

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = bridge.Run(runCtx) }()

	var msgs []queue.Message
	require.Eventually(t, func() bool {
		msgs, err = target.Receive(ctx, 10)
		return err == nil && len(msgs) == 1
	}, 30*time.Second, 100*time.Millisecond)

	decoded, err := appointment.DecodeConfirmedEvent(msgs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, ev.AppointmentID, decoded.AppointmentID)
}
