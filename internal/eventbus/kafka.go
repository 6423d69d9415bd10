package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/appointment"
)

const (
	headerDetailType = "detail-type"
	headerSource     = "source"
)

// KafkaBus publishes bus envelopes to a Kafka topic. Messages are keyed by
// appointment id so events of one appointment share a partition.
type KafkaBus struct {
	writer *kafka.Writer
	source string
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewKafkaBus(brokers []string, topic, source string, log logrus.FieldLogger) *KafkaBus {
	if source == "" {
		source = DefaultSource
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &KafkaBus{
		writer: writer,
		source: source,
		log:    log.WithFields(logrus.Fields{"bus": "kafka", "topic": topic}),
		now:    time.Now,
	}
}

func (b *KafkaBus) PublishConfirmed(ctx context.Context, ev appointment.ConfirmedEvent) error {
	return b.Put(ctx, ev.AppointmentID.String(), appointment.EventAppointmentConfirmed, ev)
}

func (b *KafkaBus) Put(ctx context.Context, key, detailType string, detail any) error {
	env, err := newEnvelope(b.source, detailType, detail, b.now())
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode bus envelope: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerDetailType, Value: []byte(detailType)},
			{Key: headerSource, Value: []byte(b.source)},
		},
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		b.log.WithError(err).WithFields(logrus.Fields{
			"event_id":    env.ID,
			"detail_type": detailType,
		}).Error("publish to bus failed")
		return fmt.Errorf("publish %s: %w", detailType, err)
	}

	b.log.WithFields(logrus.Fields{
		"event_id":    env.ID,
		"detail_type": detailType,
		"key":         key,
	}).Debug("event published")
	return nil
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}
