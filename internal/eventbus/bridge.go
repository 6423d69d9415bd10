package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Bridge consumes the bus topic and applies the rules to every event. An
// offset is committed only after all matching targets accepted the event.
type Bridge struct {
	reader  messageReader
	rules   []Rule
	log     logrus.FieldLogger
	backoff time.Duration
}

func NewBridge(brokers []string, topic, groupID string, log logrus.FieldLogger, rules ...Rule) *Bridge {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return newBridge(reader, log.WithFields(logrus.Fields{"stage": "bridge", "topic": topic}), rules...)
}

func newBridge(reader messageReader, log logrus.FieldLogger, rules ...Rule) *Bridge {
	return &Bridge{reader: reader, rules: rules, log: log, backoff: time.Second}
}

func (b *Bridge) Run(ctx context.Context) error {
	b.log.Info("bridge started")
	for {
		msg, err := b.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				b.log.Info("bridge stopped")
				return nil
			}
			b.log.WithError(err).Error("fetch failed")
			if !b.sleep(ctx) {
				return nil
			}
			continue
		}

		if !b.deliver(ctx, msg) {
			return nil
		}
		if err := b.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			b.log.WithError(err).WithField("offset", msg.Offset).Error("commit failed")
		}
	}
}

// deliver retries until every matching rule accepted msg. It returns false
// only when ctx ends first.
func (b *Bridge) deliver(ctx context.Context, msg kafka.Message) bool {
	detailType := detailTypeOf(msg)
	log := b.log.WithFields(logrus.Fields{
		"detail_type": detailType,
		"partition":   msg.Partition,
		"offset":      msg.Offset,
	})

	for {
		matched, err := forward(ctx, b.rules, detailType, msg.Value)
		if err == nil {
			if matched == 0 {
				log.Debug("no rule matched")
			}
			return true
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return false
		}
		log.WithError(err).Warn("forward failed, retrying")
		if !b.sleep(ctx) {
			return false
		}
	}
}

func (b *Bridge) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(b.backoff):
		return true
	}
}

func (b *Bridge) Close() error {
	return b.reader.Close()
}

// detailTypeOf prefers the header and falls back to the envelope field.
func detailTypeOf(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == headerDetailType {
			return string(h.Value)
		}
	}
	var env struct {
		DetailType string `json:"detail-type"`
	}
	if json.Unmarshal(msg.Value, &env) == nil {
		return env.DetailType
	}
	return ""
}
