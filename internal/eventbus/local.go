package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/appointment"
)

// LocalBus applies its rules synchronously inside Put. Used by the standalone
// binary and tests.
type LocalBus struct {
	source string
	rules  []Rule
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewLocalBus(source string, log logrus.FieldLogger, rules ...Rule) *LocalBus {
	if source == "" {
		source = DefaultSource
	}
	return &LocalBus{source: source, rules: rules, log: log.WithField("bus", "local"), now: time.Now}
}

func (b *LocalBus) PublishConfirmed(ctx context.Context, ev appointment.ConfirmedEvent) error {
	return b.Put(ctx, appointment.EventAppointmentConfirmed, ev)
}

// Put wraps detail in a bus envelope and forwards it to the matching rules.
// Events no rule matches are discarded.
func (b *LocalBus) Put(ctx context.Context, detailType string, detail any) error {
	env, err := newEnvelope(b.source, detailType, detail, b.now())
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode bus envelope: %w", err)
	}

	matched, err := forward(ctx, b.rules, detailType, body)
	if err != nil {
		return err
	}
	if matched == 0 {
		b.log.WithField("detail_type", detailType).Debug("no rule matched")
	}
	return nil
}
