// Package eventbus carries ConfirmedEvents from the processors to the
// confirmation queue. Rules select events by detail-type and forward the
// bus envelope to a queue.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/queue"
)

const DefaultSource = "appointment.processor"

// ConfirmedPublisher is what a country processor needs from the bus.
type ConfirmedPublisher interface {
	PublishConfirmed(ctx context.Context, ev appointment.ConfirmedEvent) error
}

type Rule struct {
	Name       string
	DetailType string
	Target     queue.Sender
}

// ConfirmationRule forwards only "Appointment Confirmed" events.
func ConfirmationRule(target queue.Sender) Rule {
	return Rule{Name: "appointment-confirmed", DetailType: appointment.EventAppointmentConfirmed, Target: target}
}

func (r Rule) matches(detailType string) bool {
	return r.DetailType == detailType
}

func newEnvelope(source, detailType string, detail any, at time.Time) (appointment.BusEnvelope, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return appointment.BusEnvelope{}, fmt.Errorf("encode %s detail: %w", detailType, err)
	}
	return appointment.BusEnvelope{
		Version:    "0",
		ID:         uuid.NewString(),
		DetailType: detailType,
		Source:     source,
		Time:       at.UTC(),
		Detail:     raw,
	}, nil
}

// forward sends body to every rule matching detailType and reports how many
// rules matched.
func forward(ctx context.Context, rules []Rule, detailType string, body []byte) (int, error) {
	var errs []error
	matched := 0
	for _, r := range rules {
		if !r.matches(detailType) {
			continue
		}
		matched++
		if _, err := r.Target.Send(ctx, body); err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", r.Name, err))
		}
	}
	return matched, errors.Join(errs...)
}
