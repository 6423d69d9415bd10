// Package router fans CreatedEvents out to the country queue whose filter
// matches the event's countryISO.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/queue"
)

const countryAttribute = "countryISO"

// Subscription delivers to Target every notification whose countryISO
// attribute equals Country.
type Subscription struct {
	Name    string
	Country appointment.Country
	Target  queue.Sender
}

type Topic struct {
	name string
	subs []Subscription
	log  logrus.FieldLogger
	now  func() time.Time
}

func NewTopic(name string, log logrus.FieldLogger, subs ...Subscription) *Topic {
	return &Topic{
		name: name,
		subs: subs,
		log:  log.WithField("topic", name),
		now:  time.Now,
	}
}

// PublishCreated wraps ev in a notification envelope and delivers it to every
// matching subscription. Delivery errors are joined; a subscriber that
// already received the event keeps it, so a retried publish can duplicate.
func (t *Topic) PublishCreated(ctx context.Context, ev appointment.CreatedEvent) error {
	inner, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode created event: %w", err)
	}

	env := appointment.NotificationEnvelope{
		Type:      "Notification",
		MessageID: uuid.NewString(),
		Topic:     t.name,
		Message:   string(inner),
		Timestamp: t.now().UTC(),
		MessageAttributes: map[string]appointment.MessageAttribute{
			countryAttribute: {Type: "String", Value: string(ev.CountryISO)},
		},
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode notification envelope: %w", err)
	}

	log := t.log.WithFields(logrus.Fields{
		"appointment_id": ev.AppointmentID,
		"country":        ev.CountryISO,
		"message_id":     env.MessageID,
	})

	var errs []error
	delivered := 0
	for _, sub := range t.subs {
		if !sub.matches(env.MessageAttributes) {
			continue
		}
		if _, err := sub.Target.Send(ctx, body); err != nil {
			errs = append(errs, fmt.Errorf("deliver to %s: %w", sub.Name, err))
			continue
		}
		delivered++
	}

	if delivered == 0 && len(errs) == 0 {
		log.Warn("no subscription matched, event dropped")
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.WithField("subscriptions", delivered).Debug("created event routed")
	return nil
}

func (s Subscription) matches(attrs map[string]appointment.MessageAttribute) bool {
	attr, ok := attrs[countryAttribute]
	return ok && attr.Value == string(s.Country)
}
