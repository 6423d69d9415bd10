package processor

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/notify"
	"github.com/hackgods/appointment-saga/internal/queue"
)

// Reporter receives failures for the error side channel.
type Reporter interface {
	Report(ctx context.Context, f notify.Failure)
}

// Handler consumes one country queue.
type Handler struct {
	deps     Deps
	strategy Strategy
	reporter Reporter
	log      logrus.FieldLogger
}

func NewHandler(deps Deps, s Strategy, reporter Reporter, log logrus.FieldLogger) *Handler {
	return &Handler{
		deps:     deps,
		strategy: s,
		reporter: reporter,
		log:      log.WithFields(logrus.Fields{"stage": Stage(s.Country), "country": s.Country}),
	}
}

// Stage names the processor of country c in logs and metrics.
func Stage(c appointment.Country) string {
	return "processor_" + strings.ToLower(string(c))
}

// Handle reports every failure and returns it so the queue retries.
// Validation failures, country mismatch included, are marked permanent.
func (h *Handler) Handle(ctx context.Context, msg queue.Message) error {
	ev, err := appointment.DecodeCreatedEvent(msg.Body)
	if err != nil {
		h.report(ctx, ev, err)
		return queue.Permanent(err)
	}

	log := h.log.WithFields(logrus.Fields{
		"appointment_id": ev.AppointmentID,
		"schedule_id":    ev.ScheduleID,
		"message_id":     msg.ID,
		"receive_count":  msg.ReceiveCount,
	})

	rec, err := Process(ctx, h.deps, h.strategy, ev)
	if err != nil {
		h.report(ctx, ev, err)
		if errors.Is(err, appointment.ErrValidation) {
			return queue.Permanent(err)
		}
		return err
	}

	log.WithField("regional_id", rec.ID).Info("appointment processed")
	return nil
}

func (h *Handler) report(ctx context.Context, ev appointment.CreatedEvent, err error) {
	h.reporter.Report(ctx, notify.Failure{
		Stage:         Stage(h.strategy.Country),
		Country:       h.strategy.Country,
		AppointmentID: ev.AppointmentID,
		ScheduleID:    ev.ScheduleID,
		Error:         err.Error(),
	})
}
