// Package reconciler applies confirmations to the primary store.
package reconciler

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/notify"
	"github.com/hackgods/appointment-saga/internal/queue"
)

const Stage = "reconciler"

type StatusUpdater interface {
	AdvanceTo(ctx context.Context, id uuid.UUID, target appointment.AppointmentStatus) (*appointment.Appointment, error)
}

type Reporter interface {
	Report(ctx context.Context, f notify.Failure)
}

type Handler struct {
	svc      StatusUpdater
	reporter Reporter
	log      logrus.FieldLogger
}

func NewHandler(svc StatusUpdater, reporter Reporter, log logrus.FieldLogger) *Handler {
	return &Handler{svc: svc, reporter: reporter, log: log.WithField("stage", Stage)}
}

// Handle moves the appointment to the confirmed status. Every error,
// including an unknown appointment or a disallowed transition, is returned
// and left to the queue's retry and dead-letter policy.
func (h *Handler) Handle(ctx context.Context, msg queue.Message) error {
	ev, err := appointment.DecodeConfirmedEvent(msg.Body)
	if err == nil {
		err = ev.Validate()
	}
	if err != nil {
		h.report(ctx, ev, err)
		return err
	}

	log := h.log.WithFields(logrus.Fields{
		"appointment_id": ev.AppointmentID,
		"country":        ev.CountryISO,
		"message_id":     msg.ID,
		"receive_count":  msg.ReceiveCount,
	})

	appt, err := h.svc.AdvanceTo(ctx, ev.AppointmentID, ev.Status)
	if err != nil {
		h.report(ctx, ev, err)
		return err
	}

	log.WithField("status", appt.Status).Info("appointment reconciled")
	return nil
}

func (h *Handler) report(ctx context.Context, ev appointment.ConfirmedEvent, err error) {
	h.reporter.Report(ctx, notify.Failure{
		Stage:         Stage,
		Country:       ev.CountryISO,
		AppointmentID: ev.AppointmentID,
		Error:         err.Error(),
	})
}
