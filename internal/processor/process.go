// Package processor turns a country's CreatedEvents into regional records
// and confirmations.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/eventbus"
	"github.com/hackgods/appointment-saga/internal/regional"
)

type Deps struct {
	Regional regional.Repository
	Bus      eventbus.ConfirmedPublisher
	Now      func() time.Time
	NewID    func() uuid.UUID
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d Deps) newID() uuid.UUID {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.New()
}

// Process runs one CreatedEvent through the country pipeline: validate,
// country hook, schedule decomposition, regional insert, confirmation.
// Running it twice for the same event writes two regional records.
func Process(ctx context.Context, deps Deps, s Strategy, ev appointment.CreatedEvent) (*regional.Record, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if ev.CountryISO != s.Country {
		return nil, &appointment.CountryMismatchError{Expected: s.Country, Got: ev.CountryISO}
	}
	if err := s.Validate(ev); err != nil {
		return nil, fmt.Errorf("%s rules: %w", s.Country, err)
	}

	slot := DecomposeSchedule(ev.ScheduleID, ev.CreatedAt, s.Location)
	now := deps.now()
	rec := &regional.Record{
		ID:              deps.newID(),
		InsuredID:       ev.InsuredID,
		ScheduleID:      ev.ScheduleID,
		CenterID:        slot.CenterID,
		SpecialtyID:     slot.SpecialtyID,
		MedicID:         slot.MedicID,
		AppointmentDate: slot.AppointmentDate,
		Status:          appointment.StatusProcessing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.ApplyRules(rec); err != nil {
		return nil, fmt.Errorf("%s rules: %w", s.Country, err)
	}

	if err := deps.Regional.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: write regional record: %w", appointment.ErrOperation, err)
	}

	confirmed := appointment.ConfirmedEvent{
		AppointmentID: ev.AppointmentID,
		CountryISO:    ev.CountryISO,
		Status:        appointment.StatusCompleted,
		ConfirmedAt:   deps.now(),
	}
	if err := deps.Bus.PublishConfirmed(ctx, confirmed); err != nil {
		return rec, fmt.Errorf("%w: publish confirmation: %w", appointment.ErrOperation, err)
	}

	return rec, nil
}
