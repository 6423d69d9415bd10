package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/metrics"
	redisclient "github.com/hackgods/appointment-saga/internal/redis"
)

var ErrScheduleBeingBooked = fmt.Errorf("schedule slot is currently being booked, please retry: %w", ErrConflict)

// CreatedPublisher hands a CreatedEvent to the router.
type CreatedPublisher interface {
	PublishCreated(ctx context.Context, ev CreatedEvent) error
}

type Service struct {
	repo      Repository
	publisher CreatedPublisher
	locker    redisclient.Locker
	log       logrus.FieldLogger
	metrics   *metrics.Pipeline
	now       func() time.Time
	newID     func() uuid.UUID
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(s *Service) { s.newID = fn }
}

func WithMetrics(m *metrics.Pipeline) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(repo Repository, publisher CreatedPublisher, locker redisclient.Locker, log logrus.FieldLogger, opts ...Option) *Service {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	s := &Service{
		repo:      repo,
		publisher: publisher,
		locker:    locker,
		log:       log,
		now:       time.Now,
		newID:     uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a PENDING appointment and publishes its CreatedEvent.
// A failing conflict query is treated as no conflict. If the publish fails the
// appointment stays PENDING and is returned together with the error.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{
		"stage":       "intake",
		"insured_id":  in.InsuredID,
		"schedule_id": in.ScheduleID,
		"country":     in.CountryISO,
	})

	var created *Appointment
	locked := false

	book := func(ctx context.Context) error {
		locked = true
		if err := s.checkConflict(ctx, in.ScheduleID, log); err != nil {
			return err
		}

		now := s.now().UTC()
		appt := &Appointment{
			ID:         s.newID(),
			InsuredID:  in.InsuredID,
			ScheduleID: in.ScheduleID,
			CountryISO: in.CountryISO,
			Status:     StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.repo.Insert(ctx, appt); err != nil {
			if errors.Is(err, ErrConflict) {
				return err
			}
			return fmt.Errorf("%w: insert appointment: %w", ErrOperation, err)
		}
		created = appt
		return nil
	}

	err := s.locker.WithScheduleLock(ctx, in.ScheduleID, book)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.metrics.IncConflict()
		return nil, ErrScheduleBeingBooked
	case err != nil && !locked:
		// lock backend unreachable: same availability-first policy as the conflict check
		log.WithError(err).Warn("schedule lock unavailable, booking without lock")
		err = book(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.IncCreated(string(created.CountryISO))
	log = log.WithField("appointment_id", created.ID)
	log.Info("appointment created")

	if err := s.publisher.PublishCreated(ctx, NewCreatedEvent(created)); err != nil {
		log.WithError(err).Error("publish created event failed, appointment left PENDING")
		return created, fmt.Errorf("%w: publish created event: %w", ErrOperation, err)
	}

	return created, nil
}

func (s *Service) checkConflict(ctx context.Context, scheduleID int64, log logrus.FieldLogger) error {
	existing, err := s.repo.FindActiveBySchedule(ctx, scheduleID)
	if err != nil {
		s.metrics.IncConflictCheckFailOpen()
		log.WithError(err).Warn("conflict check failed, proceeding as no conflict")
		return nil
	}
	if len(existing) > 0 {
		s.metrics.IncConflict()
		return ErrScheduleAlreadyBooked
	}
	return nil
}

// ListByInsured returns every appointment of an insured party in creation
// order. An unknown insured id yields an empty slice.
func (s *Service) ListByInsured(ctx context.Context, insuredID string) ([]Appointment, error) {
	if !ValidInsuredID(insuredID) {
		return nil, fmt.Errorf("%w: insuredId must be exactly 5 digits", ErrValidation)
	}
	list, err := s.repo.ListByInsured(ctx, insuredID)
	if err != nil {
		return nil, fmt.Errorf("%w: list appointments by insured: %w", ErrOperation, err)
	}
	if list == nil {
		list = []Appointment{}
	}
	return list, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get appointment: %w", ErrOperation, err)
	}
	return appt, nil
}

// UpdateStatus moves an existing appointment one step along the transition table.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, next AppointmentStatus) (*Appointment, error) {
	appt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, appt, next)
}

// AdvanceTo drives an appointment forward until it reaches target. Reaching a
// status the appointment already holds is a no-op, so redelivered
// confirmations do not fail.
func (s *Service) AdvanceTo(ctx context.Context, id uuid.UUID, target AppointmentStatus) (*Appointment, error) {
	appt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == target {
		return appt, nil
	}
	if appt.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is terminal, cannot reach %s", ErrInvalidStatusTransition, appt.Status, target)
	}

	steps, err := PathTo(appt.Status, target)
	if err != nil {
		return nil, err
	}
	for _, next := range steps {
		if appt, err = s.transition(ctx, appt, next); err != nil {
			return nil, err
		}
	}
	return appt, nil
}

func (s *Service) transition(ctx context.Context, appt *Appointment, next AppointmentStatus) (*Appointment, error) {
	if err := CheckTransition(appt.Status, next); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, appt.ID, appt.Status, next, s.now().UTC())
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: update status %s -> %s: %w", ErrOperation, appt.Status, next, err)
	}

	s.log.WithFields(logrus.Fields{
		"stage":          "reconciler",
		"appointment_id": appt.ID,
		"from":           appt.Status,
		"to":             next,
	}).Info("appointment status updated")

	return updated, nil
}
