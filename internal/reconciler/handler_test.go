package reconciler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/notify"
	"github.com/hackgods/appointment-saga/internal/queue"
)

type discardPublisher struct{}

func (discardPublisher) PublishCreated(context.Context, appointment.CreatedEvent) error { return nil }

type recordingReporter struct {
	got []notify.Failure
}

func (r *recordingReporter) Report(_ context.Context, f notify.Failure) {
	r.got = append(r.got, f)
}

type HandlerSuite struct {
	suite.Suite
	ctx      context.Context
	repo     *appointment.LevelDBRepository
	svc      *appointment.Service
	reporter *recordingReporter
	handler  *Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctx = context.Background()

	repo, err := appointment.OpenLevelDBInMemory()
	s.Require().NoError(err)
	s.repo = repo

	log, _ := test.NewNullLogger()
	s.svc = appointment.NewService(repo, discardPublisher{}, nil, log)
	s.reporter = &recordingReporter{}
	s.handler = NewHandler(s.svc, s.reporter, log)
}

func (s *HandlerSuite) TearDownTest() {
	s.NoError(s.repo.Close())
}

func (s *HandlerSuite) book(schedule int64) *appointment.Appointment {
	appt, err := s.svc.Create(s.ctx, appointment.CreateInput{InsuredID: "00123", ScheduleID: schedule, CountryISO: appointment.CountryPE})
	s.Require().NoError(err)
	return appt
}

func (s *HandlerSuite) confirmation(id uuid.UUID, status appointment.AppointmentStatus) queue.Message {
	body, err := json.Marshal(appointment.ConfirmedEvent{
		AppointmentID: id,
		CountryISO:    appointment.CountryPE,
		Status:        status,
		ConfirmedAt:   time.Now().UTC(),
	})
	s.Require().NoError(err)
	return queue.Message{ID: "m", Body: body, ReceiveCount: 1}
}

func (s *HandlerSuite) status(id uuid.UUID) appointment.AppointmentStatus {
	appt, err := s.svc.Get(s.ctx, id)
	s.Require().NoError(err)
	return appt.Status
}

func (s *HandlerSuite) TestPendingBecomesCompleted() {
	appt := s.book(100)

	s.Require().NoError(s.handler.Handle(s.ctx, s.confirmation(appt.ID, appointment.StatusCompleted)))
	s.Equal(appointment.StatusCompleted, s.status(appt.ID))
	s.Empty(s.reporter.got)
}

func (s *HandlerSuite) TestRedeliveredConfirmationIsNoop() {
	appt := s.book(101)
	msg := s.confirmation(appt.ID, appointment.StatusCompleted)

	s.Require().NoError(s.handler.Handle(s.ctx, msg))
	s.Require().NoError(s.handler.Handle(s.ctx, msg))
	s.Equal(appointment.StatusCompleted, s.status(appt.ID))
}

func (s *HandlerSuite) TestUnknownAppointmentPropagates() {
	err := s.handler.Handle(s.ctx, s.confirmation(uuid.New(), appointment.StatusCompleted))
	s.ErrorIs(err, appointment.ErrNotFound)
	s.False(queue.IsPermanent(err), "left to the retry policy")
	s.Len(s.reporter.got, 1)
	s.Equal(Stage, s.reporter.got[0].Stage)
}

func (s *HandlerSuite) TestDisallowedTransitionRejected() {
	appt := s.book(102)
	_, err := s.svc.UpdateStatus(s.ctx, appt.ID, appointment.StatusFailed)
	s.Require().NoError(err)

	err = s.handler.Handle(s.ctx, s.confirmation(appt.ID, appointment.StatusCompleted))
	s.ErrorIs(err, appointment.ErrValidation)
	s.Equal(appointment.StatusFailed, s.status(appt.ID), "update not applied")
}

func (s *HandlerSuite) TestMalformedBodyPropagates() {
	err := s.handler.Handle(s.ctx, queue.Message{ID: "bad", Body: []byte("{")})
	s.ErrorIs(err, appointment.ErrValidation)
	s.Len(s.reporter.got, 1)
}

func TestHandler_BusEnvelopeAccepted(t *testing.T) {
	repo, err := appointment.OpenLevelDBInMemory()
	require.NoError(t, err)
	defer repo.Close()

	log, _ := test.NewNullLogger()
	svc := appointment.NewService(repo, discardPublisher{}, nil, log)
	appt, err := svc.Create(context.Background(), appointment.CreateInput{InsuredID: "00001", ScheduleID: 5, CountryISO: appointment.CountryCL})
	require.NoError(t, err)

	detail, err := json.Marshal(appointment.ConfirmedEvent{
		AppointmentID: appt.ID,
		CountryISO:    appointment.CountryCL,
		Status:        appointment.StatusCompleted,
		ConfirmedAt:   time.Now(),
	})
	require.NoError(t, err)
	body, err := json.Marshal(appointment.BusEnvelope{DetailType: appointment.EventAppointmentConfirmed, Detail: detail})
	require.NoError(t, err)

	h := NewHandler(svc, &recordingReporter{}, log)
	require.NoError(t, h.Handle(context.Background(), queue.Message{ID: "e", Body: body}))

	got, err := svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	require.Equal(t, appointment.StatusCompleted, got.Status)
}
