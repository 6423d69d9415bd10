package appointment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentCreated   = "Appointment Created"
	EventAppointmentConfirmed = "Appointment Confirmed"
)

// CreatedEvent is emitted once per successful intake. It carries no retry or
// sequence number, so consumers cannot tell a redelivery from the original.
type CreatedEvent struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	InsuredID     string    `json:"insuredId"`
	ScheduleID    int64     `json:"scheduleId"`
	CountryISO    Country   `json:"countryISO"`
	CreatedAt     time.Time `json:"createdAt"`
}

func NewCreatedEvent(a *Appointment) CreatedEvent {
	return CreatedEvent{
		AppointmentID: a.ID,
		InsuredID:     a.InsuredID,
		ScheduleID:    a.ScheduleID,
		CountryISO:    a.CountryISO,
		CreatedAt:     a.CreatedAt,
	}
}

// Validate checks that every field is present and well formed.
func (e CreatedEvent) Validate() error {
	switch {
	case e.AppointmentID == uuid.Nil:
		return fmt.Errorf("%w: appointmentId is required", ErrValidation)
	case !ValidInsuredID(e.InsuredID):
		return fmt.Errorf("%w: insuredId must be exactly 5 digits", ErrValidation)
	case e.ScheduleID < 1:
		return fmt.Errorf("%w: scheduleId must be positive", ErrValidation)
	case e.CreatedAt.IsZero():
		return fmt.Errorf("%w: createdAt is required", ErrValidation)
	}
	_, err := ParseCountry(string(e.CountryISO))
	return err
}

type ConfirmedEvent struct {
	AppointmentID uuid.UUID         `json:"appointmentId"`
	CountryISO    Country           `json:"countryISO"`
	Status        AppointmentStatus `json:"status"`
	ConfirmedAt   time.Time         `json:"confirmedAt"`
}

func (e ConfirmedEvent) Validate() error {
	if e.AppointmentID == uuid.Nil {
		return fmt.Errorf("%w: appointmentId is required", ErrValidation)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, e.Status)
	}
	_, err := ParseCountry(string(e.CountryISO))
	return err
}

// DecodeCreatedEvent accepts a bare event or one level of transport envelope.
func DecodeCreatedEvent(body []byte) (CreatedEvent, error) {
	var ev CreatedEvent
	if err := decodeEvent(body, &ev); err != nil {
		return CreatedEvent{}, err
	}
	return ev, nil
}

func DecodeConfirmedEvent(body []byte) (ConfirmedEvent, error) {
	var ev ConfirmedEvent
	if err := decodeEvent(body, &ev); err != nil {
		return ConfirmedEvent{}, err
	}
	return ev, nil
}

func decodeEvent(body []byte, dst any) error {
	inner, err := Unwrap(body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(inner, dst); err != nil {
		return fmt.Errorf("%w: malformed event: %v", ErrValidation, err)
	}
	return nil
}
