package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending    AppointmentStatus = "PENDING"
	StatusProcessing AppointmentStatus = "PROCESSING"
	StatusCompleted  AppointmentStatus = "COMPLETED"
	StatusFailed     AppointmentStatus = "FAILED"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Active statuses hold the schedule slot for conflict purposes.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

type Country string

const (
	CountryPE Country = "PE"
	CountryCL Country = "CL"
)

// Countries lists every supported country in a stable order.
var Countries = []Country{CountryPE, CountryCL}

func ParseCountry(raw string) (Country, error) {
	switch c := Country(raw); c {
	case CountryPE, CountryCL:
		return c, nil
	}
	return "", fmt.Errorf("%w: countryISO must be PE or CL, got %q", ErrValidation, raw)
}

type Appointment struct {
	ID         uuid.UUID         `json:"id"`
	InsuredID  string            `json:"insuredId"`
	ScheduleID int64             `json:"scheduleId"`
	CountryISO Country           `json:"countryISO"`
	Status     AppointmentStatus `json:"status"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

type CreateInput struct {
	InsuredID  string
	ScheduleID int64
	CountryISO Country
}

// Validate checks the shape rules the HTTP layer also enforces.
func (in CreateInput) Validate() error {
	if !ValidInsuredID(in.InsuredID) {
		return fmt.Errorf("%w: insuredId must be exactly 5 digits", ErrValidation)
	}
	if in.ScheduleID < 1 {
		return fmt.Errorf("%w: scheduleId must be a positive integer", ErrValidation)
	}
	if _, err := ParseCountry(string(in.CountryISO)); err != nil {
		return err
	}
	return nil
}

func ValidInsuredID(id string) bool {
	if len(id) != 5 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
