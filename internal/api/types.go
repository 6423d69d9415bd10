package api

import (
	"github.com/google/uuid"

	"github.com/hackgods/appointment-saga/internal/appointment"
)

// CreateAppointmentRequest uses pointers so a missing field can be told apart
// from a zero value.
type CreateAppointmentRequest struct {
	InsuredID  *string `json:"insuredId"`
	ScheduleID *int64  `json:"scheduleId"`
	CountryISO *string `json:"countryISO"`
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CreatedData struct {
	AppointmentID uuid.UUID                     `json:"appointmentId"`
	Status        appointment.AppointmentStatus `json:"status"`
}

type ListResponse struct {
	Success bool                      `json:"success"`
	Data    []appointment.Appointment `json:"data"`
	Total   int                       `json:"total"`
}
