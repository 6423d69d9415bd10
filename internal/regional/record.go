// Package regional holds the per-country durable record written by the
// country processors.
package regional

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-saga/internal/appointment"
)

// Record is created once per processing run. Its ID is generated
// independently of the appointment id, and nothing prevents two records
// for the same appointment.
type Record struct {
	ID              uuid.UUID                     `json:"id"`
	InsuredID       string                        `json:"insuredId"`
	ScheduleID      int64                         `json:"scheduleId"`
	CenterID        int                           `json:"centerId"`
	SpecialtyID     int                           `json:"specialtyId"`
	MedicID         int                           `json:"medicId"`
	AppointmentDate time.Time                     `json:"appointmentDate"`
	Status          appointment.AppointmentStatus `json:"status"`
	CreatedAt       time.Time                     `json:"createdAt"`
	UpdatedAt       time.Time                     `json:"updatedAt"`
}

var ErrRecordExists = errors.New("regional record id already exists")

type Repository interface {
	Insert(ctx context.Context, r *Record) error
	ListBySchedule(ctx context.Context, scheduleID int64) ([]Record, error)
	ListByInsured(ctx context.Context, insuredID string) ([]Record, error)
	Ping(ctx context.Context) error
}
