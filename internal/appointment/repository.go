package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the primary store. Every write is a single-record conditioned
// operation; there are no multi-record transactions.
type Repository interface {
	// Insert writes a only if no appointment with a.ID exists.
	Insert(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListByInsured returns the insured party's appointments ordered by creation time.
	ListByInsured(ctx context.Context, insuredID string) ([]Appointment, error)

	// For conflict checks
	FindActiveBySchedule(ctx context.Context, scheduleID int64) ([]Appointment, error)

	// UpdateStatus applies to only if the record exists and is still in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, at time.Time) (*Appointment, error)

	Ping(ctx context.Context) error
}
