package processor

import (
	"fmt"
	"time"

	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/regional"
)

// Strategy carries what differs between countries. The hooks are no-ops for
// both countries today.
type Strategy struct {
	Country  appointment.Country
	Location *time.Location

	// Validate runs after the common event checks.
	Validate func(ev appointment.CreatedEvent) error
	// ApplyRules may adjust the record before it is written.
	ApplyRules func(rec *regional.Record) error
}

var (
	peru = Strategy{
		Country:    appointment.CountryPE,
		Location:   time.FixedZone("PET", -5*60*60),
		Validate:   func(appointment.CreatedEvent) error { return nil },
		ApplyRules: func(*regional.Record) error { return nil },
	}
	chile = Strategy{
		Country:    appointment.CountryCL,
		Location:   time.FixedZone("CLT", -4*60*60),
		Validate:   func(appointment.CreatedEvent) error { return nil },
		ApplyRules: func(*regional.Record) error { return nil },
	}
)

func StrategyFor(c appointment.Country) (Strategy, error) {
	switch c {
	case appointment.CountryPE:
		return peru, nil
	case appointment.CountryCL:
		return chile, nil
	default:
		return Strategy{}, fmt.Errorf("%w: no processor for country %q", appointment.ErrValidation, c)
	}
}
