package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/app"
	"github.com/hackgods/appointment-saga/internal/appointment"
	"github.com/hackgods/appointment-saga/internal/config"
	"github.com/hackgods/appointment-saga/internal/logging"
)

func main() {
	count := flag.Int("count", 200, "number of appointments to book")
	bootstrapOnly := flag.Bool("bootstrap-only", false, "create the regional schemas and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load error")
	}
	log := logging.New(cfg.LogLevel)
	log.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer c.Close()

	if err := c.BootstrapRegional(ctx); err != nil {
		log.WithError(err).Fatal("bootstrap regional schemas")
	}
	log.Info("regional schemas ready")
	if *bootstrapOnly {
		return
	}

	gofakeit.Seed(time.Now().UnixNano())

	booked, conflicts, err := seedAppointments(ctx, c.Service, *count, log)
	if err != nil {
		log.WithError(err).Fatal("seed appointments")
	}

	log.WithFields(logrus.Fields{
		"booked":    booked,
		"conflicts": conflicts,
	}).Info("seed complete")
}

type booker interface {
	Create(ctx context.Context, in appointment.CreateInput) (*appointment.Appointment, error)
}

func seedAppointments(ctx context.Context, svc booker, count int, log logrus.FieldLogger) (int, int, error) {
	log.WithField("count", count).Info("seeding appointments")

	booked, conflicts := 0, 0
	for i := 0; i < count; i++ {
		in := appointment.CreateInput{
			InsuredID:  gofakeit.Numerify("#####"),
			ScheduleID: int64(gofakeit.Number(1, 999999)),
			CountryISO: appointment.Country(gofakeit.RandomString([]string{"PE", "CL"})),
		}

		_, err := svc.Create(ctx, in)
		switch {
		case err == nil:
			booked++
		case errors.Is(err, appointment.ErrConflict):
			conflicts++
		default:
			return booked, conflicts, err
		}

		if (i+1)%50 == 0 {
			log.WithField("progress", i+1).Info("appointments seeded")
		}
	}
	return booked, conflicts, nil
}
