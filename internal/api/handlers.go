package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-saga/internal/appointment"
)

type AppointmentService interface {
	Create(ctx context.Context, in appointment.CreateInput) (*appointment.Appointment, error)
	ListByInsured(ctx context.Context, insuredID string) ([]appointment.Appointment, error)
}

func createAppointmentHandler(svc AppointmentService, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "could not parse JSON")
			return
		}

		in, err := req.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request", err.Error())
			return
		}

		appt, err := svc.Create(r.Context(), in)
		if err != nil {
			if appt != nil {
				// stored but not routed; the appointment stays PENDING
				log.WithError(err).WithFields(logrus.Fields{
					"appointment_id": appt.ID,
					"request_id":     GetRequestID(r.Context()),
				}).Error("appointment not routed")
				writeJSON(w, http.StatusInternalServerError, Response{
					Success: false,
					Message: "appointment stored but could not be scheduled",
					Data:    CreatedData{AppointmentID: appt.ID, Status: appt.Status},
					Error:   err.Error(),
				})
				return
			}
			handleServiceError(w, err, "could not create appointment")
			return
		}

		writeJSON(w, http.StatusCreated, Response{
			Success: true,
			Message: "appointment is being scheduled",
			Data:    CreatedData{AppointmentID: appt.ID, Status: appt.Status},
		})
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		insuredID := chi.URLParam(r, "insuredId")
		if !appointment.ValidInsuredID(insuredID) {
			writeError(w, http.StatusBadRequest, "invalid insured id", "insuredId must be exactly 5 digits")
			return
		}

		list, err := svc.ListByInsured(r.Context(), insuredID)
		if err != nil {
			handleServiceError(w, err, "could not list appointments")
			return
		}

		writeJSON(w, http.StatusOK, ListResponse{Success: true, Data: list, Total: len(list)})
	}
}

func (req CreateAppointmentRequest) toInput() (appointment.CreateInput, error) {
	if req.InsuredID == nil || !appointment.ValidInsuredID(*req.InsuredID) {
		return appointment.CreateInput{}, errors.New("insuredId must be a string of exactly 5 digits")
	}
	if req.ScheduleID == nil || *req.ScheduleID < 1 {
		return appointment.CreateInput{}, errors.New("scheduleId must be a positive integer")
	}
	if req.CountryISO == nil {
		return appointment.CreateInput{}, errors.New("countryISO is required")
	}
	country, err := appointment.ParseCountry(*req.CountryISO)
	if err != nil {
		return appointment.CreateInput{}, errors.New("countryISO must be PE or CL")
	}
	return appointment.CreateInput{InsuredID: *req.InsuredID, ScheduleID: *req.ScheduleID, CountryISO: country}, nil
}

func handleServiceError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, message, err.Error())
	case errors.Is(err, appointment.ErrConflict):
		writeError(w, http.StatusConflict, message, err.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, message, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, message, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, Response{Success: false, Message: message, Error: detail})
}
