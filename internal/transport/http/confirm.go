package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/clinovet/reserve-api/internal/app"
	"github.com/clinovet/reserve-api/internal/domain"
	"github.com/gorilla/mux"
)

// BookingCompleter is the minimal interface needed to confirm a reservation
// and hand it off to appointment creation.
type BookingCompleter interface {
	Complete(ctx context.Context, reservationID, sessionID string, details app.AppointmentDetails) (string, error)
}

type confirmRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	ClientID  string `json:"client_id"`
	PatientID string `json:"patient_id"`
	ServiceID string `json:"service_id"`
	Notes     string `json:"notes"`
}

type confirmResponse struct {
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
	AppointmentID string `json:"appointment_id,omitempty"`
}

// HandleConfirm returns an HTTP handler that promotes a hold into a booking.
func HandleConfirm(flow BookingCompleter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var req confirmRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
			return
		}

		appointmentID, err := flow.Complete(r.Context(), id, req.SessionID, app.AppointmentDetails{
			ClientID:  req.ClientID,
			PatientID: req.PatientID,
			ServiceID: req.ServiceID,
			Notes:     req.Notes,
		})
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrReservationNotFound):
				writeError(w, http.StatusNotFound, codeReservationNotFound, err.Error())
			case errors.Is(err, domain.ErrNotSessionOwner):
				log.Printf("confirm for reservation %s rejected: session mismatch", id)
				writeError(w, http.StatusForbidden, codeSessionMismatch, err.Error())
			case errors.Is(err, domain.ErrReservationExpired):
				writeError(w, http.StatusGone, codeReservationExpired, "reservation expired, restart the booking flow")
			case errors.Is(err, domain.ErrInvalidTransition):
				log.Printf("confirm for reservation %s rejected: invalid transition", id)
				writeError(w, http.StatusConflict, codeInvalidTransition, err.Error())
			case errors.Is(err, domain.ErrSessionRequired):
				writeError(w, http.StatusBadRequest, codeSessionRequired, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(confirmResponse{
			ReservationID: id,
			Status:        string(domain.StatusConfirmed),
			AppointmentID: appointmentID,
		})
	}
}
