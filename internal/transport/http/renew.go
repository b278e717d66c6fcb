package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/clinovet/reserve-api/internal/domain"
	"github.com/gorilla/mux"
)

// ReservationRenewer is the minimal interface needed to extend a hold.
type ReservationRenewer interface {
	Renew(ctx context.Context, reservationID, sessionID string) (domain.Reservation, error)
}

type renewRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

type renewResponse struct {
	ReservationID string    `json:"reservation_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// HandleRenew returns an HTTP handler that restarts the TTL window for a
// long-running booking flow.
func HandleRenew(svc ReservationRenewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var req renewRequest
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

		res, err := svc.Renew(r.Context(), id, req.SessionID)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrReservationNotFound):
				writeError(w, http.StatusNotFound, codeReservationNotFound, err.Error())
			case errors.Is(err, domain.ErrNotSessionOwner):
				writeError(w, http.StatusForbidden, codeSessionMismatch, err.Error())
			case errors.Is(err, domain.ErrReservationExpired):
				writeError(w, http.StatusGone, codeReservationExpired, "reservation expired, restart the booking flow")
			case errors.Is(err, domain.ErrInvalidTransition):
				writeError(w, http.StatusConflict, codeInvalidTransition, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(renewResponse{
			ReservationID: res.ID,
			ExpiresAt:     res.ExpiresAt,
		})
	}
}
