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

// ReservationGetter is the minimal interface needed to poll a reservation.
type ReservationGetter interface {
	Get(ctx context.Context, reservationID string) (domain.Reservation, error)
	Now() time.Time
}

type statusResponse struct {
	ReservationID    string    `json:"reservation_id"`
	Status           string    `json:"status"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// HandleGetReservation returns an HTTP handler backing the booking UI's
// countdown timer.
func HandleGetReservation(svc ReservationGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		res, err := svc.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, domain.ErrReservationNotFound) {
				writeError(w, http.StatusNotFound, codeReservationNotFound, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(statusResponse{
			ReservationID:    res.ID,
			Status:           string(res.Status),
			ExpiresAt:        res.ExpiresAt,
			RemainingSeconds: int(res.Remaining(svc.Now()).Seconds()),
		})
	}
}
