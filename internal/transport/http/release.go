package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/clinovet/reserve-api/internal/domain"
	"github.com/gorilla/mux"
)

// BookingAbandoner is the minimal interface needed to release a hold.
type BookingAbandoner interface {
	Abandon(ctx context.Context, reservationID, sessionID string) error
}

type releaseRequest struct {
	SessionID string `json:"session_id"`
}

// HandleRelease returns an HTTP handler that gives a slot back early. The
// session id comes from the JSON body or the X-Session-ID header, since
// browsers firing a cancel on unload cannot always attach a body to DELETE.
func HandleRelease(flow BookingAbandoner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var req releaseRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		if req.SessionID == "" {
			req.SessionID = r.Header.Get("X-Session-ID")
		}
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, codeSessionRequired, domain.ErrSessionRequired.Error())
			return
		}

		if err := flow.Abandon(r.Context(), id, req.SessionID); err != nil {
			switch {
			case errors.Is(err, domain.ErrReservationNotFound):
				writeError(w, http.StatusNotFound, codeReservationNotFound, err.Error())
			case errors.Is(err, domain.ErrNotSessionOwner):
				log.Printf("release for reservation %s rejected: session mismatch", id)
				writeError(w, http.StatusForbidden, codeSessionMismatch, err.Error())
			case errors.Is(err, domain.ErrInvalidTransition):
				log.Printf("release for reservation %s rejected: invalid transition", id)
				writeError(w, http.StatusConflict, codeInvalidTransition, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": string(domain.StatusReleased)})
	}
}
