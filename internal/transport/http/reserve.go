package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/clinovet/reserve-api/internal/app"
	"github.com/clinovet/reserve-api/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// BookingStarter is the minimal interface needed to reserve a slot.
type BookingStarter interface {
	Start(ctx context.Context, in app.ReserveInput) (domain.Reservation, error)
}

type reserveRequest struct {
	TenantID   string `json:"tenant_id" validate:"required"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Time       string `json:"time" validate:"required,datetime=15:04"`
	ResourceID string `json:"resource_id"`
	SessionID  string `json:"session_id" validate:"required"`
}

type reserveResponse struct {
	ReservationID string    `json:"reservation_id"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// HandleReserve returns an HTTP handler that secures a slot for a session.
func HandleReserve(flow BookingStarter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reserveRequest
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

		res, err := flow.Start(r.Context(), app.ReserveInput{
			TenantID:   req.TenantID,
			Date:       req.Date,
			Time:       req.Time,
			ResourceID: req.ResourceID,
			SessionID:  req.SessionID,
		})
		if err != nil {
			var conflict *domain.ConflictError
			switch {
			case errors.As(err, &conflict):
				writeConflict(w, "slot is no longer available", conflict.RetryAfter)
			case errors.Is(err, domain.ErrTenantRequired):
				writeError(w, http.StatusBadRequest, codeTenantRequired, err.Error())
			case errors.Is(err, domain.ErrSessionRequired):
				writeError(w, http.StatusBadRequest, codeSessionRequired, err.Error())
			case errors.Is(err, domain.ErrInvalidSlot):
				writeError(w, http.StatusBadRequest, codeInvalidSlot, err.Error())
			case errors.Is(err, domain.ErrSlotInPast):
				writeError(w, http.StatusBadRequest, codeSlotInPast, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(reserveResponse{
			ReservationID: res.ID,
			Status:        string(res.Status),
			ExpiresAt:     res.ExpiresAt,
		})
	}
}
