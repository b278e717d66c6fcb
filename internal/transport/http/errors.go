package http

import (
	"encoding/json"
	"math"
	"net/http"
	"time"
)

const (
	codeMethodNotAllowed    = "method_not_allowed"
	codeNotFound            = "not_found"
	codeInvalidRequestBody  = "invalid_request_body"
	codeValidationFailed    = "validation_failed"
	codeTenantRequired      = "tenant_required"
	codeSessionRequired     = "session_required"
	codeInvalidSlot         = "invalid_slot"
	codeSlotInPast          = "slot_in_past"
	codeSlotConflict        = "slot_conflict"
	codeReservationNotFound = "reservation_not_found"
	codeSessionMismatch     = "session_mismatch"
	codeReservationExpired  = "reservation_expired"
	codeInvalidTransition   = "invalid_transition"
	codeRateLimited         = "rate_limited"
	codeForbidden           = "forbidden"
	codeInternalError       = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

type conflictResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code"`
	Conflict          bool   `json:"conflict"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

func writeConflict(w http.ResponseWriter, msg string, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 0 {
		seconds = 0
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(conflictResponse{
		Error:             msg,
		Code:              codeSlotConflict,
		Conflict:          true,
		RetryAfterSeconds: seconds,
	})
}
