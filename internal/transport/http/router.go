package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RouterDeps bundles what the routes need; fields may share one value (the
// booking flow implements starter, completer and abandoner).
type RouterDeps struct {
	Starter   BookingStarter
	Completer BookingCompleter
	Abandoner BookingAbandoner
	Renewer   ReservationRenewer
	Getter    ReservationGetter
	Limiter   *RateLimiter
}

// NewRouter wires the reservation endpoints: reserve, poll, renew, confirm,
// release, health.
func NewRouter(deps RouterDeps) *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)

	reserve := http.Handler(HandleReserve(deps.Starter))
	if deps.Limiter != nil {
		reserve = deps.Limiter.Middleware(reserve)
	}
	r.Handle("/api/reservations", reserve).Methods(http.MethodPost)
	r.HandleFunc("/api/reservations/{id}", HandleGetReservation(deps.Getter)).Methods(http.MethodGet)
	r.HandleFunc("/api/reservations/{id}", HandleRelease(deps.Abandoner)).Methods(http.MethodDelete)
	r.HandleFunc("/api/reservations/{id}/confirm", HandleConfirm(deps.Completer)).Methods(http.MethodPost)
	r.HandleFunc("/api/reservations/{id}/renew", HandleRenew(deps.Renewer)).Methods(http.MethodPost)

	return r
}
