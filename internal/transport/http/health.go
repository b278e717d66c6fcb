package http

import (
	"encoding/json"
	stdhttp "net/http"
)

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HealthHandler reports liveness. Slot state never factors in: a replica
// that can serve traffic is healthy even while its store is briefly slow.
func HealthHandler(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(stdhttp.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Service: "reserve-api"})
}
