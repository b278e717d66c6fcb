package http

import (
	"log"
	"net/http"
	"time"
)

// RequestLogger logs one line per request. The booking session travels in
// X-Session-ID, so logging it lets a support engineer follow one user's
// reserve/renew/confirm trail across requests.
func RequestLogger(next http.Handler, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		session := r.Header.Get("X-Session-ID")
		if session == "" {
			session = "-"
		}
		logger.Printf(
			"request method=%s path=%s status=%d session=%s duration=%s",
			r.Method,
			r.URL.Path,
			rec.status,
			session,
			time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
