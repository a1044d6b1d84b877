package middleware

import (
	"net/http"

	"github.com/rigwatch/rigwatch/pkg/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Metrics measures status codes per route, reporting them to Prometheus.
// route should be the registered pattern, not the raw request path, to keep
// label cardinality bounded.
func Metrics(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.RecordHTTPRequest(route, r.Method, recorder.status)
	})
}
