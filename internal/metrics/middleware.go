package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// unlabeled is reported for requests whose handler never named an operation.
const unlabeled = "none"

type operationKey struct{}

// statusRecorder remembers the status written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// SetOperation names the operation served by the current request. Handlers
// behind Middleware call it once they know what they were asked to run; it is
// a no-op for requests that did not pass through Middleware.
func SetOperation(ctx context.Context, op string) {
	if slot, ok := ctx.Value(operationKey{}).(*string); ok {
		*slot = op
	}
}

// Middleware wraps a handler served by `hwrt serve`. It counts responses by
// status and observes request latency by the operation the handler reported.
func Middleware(next http.Handler, endpointPath string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := unlabeled
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), operationKey{}, &op)))

		EndpointDuration.WithLabelValues(endpointPath, op).Observe(time.Since(start).Seconds())
		EndpointResponses.WithLabelValues(endpointPath, strconv.Itoa(rec.status)).Inc()
	})
}
