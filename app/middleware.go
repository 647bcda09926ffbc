package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/grafana/dskit/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: metricsNamespace,
	Name:      "http_request_duration_seconds",
	Help:      "Time spent serving HTTP requests.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route", "status_code"})

// httpMiddleware replaces the server's default middleware chain. The default
// chain wraps the ResponseWriter in types without an Unwrap method, so
// http.ResponseController cannot reach the underlying writer and broadcast
// ingestion loses EnableFullDuplex. The wrapper used here stays transparent
// to the controller while still recording request logs and durations.
func httpMiddleware(logger slog.Logger) []middleware.Interface {
	return []middleware.Interface{
		middleware.Func(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
				start := time.Now()

				next.ServeHTTP(sw, req)

				elapsed := time.Since(start)
				metricRequestDuration.WithLabelValues(req.Method, req.URL.Path, strconv.Itoa(sw.status)).Observe(elapsed.Seconds())

				if sw.status >= http.StatusInternalServerError {
					logger.Warn("http request", "method", req.Method, "path", req.URL.Path, "status", sw.status, "duration", elapsed)
				} else {
					logger.Debug("http request", "method", req.Method, "path", req.URL.Path, "status", sw.status, "duration", elapsed)
				}
			})
		}),
	}
}

// statusWriter records the response status for logging and metrics. Unwrap
// keeps http.ResponseController working through the chain.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
