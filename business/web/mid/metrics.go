package mid

import (
	"context"
	"net/http"
	"sync"

	"github.com/btpc/node/foundation/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusRequests *prometheus.CounterVec
	prometheusErrors   *prometheus.CounterVec
	prometheusPanics   prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(func() {
		prometheusRequests = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "btpc",
				Subsystem: "http",
				Name:      "requests",
				Help:      "Number of requests handled, by method",
			},
			[]string{"method"},
		)

		prometheusErrors = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "btpc",
				Subsystem: "http",
				Name:      "errors",
				Help:      "Number of requests that ended in an error, by method",
			},
			[]string{"method"},
		)

		prometheusPanics = promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "btpc",
				Subsystem: "http",
				Name:      "panics",
				Help:      "Number of handler panics recovered",
			},
		)
	})
}

func recordPanic() {
	initPrometheusMetrics()
	prometheusPanics.Inc()
}

// Metrics updates program counters.
func Metrics() web.Middleware {
	initPrometheusMetrics()

	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := handler(ctx, w, r)

			prometheusRequests.WithLabelValues(r.Method).Inc()
			if err != nil {
				prometheusErrors.WithLabelValues(r.Method).Inc()
			}

			return err
		}

		return h
	}

	return m
}
