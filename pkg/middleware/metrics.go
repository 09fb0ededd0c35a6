package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/streamcall/pkg/callerr"
	"github.com/morezero/streamcall/pkg/handler"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

var (
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "streamcall_calls_total", Help: "calls by prefix, kind and outcome"},
		[]string{"prefix", "kind", "outcome"},
	)

	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamcall_call_duration_seconds",
			Help:    "time from invocation to result or end of stream",
			Buckets: []float64{0.005, 0.05, 0.5, 1, 5, 30, 60},
		},
		[]string{"prefix", "kind"},
	)

	streamItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "streamcall_stream_items_total", Help: "items produced by streaming calls"},
		[]string{"prefix"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "streamcall_http_requests_total", Help: "http requests by code, route and method"},
		[]string{"code", "route", "method"},
	)

	httpResponseTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamcall_http_response_time_seconds",
			Help:    "http response time.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30},
		},
	)
)

func init() {
	prometheus.MustRegister(
		callsTotal,
		callDuration,
		streamItemsTotal,
		httpRequestsTotal,
		httpResponseTime,
	)
}

func kindOf(c *handler.Call) string {
	if c.Streaming() {
		return "stream"
	}
	return "unary"
}

func outcome(err error) string {
	if err == nil {
		return outcomeOK
	}
	var e *callerr.Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return outcomeError
}

// Metrics counts calls and observes their duration.
func Metrics() handler.Middleware {
	return func(c *handler.Call, next func() (any, error)) (any, error) {
		start := time.Now()
		kind := kindOf(c)
		res, err := next()
		s, ok := handler.AsStream(res)
		if err != nil || !ok {
			callsTotal.WithLabelValues(c.Prefix, kind, outcome(err)).Inc()
			callDuration.WithLabelValues(c.Prefix, kind).Observe(time.Since(start).Seconds())
			return res, err
		}
		return observe(s, func(items int, err error) {
			streamItemsTotal.WithLabelValues(c.Prefix).Add(float64(items))
			callsTotal.WithLabelValues(c.Prefix, kind, outcome(err)).Inc()
			callDuration.WithLabelValues(c.Prefix, kind).Observe(time.Since(start).Seconds())
		}), nil
	}
}

// Collect records HTTP request counters. route maps a request to a low
// cardinality label.
func Collect(route func(*http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				if r.URL.Path == "/metrics" {
					return
				}
				label := r.URL.Path
				if route != nil {
					label = route(r)
				}
				httpRequestsTotal.WithLabelValues(strconv.Itoa(ww.Status()), label, r.Method).Inc()
				httpResponseTime.Observe(time.Since(start).Seconds())
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Handler returns the /metrics handler.
func Handler() http.Handler { return promhttp.Handler() }
