// Package metrics exposes per-task transaction counters and histograms,
// supplementing the per-transaction log with an aggregate view. Registry
// uses prometheus/client_golang's CounterVec/HistogramVec, which are
// themselves internally sharded so recording a transaction never takes
// an explicit lock on the hot path.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relayforge/interceptproxy/internal/proxyerr"
)

func SanitizeCode(s int) string {
	switch s {
	case 0, 200:
		return "200"
	default:
		return strconv.Itoa(s)
	}
}

// Only support the list of "regular" HTTP methods, see
// https://developer.mozilla.org/en-US/docs/Web/HTTP/Methods
var methodMap = map[string]string{
	"GET": http.MethodGet, "get": http.MethodGet,
	"HEAD": http.MethodHead, "head": http.MethodHead,
	"PUT": http.MethodPut, "put": http.MethodPut,
	"POST": http.MethodPost, "post": http.MethodPost,
	"DELETE": http.MethodDelete, "delete": http.MethodDelete,
	"CONNECT": http.MethodConnect, "connect": http.MethodConnect,
	"OPTIONS": http.MethodOptions, "options": http.MethodOptions,
	"TRACE": http.MethodTrace, "trace": http.MethodTrace,
	"PATCH": http.MethodPatch, "patch": http.MethodPatch,
}

// SanitizeMethod sanitizes the method for use as a metric label. This helps
// prevent high cardinality on the method label. The name is always upper case.
func SanitizeMethod(m string) string {
	if m, ok := methodMap[m]; ok {
		return m
	}

	return "OTHER"
}

// Registry bundles the counters and histograms the dispatcher updates
// once per completed transaction.
type Registry struct {
	transactionsTotal  *prometheus.CounterVec
	bytesTotal         *prometheus.CounterVec
	upstreamLatencySec *prometheus.HistogramVec
	totalLatencySec    *prometheus.HistogramVec
}

// NewRegistry registers every metric against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test runs.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		transactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "interceptproxy_transactions_total",
			Help: "Completed transactions by method, error kind (empty error_kind means success), and upstream status.",
		}, []string{"method", "error_kind", "upstream_status"}),
		bytesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "interceptproxy_bytes_total",
			Help: "Bytes transferred by direction.",
		}, []string{"direction"}),
		upstreamLatencySec: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "interceptproxy_upstream_latency_seconds",
			Help:    "Time from request dispatch to first upstream response byte.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		totalLatencySec: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "interceptproxy_total_latency_seconds",
			Help:    "Time from the start of forwarding a request to transaction completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// ObserveTransaction records one completed (or failed) transaction.
// errorKind is "" for a successful transaction; upstreamStatus is 0 when
// no upstream response was obtained.
func (r *Registry) ObserveTransaction(method string, errorKind proxyerr.Kind, upstreamStatus int, bytesIn, bytesOut int64, upstreamLatencySec, totalLatencySec float64) {
	method = SanitizeMethod(method)
	r.transactionsTotal.WithLabelValues(method, string(errorKind), SanitizeCode(upstreamStatus)).Inc()
	r.bytesTotal.WithLabelValues("in").Add(float64(bytesIn))
	r.bytesTotal.WithLabelValues("out").Add(float64(bytesOut))
	r.upstreamLatencySec.WithLabelValues(method).Observe(upstreamLatencySec)
	r.totalLatencySec.WithLabelValues(method).Observe(totalLatencySec)
}
