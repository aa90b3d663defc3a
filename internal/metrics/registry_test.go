package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/relayforge/interceptproxy/internal/proxyerr"
)

func TestObserveTransactionIncrementsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ObserveTransaction("get", "", 200, 100, 200, 0.01, 0.02)
	r.ObserveTransaction("POST", proxyerr.UpstreamTimeout, 0, 50, 0, 0.5, 0.6)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.transactionsTotal.WithLabelValues("GET", "", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.transactionsTotal.WithLabelValues("POST", string(proxyerr.UpstreamTimeout), "200")))
	assert.Equal(t, float64(150), testutil.ToFloat64(r.bytesTotal.WithLabelValues("in")))
	assert.Equal(t, float64(200), testutil.ToFloat64(r.bytesTotal.WithLabelValues("out")))
}

func TestObserveTransactionSanitizesMethodLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ObserveTransaction("weird-verb", "", 404, 1, 1, 0, 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.transactionsTotal.WithLabelValues("OTHER", "", "404")))
}

func TestSanitizeCodeTreatsZeroAsSuccess(t *testing.T) {
	assert.Equal(t, "200", SanitizeCode(0))
	assert.Equal(t, "200", SanitizeCode(200))
	assert.Equal(t, "404", SanitizeCode(404))
	assert.Equal(t, "502", SanitizeCode(502))
}
