package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncOrder("BUY", "ok")
		m.SetStreamState(2)
		m.SetSpread("etf", "over", 1)
	})
}

func TestMetrics_CountersAndHandler(t *testing.T) {
	m := New()
	m.IncOrder("BUY", "ok")
	m.IncOrder("BUY", "ok")
	m.IncOrder("SELL", "rejected")
	m.IncReconnect("transient")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `cmibot_orders_total{outcome="ok",side="BUY"} 2`)
	assert.Contains(t, string(body), `cmibot_orders_total{outcome="rejected",side="SELL"} 1`)
	assert.Contains(t, string(body), `cmibot_stream_reconnects_total{reason="transient"} 1`)
}
