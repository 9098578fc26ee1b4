package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLedgerIsSafe(t *testing.T) {
	var m *Ledger
	m.ObserveAsset("add", nil)
	m.ObserveCoins("deduct", errors.New("x"))
	m.ObservePurchase("coins", nil)
	m.ObserveAdValidation("valid")
	m.ObserveAdReward(nil)
	m.IncAnomalyAlert("high")
	m.IncUpgradeLock("acquired")
	m.SetCatalogSize(3)
	m.ObserveTx("purchase", 0)
}

func TestLedgerCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewLedger(registry)

	m.ObserveAsset("deduct", errors.New("insufficient"))
	m.ObserveAsset("deduct", nil)
	m.ObserveAsset("deduct", nil)
	m.SetCatalogSize(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AssetMutations.WithLabelValues("deduct", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AssetMutations.WithLabelValues("deduct", "error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.CatalogSize))
}

func TestHTTPMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	h := NewHTTP(registry)

	router := gin.New()
	router.Use(h.Middleware())
	router.GET("/ping/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/metrics", gin.WrapH(Handler(registry)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping/42", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.RequestCount.WithLabelValues("GET", "/ping/:id", "204")))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
}
