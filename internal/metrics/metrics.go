package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP holds request level collectors.
type HTTP struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewHTTP creates and registers the HTTP collectors.
func NewHTTP(registry *prometheus.Registry) *HTTP {
	h := &HTTP{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	registry.MustRegister(h.RequestCount, h.RequestDuration)
	return h
}

// Middleware records every request under its route template.
func (h *HTTP) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		h.RequestCount.WithLabelValues(c.Request.Method, path, status).Inc()
		h.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the registry in the Prometheus text format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Ledger holds domain collectors. A nil *Ledger is valid and records nothing.
type Ledger struct {
	AssetMutations *prometheus.CounterVec
	CoinMutations  *prometheus.CounterVec
	Purchases      *prometheus.CounterVec
	AdValidations  *prometheus.CounterVec
	AdRewards      *prometheus.CounterVec
	AnomalyAlerts  *prometheus.CounterVec
	UpgradeLocks   *prometheus.CounterVec
	CatalogSize    prometheus.Gauge
	TxDuration     *prometheus.HistogramVec
}

// NewLedger creates and registers the domain collectors.
func NewLedger(registry *prometheus.Registry) *Ledger {
	m := &Ledger{
		AssetMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_asset_mutations_total",
				Help: "Asset ledger mutations by operation and outcome.",
			},
			[]string{"operation", "status"},
		),
		CoinMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_coin_mutations_total",
				Help: "Coin balance mutations by operation and outcome.",
			},
			[]string{"operation", "status"},
		),
		Purchases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_purchases_total",
				Help: "Purchases by payment method and outcome.",
			},
			[]string{"payment_method", "status"},
		),
		AdValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_ad_validations_total",
				Help: "Ad-id validation verdicts.",
			},
			[]string{"result"},
		),
		AdRewards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_ad_rewards_total",
				Help: "Ad reward claims by outcome.",
			},
			[]string{"status"},
		),
		AnomalyAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_ad_anomaly_alerts_total",
				Help: "Anomaly alerts raised by severity.",
			},
			[]string{"severity"},
		),
		UpgradeLocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_upgrade_lock_events_total",
				Help: "Membership upgrade lock outcomes.",
			},
			[]string{"outcome"},
		),
		CatalogSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_characters",
				Help: "Characters held by the in-memory catalog.",
			},
		),
		TxDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_transaction_duration_seconds",
				Help:    "Duration of ledger transactions in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
	registry.MustRegister(
		m.AssetMutations,
		m.CoinMutations,
		m.Purchases,
		m.AdValidations,
		m.AdRewards,
		m.AnomalyAlerts,
		m.UpgradeLocks,
		m.CatalogSize,
		m.TxDuration,
	)
	return m
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Ledger) ObserveAsset(operation string, err error) {
	if m == nil {
		return
	}
	m.AssetMutations.WithLabelValues(operation, statusLabel(err)).Inc()
}

func (m *Ledger) ObserveCoins(operation string, err error) {
	if m == nil {
		return
	}
	m.CoinMutations.WithLabelValues(operation, statusLabel(err)).Inc()
}

func (m *Ledger) ObservePurchase(paymentMethod string, err error) {
	if m == nil {
		return
	}
	m.Purchases.WithLabelValues(paymentMethod, statusLabel(err)).Inc()
}

func (m *Ledger) ObserveAdValidation(result string) {
	if m == nil {
		return
	}
	m.AdValidations.WithLabelValues(result).Inc()
}

func (m *Ledger) ObserveAdReward(err error) {
	if m == nil {
		return
	}
	m.AdRewards.WithLabelValues(statusLabel(err)).Inc()
}

func (m *Ledger) IncAnomalyAlert(severity string) {
	if m == nil {
		return
	}
	m.AnomalyAlerts.WithLabelValues(severity).Inc()
}

func (m *Ledger) IncUpgradeLock(outcome string) {
	if m == nil {
		return
	}
	m.UpgradeLocks.WithLabelValues(outcome).Inc()
}

func (m *Ledger) SetCatalogSize(n int) {
	if m == nil {
		return
	}
	m.CatalogSize.Set(float64(n))
}

func (m *Ledger) ObserveTx(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TxDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
