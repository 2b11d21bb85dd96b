package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Stream metrics
	streamMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_stream_messages_total",
			Help: "Total number of stream messages applied",
		},
		[]string{"channel"},
	)

	malformedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_stream_malformed_total",
			Help: "Total number of dropped malformed stream messages",
		},
		[]string{"channel"},
	)

	streamState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "terminal_stream_state",
			Help: "Stream channel state (0 closed, 1 connecting, 2 open)",
		},
		[]string{"channel"},
	)

	streamDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_stream_degraded_total",
			Help: "Total number of times a stream channel gave up reconnecting",
		},
		[]string{"channel"},
	)

	// Market data metrics
	depthRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_depth_refresh_total",
			Help: "Order book refreshes by outcome",
		},
		[]string{"outcome"},
	)

	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "terminal_current_price",
			Help: "Last traded price of the selected symbol",
		},
		[]string{"symbol"},
	)

	// Order metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_orders_total",
			Help: "Total number of submitted orders by outcome",
		},
		[]string{"symbol", "side", "type", "outcome"},
	)

	orderNotional = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "terminal_order_notional",
			Help:    "Distribution of accepted order totals",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		},
		[]string{"symbol"},
	)

	alertsFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_alerts_fired_total",
			Help: "Total number of price alerts fired",
		},
		[]string{"symbol", "condition"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terminal_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(streamMessagesTotal)
	prometheus.MustRegister(malformedMessagesTotal)
	prometheus.MustRegister(streamState)
	prometheus.MustRegister(streamDegradedTotal)
	prometheus.MustRegister(depthRefreshTotal)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(orderNotional)
	prometheus.MustRegister(alertsFiredTotal)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordStreamMessage counts an applied stream message
func RecordStreamMessage(channel string) {
	streamMessagesTotal.WithLabelValues(channel).Inc()
}

// RecordMalformedMessage counts a dropped stream message
func RecordMalformedMessage(channel string) {
	malformedMessagesTotal.WithLabelValues(channel).Inc()
}

// SetStreamState records the current state of a stream channel
func SetStreamState(channel string, state int) {
	streamState.WithLabelValues(channel).Set(float64(state))
}

// RecordStreamDegraded counts a channel giving up on reconnects
func RecordStreamDegraded(channel string) {
	streamDegradedTotal.WithLabelValues(channel).Inc()
}

// RecordDepthRefresh counts an order book refresh
func RecordDepthRefresh(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	depthRefreshTotal.WithLabelValues(outcome).Inc()
}

// UpdatePrice updates the current price metric
func UpdatePrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

// RecordOrder records a submitted order and, when accepted, its notional
func RecordOrder(symbol, side, orderType, outcome string, total float64) {
	ordersTotal.WithLabelValues(symbol, side, orderType, outcome).Inc()
	if outcome == "accepted" {
		orderNotional.WithLabelValues(symbol).Observe(total)
	}
}

// RecordAlert counts a fired price alert
func RecordAlert(symbol, condition string) {
	alertsFiredTotal.WithLabelValues(symbol, condition).Inc()
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
