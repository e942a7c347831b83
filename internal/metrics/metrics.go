// Package metrics holds the Prometheus collectors shared by the billing
// service and its transports.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "billing"

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

type Metrics struct {
	stockOps       *prometheus.CounterVec
	lineItemOps    *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stockOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stock_operations_total",
				Help:      "Inventory ledger operations by kind and outcome",
			},
			[]string{"op", "outcome"},
		),
		lineItemOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "line_item_operations_total",
				Help:      "Line item mutations by kind and outcome",
			},
			[]string{"op", "outcome"},
		),
		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of billing requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"transport", "route"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
	}

	reg.MustRegister(m.stockOps, m.lineItemOps, m.requestLatency, m.httpRequests)
	return m
}

// Nop returns collectors that are never registered anywhere.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) StockOp(op string, err error) {
	if m == nil {
		return
	}
	m.stockOps.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) LineItemOp(op string, err error) {
	if m == nil {
		return
	}
	m.lineItemOps.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) ObserveRequest(transport, route string, seconds float64) {
	if m == nil {
		return
	}
	m.requestLatency.WithLabelValues(transport, route).Observe(seconds)
}

func (m *Metrics) HTTPRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
