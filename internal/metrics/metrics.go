// Package metrics holds the Prometheus collectors for warehouse queries and
// mail dispatch.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WarehouseQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadwire_warehouse_queries_total",
		Help: "Total number of warehouse queries by outcome",
	}, []string{"outcome"})
	WarehouseQueryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "leadwire_warehouse_query_duration_seconds",
		Help:    "Duration of warehouse queries including the result fetch",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
	WarehouseRows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leadwire_warehouse_rows_total",
		Help: "Total number of rows fetched from the warehouse",
	})
	WarehouseConnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leadwire_warehouse_connects_total",
		Help: "Total number of warehouse connections opened",
	})
	WarehouseResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leadwire_warehouse_resets_total",
		Help: "Total number of warehouse connections discarded after a failure",
	})

	MailBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leadwire_mail_batches_total",
		Help: "Total number of mail batches by outcome",
	}, []string{"outcome"})
	MailSendSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leadwire_mail_send_success_total",
		Help: "Total number of successful mail sends",
	})
	MailSendFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leadwire_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	})
)

// Outcome labels.
const (
	OutcomeSuccess         = "success"
	OutcomeStatementError  = "statement_error"
	OutcomeConnectionError = "connection_error"
	OutcomeAuthError       = "auth_error"
	OutcomeSendError       = "send_error"
	OutcomeInvalid         = "invalid"
)

func init() {
	prometheus.MustRegister(WarehouseQueries)
	prometheus.MustRegister(WarehouseQueryDuration)
	prometheus.MustRegister(WarehouseRows)
	prometheus.MustRegister(WarehouseConnects)
	prometheus.MustRegister(WarehouseResets)
	prometheus.MustRegister(MailBatches)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
