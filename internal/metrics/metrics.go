// Package metrics exports statement counters and latencies to Prometheus
// through the connection's query hook.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/coregx/relicorm/internal/core"
)

// Collector holds the statement metrics of one or more connections.
type Collector struct {
	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	RowsReturned  *prometheus.CounterVec
}

// NewCollector registers the metrics with reg. A nil reg uses the default
// registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relicorm_queries_total",
				Help: "Total number of executed statements",
			},
			[]string{"operation", "status"},
		),
		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relicorm_query_duration_seconds",
				Help:    "Statement latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		RowsReturned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relicorm_rows_returned_total",
				Help: "Total number of rows returned by SELECT statements",
			},
			[]string{"operation"},
		),
	}
}

// Hook returns a query hook recording every statement.
func (c *Collector) Hook() core.QueryHook {
	return func(_ context.Context, e core.QueryEvent) {
		status := "ok"
		if e.Error != nil {
			status = "error"
		}
		c.QueriesTotal.WithLabelValues(e.Operation, status).Inc()
		c.QueryDuration.WithLabelValues(e.Operation).Observe(e.Duration.Seconds())
		if e.Rows > 0 {
			c.RowsReturned.WithLabelValues(e.Operation).Add(float64(e.Rows))
		}
	}
}
