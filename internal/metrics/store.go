// Package metrics содержит метрики Prometheus для операций хранилища.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics считает длительность и ошибки операций хранилища записей.
type StoreMetrics struct {
	duration *prometheus.HistogramVec
	failure  *prometheus.CounterVec
	changes  *prometheus.CounterVec
}

// NewStoreMetrics регистрирует метрики в reg. При nil метрики не собираются.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	if reg == nil {
		return &StoreMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "store_operation_duration_seconds",
		Help:    "Duration of record store operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_operation_failures_total",
		Help: "Failed record store operations.",
	}, []string{"op"})
	changes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_table_changes_total",
		Help: "Change notifications published per table.",
	}, []string{"table"})
	reg.MustRegister(duration, failure, changes)
	return &StoreMetrics{
		duration: duration,
		failure:  failure,
		changes:  changes,
	}
}

// Observe записывает длительность операции op и, если err != nil, увеличивает счётчик ошибок.
func (m *StoreMetrics) Observe(op string, started time.Time, err error) {
	if m == nil || m.duration == nil {
		return
	}
	op = normalizeLabel(op)
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		m.failure.WithLabelValues(op).Inc()
	}
}

// IncChange увеличивает счётчик уведомлений для таблицы.
func (m *StoreMetrics) IncChange(table string) {
	if m == nil || m.changes == nil {
		return
	}
	m.changes.WithLabelValues(normalizeLabel(table)).Inc()
}

// RegisterSubscribers экспортирует число активных живых запросов.
func RegisterSubscribers(reg prometheus.Registerer, count func() int) {
	if reg == nil {
		return
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "live_query_subscribers",
		Help: "Active live query subscriptions.",
	}, func() float64 {
		return float64(count())
	}))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
