package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: общее кол-во входящих сообщений
	TotalRequests prometheus.Counter

	// Decisions: итог шлюза по категориям (allowed, denied, pending...)
	Decisions *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Latency: сколько времени заняло исполнение обработчика
	HandlerDuration *prometheus.HistogramVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure) и потери
	AuditBufferFill prometheus.Gauge
	AuditDropped    prometheus.Counter

	// Confirmations: сколько разрушительных действий ждут ответа
	PendingConfirmations prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		TotalRequests: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rcg_messages_total",
			Help: "Total number of inbound messages.",
		}),

		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "rcg_decisions_total",
			Help: "Gate decisions by action and decision.",
		}, []string{"action", "decision"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "rcg_errors_total",
			Help: "Total number of rejections by type.",
		}, []string{"type"}), // типы: unauthorized, rate_limit, invalid_token, interpretation, policy_deny, handler

		HandlerDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rcg_handler_duration_seconds",
			Help:    "Histogram of capability handler latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"action", "success"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "rcg_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half-open).",
		}, []string{"action"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rcg_audit_buffer_utilization",
			Help: "Current number of records in audit buffer.",
		}),

		AuditDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rcg_audit_dropped_total",
			Help: "Audit records dropped because of buffer overflow or shutdown.",
		}),

		PendingConfirmations: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rcg_pending_confirmations",
			Help: "Destructive intents waiting for confirmation.",
		}),
	}
}

// ObserveAuditBuffer и ObserveAuditDrop, адаптер к audit.Observer.
func (m *Metrics) ObserveAuditBuffer(n int) { m.AuditBufferFill.Set(float64(n)) }

func (m *Metrics) ObserveAuditDrop() { m.AuditDropped.Inc() }
