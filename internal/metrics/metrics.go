package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики шлюза исполнения
// ============================================================
//
// - Латентность и ретраи запросов к бирже
// - Переходы состояний ордеров
// - Переполнение и глубина фоновых очередей (persistence, telemetry, events)
//
// Экспортируются через /metrics (promhttp) в режиме serve.

const namespace = "execgateway"

// ============ Метрики биржевого шлюза ============

// GatewayRequestLatency - время вызова биржи, включая ретраи
var GatewayRequestLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "request_latency_ms",
		Help:      "Exchange call latency including retries in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
	},
	[]string{"method"},
)

// GatewayRequests - результаты вызовов биржи
var GatewayRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Total exchange calls by method and final HTTP status",
	},
	[]string{"method", "status"},
)

// GatewayRetries - количество повторных попыток
var GatewayRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "retries_total",
		Help:      "Number of retried exchange calls",
	},
	[]string{"method"},
)

// ============ Метрики ордеров ============

// OrderTransitions - переходы состояний ордеров
var OrderTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "transitions_total",
		Help:      "Order state transitions applied by the store",
	},
	[]string{"state"},
)

// ActiveOrders - ордера в состоянии OPEN/PARTIAL
var ActiveOrders = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "active",
		Help:      "Current number of active orders",
	},
)

// ============ Метрики очередей ============

// BufferOverflows - переполнения фоновых очередей (элементы отброшены)
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "overflows_total",
		Help:      "Number of items dropped because a bounded queue was full",
	},
	[]string{"buffer"}, // persistence, telemetry, events, websocket
)

// BufferBacklog - текущая глубина очереди
var BufferBacklog = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "backlog",
		Help:      "Current number of queued items",
	},
	[]string{"buffer"},
)

// ItemsProcessed - обработанные элементы очереди
var ItemsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "processed_total",
		Help:      "Number of items processed by queue consumers",
	},
	[]string{"buffer"},
)

// ============ Вспомогательные функции ============

// RecordGatewayCall записывает итог вызова биржи
func RecordGatewayCall(method string, status int, latencyMs float64) {
	GatewayRequestLatency.WithLabelValues(method).Observe(latencyMs)
	GatewayRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// RecordGatewayRetry записывает повторную попытку
func RecordGatewayRetry(method string) {
	GatewayRetries.WithLabelValues(method).Inc()
}

// RecordTransition записывает переход ордера в состояние
func RecordTransition(state string) {
	OrderTransitions.WithLabelValues(state).Inc()
}

// UpdateActiveOrders обновляет число активных ордеров
func UpdateActiveOrders(count int) {
	ActiveOrders.Set(float64(count))
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// RecordBufferBacklog записывает глубину очереди
func RecordBufferBacklog(bufferName string, size int) {
	BufferBacklog.WithLabelValues(bufferName).Set(float64(size))
}

// RecordProcessed записывает обработанный элемент очереди
func RecordProcessed(bufferName string) {
	ItemsProcessed.WithLabelValues(bufferName).Inc()
}
