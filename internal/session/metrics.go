package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики оркестрации сессий
// ============================================================

// ============ Метрики состояния ============

// ActiveSessions - количество живых сессий по состояниям
var ActiveSessions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradepilot",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Number of live sessions by state",
	},
	[]string{"state"}, // starting, running, completed, stopped, error
)

// SessionSubscribers - количество websocket подписчиков
var SessionSubscribers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradepilot",
		Subsystem: "sessions",
		Name:      "subscribers",
		Help:      "Current number of session subscribers",
	},
)

// ============ Метрики мониторинга ============

// TicksTotal - выполненные тики по режимам и результатам
var TicksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "monitor",
		Name:      "ticks_total",
		Help:      "Total number of monitor ticks",
	},
	[]string{"mode", "result"}, // mode: driven, reflective; result: ok, error, skipped
)

// TickLatency - длительность тика. Контур контроля капитала,
// buckets в сотнях миллисекунд
var TickLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tradepilot",
		Subsystem: "monitor",
		Name:      "tick_latency_ms",
		Help:      "Monitor tick duration in milliseconds",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	},
	[]string{"mode"},
)

// TerminationsTotal - терминации сессий по причинам
var TerminationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "sessions",
		Name:      "terminations_total",
		Help:      "Total number of session terminations by reason",
	},
	[]string{"reason"}, // profit_goal, loss_limit, stop_command, panic, error
)

// ============ Метрики торговли ============

// PositionsOpened - открытые через оркестратор позиции
var PositionsOpened = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "trading",
		Name:      "positions_opened_total",
		Help:      "Total number of positions opened",
	},
)

// PositionsClosed - закрытые через оркестратор позиции
var PositionsClosed = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "trading",
		Name:      "positions_closed_total",
		Help:      "Total number of positions closed",
	},
)

// ============ Метрики публикации ============

// PublishErrors - ошибки best-effort синков публикации
var PublishErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradepilot",
		Subsystem: "publisher",
		Name:      "errors_total",
		Help:      "Total number of publish sink errors",
	},
	[]string{"sink"}, // cache, store, stream
)

// ============ Вспомогательные функции ============

// RecordTick записывает результат тика
func RecordTick(mode, result string, latencyMs float64) {
	TicksTotal.WithLabelValues(mode, result).Inc()
	if result == "ok" {
		TickLatency.WithLabelValues(mode).Observe(latencyMs)
	}
}

// RecordStateChange сдвигает gauge сессий между состояниями
func RecordStateChange(from, to string) {
	if from != "" {
		ActiveSessions.WithLabelValues(from).Dec()
	}
	if to != "" {
		ActiveSessions.WithLabelValues(to).Inc()
	}
}

// RecordTermination записывает терминацию
func RecordTermination(reason string) {
	TerminationsTotal.WithLabelValues(reason).Inc()
}
