// Package metrics 统一定义 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sessions 当前存活的浏览器会话数
	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livepilot_sessions",
		Help: "Number of live browser sessions",
	})

	// LoginFailovers 无头 -> 有头登录切换次数
	LoginFailovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livepilot_login_failovers_total",
		Help: "Headless to headful login failovers",
	})

	// LoginResults 登录状态机结果
	LoginResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livepilot_login_results_total",
		Help: "Connect/login outcomes",
	}, []string{"result"})

	// TasksRunning 正在运行的任务数
	TasksRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livepilot_tasks_running",
		Help: "Number of running scheduled tasks",
	}, []string{"kind"})

	// TaskStops 任务停止次数
	TaskStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livepilot_task_stops_total",
		Help: "Task stops by reason",
	}, []string{"kind", "reason"})

	// TaskTickDuration 单次任务执行耗时
	TaskTickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livepilot_task_tick_duration_seconds",
		Help:    "Duration of a single task execution",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"kind", "status"})

	// TaskRetries 任务内重试次数
	TaskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livepilot_task_retries_total",
		Help: "Retries performed inside task ticks",
	})

	// LocatorScrolls 一次查找滚动的次数
	LocatorScrolls = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livepilot_locator_scrolls",
		Help:    "Scrolls needed by a single list search",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})

	// LiveMessages 解析出的直播间消息
	LiveMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livepilot_live_messages_total",
		Help: "Live messages decoded",
	}, []string{"source", "kind"})

	// MalformedPayloads 被跳过的异常响应
	MalformedPayloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livepilot_malformed_payloads_total",
		Help: "Network payloads skipped because they could not be decoded",
	}, []string{"source"})

	// BroadcastDrops WebSocket 广播丢弃的消息数
	BroadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livepilot_broadcast_drops_total",
		Help: "Messages dropped for slow websocket clients",
	})
)

