package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arena_build_info",
			Help: "Build information of the arena server",
		},
		[]string{"version", "commit"},
	)

	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_actions_total",
			Help: "Engine actions by op and result code (empty code means success)",
		},
		[]string{"op", "code"},
	)

	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arena_action_duration_seconds",
			Help:    "Duration of engine actions",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50us to ~0.8s
		},
		[]string{"op"},
	)

	FightsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_fights_resolved_total",
			Help: "Resolved fights by outcome",
		},
		[]string{"outcome"},
	)

	FightRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arena_fight_rounds",
			Help:    "Rounds fought per resolved fight",
			Buckets: prometheus.LinearBuckets(1, 2, 12),
		},
	)

	EquipmentDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_equipment_drops_total",
			Help: "Equipment drop rolls by result",
		},
		[]string{"result"},
	)

	PoolBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arena_pool_balance_tokens",
			Help: "Treasury pool balances in whole tokens (approximate)",
		},
		[]string{"pool"},
	)

	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_claims_total",
			Help: "Prize claims by result code",
		},
		[]string{"code"},
	)

	IndexQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_index_queue_dropped_total",
			Help: "Index writer records dropped because the queue was full",
		},
	)

	WSSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arena_ws_sessions",
			Help: "Open websocket sessions",
		},
	)

	WSRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_ws_rate_limited_total",
			Help: "Websocket messages rejected by the per-connection limiter",
		},
	)
)
