package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 定义 Prometheus 监控指标
var (
	// PlacementsDispensedTotal 计数器：点胶成功的贴装点总数
	PlacementsDispensedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispenser_placements_dispensed_total",
		Help: "The total number of successfully dispensed placements",
	}, []string{"nozzle_id"})

	// PlacementFailuresTotal 计数器：点胶失败次数，按结果分类 (deferred/skipped)
	PlacementFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispenser_placement_failures_total",
		Help: "The total number of dispense failures that did not abort the run",
	}, []string{"outcome"})

	// PendingPlacements 仪表盘：本次运行剩余待点胶数量
	PendingPlacements = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispenser_pending_placements",
		Help: "The number of placements not yet dispensed in the current run",
	})

	// JobState 仪表盘：当前任务状态，当前状态为 1，其余为 0
	JobState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispenser_job_state",
		Help: "The current job state (1 for the active state)",
	}, []string{"state"})

	// PhaseDuration 直方图：各阶段单步耗时分布
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispenser_phase_duration_seconds",
		Help:    "Time spent in one step of each job phase",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	// RunsTotal 计数器：完成的运行次数
	RunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispenser_runs_finished_total",
		Help: "The total number of job runs that finished successfully",
	})
)
