package handlers

import (
	"log/slog"

	"github.com/SakuyaIzayoi/openpnp/internal/event"
	"github.com/SakuyaIzayoi/openpnp/internal/metrics"
	"github.com/SakuyaIzayoi/openpnp/internal/types"
	"github.com/SakuyaIzayoi/openpnp/internal/web"
)

// Journal 记录点胶进度，用于崩溃后的恢复
type Journal interface {
	RunStarted(runID, job string) error
	Dispensed(runID, boardID, placementID string) error
	RunFinished(runID string) error
}

var jobStates = []types.JobState{
	types.JobStateStopped, types.JobStateRunning, types.JobStateError, types.JobStateFinished,
}

// RegisterEventHandlers 将所有事件处理器注册到事件总线
// 监控、UI、日志和进度日志互相解耦，状态机只负责发布事件
// journal 可以为 nil
func RegisterEventHandlers(bus *event.Bus, st *web.StateTracker, journal Journal, logger *slog.Logger) {
	// --- 指标处理器 (Metrics Handler) ---
	bus.Subscribe(event.PlacementDispensed, func(e event.Event) {
		metrics.PlacementsDispensedTotal.WithLabelValues(e.NozzleID).Inc()
		metrics.PendingPlacements.Dec()
	})
	bus.Subscribe(event.PlacementDeferred, func(e event.Event) {
		metrics.PlacementFailuresTotal.WithLabelValues("deferred").Inc()
	})
	bus.Subscribe(event.PlacementSkipped, func(e event.Event) {
		metrics.PlacementFailuresTotal.WithLabelValues("skipped").Inc()
	})
	bus.Subscribe(event.RunStarted, func(e event.Event) {
		metrics.PendingPlacements.Set(float64(e.Count))
	})
	bus.Subscribe(event.PhaseCompleted, func(e event.Event) {
		metrics.PhaseDuration.WithLabelValues(e.Phase).Observe(e.Duration)
	})
	bus.Subscribe(event.RunFinished, func(e event.Event) {
		metrics.RunsTotal.Inc()
	})
	bus.SubscribeSync(event.JobStateChanged, func(e event.Event) {
		for _, s := range jobStates {
			v := 0.0
			if s == e.State {
				v = 1
			}
			metrics.JobState.WithLabelValues(string(s)).Set(v)
		}
	})

	// --- Web UI 处理器 (Web UI Handler) ---
	// 快照依赖事件顺序，使用同步订阅
	if st != nil {
		bus.SubscribeSync(event.RunStarted, func(e event.Event) {
			st.StartRun(e.RunID, e.Count)
		})
		bus.SubscribeSync(event.JobStateChanged, func(e event.Event) {
			st.SetJobState(e.RunID, e.State)
		})
		bus.SubscribeSync(event.TextStatus, func(e event.Event) {
			st.SetMessage(e.RunID, e.Message)
		})
		bus.SubscribeSync(event.PhaseCompleted, func(e event.Event) {
			st.SetPhase(e.RunID, e.Phase)
		})
		bus.SubscribeSync(event.PlacementsPlanned, func(e event.Event) {
			st.CyclePlanned(e.RunID)
		})
		bus.SubscribeSync(event.PlacementDispensed, func(e event.Event) {
			st.PlacementDone(e.RunID, e.BoardID, e.PlacementID, e.NozzleID, e.Count)
		})
		bus.SubscribeSync(event.PlacementDeferred, func(e event.Event) {
			st.PlacementFailed(e.RunID, e.BoardID, e.PlacementID, web.PlacementDeferred, e.Count, e.Error)
		})
		bus.SubscribeSync(event.PlacementSkipped, func(e event.Event) {
			st.PlacementFailed(e.RunID, e.BoardID, e.PlacementID, web.PlacementSkipped, e.Count, e.Error)
		})
		bus.SubscribeSync(event.RunFinished, func(e event.Event) {
			st.RunFinished(e.RunID, e.Summary)
		})
	}

	// --- 进度日志处理器 (Journal Handler) ---
	// 必须在状态机返回前落盘，否则崩溃时会丢失已点胶记录
	if journal != nil {
		bus.SubscribeSync(event.RunStarted, func(e event.Event) {
			if err := journal.RunStarted(e.RunID, e.Message); err != nil {
				logger.Error("写入进度日志失败", "run_id", e.RunID, "error", err)
			}
		})
		bus.SubscribeSync(event.PlacementDispensed, func(e event.Event) {
			if err := journal.Dispensed(e.RunID, e.BoardID, e.PlacementID); err != nil {
				logger.Error("写入进度日志失败", "run_id", e.RunID, "placement", e.BoardID+"/"+e.PlacementID, "error", err)
			}
		})
		bus.SubscribeSync(event.RunFinished, func(e event.Event) {
			if err := journal.RunFinished(e.RunID); err != nil {
				logger.Error("写入进度日志失败", "run_id", e.RunID, "error", err)
			}
		})
	}

	// --- 日志处理器 (Logging Handler) ---
	bus.Subscribe(event.PlacementDeferred, func(e event.Event) {
		logger.Warn("贴装点已延后", "run_id", e.RunID, "board_id", e.BoardID, "placement_id", e.PlacementID, "attempts", e.Count, "error", e.Error)
	})
	bus.Subscribe(event.PlacementSkipped, func(e event.Event) {
		logger.Error("贴装点已跳过", "run_id", e.RunID, "board_id", e.BoardID, "placement_id", e.PlacementID, "error", e.Error)
	})
	bus.Subscribe(event.BoardLocated, func(e event.Event) {
		logger.Info("板卡位置已修正", "run_id", e.RunID, "board_id", e.BoardID)
	})
	bus.Subscribe(event.RunFinished, func(e event.Event) {
		if e.Summary == nil {
			return
		}
		logger.Info("运行结束", "run_id", e.RunID, "dispensed", e.Summary.Dispensed,
			"total", e.Summary.Total, "pph", e.Summary.PlacementsPerHour)
	})
}
