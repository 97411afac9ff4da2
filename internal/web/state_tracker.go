package web

import (
	"sync"

	"github.com/SakuyaIzayoi/openpnp/internal/event"
	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

// 贴装点在 UI 中的状态
const (
	PlacementDispensed = "DISPENSED"
	PlacementDeferred  = "DEFERRED"
	PlacementSkipped   = "SKIPPED"
)

// PlacementState 定义了用于 UI 展示的贴装点状态
type PlacementState struct {
	BoardID     string `json:"board_id"`
	PlacementID string `json:"placement_id"`
	NozzleID    string `json:"nozzle_id,omitempty"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts,omitempty"`
	Error       string `json:"error,omitempty"`
}

// JobSnapshot 代表当前任务的实时状态快照
type JobSnapshot struct {
	RunID      string                    `json:"run_id"`
	State      types.JobState            `json:"state"`
	Phase      string                    `json:"phase"`
	Message    string                    `json:"message"`
	Total      int                       `json:"total"`
	Dispensed  int                       `json:"dispensed"`
	Cycles     int                       `json:"cycles"`
	LastError  string                    `json:"last_error,omitempty"`
	Placements map[string]PlacementState `json:"placements"`
	Summary    *event.RunSummary         `json:"summary,omitempty"`
}

// StateTracker 负责追踪任务的实时状态，并通知前端更新
type StateTracker struct {
	mu    sync.RWMutex
	state JobSnapshot
	hub   *Hub
}

// NewStateTracker 创建一个新的 StateTracker 实例
func NewStateTracker(hub *Hub) *StateTracker {
	return &StateTracker{
		state: JobSnapshot{State: types.JobStateStopped, Placements: make(map[string]PlacementState)},
		hub:   hub,
	}
}

// update 在锁内修改状态并广播
// 事件按发布顺序同步送达，出现新的运行 ID 即表示新的运行开始
func (st *StateTracker) update(runID string, fn func(s *JobSnapshot)) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if runID != "" && runID != st.state.RunID {
		st.state = JobSnapshot{RunID: runID, State: st.state.State, Placements: make(map[string]PlacementState)}
	}
	fn(&st.state)
	if st.hub != nil {
		st.hub.BroadcastState(st.state)
	}
}

// StartRun 预检完成，清空上一次预检之后的进度
func (st *StateTracker) StartRun(runID string, total int) {
	st.update(runID, func(s *JobSnapshot) {
		s.Total = total
		s.Dispensed = 0
		s.Cycles = 0
		s.LastError = ""
		s.Summary = nil
		s.Placements = make(map[string]PlacementState)
	})
}

// SetJobState 更新任务状态
func (st *StateTracker) SetJobState(runID string, state types.JobState) {
	st.update(runID, func(s *JobSnapshot) { s.State = state })
}

// SetMessage 更新进度信息
func (st *StateTracker) SetMessage(runID, msg string) {
	st.update(runID, func(s *JobSnapshot) { s.Message = msg })
}

// SetPhase 记录最近完成的阶段
func (st *StateTracker) SetPhase(runID, phase string) {
	st.update(runID, func(s *JobSnapshot) { s.Phase = phase })
}

// CyclePlanned 记录一个新的点胶周期
func (st *StateTracker) CyclePlanned(runID string) {
	st.update(runID, func(s *JobSnapshot) { s.Cycles++ })
}

// PlacementDone 记录点胶成功；dispensed 为运行内的累计数，只增不减
func (st *StateTracker) PlacementDone(runID, boardID, placementID, nozzleID string, dispensed int) {
	st.update(runID, func(s *JobSnapshot) {
		s.Placements[boardID+"/"+placementID] = PlacementState{
			BoardID: boardID, PlacementID: placementID, NozzleID: nozzleID, Status: PlacementDispensed,
		}
		if dispensed > s.Dispensed {
			s.Dispensed = dispensed
		}
	})
}

// PlacementFailed 记录被延后或跳过的贴装点
func (st *StateTracker) PlacementFailed(runID, boardID, placementID, status string, attempts int, err error) {
	st.update(runID, func(s *JobSnapshot) {
		key := boardID + "/" + placementID
		if cur, ok := s.Placements[key]; ok && cur.Status == PlacementDispensed {
			return
		}
		ps := PlacementState{BoardID: boardID, PlacementID: placementID, Status: status, Attempts: attempts}
		if err != nil {
			ps.Error = err.Error()
			s.LastError = ps.Error
		}
		s.Placements[key] = ps
	})
}

// RunFinished 记录运行统计
func (st *StateTracker) RunFinished(runID string, summary *event.RunSummary) {
	st.update(runID, func(s *JobSnapshot) { s.Summary = summary })
}

// GetStateSnapshot 返回当前状态的一个深拷贝副本
func (st *StateTracker) GetStateSnapshot() JobSnapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()

	snap := st.state
	snap.Placements = make(map[string]PlacementState, len(st.state.Placements))
	for k, v := range st.state.Placements {
		snap.Placements[k] = v
	}
	if st.state.Summary != nil {
		s := *st.state.Summary
		snap.Summary = &s
	}
	return snap
}
