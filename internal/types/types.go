package types

import (
	"fmt"
	"sync"
)

// Side 定义板面
type Side string

const (
	SideTop    Side = "Top"
	SideBottom Side = "Bottom"
)

// PlacementType 定义贴装点类型，只有 Placement 类型会被点胶
type PlacementType string

const (
	PlacementTypePlacement PlacementType = "Placement"
	PlacementTypeFiducial  PlacementType = "Fiducial"
)

// ErrorHandling 定义单个贴装点点胶失败时的处理策略
type ErrorHandling string

const (
	ErrorHandlingAlert ErrorHandling = "Alert" // 失败即中止整个任务
	ErrorHandlingDefer ErrorHandling = "Defer" // 记录错误并继续本批次
)

// JobState 定义任务级别的状态，随状态事件发送给订阅者
type JobState string

const (
	JobStateStopped  JobState = "STOPPED"
	JobStateRunning  JobState = "RUNNING"
	JobStateError    JobState = "ERROR"
	JobStateFinished JobState = "FINISHED"
)

// Placement 是板卡设计上的一个点胶目标（静态定义）
type Placement struct {
	ID            string        `yaml:"id" json:"id"`
	Type          PlacementType `yaml:"type" json:"type"`
	Side          Side          `yaml:"side" json:"side"`
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Location      Location      `yaml:"location" json:"location"` // 板卡坐标系下的位置
	ErrorHandling ErrorHandling `yaml:"error_handling" json:"error_handling"`
}

// Board 是板卡设计，包含全部贴装点
type Board struct {
	Name       string       `yaml:"name" json:"name"`
	Placements []*Placement `yaml:"placements" json:"placements"`
}

// BoardLocation 是一块板卡在机器坐标系中的实例
type BoardLocation struct {
	ID             string   `yaml:"id" json:"id"`
	Board          *Board   `yaml:"board" json:"board"`
	Location       Location `yaml:"location" json:"location"`
	Side           Side     `yaml:"side" json:"side"`
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	CheckFiducials bool     `yaml:"check_fiducials" json:"check_fiducials"`

	mu     sync.RWMutex
	placed map[string]bool // 已点胶的贴装点 ID
}

func (bl *BoardLocation) String() string {
	name := ""
	if bl.Board != nil {
		name = bl.Board.Name
	}
	return fmt.Sprintf("BoardLocation(%s %s @ %s)", bl.ID, name, bl.Location)
}

// Placed 返回贴装点是否已经点胶
func (bl *BoardLocation) Placed(placementID string) bool {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	return bl.placed[placementID]
}

// SetPlaced 设置贴装点的已点胶标记
func (bl *BoardLocation) SetPlaced(placementID string, placed bool) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if bl.placed == nil {
		bl.placed = make(map[string]bool)
	}
	if placed {
		bl.placed[placementID] = true
	} else {
		delete(bl.placed, placementID)
	}
}

// ClearPlaced 清除所有已点胶标记
func (bl *BoardLocation) ClearPlaced() {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	bl.placed = nil
}

// PlacedCount 返回已点胶的数量
func (bl *BoardLocation) PlacedCount() int {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	return len(bl.placed)
}

// Panel 描述拼板信息
type Panel struct {
	ID             string `yaml:"id" json:"id"`
	CheckFiducials bool   `yaml:"check_fiducials" json:"check_fiducials"`
}

// Job 是一次点胶任务：有序的板卡实例列表，加上可选的拼板信息
type Job struct {
	Name           string           `yaml:"name" json:"name"`
	BoardLocations []*BoardLocation `yaml:"board_locations" json:"board_locations"`
	Panels         []*Panel         `yaml:"panels,omitempty" json:"panels,omitempty"`
}

// UsingPanel 判断任务是否使用拼板
func (j *Job) UsingPanel() bool {
	return len(j.Panels) > 0
}
