package types

import (
	"fmt"
	"sync"

	"github.com/SakuyaIzayoi/openpnp/internal/fsm"
)

// JobPlacement 是一次运行中单个贴装点的执行记录
// 每次任务运行开始时重新创建，状态由 fsm 管理
type JobPlacement struct {
	BoardLocation *BoardLocation
	Placement     *Placement

	fsm        *fsm.FSM
	mu         sync.Mutex
	err        error // 最近一次失败
	deferCount int   // Defer 策略下的失败次数
}

// NewJobPlacement 创建一个 PENDING 状态的执行记录
func NewJobPlacement(bl *BoardLocation, p *Placement) *JobPlacement {
	jp := &JobPlacement{BoardLocation: bl, Placement: p}
	jp.fsm = fsm.NewFSM(jp.String())
	return jp
}

// PlacementID 返回贴装点 ID，用于排序
func (jp *JobPlacement) PlacementID() string {
	return jp.Placement.ID
}

// Status 返回当前状态
func (jp *JobPlacement) Status() fsm.State {
	return jp.fsm.Current()
}

// MarkProcessing 将记录从 PENDING 推进到 PROCESSING
func (jp *JobPlacement) MarkProcessing() error {
	return jp.fsm.Fire(fsm.EventPlan)
}

// MarkComplete 将记录从 PROCESSING 推进到 COMPLETE
func (jp *JobPlacement) MarkComplete() error {
	return jp.fsm.Fire(fsm.EventDispense)
}

// Defer 记录一次被延后的失败，返回累计次数
func (jp *JobPlacement) Defer(err error) int {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	jp.err = err
	jp.deferCount++
	return jp.deferCount
}

// Err 返回最近一次记录的错误
func (jp *JobPlacement) Err() error {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	return jp.err
}

// DeferCount 返回 Defer 失败次数
func (jp *JobPlacement) DeferCount() int {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	return jp.deferCount
}

func (jp *JobPlacement) String() string {
	return fmt.Sprintf("%s/%s", jp.BoardLocation.ID, jp.Placement.ID)
}
