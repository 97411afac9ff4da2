package fsm

import (
	"fmt"
	"sync"
)

// State 定义状态类型
type State string

// Event 定义事件类型
type Event string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateComplete   State = "COMPLETE"
)

const (
	EventPlan     Event = "PLAN"     // 规划器把贴装点分配给吸嘴
	EventDispense Event = "DISPENSE" // 点胶动作成功
)

// FSM 贴装点记录的有限状态机
// 只允许 PENDING -> PROCESSING -> COMPLETE 单向推进，COMPLETE 为终态
type FSM struct {
	mu      sync.Mutex
	current State
	// transitions 定义状态转移表: CurrentState -> Event -> NextState
	transitions map[State]map[Event]State
	TargetID    string // 关联的目标对象ID（如 板卡/贴装点）
}

func NewFSM(targetID string) *FSM {
	fsm := &FSM{
		current:     StatePending,
		TargetID:    targetID,
		transitions: make(map[State]map[Event]State),
	}
	fsm.initTransitions()
	return fsm
}

func (f *FSM) initTransitions() {
	f.addTransition(StatePending, EventPlan, StateProcessing)
	f.addTransition(StateProcessing, EventDispense, StateComplete)
}

func (f *FSM) addTransition(from State, event Event, to State) {
	if _, ok := f.transitions[from]; !ok {
		f.transitions[from] = make(map[Event]State)
	}
	f.transitions[from][event] = to
}

// Current 返回当前状态
func (f *FSM) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Fire 触发事件
func (f *FSM) Fire(event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	nextState, ok := f.transitions[f.current][event]
	if !ok {
		return fmt.Errorf("invalid transition: %s cannot fire event %s from state %s", f.TargetID, event, f.current)
	}
	f.current = nextState
	return nil
}
