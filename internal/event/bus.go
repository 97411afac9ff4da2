package event

import (
	"sync"

	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

// EventType 定义事件的类型
type EventType string

// 定义所有业务事件类型
const (
	JobStateChanged    EventType = "JobStateChanged"    // 任务状态变化 (STOPPED/RUNNING/ERROR/FINISHED)
	TextStatus         EventType = "TextStatus"         // 人类可读的进度信息
	PhaseCompleted     EventType = "PhaseCompleted"     // 一个阶段步骤执行完成
	PlacementsPlanned  EventType = "PlacementsPlanned"  // 一个点胶周期规划完成
	PlacementDispensed EventType = "PlacementDispensed" // 单个贴装点点胶成功
	PlacementDeferred  EventType = "PlacementDeferred"  // 单个贴装点失败并被延后
	PlacementSkipped   EventType = "PlacementSkipped"   // Defer 重试次数用尽，本批次跳过
	BoardLocated       EventType = "BoardLocated"       // 板卡基准点修正完成
	RunStarted         EventType = "RunStarted"         // 任务运行开始 (预检完成)
	RunFinished        EventType = "RunFinished"        // 任务运行完成，携带统计信息
)

// RunSummary 描述一次运行的统计信息
type RunSummary struct {
	RunID             string  `json:"run_id"`
	JobName           string  `json:"job_name"`
	Dispensed         int     `json:"dispensed"`
	Total             int     `json:"total"`
	Deferred          int     `json:"deferred"`
	ElapsedSeconds    float64 `json:"elapsed_seconds"`
	PlacementsPerHour float64 `json:"placements_per_hour"`
}

// Event 结构体定义了事件的数据负载
type Event struct {
	Type        EventType      // 事件类型
	RunID       string         // 关联的运行 ID
	State       types.JobState // 任务状态 (仅 JobStateChanged)
	Phase       string         // 阶段名 (仅 PhaseCompleted)
	Message     string         // 文本信息 (TextStatus)；RunStarted 中为任务名
	BoardID     string         // 关联的板卡实例 ID
	PlacementID string         // 关联的贴装点 ID
	NozzleID    string         // 关联的吸嘴 ID
	Count       int            // 计数 (规划数量 / 已点胶数量)
	Duration    float64        // 耗时，秒
	Summary     *RunSummary    // 统计信息 (仅 RunFinished)
	Error       error          // 错误信息 (仅失败事件)
}

// Handler 是事件处理函数的签名
type Handler func(e Event)

// Bus 是一个简单的内存事件总线
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler // 存储事件类型到多个处理函数的映射
	inline   map[EventType][]Handler // 在 Publish 调用方 goroutine 中按顺序执行的处理函数
	wg       sync.WaitGroup
}

// NewBus 创建一个新的事件总线实例
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		inline:   make(map[EventType][]Handler),
	}
}

// SubscribeSync 订阅一个事件类型，处理器在 Publish 内同步执行
// 用于需要保持事件顺序的处理器（例如进度日志），处理器必须足够快
func (b *Bus) SubscribeSync(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inline[eventType] = append(b.inline[eventType], handler)
}

// Subscribe 订阅一个特定类型的事件
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish 发布一个事件，所有订阅了该事件类型的处理器都将被调用
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.inline[e.Type] {
		h(e)
	}

	if handlers, ok := b.handlers[e.Type]; ok {
		// 遍历所有处理器并异步执行
		// 使用 goroutine 避免单个处理器的阻塞影响状态机
		for _, handler := range handlers {
			b.wg.Add(1)
			go func(h Handler) {
				defer b.wg.Done()
				h(e)
			}(handler)
		}
	}
}

// Drain 等待所有已发布事件的处理器执行完毕
func (b *Bus) Drain() {
	b.wg.Wait()
}
