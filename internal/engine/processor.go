package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SakuyaIzayoi/openpnp/internal/event"
	"github.com/SakuyaIzayoi/openpnp/internal/fiducial"
	"github.com/SakuyaIzayoi/openpnp/internal/fsm"
	"github.com/SakuyaIzayoi/openpnp/internal/hooks"
	"github.com/SakuyaIzayoi/openpnp/internal/motion"
	"github.com/SakuyaIzayoi/openpnp/internal/planner"
	"github.com/SakuyaIzayoi/openpnp/internal/types"
	"github.com/SakuyaIzayoi/openpnp/internal/util"
)

// Publisher 接收进度信息和任务状态变化，发送即忘，不影响状态机正确性
type Publisher interface {
	Publish(e event.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(event.Event) {}

// Settings 点胶参数
type Settings struct {
	DispenseAmount  float64 // 点胶行程（毫米，作用于挤出轴）
	RetractAmount   float64 // 回抽行程（毫米）
	MaxDeferRetries int     // Defer 策略下同一贴装点的最大失败次数，0 表示不限制
}

// DefaultSettings 返回默认点胶参数
func DefaultSettings() Settings {
	return Settings{DispenseAmount: 50.0, RetractAmount: 20.0}
}

// Option 定制 Processor
type Option func(*Processor)

// WithSettings 设置点胶参数
func WithSettings(s Settings) Option {
	return func(p *Processor) { p.settings = s }
}

// WithHook 设置任务完成回调
func WithHook(h hooks.Hook) Option {
	return func(p *Processor) { p.hook = h }
}

// WithPublisher 设置事件接收者
func WithPublisher(pub Publisher) Option {
	return func(p *Processor) {
		if pub != nil {
			p.events = pub
		}
	}
}

// WithClock 注入时钟（主要用于测试）
func WithClock(clock func() time.Time) Option {
	return func(p *Processor) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// Processor 是点胶任务的状态机
// 外部驱动反复调用 Next，每次执行当前阶段一步并切换到下一阶段
type Processor struct {
	machine  motion.Machine
	locator  fiducial.Locator
	planner  planner.Planner
	hook     hooks.Hook
	events   Publisher
	settings Settings
	clock    func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex // 串行化 Initialize / Next / Abort
	current phase
	run     *run
}

// run 是一次运行的上下文，显式传入每个阶段
type run struct {
	id         string
	job        *types.Job
	head       motion.Head
	placements []*types.JobPlacement
	started    time.Time
	finished   time.Time // 结束或中止的时刻，零值表示仍在运行
	dispensed  int
}

// NewProcessor 创建一个新的 Processor 实例
func NewProcessor(machine motion.Machine, locator fiducial.Locator, pl planner.Planner, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		machine:  machine,
		locator:  locator,
		planner:  pl,
		events:   nopPublisher{},
		settings: DefaultSettings(),
		clock:    time.Now,
		logger:   logger.With("component", "job-processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize 绑定任务并把状态机置于预检阶段
func (p *Processor) Initialize(job *types.Job) error {
	if job == nil {
		return fmt.Errorf("%w: can't initialize with a nil job", ErrInvalidArgument)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.run = &run{id: util.NewTraceID(), job: job, started: p.clock()}
	p.current = phase{kind: PhasePreFlight}
	p.logger.Info("任务已初始化", "run_id", p.run.id, "job", job.Name)
	p.fireJobState(types.JobStateStopped)
	return nil
}

// Next 执行当前阶段一次，返回是否还有后续阶段
// 出错时当前阶段保持不变，可以在排除故障后再次调用 Next 重试
func (p *Processor) Next(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current.kind == PhaseNone {
		return false, ErrNoActivePhase
	}
	ctx = util.ContextWithTraceID(ctx, p.run.id)

	p.fireJobState(types.JobStateRunning)
	kind := p.current.kind
	start := p.clock()
	next, err := p.step(ctx, p.run, p.current)
	if err != nil {
		p.logger.Error("阶段执行失败", "run_id", p.run.id, "phase", kind, "error", err)
		p.fireJobState(types.JobStateError)
		return false, err
	}
	p.events.Publish(event.Event{
		Type:     event.PhaseCompleted,
		RunID:    p.run.id,
		Phase:    string(kind),
		Duration: p.clock().Sub(start).Seconds(),
	})

	p.current = next
	if next.kind == PhaseNone {
		p.fireJobState(types.JobStateFinished)
		return false, nil
	}
	return true, nil
}

// Abort 在任意阶段中止任务：尽力执行清理（错误仅记录），然后进入终态
// 不会抢占正在执行的阶段，会等待其结束
func (p *Processor) Abort(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger := p.logger
	var head motion.Head
	if p.run != nil {
		logger = logger.With("run_id", p.run.id)
		ctx = util.ContextWithTraceID(ctx, p.run.id)
		head = p.run.head
		if p.run.finished.IsZero() {
			p.run.finished = p.clock()
		}
	}
	if head == nil {
		h, err := p.machine.DefaultHead()
		if err != nil {
			logger.Error("中止时无法获取运动头", "error", err)
		}
		head = h
	}
	if head != nil {
		if err := p.cleanup(ctx, head); err != nil {
			logger.Error("中止清理失败", "error", err)
		}
	}

	p.textStatus("Aborted.")
	p.fireJobState(types.JobStateStopped)
	p.current = phase{}
	logger.Warn("任务已中止")
}

// Phase 返回当前阶段
func (p *Processor) Phase() PhaseKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.kind
}

// Placements 返回本次运行的贴装点记录副本
func (p *Processor) Placements() []*types.JobPlacement {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run == nil {
		return nil
	}
	out := make([]*types.JobPlacement, len(p.run.placements))
	copy(out, p.run.placements)
	return out
}

// Summary 返回本次运行的统计信息
func (p *Processor) Summary() event.RunSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary()
}

func (p *Processor) summary() event.RunSummary {
	if p.run == nil {
		return event.RunSummary{}
	}
	s := event.RunSummary{
		RunID:     p.run.id,
		JobName:   p.run.job.Name,
		Dispensed: p.run.dispensed,
		Total:     len(p.run.placements),
	}
	for _, jp := range p.run.placements {
		if jp.DeferCount() > 0 && jp.Status() != fsm.StateComplete {
			s.Deferred++
		}
	}
	end := p.run.finished
	if end.IsZero() {
		end = p.clock()
	}
	s.ElapsedSeconds = end.Sub(p.run.started).Seconds()
	if s.ElapsedSeconds > 0 {
		s.PlacementsPerHour = float64(s.Dispensed) / (s.ElapsedSeconds / 3600.0)
	}
	return s
}

func (p *Processor) fireJobState(state types.JobState) {
	e := event.Event{Type: event.JobStateChanged, State: state}
	if p.run != nil {
		e.RunID = p.run.id
	}
	p.events.Publish(e)
}

func (p *Processor) textStatus(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	e := event.Event{Type: event.TextStatus, Message: msg}
	if p.run != nil {
		e.RunID = p.run.id
	}
	p.logger.Debug(msg)
	p.events.Publish(e)
}
