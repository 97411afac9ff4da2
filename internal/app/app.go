package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/SakuyaIzayoi/openpnp/internal/api"
	"github.com/SakuyaIzayoi/openpnp/internal/config"
	"github.com/SakuyaIzayoi/openpnp/internal/engine"
	"github.com/SakuyaIzayoi/openpnp/internal/event"
	"github.com/SakuyaIzayoi/openpnp/internal/fiducial"
	"github.com/SakuyaIzayoi/openpnp/internal/handlers"
	"github.com/SakuyaIzayoi/openpnp/internal/hooks"
	"github.com/SakuyaIzayoi/openpnp/internal/motion"
	"github.com/SakuyaIzayoi/openpnp/internal/persistence"
	"github.com/SakuyaIzayoi/openpnp/internal/planner"
	"github.com/SakuyaIzayoi/openpnp/internal/types"
	"github.com/SakuyaIzayoi/openpnp/internal/web"
)

// App 持有一次进程生命周期内的全部组件
type App struct {
	Config  *config.Config
	Machine motion.Machine
	Locator fiducial.Locator
	Bus     *event.Bus
	Hub     *web.Hub
	Tracker *web.StateTracker
	Journal *persistence.WAL // journal_path 为空时为 nil
	Runner  *engine.Runner

	logger *slog.Logger
}

// Option 定制组件装配（主要用于测试替换协作者）
type Option func(*App)

// WithMachine 替换运动控制
func WithMachine(m motion.Machine) Option {
	return func(a *App) { a.Machine = m }
}

// WithLocator 替换基准点定位器
func WithLocator(l fiducial.Locator) Option {
	return func(a *App) { a.Locator = l }
}

// New 按配置装配组件
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	a := &App{Config: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}

	if a.Machine == nil {
		a.Machine = NewMachine(cfg.Motion, logger)
	}
	if a.Locator == nil {
		a.Locator = fiducial.NewSimLocator(logger)
	}

	a.Bus = event.NewBus()
	a.Hub = web.NewHub()
	a.Tracker = web.NewStateTracker(a.Hub)
	a.Hub.SetGreeting(func() interface{} { return a.Tracker.GetStateSnapshot() })

	var journal handlers.Journal
	if cfg.JournalPath != "" {
		wal, err := persistence.NewWAL(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("无法初始化进度日志: %w", err)
		}
		a.Journal = wal
		journal = wal
	}
	handlers.RegisterEventHandlers(a.Bus, a.Tracker, journal, logger)

	processor := engine.NewProcessor(a.Machine, a.Locator, planner.Trivial{BatchSize: cfg.Planner.BatchSize}, logger,
		engine.WithSettings(engine.Settings{
			DispenseAmount:  cfg.DispenseAmount,
			RetractAmount:   cfg.RetractAmount,
			MaxDeferRetries: cfg.MaxDeferRetries,
		}),
		engine.WithHook(NewHook(cfg.Hooks, logger)),
		engine.WithPublisher(a.Bus),
	)
	a.Runner = engine.NewRunner(processor, cfg.StepDelayMs, logger)
	return a, nil
}

// NewMachine 根据配置创建模拟机器或远程机器
func NewMachine(cfg config.MotionConfig, logger *slog.Logger) motion.Machine {
	if cfg.Mode == config.MotionRemote {
		return motion.NewRemoteMachine(cfg.Endpoint, cfg.HeadID, cfg.NozzleIDs, logger)
	}
	return motion.NewSimMachine(cfg.MachineID, NewSimHead(cfg, logger))
}

// NewSimHead 根据配置创建模拟运动头
func NewSimHead(cfg config.MotionConfig, logger *slog.Logger) *motion.SimHead {
	x, y := cfg.ParkXY()
	return motion.NewSimHead(cfg.HeadID, motion.SimHeadOptions{
		SafeZ:        cfg.SafeZ,
		ParkLocation: types.Location{X: x, Y: y, Z: cfg.SafeZ},
		Delay:        time.Duration(cfg.DelayMs) * time.Millisecond,
		NozzleIDs:    cfg.NozzleIDs,
	}, logger)
}

// NewHook 根据配置组合任务完成回调，未配置时返回 nil
func NewHook(cfg config.HooksConfig, logger *slog.Logger) hooks.Hook {
	var chain hooks.Chain
	if cfg.AcceptRule != "" {
		chain = append(chain, hooks.Rule{Expr: cfg.AcceptRule})
	}
	if cfg.WebhookURL != "" {
		chain = append(chain, hooks.NewWebhook(cfg.WebhookURL, logger))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

// Recover 把进度日志中上一次未完成运行的已点胶标记恢复到任务上
// 只有任务名一致时才恢复，返回恢复的贴装点数量
func (a *App) Recover(job *types.Job) (int, error) {
	if a.Journal == nil {
		return 0, nil
	}
	name, placed, err := a.Journal.Recover()
	if err != nil {
		return 0, fmt.Errorf("从进度日志恢复失败: %w", err)
	}
	if len(placed) == 0 {
		return 0, nil
	}
	if name != job.Name {
		a.logger.Warn("进度日志属于其他任务，忽略", "journal_job", name, "job", job.Name)
		return 0, nil
	}

	n := 0
	for _, bl := range job.BoardLocations {
		for id := range placed[bl.ID] {
			if !bl.Placed(id) {
				bl.SetPlaced(id, true)
				n++
			}
		}
	}
	a.logger.Info("已从进度日志恢复点胶标记", "job", job.Name, "placements", n)
	return n, nil
}

// Routes 返回控制 API
func (a *App) Routes() http.Handler {
	return api.NewServer(a.Tracker, a.Hub, a.Runner, a.logger).Routes()
}

// Close 释放资源
func (a *App) Close() error {
	a.Bus.Drain()
	if a.Journal != nil {
		return a.Journal.Close()
	}
	return nil
}
