package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/SakuyaIzayoi/openpnp/internal/event"
	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

// Runner 是 Processor 的外部驱动：反复调用 Next 直到任务结束
// 取消只在阶段之间生效，取消后执行 Abort 使机器回到安全状态
type Runner struct {
	processor *Processor
	stepDelay time.Duration // 阶段之间的间隔
	logger    *slog.Logger

	// 尚未被 Run 消费的中止请求，覆盖 Initialize 之前到达的 Abort
	aborted atomic.Bool
}

// NewRunner 创建一个新的 Runner 实例
func NewRunner(p *Processor, stepDelayMs int, logger *slog.Logger) *Runner {
	return &Runner{
		processor: p,
		stepDelay: time.Duration(stepDelayMs) * time.Millisecond,
		logger:    logger.With("component", "runner"),
	}
}

// Processor 返回被驱动的状态机
func (r *Runner) Processor() *Processor {
	return r.processor
}

// Run 初始化并执行整个任务
// 返回 nil 表示任务完成；ErrAborted 表示被外部 Abort；ctx 被取消时返回 ctx.Err()
func (r *Runner) Run(ctx context.Context, job *types.Job) error {
	defer r.aborted.Store(false)

	if err := r.processor.Initialize(job); err != nil {
		return err
	}
	if r.aborted.Load() {
		r.logger.Warn("任务在开始前已被中止")
		r.processor.Abort(context.WithoutCancel(ctx))
		return ErrAborted
	}

	steps := 0
	for {
		if ctx.Err() != nil {
			return r.cancel(ctx)
		}

		more, err := r.processor.Next(ctx)
		if errors.Is(err, ErrNoActivePhase) {
			r.logger.Warn("任务已被中止", "steps", steps)
			return ErrAborted
		}
		if err != nil {
			if ctx.Err() != nil {
				return r.cancel(ctx)
			}
			return err
		}
		steps++
		if !more {
			r.logger.Info("任务执行完毕", "steps", steps)
			return nil
		}

		if r.stepDelay > 0 {
			select {
			case <-ctx.Done():
				return r.cancel(ctx)
			case <-time.After(r.stepDelay):
			}
		}
	}
}

// Summary 返回当前运行的统计信息
func (r *Runner) Summary() event.RunSummary {
	return r.processor.Summary()
}

// Abort 从外部中止正在运行的任务，会等待当前阶段结束
// 在 Run 完成初始化之前调用时，请求会保留到 Run 开始时生效
func (r *Runner) Abort(ctx context.Context) {
	r.aborted.Store(true)
	r.processor.Abort(ctx)
}

func (r *Runner) cancel(ctx context.Context) error {
	r.logger.Warn("接收到取消信号，正在中止任务")
	r.processor.Abort(context.WithoutCancel(ctx))
	return ctx.Err()
}
