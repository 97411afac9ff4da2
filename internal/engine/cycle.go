package engine

import (
	"context"
	"fmt"

	"github.com/SakuyaIzayoi/openpnp/internal/event"
	"github.com/SakuyaIzayoi/openpnp/internal/fsm"
	"github.com/SakuyaIzayoi/openpnp/internal/planner"
	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

type plannedPlacement = planner.PlannedPlacement

// cycle 驱动一批规划结果，每次调用只处理一个，单个失败按贴装点策略隔离
type cycle struct {
	p         *Processor
	r         *run
	planned   []*plannedPlacement
	attempted map[*plannedPlacement]bool
}

func newCycle(p *Processor, r *run, planned []*plannedPlacement) *cycle {
	return &cycle{p: p, r: r, planned: planned, attempted: make(map[*plannedPlacement]bool)}
}

// next 返回第一个处于 PROCESSING 且本批次未尝试过的规划
func (c *cycle) next() *plannedPlacement {
	for _, pp := range c.planned {
		if pp.JobPlacement.Status() != fsm.StateProcessing {
			continue
		}
		if c.attempted[pp] {
			continue
		}
		return pp
	}
	return nil
}

// step 处理一个规划：成功返回 self；批次耗尽返回 exhausted
// Alert 失败直接返回错误；Defer 失败记录在贴装点上并返回 self，且不标记为已尝试，
// 因此同一个规划会在下一次调用时被再次选中。MaxDeferRetries > 0 时达到上限后跳过。
func (c *cycle) step(ctx context.Context, self, exhausted phase, action func(context.Context, *plannedPlacement) error) (phase, error) {
	pp := c.next()
	if pp == nil {
		return exhausted, nil
	}

	err := action(ctx, pp)
	if err == nil {
		c.attempted[pp] = true
		return self, nil
	}

	jp := pp.JobPlacement
	switch jp.Placement.ErrorHandling {
	case types.ErrorHandlingAlert:
		return self, err
	case types.ErrorHandlingDefer:
		c.deferFailure(pp, err)
		return self, nil
	default:
		return self, fmt.Errorf("unhandled error handling %q for %s: %w", jp.Placement.ErrorHandling, jp, err)
	}
}

func (c *cycle) deferFailure(pp *plannedPlacement, err error) {
	jp := pp.JobPlacement
	count := jp.Defer(err)
	logger := c.p.logger.With("run_id", c.r.id, "placement", jp.String(), "nozzle_id", pp.Nozzle.ID())
	logger.Warn("点胶失败，已延后", "error", err, "attempts", count)
	c.p.events.Publish(event.Event{
		Type:        event.PlacementDeferred,
		RunID:       c.r.id,
		BoardID:     jp.BoardLocation.ID,
		PlacementID: jp.Placement.ID,
		NozzleID:    pp.Nozzle.ID(),
		Count:       count,
		Error:       err,
	})

	limit := c.p.settings.MaxDeferRetries
	if limit > 0 && count >= limit {
		c.attempted[pp] = true
		logger.Error("延后次数达到上限，本次运行跳过该贴装点", "max_defer_retries", limit)
		c.p.events.Publish(event.Event{
			Type:        event.PlacementSkipped,
			RunID:       c.r.id,
			BoardID:     jp.BoardLocation.ID,
			PlacementID: jp.Placement.ID,
			Count:       count,
			Error:       err,
		})
	}
}
