package engine

import (
	"context"
	"fmt"

	"github.com/SakuyaIzayoi/openpnp/internal/event"
	"github.com/SakuyaIzayoi/openpnp/internal/motion"
	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

// dispensePlacement 对一个规划执行点胶，成功后更新记录、板卡标记和计数
// 失败时不修改任何状态，因此可以对同一规划重复调用
func (p *Processor) dispensePlacement(ctx context.Context, r *run, pp *plannedPlacement) error {
	jp := pp.JobPlacement
	nozzle := pp.Nozzle
	target := jp.BoardLocation.PlacementLocation(jp.Placement.Location)

	p.textStatus("Placing %s.", jp.Placement.ID)
	start := p.clock()
	if err := p.dispense(ctx, nozzle, target); err != nil {
		return newError(ErrHardware, "nozzle "+nozzle.ID(), err)
	}

	if err := jp.MarkComplete(); err != nil {
		return fmt.Errorf("complete %s: %w", jp, err)
	}
	jp.BoardLocation.SetPlaced(jp.Placement.ID, true)
	r.dispensed++

	p.events.Publish(event.Event{
		Type:        event.PlacementDispensed,
		RunID:       r.id,
		BoardID:     jp.BoardLocation.ID,
		PlacementID: jp.Placement.ID,
		NozzleID:    nozzle.ID(),
		Count:       r.dispensed,
		Duration:    p.clock().Sub(start).Seconds(),
	})
	return nil
}

// dispense 点胶动作序列：安全高度接近、点胶行程、相对当前位置回抽、回到安全高度
func (p *Processor) dispense(ctx context.Context, nozzle motion.Nozzle, target types.Location) error {
	if err := nozzle.MoveToLocationAtSafeZ(ctx, target); err != nil {
		return err
	}

	stroke := types.Location{Rotation: p.settings.DispenseAmount}
	if err := nozzle.MoveTo(ctx, target.Add(stroke)); err != nil {
		return err
	}

	current, err := nozzle.Location(ctx)
	if err != nil {
		return err
	}
	retract := types.Location{Rotation: -p.settings.RetractAmount}
	if err := nozzle.MoveTo(ctx, current.Add(retract)); err != nil {
		return err
	}

	return nozzle.MoveToSafeZ(ctx)
}
