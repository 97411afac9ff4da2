package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/SakuyaIzayoi/openpnp/internal/event"
	"github.com/SakuyaIzayoi/openpnp/internal/fsm"
	"github.com/SakuyaIzayoi/openpnp/internal/motion"
	"github.com/SakuyaIzayoi/openpnp/internal/planner"
	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

// PhaseKind 定义状态机阶段
type PhaseKind string

const (
	PhaseNone               PhaseKind = ""
	PhasePreFlight          PhaseKind = "PRE_FLIGHT"
	PhasePanelFiducialCheck PhaseKind = "PANEL_FIDUCIAL_CHECK"
	PhaseBoardFiducialCheck PhaseKind = "BOARD_FIDUCIAL_CHECK"
	PhasePlan               PhaseKind = "PLAN"
	PhaseDispense           PhaseKind = "DISPENSE"
	PhaseFinishCycle        PhaseKind = "FINISH_CYCLE"
	PhaseFinish             PhaseKind = "FINISH"
)

// phase 是状态机的当前阶段，只携带该阶段需要的数据
type phase struct {
	kind    PhaseKind
	located map[*types.BoardLocation]bool // PhaseBoardFiducialCheck: 本次运行已修正的板卡
	cycle   *cycle                        // PhaseDispense: 当前点胶周期
}

// step 执行一个阶段，返回下一阶段
func (p *Processor) step(ctx context.Context, r *run, ph phase) (phase, error) {
	switch ph.kind {
	case PhasePreFlight:
		return p.preFlight(r)
	case PhasePanelFiducialCheck:
		return p.panelFiducialCheck(ctx, r)
	case PhaseBoardFiducialCheck:
		return p.boardFiducialCheck(ctx, r, ph)
	case PhasePlan:
		return p.plan(r)
	case PhaseDispense:
		return ph.cycle.step(ctx, ph, phase{kind: PhaseFinishCycle}, func(ctx context.Context, pp *plannedPlacement) error {
			return p.dispensePlacement(ctx, r, pp)
		})
	case PhaseFinishCycle:
		return phase{kind: PhasePlan}, nil
	case PhaseFinish:
		return p.finish(ctx, r)
	default:
		return ph, fmt.Errorf("unknown phase %q", ph.kind)
	}
}

func (p *Processor) preFlight(r *run) (phase, error) {
	r.started = p.clock()
	r.finished = time.Time{}
	r.dispensed = 0
	r.placements = nil

	head, err := p.machine.DefaultHead()
	if err != nil {
		return phase{}, newError(ErrHardware, "machine "+p.machine.ID(), err)
	}
	r.head = head

	if err := p.checkSetupErrors(r); err != nil {
		return phase{}, err
	}

	p.logger.Info("预检完成", "run_id", r.id, "head_id", head.ID(), "placements", len(r.placements))
	p.events.Publish(event.Event{Type: event.RunStarted, RunID: r.id, Message: r.job.Name, Count: len(r.placements)})
	return phase{kind: PhasePanelFiducialCheck}, nil
}

func (p *Processor) checkSetupErrors(r *run) error {
	p.textStatus("Checking job for setup errors.")

	for _, bl := range r.job.BoardLocations {
		// 只检查启用的板卡
		if !bl.Enabled || bl.Board == nil {
			continue
		}
		if err := checkDuplicateRefs(bl); err != nil {
			return err
		}

		for _, placement := range bl.Board.Placements {
			if placement.Type != types.PlacementTypePlacement {
				continue
			}
			if !placement.Enabled {
				continue
			}
			// 忽略已经点过胶的
			if bl.Placed(placement.ID) {
				continue
			}
			// 忽略不在当前加工面的
			if placement.Side != bl.Side {
				continue
			}
			r.placements = append(r.placements, types.NewJobPlacement(bl, placement))
		}
	}
	return nil
}

func checkDuplicateRefs(bl *types.BoardLocation) error {
	seen := make(map[string]bool, len(bl.Board.Placements))
	for _, placement := range bl.Board.Placements {
		if seen[placement.ID] {
			return newError(ErrSetup, bl.String(),
				fmt.Errorf("this board contains at least one duplicate ID entry: %s", placement.ID))
		}
		seen[placement.ID] = true
	}
	return nil
}

func (p *Processor) panelFiducialCheck(ctx context.Context, r *run) (phase, error) {
	job := r.job
	if job.UsingPanel() && job.Panels[0].CheckFiducials && len(job.BoardLocations) > 0 {
		bl := job.BoardLocations[0]
		p.textStatus("Panel fiducial check on %s", bl)
		if err := p.locate(ctx, r, bl, job.Panels[0].CheckFiducials); err != nil {
			return phase{}, err
		}
	}
	return phase{kind: PhaseBoardFiducialCheck, located: make(map[*types.BoardLocation]bool)}, nil
}

// boardFiducialCheck 每次调用只修正一块板卡，全部完成后进入规划
func (p *Processor) boardFiducialCheck(ctx context.Context, r *run, ph phase) (phase, error) {
	for _, bl := range r.job.BoardLocations {
		if !bl.Enabled || !bl.CheckFiducials || ph.located[bl] {
			continue
		}
		p.textStatus("Fiducial check for %s", bl)
		if err := p.locate(ctx, r, bl, bl.CheckFiducials); err != nil {
			return phase{}, err
		}
		ph.located[bl] = true
		return ph, nil
	}
	return phase{kind: PhasePlan}, nil
}

func (p *Processor) locate(ctx context.Context, r *run, bl *types.BoardLocation, useFiducials bool) error {
	loc, err := p.locator.LocateBoard(ctx, bl, useFiducials)
	if err != nil {
		return newError(ErrHardware, bl.String(), err)
	}
	bl.Location = loc
	p.events.Publish(event.Event{Type: event.BoardLocated, RunID: r.id, BoardID: bl.ID})
	return nil
}

func (p *Processor) plan(r *run) (phase, error) {
	p.textStatus("Planning paste placements.")

	pending := r.pending()
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].PlacementID() < pending[j].PlacementID()
	})
	if len(pending) == 0 {
		return phase{kind: PhaseFinish}, nil
	}

	t := p.clock()
	planned, err := p.planner.Plan(r.head, pending)
	if err != nil {
		return phase{}, newError(ErrPlanner, "planner", err)
	}
	p.logger.Debug("规划完成", "run_id", r.id, "duration_ms", p.clock().Sub(t).Milliseconds(), "planned", len(planned))
	if len(planned) == 0 {
		return phase{}, newError(ErrPlanner, "planner",
			errors.New("planner produced no assignments"))
	}

	// 先校验整批，避免部分贴装点已进入 Processing 后才发现错误
	if err := validatePlan(pending, planned); err != nil {
		return phase{}, newError(ErrPlanner, "planner", err)
	}
	for _, pp := range planned {
		if err := pp.JobPlacement.MarkProcessing(); err != nil {
			return phase{}, newError(ErrPlanner, "planner", err)
		}
	}
	p.events.Publish(event.Event{Type: event.PlacementsPlanned, RunID: r.id, Count: len(planned)})
	return phase{kind: PhaseDispense, cycle: newCycle(p, r, planned)}, nil
}

// validatePlan 要求每条分配都指向一个不重复的待处理贴装点并带有吸嘴
func validatePlan(pending []*types.JobPlacement, planned []*planner.PlannedPlacement) error {
	want := make(map[*types.JobPlacement]bool, len(pending))
	for _, jp := range pending {
		want[jp] = true
	}
	seen := make(map[*types.JobPlacement]bool, len(planned))
	for i, pp := range planned {
		switch {
		case pp == nil || pp.JobPlacement == nil:
			return fmt.Errorf("assignment %d has no placement", i)
		case pp.Nozzle == nil:
			return fmt.Errorf("assignment %d (%s) has no nozzle", i, pp.JobPlacement)
		case seen[pp.JobPlacement]:
			return fmt.Errorf("placement %s assigned more than once", pp.JobPlacement)
		case !want[pp.JobPlacement]:
			return fmt.Errorf("placement %s is not pending", pp.JobPlacement)
		}
		seen[pp.JobPlacement] = true
	}
	return nil
}

func (p *Processor) finish(ctx context.Context, r *run) (phase, error) {
	if err := p.cleanup(ctx, r.head); err != nil {
		return phase{}, err
	}

	r.finished = p.clock()
	s := p.summary()
	p.logger.Info("任务完成", "run_id", r.id, "dispensed", s.Dispensed,
		"elapsed_sec", fmt.Sprintf("%.1f", s.ElapsedSeconds), "pph", fmt.Sprintf("%.1f", s.PlacementsPerHour))
	p.textStatus("Job finished %d placements in %.1f sec. This is %.1f PPH", s.Dispensed, s.ElapsedSeconds, s.PlacementsPerHour)

	if p.hook != nil {
		if err := p.hook.JobFinished(ctx, r.job, s); err != nil {
			return phase{}, newError(ErrCompletionHook, "Job.Finished", err)
		}
	}
	p.events.Publish(event.Event{Type: event.RunFinished, RunID: r.id, Count: s.Dispensed, Summary: &s})
	return phase{}, nil
}

// cleanup 抬到安全高度后停靠运动头，Finish 与 Abort 共用
func (p *Processor) cleanup(ctx context.Context, head motion.Head) error {
	p.textStatus("Cleaning up.")
	if err := head.MoveToSafeZ(ctx); err != nil {
		return newError(ErrHardware, "head "+head.ID(), err)
	}

	p.textStatus("Park head.")
	if err := head.Park(ctx); err != nil {
		return newError(ErrHardware, "head "+head.ID(), err)
	}
	return nil
}

func (r *run) pending() []*types.JobPlacement {
	var out []*types.JobPlacement
	for _, jp := range r.placements {
		if jp.Status() == fsm.StatePending {
			out = append(out, jp)
		}
	}
	return out
}
