package planner

import (
	"fmt"

	"github.com/SakuyaIzayoi/openpnp/internal/motion"
	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

// PlannedPlacement 是一次点胶周期内贴装点与吸嘴的配对，周期内不可变
type PlannedPlacement struct {
	JobPlacement *types.JobPlacement
	Nozzle       motion.Nozzle
}

func (p *PlannedPlacement) String() string {
	return fmt.Sprintf("%s -> %s", p.JobPlacement, p.Nozzle.ID())
}

// Planner 为待处理的贴装点分配吸嘴和顺序
// 输入非空时必须返回非空结果，否则任务失败
type Planner interface {
	Plan(head motion.Head, pending []*types.JobPlacement) ([]*PlannedPlacement, error)
}

// Trivial 参考规划器：按输入顺序把贴装点依次轮流分配给运动头上的吸嘴
// BatchSize 为 0 时每个周期每个吸嘴只分配一个贴装点
type Trivial struct {
	BatchSize int
}

func (t Trivial) Plan(head motion.Head, pending []*types.JobPlacement) ([]*PlannedPlacement, error) {
	nozzles := head.Nozzles()
	if len(nozzles) == 0 {
		return nil, fmt.Errorf("head %s has no nozzles", head.ID())
	}
	batch := t.BatchSize
	if batch <= 0 {
		batch = len(nozzles)
	}
	if batch > len(pending) {
		batch = len(pending)
	}

	planned := make([]*PlannedPlacement, 0, batch)
	for i := 0; i < batch; i++ {
		planned = append(planned, &PlannedPlacement{
			JobPlacement: pending[i],
			Nozzle:       nozzles[i%len(nozzles)],
		})
	}
	return planned, nil
}
