package motion

import (
	"context"

	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

// Nozzle 定义点胶吸嘴接口
// 所有运动调用都是阻塞的，同一吸嘴上不允许并发运动
type Nozzle interface {
	ID() string
	Location(ctx context.Context) (types.Location, error)
	MoveTo(ctx context.Context, loc types.Location) error
	// MoveToLocationAtSafeZ 先抬到安全高度，在安全高度平移到目标上方，再下降到目标
	MoveToLocationAtSafeZ(ctx context.Context, loc types.Location) error
	MoveToSafeZ(ctx context.Context) error
}

// Head 定义运动头接口
type Head interface {
	ID() string
	Nozzles() []Nozzle
	MoveToSafeZ(ctx context.Context) error
	Park(ctx context.Context) error
}

// Machine 定义机器接口，任务开始时从中解析默认运动头
type Machine interface {
	ID() string
	DefaultHead() (Head, error)
}

// MoveKind 标识一次运动调用的类型，用于模拟机记录与远程协议
type MoveKind string

const (
	MoveApproach MoveKind = "APPROACH" // MoveToLocationAtSafeZ
	MoveDirect   MoveKind = "MOVE"     // MoveTo
	MoveSafeZ    MoveKind = "SAFE_Z"
	MovePark     MoveKind = "PARK"
)

// Move 记录一次运动调用
type Move struct {
	Kind MoveKind       `json:"kind"`
	From types.Location `json:"from"`
	To   types.Location `json:"to"`
}
