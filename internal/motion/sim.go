package motion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

// FaultFunc 用于向模拟机注入故障，返回非 nil 时该次运动失败且位置不变
type FaultFunc func(nozzleID string, kind MoveKind, to types.Location) error

// SimMachine 本地模拟机器
type SimMachine struct {
	id    string
	heads []*SimHead
}

// NewSimMachine 创建一个带有单个运动头的模拟机器
func NewSimMachine(id string, head *SimHead) *SimMachine {
	return &SimMachine{id: id, heads: []*SimHead{head}}
}

func (m *SimMachine) ID() string { return m.id }

// DefaultHead 返回第一个运动头
func (m *SimMachine) DefaultHead() (Head, error) {
	if len(m.heads) == 0 {
		return nil, fmt.Errorf("machine %s has no heads", m.id)
	}
	return m.heads[0], nil
}

// Head 按 ID 查找运动头
func (m *SimMachine) Head(id string) (*SimHead, bool) {
	for _, h := range m.heads {
		if h.id == id {
			return h, true
		}
	}
	return nil, false
}

// SimHead 本地模拟运动头
type SimHead struct {
	id      string
	safeZ   float64
	park    types.Location
	delay   time.Duration // 模拟运动耗时
	nozzles []*SimNozzle
	logger  *slog.Logger

	mu    sync.Mutex
	fault FaultFunc
	moves []Move
}

// SimHeadOptions 模拟运动头参数
type SimHeadOptions struct {
	SafeZ        float64
	ParkLocation types.Location
	Delay        time.Duration
	NozzleIDs    []string
}

// NewSimHead 创建一个模拟运动头
func NewSimHead(id string, opts SimHeadOptions, logger *slog.Logger) *SimHead {
	h := &SimHead{
		id:     id,
		safeZ:  opts.SafeZ,
		park:   opts.ParkLocation,
		delay:  opts.Delay,
		logger: logger.With("head_id", id),
	}
	ids := opts.NozzleIDs
	if len(ids) == 0 {
		ids = []string{id + "-N1"}
	}
	for _, nid := range ids {
		h.nozzles = append(h.nozzles, &SimNozzle{id: nid, head: h, loc: types.Location{Z: opts.SafeZ}})
	}
	return h
}

func (h *SimHead) ID() string { return h.id }

func (h *SimHead) Nozzles() []Nozzle {
	out := make([]Nozzle, len(h.nozzles))
	for i, n := range h.nozzles {
		out[i] = n
	}
	return out
}

// Nozzle 按 ID 查找吸嘴
func (h *SimHead) Nozzle(id string) (*SimNozzle, bool) {
	for _, n := range h.nozzles {
		if n.id == id {
			return n, true
		}
	}
	return nil, false
}

// SetFault 设置故障注入函数，nil 表示清除
func (h *SimHead) SetFault(f FaultFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fault = f
}

// Moves 返回该运动头及其所有吸嘴执行过的运动记录
func (h *SimHead) Moves() []Move {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Move, len(h.moves))
	copy(out, h.moves)
	return out
}

// MoveToSafeZ 将所有吸嘴抬到安全高度
func (h *SimHead) MoveToSafeZ(ctx context.Context) error {
	for _, n := range h.nozzles {
		if err := n.MoveToSafeZ(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Park 将运动头移动到停靠位置（安全高度）
func (h *SimHead) Park(ctx context.Context) error {
	for _, n := range h.nozzles {
		to := h.park.WithZ(h.safeZ)
		if err := h.move(ctx, n, MovePark, to); err != nil {
			return err
		}
	}
	return nil
}

func (h *SimHead) move(ctx context.Context, n *SimNozzle, kind MoveKind, to types.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	fault := h.fault
	h.mu.Unlock()
	if fault != nil {
		if err := fault(n.id, kind, to); err != nil {
			h.logger.Warn("模拟运动故障", "nozzle_id", n.id, "kind", kind, "to", to.String(), "error", err)
			return err
		}
	}
	if h.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.delay):
		}
	}

	n.mu.Lock()
	from := n.loc
	n.loc = to
	n.mu.Unlock()

	h.mu.Lock()
	h.moves = append(h.moves, Move{Kind: kind, From: from, To: to})
	h.mu.Unlock()
	h.logger.Debug("运动完成", "nozzle_id", n.id, "kind", kind, "to", to.String())
	return nil
}

// SimNozzle 本地模拟吸嘴
type SimNozzle struct {
	id   string
	head *SimHead

	mu  sync.Mutex
	loc types.Location
}

func (n *SimNozzle) ID() string { return n.id }

func (n *SimNozzle) Location(ctx context.Context) (types.Location, error) {
	if err := ctx.Err(); err != nil {
		return types.Location{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loc, nil
}

func (n *SimNozzle) MoveTo(ctx context.Context, loc types.Location) error {
	return n.head.move(ctx, n, MoveDirect, loc)
}

func (n *SimNozzle) MoveToLocationAtSafeZ(ctx context.Context, loc types.Location) error {
	return n.head.move(ctx, n, MoveApproach, loc)
}

func (n *SimNozzle) MoveToSafeZ(ctx context.Context) error {
	n.mu.Lock()
	to := n.loc.WithZ(n.head.safeZ)
	n.mu.Unlock()
	return n.head.move(ctx, n, MoveSafeZ, to)
}
