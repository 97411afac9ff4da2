package fiducial

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

// Locator 定义基准点定位接口
// 返回板卡修正后的实际位姿，调用方负责把结果写回板卡实例
type Locator interface {
	LocateBoard(ctx context.Context, bl *types.BoardLocation, useFiducials bool) (types.Location, error)
}

// SimLocator 模拟视觉定位：在名义位姿上叠加固定的偏差
type SimLocator struct {
	Offsets map[string]types.Location // 按板卡实例 ID 的位姿偏差
	Fail    map[string]error          // 按板卡实例 ID 注入的失败

	mu     sync.Mutex
	calls  []string
	logger *slog.Logger
}

// NewSimLocator 创建模拟定位器
func NewSimLocator(logger *slog.Logger) *SimLocator {
	return &SimLocator{
		Offsets: make(map[string]types.Location),
		Fail:    make(map[string]error),
		logger:  logger.With("component", "fiducial"),
	}
}

func (l *SimLocator) LocateBoard(ctx context.Context, bl *types.BoardLocation, useFiducials bool) (types.Location, error) {
	if err := ctx.Err(); err != nil {
		return types.Location{}, err
	}
	l.mu.Lock()
	l.calls = append(l.calls, bl.ID)
	l.mu.Unlock()

	if err, ok := l.Fail[bl.ID]; ok && err != nil {
		return types.Location{}, fmt.Errorf("fiducial not found on %s: %w", bl.ID, err)
	}
	if !useFiducials {
		return bl.Location, nil
	}
	corrected := bl.Location.Add(l.Offsets[bl.ID])
	l.logger.Info("基准点定位完成", "board_location", bl.ID, "nominal", bl.Location.String(), "corrected", corrected.String())
	return corrected, nil
}

// Calls 返回被定位过的板卡实例 ID（按调用顺序）
func (l *SimLocator) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}
