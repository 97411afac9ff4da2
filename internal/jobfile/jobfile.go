// Package jobfile 读取 YAML 格式的点胶任务文件
//
// 板卡设计在 boards 中定义一次，board_locations 按名称引用，
// 同一设计可以在机器上摆放多块：
//
//	name: paste-demo
//	boards:
//	  - name: led-driver
//	    placements:
//	      - {id: R1, location: {x: 10, y: 5}}
//	board_locations:
//	  - id: B1
//	    board: led-driver
//	    location: {x: 100, y: 100, z: -5}
package jobfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

type placementDoc struct {
	ID            string              `yaml:"id"`
	Type          types.PlacementType `yaml:"type"`
	Side          types.Side          `yaml:"side"`
	Enabled       *bool               `yaml:"enabled"`
	Location      types.Location      `yaml:"location"`
	ErrorHandling types.ErrorHandling `yaml:"error_handling"`
}

type boardDoc struct {
	Name       string         `yaml:"name"`
	Placements []placementDoc `yaml:"placements"`
}

type boardLocationDoc struct {
	ID             string         `yaml:"id"`
	Board          string         `yaml:"board"`
	Location       types.Location `yaml:"location"`
	Side           types.Side     `yaml:"side"`
	Enabled        *bool          `yaml:"enabled"`
	CheckFiducials bool           `yaml:"check_fiducials"`
	Placed         []string       `yaml:"placed"` // 已经点过胶的贴装点
}

type jobDoc struct {
	Name           string             `yaml:"name"`
	Boards         []boardDoc         `yaml:"boards"`
	BoardLocations []boardLocationDoc `yaml:"board_locations"`
	Panels         []*types.Panel     `yaml:"panels"`
}

// Load 从文件读取任务
func Load(path string) (*types.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取任务文件失败: %w", err)
	}
	job, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return job, nil
}

// Decode 解析任务并补全默认值：
// 类型默认 Placement，板面默认跟随板卡实例，错误策略默认 Alert，启用默认 true
func Decode(r io.Reader) (*types.Job, error) {
	var doc jobDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty job file")
		}
		return nil, fmt.Errorf("解析任务文件失败: %w", err)
	}

	boards := make(map[string]*boardDoc, len(doc.Boards))
	for i := range doc.Boards {
		b := &doc.Boards[i]
		if b.Name == "" {
			return nil, fmt.Errorf("board #%d has no name", i+1)
		}
		if _, dup := boards[b.Name]; dup {
			return nil, fmt.Errorf("duplicate board %q", b.Name)
		}
		boards[b.Name] = b
	}

	job := &types.Job{Name: doc.Name, Panels: doc.Panels}
	seen := make(map[string]bool, len(doc.BoardLocations))
	for i, bld := range doc.BoardLocations {
		if bld.ID == "" {
			return nil, fmt.Errorf("board location #%d has no id", i+1)
		}
		if seen[bld.ID] {
			return nil, fmt.Errorf("duplicate board location %q", bld.ID)
		}
		seen[bld.ID] = true

		bd, ok := boards[bld.Board]
		if !ok {
			return nil, fmt.Errorf("board location %s references unknown board %q", bld.ID, bld.Board)
		}
		side := bld.Side
		if side == "" {
			side = types.SideTop
		}
		if err := validSide(side); err != nil {
			return nil, fmt.Errorf("board location %s: %w", bld.ID, err)
		}

		// 每个实例持有独立的板卡副本，基准点修正和已点胶标记互不影响
		board, err := buildBoard(bd, side)
		if err != nil {
			return nil, err
		}
		bl := &types.BoardLocation{
			ID:             bld.ID,
			Board:          board,
			Location:       bld.Location,
			Side:           side,
			Enabled:        enabled(bld.Enabled),
			CheckFiducials: bld.CheckFiducials,
		}
		for _, id := range bld.Placed {
			bl.SetPlaced(id, true)
		}
		job.BoardLocations = append(job.BoardLocations, bl)
	}
	return job, nil
}

func buildBoard(bd *boardDoc, side types.Side) (*types.Board, error) {
	board := &types.Board{Name: bd.Name}
	for _, pd := range bd.Placements {
		p := &types.Placement{
			ID:            pd.ID,
			Type:          pd.Type,
			Side:          pd.Side,
			Enabled:       enabled(pd.Enabled),
			Location:      pd.Location,
			ErrorHandling: pd.ErrorHandling,
		}
		if p.Type == "" {
			p.Type = types.PlacementTypePlacement
		}
		if p.Side == "" {
			p.Side = side
		}
		if p.ErrorHandling == "" {
			p.ErrorHandling = types.ErrorHandlingAlert
		}

		switch p.Type {
		case types.PlacementTypePlacement, types.PlacementTypeFiducial:
		default:
			return nil, fmt.Errorf("board %s placement %s: unknown type %q", bd.Name, p.ID, p.Type)
		}
		switch p.ErrorHandling {
		case types.ErrorHandlingAlert, types.ErrorHandlingDefer:
		default:
			return nil, fmt.Errorf("board %s placement %s: unknown error handling %q", bd.Name, p.ID, p.ErrorHandling)
		}
		if err := validSide(p.Side); err != nil {
			return nil, fmt.Errorf("board %s placement %s: %w", bd.Name, p.ID, err)
		}
		board.Placements = append(board.Placements, p)
	}
	return board, nil
}

func validSide(s types.Side) error {
	if s != types.SideTop && s != types.SideBottom {
		return fmt.Errorf("unknown side %q", s)
	}
	return nil
}

func enabled(b *bool) bool {
	return b == nil || *b
}
