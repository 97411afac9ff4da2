package types

import (
	"fmt"
	"math"
)

// Location 是机器坐标（单位毫米，旋转单位为度）
// 点胶机的挤出轴复用旋转轴，点胶/回抽行程都作用在 Rotation 分量上
type Location struct {
	X        float64 `yaml:"x" json:"x"`
	Y        float64 `yaml:"y" json:"y"`
	Z        float64 `yaml:"z" json:"z"`
	Rotation float64 `yaml:"rotation" json:"rotation"`
}

// Add 逐分量相加
func (l Location) Add(o Location) Location {
	return Location{X: l.X + o.X, Y: l.Y + o.Y, Z: l.Z + o.Z, Rotation: l.Rotation + o.Rotation}
}

// Subtract 逐分量相减
func (l Location) Subtract(o Location) Location {
	return Location{X: l.X - o.X, Y: l.Y - o.Y, Z: l.Z - o.Z, Rotation: l.Rotation - o.Rotation}
}

// WithZ 返回替换了 Z 的副本
func (l Location) WithZ(z float64) Location {
	l.Z = z
	return l
}

// RotateXY 绕原点旋转 XY 分量
func (l Location) RotateXY(degrees float64) Location {
	rad := degrees * math.Pi / 180.0
	sin, cos := math.Sin(rad), math.Cos(rad)
	x := l.X*cos - l.Y*sin
	y := l.X*sin + l.Y*cos
	l.X, l.Y = x, y
	return l
}

func (l Location) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f, %.3f)", l.X, l.Y, l.Z, l.Rotation)
}

// PlacementLocation 计算贴装点在机器坐标系中的位置：
// 底面板卡先沿 X 镜像，再按板卡旋转角旋转，最后平移到板卡位置。Z 取板卡表面高度。
func (bl *BoardLocation) PlacementLocation(p Location) Location {
	if bl.Side == SideBottom {
		p.X = -p.X
		p.Rotation = -p.Rotation
	}
	p = p.RotateXY(bl.Location.Rotation)
	return Location{
		X:        bl.Location.X + p.X,
		Y:        bl.Location.Y + p.Y,
		Z:        bl.Location.Z,
		Rotation: normalizeDegrees(bl.Location.Rotation + p.Rotation),
	}
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}
