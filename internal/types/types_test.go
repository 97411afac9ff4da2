package types

import (
	"testing"

	"github.com/SakuyaIzayoi/openpnp/internal/fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlacementLocation(t *testing.T) {
	tests := []struct {
		name string
		bl   BoardLocation
		p    Location
		want Location
	}{
		{
			name: "top side translate only",
			bl:   BoardLocation{Side: SideTop, Location: Location{X: 100, Y: 50, Z: -10}},
			p:    Location{X: 5, Y: 3, Rotation: 90},
			want: Location{X: 105, Y: 53, Z: -10, Rotation: 90},
		},
		{
			name: "top side rotated board",
			bl:   BoardLocation{Side: SideTop, Location: Location{X: 100, Y: 50, Rotation: 90}},
			p:    Location{X: 10, Y: 0},
			want: Location{X: 100, Y: 60, Rotation: 90},
		},
		{
			name: "bottom side mirrors x",
			bl:   BoardLocation{Side: SideBottom, Location: Location{X: 100, Y: 50}},
			p:    Location{X: 10, Y: 2, Rotation: 45},
			want: Location{X: 90, Y: 52, Rotation: 315},
		},
	}
	for i := range tests {
		tt := &tests[i]
		t.Run(tt.name, func(t *testing.T) {
			got := tt.bl.PlacementLocation(tt.p)
			assert.InDelta(t, tt.want.X, got.X, 1e-9)
			assert.InDelta(t, tt.want.Y, got.Y, 1e-9)
			assert.InDelta(t, tt.want.Z, got.Z, 1e-9)
			assert.InDelta(t, tt.want.Rotation, got.Rotation, 1e-9)
		})
	}
}

func TestBoardLocation_PlacedFlags(t *testing.T) {
	bl := &BoardLocation{ID: "B1"}
	assert.False(t, bl.Placed("R1"))

	bl.SetPlaced("R1", true)
	bl.SetPlaced("R2", true)
	assert.True(t, bl.Placed("R1"))
	assert.Equal(t, 2, bl.PlacedCount())

	bl.SetPlaced("R1", false)
	assert.False(t, bl.Placed("R1"))

	bl.ClearPlaced()
	assert.Zero(t, bl.PlacedCount())
}

func TestJobPlacement_Lifecycle(t *testing.T) {
	bl := &BoardLocation{ID: "B1"}
	jp := NewJobPlacement(bl, &Placement{ID: "R1"})
	assert.Equal(t, "B1/R1", jp.String())
	assert.Equal(t, fsm.StatePending, jp.Status())

	require.Error(t, jp.MarkComplete())
	require.NoError(t, jp.MarkProcessing())

	assert.Equal(t, 1, jp.Defer(assert.AnError))
	assert.Equal(t, 2, jp.Defer(assert.AnError))
	assert.ErrorIs(t, jp.Err(), assert.AnError)
	assert.Equal(t, fsm.StateProcessing, jp.Status())

	require.NoError(t, jp.MarkComplete())
	assert.Equal(t, fsm.StateComplete, jp.Status())
}
