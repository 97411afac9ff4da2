package motion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/SakuyaIzayoi/openpnp/internal/types"
	"github.com/SakuyaIzayoi/openpnp/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestMachine() (*SimMachine, *SimHead) {
	head := NewSimHead("H1", SimHeadOptions{
		SafeZ:        0,
		ParkLocation: types.Location{X: 300, Y: 300},
		NozzleIDs:    []string{"N1", "N2"},
	}, testLogger())
	return NewSimMachine("sim", head), head
}

func TestSimHead_RecordsMoves(t *testing.T) {
	ctx := context.Background()
	m, head := newTestMachine()

	h, err := m.DefaultHead()
	require.NoError(t, err)
	require.Len(t, h.Nozzles(), 2)

	n := h.Nozzles()[0]
	target := types.Location{X: 10, Y: 20, Z: -5}
	require.NoError(t, n.MoveToLocationAtSafeZ(ctx, target))
	require.NoError(t, n.MoveTo(ctx, target.Add(types.Location{Rotation: 50})))
	require.NoError(t, n.MoveToSafeZ(ctx))

	loc, err := n.Location(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Location{X: 10, Y: 20, Z: 0, Rotation: 50}, loc)

	moves := head.Moves()
	require.Len(t, moves, 3)
	assert.Equal(t, MoveApproach, moves[0].Kind)
	assert.Equal(t, MoveDirect, moves[1].Kind)
	assert.Equal(t, MoveSafeZ, moves[2].Kind)

	require.NoError(t, h.Park(ctx))
	loc, _ = n.Location(ctx)
	assert.Equal(t, types.Location{X: 300, Y: 300}, loc)
}

func TestSimHead_FaultLeavesLocation(t *testing.T) {
	ctx := context.Background()
	_, head := newTestMachine()
	boom := errors.New("axis stalled")
	head.SetFault(func(nozzleID string, kind MoveKind, to types.Location) error {
		if kind == MoveDirect {
			return boom
		}
		return nil
	})

	n := head.Nozzles()[1]
	require.NoError(t, n.MoveToLocationAtSafeZ(ctx, types.Location{X: 1}))
	require.ErrorIs(t, n.MoveTo(ctx, types.Location{X: 2}), boom)

	loc, _ := n.Location(ctx)
	assert.Equal(t, 1.0, loc.X)
	assert.Len(t, head.Moves(), 1)
}

func TestRemoteMachine_RoundTrip(t *testing.T) {
	sim, simHead := newTestMachine()
	srv := httptest.NewServer(NewServer(sim, testLogger()).Routes())
	t.Cleanup(srv.Close)

	ctx := util.ContextWithTraceID(context.Background(), "run-1")
	remote := NewRemoteMachine(srv.URL, "H1", []string{"N1"}, testLogger())
	h, err := remote.DefaultHead()
	require.NoError(t, err)
	assert.Equal(t, "H1", h.ID())

	n := h.Nozzles()[0]
	require.NoError(t, n.MoveToLocationAtSafeZ(ctx, types.Location{X: 5, Y: 6, Z: -1}))
	require.NoError(t, n.MoveTo(ctx, types.Location{X: 5, Y: 6, Z: -1, Rotation: 50}))

	loc, err := n.Location(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Location{X: 5, Y: 6, Z: -1, Rotation: 50}, loc)

	require.NoError(t, h.MoveToSafeZ(ctx))
	require.NoError(t, h.Park(ctx))

	kinds := []MoveKind{}
	for _, m := range simHead.Moves() {
		kinds = append(kinds, m.Kind)
	}
	assert.Equal(t, []MoveKind{MoveApproach, MoveDirect, MoveSafeZ, MoveSafeZ, MovePark, MovePark}, kinds)
}

func TestRemoteMachine_Errors(t *testing.T) {
	sim, simHead := newTestMachine()
	srv := httptest.NewServer(NewServer(sim, testLogger()).Routes())
	t.Cleanup(srv.Close)
	ctx := context.Background()

	remote := NewRemoteMachine(srv.URL, "H1", []string{"missing"}, testLogger())
	h, err := remote.DefaultHead()
	require.NoError(t, err)
	require.Error(t, h.Nozzles()[0].MoveToSafeZ(ctx), "unknown nozzle is a 404")

	simHead.SetFault(func(string, MoveKind, types.Location) error { return errors.New("estop") })
	remote = NewRemoteMachine(srv.URL, "H1", []string{"N1"}, testLogger())
	h, _ = remote.DefaultHead()
	err = h.Park(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "estop")

	_, err = NewRemoteMachine(srv.URL, "", nil, testLogger()).DefaultHead()
	require.Error(t, err)
}
