package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SakuyaIzayoi/openpnp/internal/config"
	"github.com/SakuyaIzayoi/openpnp/internal/event"
	"github.com/SakuyaIzayoi/openpnp/internal/hooks"
	"github.com/SakuyaIzayoi/openpnp/internal/motion"
	"github.com/SakuyaIzayoi/openpnp/internal/persistence"
	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func simConfig(t *testing.T) *config.Config {
	return &config.Config{
		DispenseAmount: 50,
		RetractAmount:  20,
		JournalPath:    filepath.Join(t.TempDir(), "dispense.wal"),
		Motion: config.MotionConfig{
			Mode:      config.MotionSim,
			MachineID: "sim",
			HeadID:    "H1",
			NozzleIDs: []string{"N1"},
			Park:      []float64{400, 300},
		},
	}
}

func testJob(name string) *types.Job {
	board := &types.Board{Name: "demo", Placements: []*types.Placement{
		{ID: "C1", Type: types.PlacementTypePlacement, Side: types.SideTop, Enabled: true, ErrorHandling: types.ErrorHandlingAlert, Location: types.Location{X: 1}},
		{ID: "C2", Type: types.PlacementTypePlacement, Side: types.SideTop, Enabled: true, ErrorHandling: types.ErrorHandlingAlert, Location: types.Location{X: 2}},
	}}
	return &types.Job{Name: name, BoardLocations: []*types.BoardLocation{
		{ID: "B1", Board: board, Side: types.SideTop, Enabled: true},
	}}
}

func TestNewMachine(t *testing.T) {
	cfg := simConfig(t)
	m := NewMachine(cfg.Motion, testLogger())
	sim, ok := m.(*motion.SimMachine)
	require.True(t, ok)
	head, ok := sim.Head("H1")
	require.True(t, ok)
	require.NoError(t, head.Park(context.Background()))
	assert.Equal(t, types.Location{X: 400, Y: 300}, head.Moves()[0].To)

	cfg.Motion.Mode = config.MotionRemote
	cfg.Motion.Endpoint = "http://localhost:9090"
	_, ok = NewMachine(cfg.Motion, testLogger()).(*motion.RemoteMachine)
	assert.True(t, ok)
}

func TestNewHook(t *testing.T) {
	assert.Nil(t, NewHook(config.HooksConfig{}, testLogger()))

	h := NewHook(config.HooksConfig{AcceptRule: "summary.Dispensed == summary.Total"}, testLogger())
	require.NotNil(t, h)
	assert.IsType(t, hooks.Chain{}, h)

	ctx := context.Background()
	assert.NoError(t, h.JobFinished(ctx, testJob("j"), event.RunSummary{Dispensed: 2, Total: 2}))
	assert.Error(t, h.JobFinished(ctx, testJob("j"), event.RunSummary{Dispensed: 1, Total: 2}))
}

func TestApp_RunWithSimMachine(t *testing.T) {
	a, err := New(simConfig(t), testLogger())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Runner.Run(context.Background(), testJob("paste")))
	a.Bus.Drain()

	snap := a.Tracker.GetStateSnapshot()
	assert.Equal(t, types.JobStateFinished, snap.State)
	assert.Equal(t, 2, snap.Dispensed)
}

func TestApp_Recover(t *testing.T) {
	cfg := simConfig(t)

	w, err := persistence.NewWAL(cfg.JournalPath)
	require.NoError(t, err)
	require.NoError(t, w.RunStarted("run-0", "paste"))
	require.NoError(t, w.Dispensed("run-0", "B1", "C2"))
	require.NoError(t, w.Close())

	a, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer a.Close()

	// 任务名不一致时不恢复
	other := testJob("other")
	n, err := a.Recover(other)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.False(t, other.BoardLocations[0].Placed("C2"))

	job := testJob("paste")
	n, err = a.Recover(job)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, job.BoardLocations[0].Placed("C2"))

	require.NoError(t, a.Runner.Run(context.Background(), job))
	assert.Equal(t, 1, a.Runner.Summary().Dispensed)
}

func TestApp_NoJournal(t *testing.T) {
	cfg := simConfig(t)
	cfg.JournalPath = ""
	a, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Journal)
	n, err := a.Recover(testJob("paste"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
