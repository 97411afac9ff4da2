package engine

import (
	"context"
	"testing"

	"github.com/SakuyaIzayoi/openpnp/internal/motion"
	"github.com/SakuyaIzayoi/openpnp/internal/planner"
	"github.com/SakuyaIzayoi/openpnp/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_RunsToCompletion(t *testing.T) {
	h := newHarness()
	job, bl := newJob(types.ErrorHandlingAlert, "R1", "R2", "C1")
	r := NewRunner(h.p, 0, testLogger())

	require.NoError(t, r.Run(context.Background(), job))
	assert.Equal(t, PhaseNone, r.Processor().Phase())
	assert.Equal(t, 3, bl.PlacedCount())
}

func TestRunner_NilJob(t *testing.T) {
	h := newHarness()
	err := NewRunner(h.p, 0, testLogger()).Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRunner_CancelAbortsBetweenSteps(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.planner.fn = func(head motion.Head, pending []*types.JobPlacement) ([]*planner.PlannedPlacement, error) {
		cancel()
		return assignAll(head, pending), nil
	}
	job, bl := newJob(types.ErrorHandlingAlert, "R1", "R2")
	r := NewRunner(h.p, 0, testLogger())

	err := r.Run(ctx, job)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseNone, h.p.Phase())
	assert.Zero(t, bl.PlacedCount(), "no dispense after cancellation")

	kinds := []motion.MoveKind{}
	for _, m := range h.head.Moves() {
		kinds = append(kinds, m.Kind)
	}
	assert.Equal(t, []motion.MoveKind{motion.MoveSafeZ, motion.MovePark}, kinds, "abort cleanup still runs")
}

func TestRunner_ExternalAbort(t *testing.T) {
	h := newHarness()
	var r *Runner
	h.planner.fn = func(head motion.Head, pending []*types.JobPlacement) ([]*planner.PlannedPlacement, error) {
		// Abort 会等待当前阶段结束后再执行
		go r.Abort(context.Background())
		return assignAll(head, pending), nil
	}
	job, bl := newJob(types.ErrorHandlingAlert, "R1", "R2")
	r = NewRunner(h.p, 200, testLogger())

	err := r.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrAborted)
	assert.Zero(t, bl.PlacedCount())
}

func TestRunner_AbortBeforeRun(t *testing.T) {
	h := newHarness()
	job, bl := newJob(types.ErrorHandlingAlert, "R1", "R2")
	r := NewRunner(h.p, 0, testLogger())

	// API 在任务初始化之前收到中止请求
	r.Abort(context.Background())

	err := r.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, PhaseNone, h.p.Phase())
	assert.Zero(t, bl.PlacedCount())
	for _, m := range h.head.Moves() {
		assert.NotEqual(t, motion.MoveApproach, m.Kind)
	}

	// 中止请求只生效一次，下一次运行正常完成
	require.NoError(t, r.Run(context.Background(), job))
	assert.Equal(t, 2, bl.PlacedCount())
}
