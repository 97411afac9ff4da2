package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openWAL(t *testing.T, path string) *WAL {
	t.Helper()
	w, err := NewWAL(path)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestWAL_RecoverUnfinishedRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispense.wal")
	w := openWAL(t, path)

	require.NoError(t, w.RunStarted("run-1", "paste"))
	require.NoError(t, w.Dispensed("run-1", "B1", "R1"))
	require.NoError(t, w.RunFinished("run-1"))

	require.NoError(t, w.RunStarted("run-2", "paste"))
	require.NoError(t, w.Dispensed("run-2", "B1", "C1"))
	require.NoError(t, w.Dispensed("run-2", "B2", "R7"))

	// 模拟崩溃后重新打开
	w2 := openWAL(t, path)
	job, placed, err := w2.Recover()
	require.NoError(t, err)
	assert.Equal(t, "paste", job)
	assert.Equal(t, Placed{"B1": {"C1": true}, "B2": {"R7": true}}, placed)

	// 恢复后继续追加
	require.NoError(t, w2.RunFinished("run-2"))
	_, placed, err = w2.Recover()
	require.NoError(t, err)
	assert.Empty(t, placed)
}

func TestWAL_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispense.wal")
	w := openWAL(t, path)
	require.NoError(t, w.RunStarted("run-1", "paste"))
	require.NoError(t, w.Dispensed("run-1", "B1", "R1"))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, placed, err := w.Recover()
	require.NoError(t, err)
	assert.True(t, placed["B1"]["R1"])
}

func TestWAL_EmptyFile(t *testing.T) {
	w := openWAL(t, filepath.Join(t.TempDir(), "empty.wal"))
	job, placed, err := w.Recover()
	require.NoError(t, err)
	assert.Empty(t, job)
	assert.Empty(t, placed)
}

func TestWAL_RecoverAccumulatesConsecutiveCrashes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispense.wal")
	w := openWAL(t, path)

	// 第一次运行点完 R1 后崩溃，恢复后的第二次运行点完 R2 后再次崩溃
	require.NoError(t, w.RunStarted("run-1", "paste"))
	require.NoError(t, w.Dispensed("run-1", "B1", "R1"))
	require.NoError(t, w.RunStarted("run-2", "paste"))
	require.NoError(t, w.Dispensed("run-2", "B1", "R2"))

	job, placed, err := openWAL(t, path).Recover()
	require.NoError(t, err)
	assert.Equal(t, "paste", job)
	assert.Equal(t, Placed{"B1": {"R1": true, "R2": true}}, placed)

	// 完成后清空
	require.NoError(t, w.RunFinished("run-2"))
	_, placed, err = w.Recover()
	require.NoError(t, err)
	assert.Empty(t, placed)
}

func TestWAL_RecoverResetsOnOtherJob(t *testing.T) {
	w := openWAL(t, filepath.Join(t.TempDir(), "dispense.wal"))
	require.NoError(t, w.RunStarted("run-1", "paste"))
	require.NoError(t, w.Dispensed("run-1", "B1", "R1"))
	require.NoError(t, w.RunStarted("run-2", "glue"))
	require.NoError(t, w.Dispensed("run-2", "B7", "C3"))

	job, placed, err := w.Recover()
	require.NoError(t, err)
	assert.Equal(t, "glue", job)
	assert.Equal(t, Placed{"B7": {"C3": true}}, placed)
}
