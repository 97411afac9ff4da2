package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
dispense_amount: 12.5
max_defer_retries: 3
motion:
  mode: remote
  endpoint: http://localhost:9090
  head_id: H2
  nozzle_ids: [N1, N2]
  park: [400, 300]
planner:
  batch_size: 4
hooks:
  accept_rule: summary.Dispensed == summary.Total
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 12.5, cfg.DispenseAmount)
	assert.Equal(t, 20.0, cfg.RetractAmount, "默认值")
	assert.Equal(t, 3, cfg.MaxDeferRetries)
	assert.Equal(t, MotionRemote, cfg.Motion.Mode)
	assert.Equal(t, []string{"N1", "N2"}, cfg.Motion.NozzleIDs)
	x, y := cfg.Motion.ParkXY()
	assert.Equal(t, 400.0, x)
	assert.Equal(t, 300.0, y)
	assert.Equal(t, 4, cfg.Planner.BatchSize)
	assert.Equal(t, "summary.Dispensed == summary.Total", cfg.Hooks.AcceptRule)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeConfig(t, "step_delay_ms: 100\n")
	t.Setenv("DISPENSER_STEP_DELAY_MS", "5")
	t.Setenv("DISPENSER_MOTION_HEAD_ID", "H9")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.StepDelayMs)
	assert.Equal(t, "H9", cfg.Motion.HeadID)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"remote without endpoint", "motion:\n  mode: remote\n"},
		{"unknown mode", "motion:\n  mode: laser\n"},
		{"negative retries", "max_defer_retries: -1\n"},
		{"bad park", "motion:\n  park: [1, 2, 3]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
