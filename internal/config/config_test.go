package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1.0, cfg.Engine.MinPollS)
	assert.Equal(t, 10.0, cfg.Engine.MaxPollS)
	assert.Equal(t, 320, cfg.DiffGate.DownsampleWidth)
	assert.Equal(t, 10, cfg.DiffGate.PixelThreshold)
	assert.Equal(t, 0.01, cfg.DiffGate.ChangeRatio)
	assert.Equal(t, "smart_wait", cfg.Engine.WakeStatePrefix)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yamlContent := `
engine:
  min_poll_s: 2
  max_poll_s: 20
diff_gate:
  change_ratio: 0.05
vision:
  endpoint: http://localhost:9000/evaluate
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2.0, cfg.Engine.MinPollS)
	assert.Equal(t, 20.0, cfg.Engine.MaxPollS)
	assert.Equal(t, 0.05, cfg.DiffGate.ChangeRatio)
	assert.Equal(t, "http://localhost:9000/evaluate", cfg.Vision.Endpoint)

	// Fields the override omitted keep their documented default.
	assert.Equal(t, 60.0, cfg.Engine.DefaultTimeoutS)
	assert.Equal(t, 10, cfg.DiffGate.PixelThreshold)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	cfg.Engine.WakeNotifyTimeoutS = 10
	cfg.Capture.TimeoutS = 5
	cfg.Store.FlushIntervalMs = 25
	cfg.Store.CompactIntervalS = 3600

	assert.Equal(t, "10s", cfg.WakeNotifyTimeout().String())
	assert.Equal(t, "5s", cfg.CaptureTimeout().String())
	assert.Equal(t, "25ms", cfg.StoreFlushInterval().String())
	assert.Equal(t, "1h0m0s", cfg.CompactInterval().String())
}
