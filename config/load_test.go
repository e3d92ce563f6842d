package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Swind/go-sequence-manager/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults verifies the defaults when neither file nor environment is set
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "main", cfg.Manager.Name)
	assert.Equal(t, 1, cfg.Manager.WorkBatchSize)
	assert.Equal(t, "none", cfg.Manager.TimerSlack)
	assert.Equal(t, 30*time.Second, cfg.Manager.ReclaimMemoryInterval)
	assert.Equal(t, StarvationConfig{High: 3, Normal: 5, Low: 10}, cfg.Manager.Starvation)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

// TestLoadFileAndEnvironment verifies file values and environment precedence
// Main test items:
// 1. YAML values override defaults
// 2. SEQMGR_ variables override YAML values
func TestLoadFileAndEnvironment(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	path := filepath.Join(dir, "seqmgr.yaml")
	yaml := `
manager:
  name: renderer
  work_batch_size: 4
  timer_slack: maximum
  starvation:
    low: 20
log:
  level: debug
  format: json
metrics:
  enabled: true
  listen: "127.0.0.1:9100"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("SEQMGR_MANAGER_WORK_BATCH_SIZE", "8")

	// Act
	cfg, err := Load(path)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "renderer", cfg.Manager.Name)
	assert.Equal(t, 8, cfg.Manager.WorkBatchSize, "environment should win over the file")
	assert.Equal(t, "maximum", cfg.Manager.TimerSlack)
	assert.Equal(t, 20, cfg.Manager.Starvation.Low)
	assert.Equal(t, 3, cfg.Manager.Starvation.High)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Listen)
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "batch size zero", env: map[string]string{"SEQMGR_MANAGER_WORK_BATCH_SIZE": "0"}},
		{name: "unknown slack", env: map[string]string{"SEQMGR_MANAGER_TIMER_SLACK": "some"}},
		{name: "bad log level", env: map[string]string{"SEQMGR_LOG_LEVEL": "verbose"}},
		{name: "metrics without listen", env: map[string]string{"SEQMGR_METRICS_ENABLED": "true"}},
		{name: "listen not host port", env: map[string]string{"SEQMGR_METRICS_LISTEN": "localhost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load("")

			assert.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

// TestToSettings verifies the conversion into core.Settings
func TestToSettings(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Manager.TimerSlack = "maximum"
	cfg.Manager.RecordCrashKeys = true

	logger := core.NewNoOpLogger()
	s := cfg.ToSettings(logger, nil)

	assert.Equal(t, "main", s.Name)
	assert.Equal(t, core.TimerSlackMaximum, s.TimerSlack)
	assert.True(t, s.RecordCrashKeys)
	assert.Equal(t, core.DefaultStarvationLimits(), s.StarvationLimits)
	assert.Same(t, logger, s.Logger)
	assert.NotNil(t, s.PanicHandler)
	assert.Nil(t, s.Metrics)
}
