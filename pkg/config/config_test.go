package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/chatflow/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chatflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Queue.Backoff)
	assert.Equal(t, 5*time.Minute, cfg.API.CacheTTL)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
execution:
  max_steps: 25
  step_timeout: 5s
queue:
  concurrency: 8
rate_limits:
  workflow_execution:
    limit: 3
    window: 1s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Execution.MaxSteps)
	assert.Equal(t, 5*time.Second, cfg.Execution.StepTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Execution.Timeout)
	assert.Equal(t, 8, cfg.Queue.Concurrency)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, ratelimit.Rule{Limit: 3, Window: time.Second}, cfg.RateLimits[ratelimit.WorkflowExecution])
	assert.Equal(t, ratelimit.DefaultRules()[ratelimit.APICall], cfg.RateLimits[ratelimit.APICall])
}

func TestLoad_InvalidValues(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		field   string
	}{
		{name: "zero steps", content: "execution:\n  max_steps: -1\n", field: "MaxSteps"},
		{name: "run shorter than step", content: "execution:\n  step_timeout: 1m\n  timeout: 10s\n", field: "Timeout"},
		{name: "empty schedule", content: "sweeper:\n  schedule: \"\"\n", field: "Schedule"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
