package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/registry"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ProviderTemporal, cfg.Coordinator.Provider)
	assert.Equal(t, "localhost:7233", cfg.Coordinator.HostPort)
	assert.Equal(t, 70*time.Second, cfg.Coordinator.PollTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 2112, cfg.Metrics.Port)
	assert.Equal(t, 200*time.Millisecond, cfg.Poll.Backoff.InitialInterval)
	assert.Equal(t, 5*time.Minute, cfg.Poll.Backoff.MaxElapsedTime)
	assert.Equal(t, 256, cfg.Events.RingCapacity)
	assert.False(t, cfg.Journal.Enabled)
	assert.Empty(t, cfg.Workers)
}

func TestLoadFileWithWorkers(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "flowworker.yaml", `
coordinator:
  provider: memory
logging:
  level: debug
poll:
  rate_per_second: 5
  backoff:
    initial: 50ms
    max_elapsed: 0s
workers:
  - name: greeter
    role: decider
    domain: samples
    task_list: greetings
    version: "1.0"
    instances: 2
  - name: greet
    role: activity
    domain: samples
    task_list: greetings
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderMemory, cfg.Coordinator.Provider)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5.0, cfg.Poll.RatePerSecond)
	assert.Equal(t, 50*time.Millisecond, cfg.Poll.Backoff.InitialInterval)
	assert.Zero(t, cfg.Poll.Backoff.MaxElapsedTime)

	require.Len(t, cfg.Workers, 2)
	assert.Equal(t, registry.RoleDecider, cfg.Workers[0].Role)
	assert.Equal(t, "greetings", cfg.Workers[0].TaskList)
	assert.Equal(t, "1.0", cfg.Workers[0].Version)
	assert.Equal(t, 2, cfg.Workers[0].Instances)
	assert.Equal(t, 1, cfg.Workers[1].Instances)
}

func TestLoadAppendsManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := writeFile(t, dir, "workers.yaml", `
workers:
  - name: greet
    role: activity
    domain: samples
    task_list: greetings
`)
	path := writeFile(t, dir, "flowworker.yaml", "coordinator:\n  provider: memory\nmanifest: "+manifest+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Workers, 1)
	assert.Equal(t, "greet", cfg.Workers[0].Name)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FLOWWORKER_LOGGING_LEVEL", "warn")
	t.Setenv("FLOWWORKER_COORDINATOR_NAMESPACE", "orders")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "orders", cfg.Coordinator.Namespace)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown provider", "coordinator:\n  provider: swf\n"},
		{"negative rate", "poll:\n  rate_per_second: -1\n"},
		{"bad journal driver", "journal:\n  enabled: true\n  driver: mysql\n"},
		{"bad worker role", "workers:\n  - name: x\n    role: both\n    domain: d\n    task_list: t\n"},
		{"worker without task list", "workers:\n  - name: x\n    role: activity\n    domain: d\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "flowworker.yaml", tt.body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatcherReload(t *testing.T) {
	path := writeFile(t, t.TempDir(), "flowworker.yaml", "coordinator:\n  provider: memory\nlogging:\n  level: info\n")

	w, err := NewWatcher(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "info", w.Current().Logging.Level)

	got := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) { got <- cfg })

	require.NoError(t, os.WriteFile(path, []byte("coordinator:\n  provider: memory\nlogging:\n  level: debug\n"), 0o600))
	require.NoError(t, w.v.ReadInConfig())
	w.reload(path)

	cfg := <-got
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "debug", w.Current().Logging.Level)
}

func TestWatcherKeepsPreviousOnInvalidChange(t *testing.T) {
	path := writeFile(t, t.TempDir(), "flowworker.yaml", "coordinator:\n  provider: memory\n")

	w, err := NewWatcher(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	called := false
	w.OnChange(func(*Config) { called = true })

	require.NoError(t, os.WriteFile(path, []byte("coordinator:\n  provider: nope\n"), 0o600))
	require.NoError(t, w.v.ReadInConfig())
	w.reload(path)

	assert.False(t, called)
	assert.Equal(t, ProviderMemory, w.Current().Coordinator.Provider)
}

func TestNewWatcherNeedsFile(t *testing.T) {
	_, err := NewWatcher("", zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrNoConfigFile)
}
