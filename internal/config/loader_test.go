package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoaderDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: "events.db"
`)
	l, err := NewLoader(path)
	require.NoError(t, err)

	cfg := l.Config()
	assert.Equal(t, "events.db", cfg.Storage.Path)
	assert.Equal(t, DefaultBatchSize, cfg.Sync.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval())
	assert.Equal(t, DefaultMaxRetryAttempts, cfg.Sync.MaxRetryAttempts)
	assert.Equal(t, 5*time.Second, cfg.Sync.RetryDelay())
	assert.True(t, cfg.Sync.Backoff())
	assert.Equal(t, DefaultConflictStrategy, cfg.Sync.ConflictStrategy)
	assert.False(t, cfg.Sync.WifiOnly)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout())
}

func TestLoaderExplicitZeroInterval(t *testing.T) {
	// An explicit 0 disables the periodic timer; it must not fall back to
	// the 30s default.
	path := writeConfig(t, `
storage:
  path: "events.db"
sync:
  sync_interval_ms: 0
`)
	l, err := NewLoader(path)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), l.Config().Sync.Interval())
}

func TestLoaderExplicitBackoffOff(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: "events.db"
sync:
  exponential_backoff: false
`)
	l, err := NewLoader(path)
	require.NoError(t, err)
	assert.False(t, l.Config().Sync.Backoff())
}

func TestLoaderOverrides(t *testing.T) {
	path := writeConfig(t, `
device_id: "tablet-7"
storage:
  path: "events.db"
remote:
  base_url: "https://sync.example.com"
  timeout_ms: 5000
sync:
  batch_size: 10
  max_retry_attempts: 5
  retry_delay_ms: 1000
  conflict_strategy: "manual"
  wifi_only: true
`)
	l, err := NewLoader(path)
	require.NoError(t, err)

	cfg := l.Config()
	assert.Equal(t, "tablet-7", cfg.DeviceID)
	assert.Equal(t, "https://sync.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout())
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	assert.Equal(t, 5, cfg.Sync.MaxRetryAttempts)
	assert.Equal(t, time.Second, cfg.Sync.RetryDelay())
	assert.Equal(t, "manual", cfg.Sync.ConflictStrategy)
	assert.True(t, cfg.Sync.WifiOnly)
}

func TestLoaderRejectsInvalid(t *testing.T) {
	cases := []struct {
		name, yaml, wantErr string
	}{
		{
			name:    "missing storage path",
			yaml:    "sync:\n  batch_size: 10\n",
			wantErr: "storage.path",
		},
		{
			name:    "negative interval",
			yaml:    "storage:\n  path: \"x.db\"\nsync:\n  sync_interval_ms: -5\n",
			wantErr: "sync_interval_ms",
		},
		{
			name:    "unknown strategy",
			yaml:    "storage:\n  path: \"x.db\"\nsync:\n  conflict_strategy: \"coin-flip\"\n",
			wantErr: "conflict_strategy",
		},
		{
			name:    "negative batch size",
			yaml:    "storage:\n  path: \"x.db\"\nsync:\n  batch_size: -1\n",
			wantErr: "batch_size",
		},
		{
			name:    "malformed yaml",
			yaml:    "storage: [unclosed\n",
			wantErr: "parse config",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			_, err := NewLoader(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoaderMissingFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestReloadPublishes(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: "events.db"
sync:
  batch_size: 10
`)
	l, err := NewLoader(path)
	require.NoError(t, err)

	var got *Config
	l.OnChange(func(cfg *Config) { got = cfg })

	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  path: "events.db"
sync:
  batch_size: 25
`), 0o644))

	cfg, err := l.Reload()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Sync.BatchSize)
	require.NotNil(t, got)
	assert.Equal(t, 25, got.Sync.BatchSize)
	assert.Equal(t, 25, l.Config().Sync.BatchSize)
}

func TestReloadKeepsOldOnError(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: "events.db"
`)
	l, err := NewLoader(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("storage: [broken\n"), 0o644))
	_, err = l.Reload()
	require.Error(t, err)
	assert.Equal(t, "events.db", l.Config().Storage.Path)
}

func TestWatchHotReload(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: "events.db"
sync:
  batch_size: 10
`)
	l, err := NewLoader(path)
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	l.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})

	stop, err := l.Watch()
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  path: "events.db"
sync:
  batch_size: 99
`), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, 99, cfg.Sync.BatchSize)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed after file write")
	}
}
