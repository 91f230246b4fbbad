package config

import "time"

// Defaults for the sync tunables. Every option is independently
// overridable in YAML; a zero/absent value takes the default, except
// sync_interval_ms where an explicit 0 disables the periodic timer.
const (
	DefaultBatchSize        = 50
	DefaultSyncIntervalMs   = 30000
	DefaultMaxRetryAttempts = 3
	DefaultRetryDelayMs     = 5000
	DefaultConflictStrategy = "last-write-wins"
	DefaultRemoteTimeoutMs  = 30000
)

// Config is the top-level YAML structure.
type Config struct {
	DeviceID string      `yaml:"device_id"`
	Storage  StorageConf `yaml:"storage"`
	Remote   RemoteConf  `yaml:"remote"`
	Sync     SyncConf    `yaml:"sync"`
}

// StorageConf locates the local event log database.
type StorageConf struct {
	Path string `yaml:"path"`
}

// RemoteConf points at the authoritative replica. An empty base_url
// means no remote is configured (local development).
type RemoteConf struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Timeout returns the remote HTTP timeout.
func (c RemoteConf) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// SyncConf holds the sync engine tunables. Pointer fields distinguish
// "absent, use the default" from an explicit zero.
type SyncConf struct {
	// BatchSize caps events per read/push in one cycle.
	BatchSize int `yaml:"batch_size"`
	// SyncIntervalMs is the period between automatic cycles; explicit 0
	// disables the timer.
	SyncIntervalMs *int `yaml:"sync_interval_ms"`
	// MaxRetryAttempts is how many failed attempts an event gets before
	// it is no longer auto-retried.
	MaxRetryAttempts int `yaml:"max_retry_attempts"`
	// RetryDelayMs is the base backoff delay.
	RetryDelayMs int `yaml:"retry_delay_ms"`
	// ExponentialBackoff grows the delay as retry_delay * 2^(n-1).
	ExponentialBackoff *bool `yaml:"exponential_backoff"`
	// ConflictStrategy is one of the resolver strategy names or "manual".
	ConflictStrategy string `yaml:"conflict_strategy"`
	// WifiOnly defers cycles while the connection is metered.
	WifiOnly bool `yaml:"wifi_only"`
}

func (c *SyncConf) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.SyncIntervalMs == nil {
		v := DefaultSyncIntervalMs
		c.SyncIntervalMs = &v
	}
	if c.MaxRetryAttempts == 0 {
		c.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if c.RetryDelayMs == 0 {
		c.RetryDelayMs = DefaultRetryDelayMs
	}
	if c.ExponentialBackoff == nil {
		v := true
		c.ExponentialBackoff = &v
	}
	if c.ConflictStrategy == "" {
		c.ConflictStrategy = DefaultConflictStrategy
	}
}

// Interval returns the period between automatic cycles; 0 means the
// timer is disabled.
func (c SyncConf) Interval() time.Duration {
	if c.SyncIntervalMs == nil {
		return DefaultSyncIntervalMs * time.Millisecond
	}
	return time.Duration(*c.SyncIntervalMs) * time.Millisecond
}

// RetryDelay returns the base backoff delay.
func (c SyncConf) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// Backoff reports whether exponential backoff is enabled.
func (c SyncConf) Backoff() bool {
	return c.ExponentialBackoff == nil || *c.ExponentialBackoff
}

// DefaultSync returns a SyncConf with every default applied.
func DefaultSync() SyncConf {
	var c SyncConf
	c.applyDefaults()
	return c
}

// Default returns a fully-defaulted Config with the given storage path.
func Default(dbPath string) *Config {
	cfg := &Config{Storage: StorageConf{Path: dbPath}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Remote.TimeoutMs == 0 {
		c.Remote.TimeoutMs = DefaultRemoteTimeoutMs
	}
	c.Sync.applyDefaults()
}
