package config

import (
	"fmt"
	"strings"
)

// knownStrategies mirrors the built-in resolver strategies plus manual.
// Custom strategies registered at runtime bypass this check; the engine
// re-validates against its registry when the config is applied.
var knownStrategies = map[string]bool{
	"local-wins":      true,
	"remote-wins":     true,
	"last-write-wins": true,
	"manual":          true,
}

// Validate checks ranges and enum values. Defaults must already be
// applied.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Storage.Path == "" {
		errs = append(errs, "storage.path is required")
	}
	if cfg.Sync.BatchSize < 1 {
		errs = append(errs, fmt.Sprintf("sync.batch_size must be >= 1, got %d", cfg.Sync.BatchSize))
	}
	if cfg.Sync.SyncIntervalMs != nil && *cfg.Sync.SyncIntervalMs < 0 {
		errs = append(errs, fmt.Sprintf("sync.sync_interval_ms must be >= 0, got %d", *cfg.Sync.SyncIntervalMs))
	}
	if cfg.Sync.MaxRetryAttempts < 1 {
		errs = append(errs, fmt.Sprintf("sync.max_retry_attempts must be >= 1, got %d", cfg.Sync.MaxRetryAttempts))
	}
	if cfg.Sync.RetryDelayMs < 1 {
		errs = append(errs, fmt.Sprintf("sync.retry_delay_ms must be >= 1, got %d", cfg.Sync.RetryDelayMs))
	}
	if !knownStrategies[cfg.Sync.ConflictStrategy] {
		errs = append(errs, fmt.Sprintf("sync.conflict_strategy %q is not a built-in strategy", cfg.Sync.ConflictStrategy))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
