package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// SessionConfig carries deploy-time tunables for the bingo session match.
type SessionConfig struct {
	// SquaresFile optionally overrides the built-in square catalog.
	SquaresFile string `json:"squares_file"`
	// CleanupIntervalSeconds is the cadence of the approval expiry sweep.
	CleanupIntervalSeconds int `json:"cleanup_interval_seconds"`
	// OperatorTokenTTLHours bounds how long an issued operator token stays valid.
	OperatorTokenTTLHours int `json:"operator_token_ttl_hours"`
}

var (
	cfg      *SessionConfig
	loadOnce sync.Once
	loadErr  error
)

// LoadSessionConfig loads the session configuration from the given path.
func LoadSessionConfig(path string) error {
	loadOnce.Do(func() {
		data, err := os.ReadFile(path)
		if err != nil {
			loadErr = fmt.Errorf("failed to read session config: %w", err)
			return
		}

		var c SessionConfig
		if err := json.Unmarshal(data, &c); err != nil {
			loadErr = fmt.Errorf("failed to unmarshal session config: %w", err)
			return
		}
		cfg = &c
	})
	return loadErr
}

// GetSessionConfig returns the loaded configuration, or nil if none loaded.
func GetSessionConfig() *SessionConfig {
	return cfg
}

// CleanupInterval returns the sweep cadence, defaulting to 30 minutes.
func CleanupInterval() time.Duration {
	if cfg != nil && cfg.CleanupIntervalSeconds > 0 {
		return time.Duration(cfg.CleanupIntervalSeconds) * time.Second
	}
	return 30 * time.Minute
}

// OperatorTokenTTL returns how long issued operator tokens stay valid,
// defaulting to 12 hours.
func OperatorTokenTTL() time.Duration {
	if cfg != nil && cfg.OperatorTokenTTLHours > 0 {
		return time.Duration(cfg.OperatorTokenTTLHours) * time.Hour
	}
	return 12 * time.Hour
}
