// Copyright 2026 Praxis Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads runtime configuration from file and environment.
// Every key has a working default, so a zero-config start is valid.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/praxislabs/praxis/pkg/consistency"
	"github.com/praxislabs/praxis/pkg/eventbus"
	"github.com/praxislabs/praxis/pkg/orchestrator"
	"github.com/praxislabs/praxis/pkg/recovery"
)

// EnvPrefix is the environment variable prefix: PRAXIS_BUS_QUEUE_CAPACITY
// overrides bus.queue_capacity, and so on.
const EnvPrefix = "PRAXIS"

// Config is the full runtime configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Bus         BusConfig         `mapstructure:"bus"`
	Recovery    RecoveryConfig    `mapstructure:"recovery"`
	Consistency ConsistencyConfig `mapstructure:"consistency"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// BusConfig configures the event bus.
type BusConfig struct {
	QueueCapacity       int           `mapstructure:"queue_capacity"`
	EventLogCapacity    int           `mapstructure:"event_log_capacity"`
	BottleneckThreshold time.Duration `mapstructure:"bottleneck_threshold"`
}

// RecoveryConfig configures the recovery supervisor.
type RecoveryConfig struct {
	MaxRestartAttempts  int           `mapstructure:"max_restart_attempts"`
	RestartDelay        time.Duration `mapstructure:"restart_delay"`
	AlertThreshold      int           `mapstructure:"alert_threshold"`
	FailureLogCapacity  int           `mapstructure:"failure_log_capacity"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

// ConsistencyConfig configures validation, conflicts, and backups.
type ConsistencyConfig struct {
	Strategy         string        `mapstructure:"strategy"`
	NumericThreshold float64       `mapstructure:"numeric_threshold"`
	ConflictWindow   time.Duration `mapstructure:"conflict_window"`
	MaxBackups       int           `mapstructure:"max_backups"`
	BackupInterval   time.Duration `mapstructure:"backup_interval"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `mapstructure:"backend"`

	// Path is the SQLite database file when Backend is "sqlite".
	Path string `mapstructure:"path"`
}

// DispatchConfig configures interaction dispatch.
type DispatchConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("bus.queue_capacity", eventbus.DefaultQueueCapacity)
	v.SetDefault("bus.event_log_capacity", eventbus.DefaultEventLogCapacity)
	v.SetDefault("bus.bottleneck_threshold", eventbus.DefaultBottleneckThreshold)

	v.SetDefault("recovery.max_restart_attempts", recovery.DefaultMaxRestartAttempts)
	v.SetDefault("recovery.restart_delay", recovery.DefaultRestartDelay)
	v.SetDefault("recovery.alert_threshold", recovery.DefaultAlertThreshold)
	v.SetDefault("recovery.failure_log_capacity", recovery.DefaultFailureLogCapacity)
	v.SetDefault("recovery.health_check_interval", recovery.DefaultHealthCheckInterval)

	v.SetDefault("consistency.strategy", string(consistency.StrategyLatest))
	v.SetDefault("consistency.numeric_threshold", consistency.DefaultNumericThreshold)
	v.SetDefault("consistency.conflict_window", consistency.DefaultConflictWindow)
	v.SetDefault("consistency.max_backups", consistency.DefaultMaxBackups)
	v.SetDefault("consistency.backup_interval", consistency.DefaultBackupInterval)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.path", "praxis.db")

	v.SetDefault("dispatch.timeout", orchestrator.DefaultDispatchTimeout)
}

// Load reads configuration from the optional file at path, then applies
// PRAXIS_ environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every key at its default.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults always unmarshal.
		panic(err)
	}
	return cfg
}

func (c *Config) validate() error {
	if !consistency.Strategy(c.Consistency.Strategy).Valid() {
		return fmt.Errorf("unknown conflict strategy %q", c.Consistency.Strategy)
	}
	switch c.Storage.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		return fmt.Errorf("sqlite backend requires storage.path")
	}
	return nil
}
