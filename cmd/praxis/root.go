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
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/praxislabs/praxis/internal/log"
	"github.com/praxislabs/praxis/pkg/config"
	"github.com/praxislabs/praxis/pkg/consistency"
	"github.com/praxislabs/praxis/pkg/eventbus"
	"github.com/praxislabs/praxis/pkg/orchestrator"
	"github.com/praxislabs/praxis/pkg/recovery"
	"github.com/praxislabs/praxis/pkg/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "praxis",
	Short:         "Multi-agent adaptive tutoring runtime",
	Long:          "praxis coordinates assessment, content, path planning, intervention, and communication agents around a shared per-student learning state.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (optional)")
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(versionCmd)
}

// buildRuntime wires the full stack from configuration: storage, bus,
// supervisor, consistency manager, and orchestrator.
func buildRuntime(cfg *config.Config, logger *zap.Logger) (*orchestrator.Orchestrator, func(), error) {
	var (
		store   storage.BackupStore
		archive recovery.Archive
	)
	switch cfg.Storage.Backend {
	case "sqlite":
		s, err := storage.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		store, archive = s, s
	default:
		m := storage.NewMemoryStore()
		store, archive = m, m
	}

	bus := eventbus.New(eventbus.Config{
		QueueCapacity:       cfg.Bus.QueueCapacity,
		EventLogCapacity:    cfg.Bus.EventLogCapacity,
		BottleneckThreshold: cfg.Bus.BottleneckThreshold,
		Logger:              logger,
	})

	supervisor := recovery.New(recovery.Config{
		Bus:                 bus,
		Logger:              logger,
		Archive:             archive,
		MaxRestartAttempts:  cfg.Recovery.MaxRestartAttempts,
		RestartDelay:        cfg.Recovery.RestartDelay,
		AlertThreshold:      cfg.Recovery.AlertThreshold,
		FailureLogCapacity:  cfg.Recovery.FailureLogCapacity,
		HealthCheckInterval: cfg.Recovery.HealthCheckInterval,
	})

	manager := consistency.New(consistency.Config{
		Store:            store,
		Bus:              bus,
		Logger:           logger,
		Strategy:         consistency.Strategy(cfg.Consistency.Strategy),
		NumericThreshold: cfg.Consistency.NumericThreshold,
		ConflictWindow:   cfg.Consistency.ConflictWindow,
		MaxBackups:       cfg.Consistency.MaxBackups,
		BackupInterval:   cfg.Consistency.BackupInterval,
	})

	orch := orchestrator.New(orchestrator.Config{
		Bus:             bus,
		Supervisor:      supervisor,
		Consistency:     manager,
		Logger:          logger,
		DispatchTimeout: cfg.Dispatch.Timeout,
	})

	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}
	return orch, cleanup, nil
}

func setupLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := log.Build(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	log.SetLogger(logger)
	return logger, nil
}

func shutdownTimeout() time.Duration {
	return 30 * time.Second
}
