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
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislabs/praxis/pkg/consistency"
	"github.com/praxislabs/praxis/pkg/recovery"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "praxis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Development)
	assert.Equal(t, recovery.DefaultMaxRestartAttempts, cfg.Recovery.MaxRestartAttempts)
	assert.Equal(t, recovery.DefaultRestartDelay, cfg.Recovery.RestartDelay)
	assert.Equal(t, string(consistency.StrategyLatest), cfg.Consistency.Strategy)
	assert.Equal(t, consistency.DefaultNumericThreshold, cfg.Consistency.NumericThreshold)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  development: true
consistency:
  strategy: merge
  conflict_window: 45s
storage:
  backend: sqlite
  path: /tmp/praxis-test.db
dispatch:
  timeout: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, "merge", cfg.Consistency.Strategy)
	assert.Equal(t, 45*time.Second, cfg.Consistency.ConflictWindow)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/praxis-test.db", cfg.Storage.Path)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.Timeout)

	// Keys the file omits keep their defaults.
	assert.Equal(t, recovery.DefaultAlertThreshold, cfg.Recovery.AlertThreshold)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
consistency:
  strategy: latest
`)
	t.Setenv("PRAXIS_CONSISTENCY_STRATEGY", "merge")
	t.Setenv("PRAXIS_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "merge", cfg.Consistency.Strategy)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "no-such.yaml"))
	require.Error(t, err)
}

func TestValidation(t *testing.T) {
	_, err := Load(writeConfig(t, "consistency:\n  strategy: vote\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict strategy")

	_, err = Load(writeConfig(t, "storage:\n  backend: postgres\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage backend")

	_, err = Load(writeConfig(t, "storage:\n  backend: sqlite\n  path: \"\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.path")
}
