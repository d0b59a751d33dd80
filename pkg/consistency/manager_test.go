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
package consistency

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/praxislabs/praxis/pkg/eventbus"
	"github.com/praxislabs/praxis/pkg/storage"
	"github.com/praxislabs/praxis/pkg/types"
)

func TestBackupRestoreRoundtrip(t *testing.T) {
	m := newTestManager(t, Config{Store: storage.NewMemoryStore()})
	ctx := context.Background()

	s := types.NewLearningState("student-1")
	s.CurrentActivity = "fractions-practice"
	s.Engagement.CurrentLevel = 0.8

	b, err := m.CreateBackup(ctx, s)
	require.NoError(t, err)
	assert.NotEmpty(t, b.Checksum)

	// Mutating the live state never touches the backup.
	s.CurrentActivity = "mutated"

	restored, err := m.RestoreFromBackup(ctx, "student-1", b.ID)
	require.NoError(t, err)
	assert.Equal(t, "fractions-practice", restored.CurrentActivity)
	assert.Equal(t, 0.8, restored.Engagement.CurrentLevel)

	_, err = m.RestoreFromBackup(ctx, "student-2", b.ID)
	require.Error(t, err)
}

func TestRestoreWithoutIDUsesNewestValidBackup(t *testing.T) {
	store := storage.NewMemoryStore()
	m := newTestManager(t, Config{Store: store})
	ctx := context.Background()

	s := types.NewLearningState("student-1")
	s.CurrentActivity = "older"
	_, err := m.CreateBackup(ctx, s)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	s.CurrentActivity = "newer"
	newest, err := m.CreateBackup(ctx, s)
	require.NoError(t, err)

	restored, err := m.RestoreFromBackup(ctx, "student-1", "")
	require.NoError(t, err)
	assert.Equal(t, "newer", restored.CurrentActivity)

	// Corrupt the newest backup; the restore falls back to the older
	// intact one instead of failing.
	stored, err := store.LoadBackup(ctx, newest.ID)
	require.NoError(t, err)
	stored.State.CurrentActivity = "tampered"

	restored, err = m.RestoreFromBackup(ctx, "student-1", "")
	require.NoError(t, err)
	assert.Equal(t, "older", restored.CurrentActivity)

	_, err = m.RestoreFromBackup(ctx, "student-without-backups", "")
	require.Error(t, err)
}

func TestBackupPruneKeepsNewest(t *testing.T) {
	store := storage.NewMemoryStore()
	m := newTestManager(t, Config{Store: store, MaxBackups: 2})
	ctx := context.Background()

	s := types.NewLearningState("student-1")
	for i := 0; i < 4; i++ {
		s.CurrentActivity = fmt.Sprintf("activity-%d", i)
		_, err := m.CreateBackup(ctx, s)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	backups, err := m.GetAllBackups(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "activity-3", backups[0].State.CurrentActivity)
	assert.Equal(t, "activity-2", backups[1].State.CurrentActivity)
}

func TestRestoreDetectsTamperedBackup(t *testing.T) {
	bus := eventbus.New(eventbus.Config{Logger: zaptest.NewLogger(t)})
	corrupted := make(chan *types.AgentEvent, 1)
	bus.RegisterGlobalHandler(types.EventCorruptionDetected, func(e *types.AgentEvent) {
		corrupted <- e
	}, types.PriorityMedium)
	bus.Start()
	t.Cleanup(bus.Stop)

	store := storage.NewMemoryStore()
	m := newTestManager(t, Config{Store: store, Bus: bus})
	ctx := context.Background()

	s := types.NewLearningState("student-1")
	b, err := m.CreateBackup(ctx, s)
	require.NoError(t, err)

	// Corrupt the stored state behind the checksum's back.
	stored, err := store.LoadBackup(ctx, b.ID)
	require.NoError(t, err)
	stored.State.CurrentActivity = "tampered"

	_, err = m.RestoreFromBackup(ctx, "student-1", b.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")

	select {
	case e := <-corrupted:
		assert.Equal(t, b.ID, e.Data["backup_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for corruption event")
	}
}

func TestChecksumDeterministic(t *testing.T) {
	s := types.NewLearningState("student-1")
	s.Engagement.CurrentLevel = 0.5

	first, err := Checksum(s)
	require.NoError(t, err)
	second, err := Checksum(s)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	s.Engagement.CurrentLevel = 0.6
	third, err := Checksum(s)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestDetectCorruptionAndRepair(t *testing.T) {
	m := newTestManager(t, Config{})

	s := types.NewLearningState("student-1")
	s.Engagement.CurrentLevel = 1.7
	s.Engagement.FrustrationLevel = -0.3
	s.CurrentDifficulty = 2.0
	for i := 0; i < types.MaxEngagementHistory+5; i++ {
		s.Engagement.History = append(s.Engagement.History,
			types.EngagementSample{Level: 0.5, RecordedAt: time.Now()})
	}
	// A cycle planted directly, as corruption would.
	s.Knowledge.Prerequisites["a"] = []string{"b"}
	s.Knowledge.Prerequisites["b"] = []string{"a"}
	s.Knowledge.EdgeOrder = []types.PrereqEdge{{From: "a", To: "b"}, {From: "b", To: "a"}}

	findings := m.DetectCorruption(s)
	assert.NotEmpty(t, findings)

	repairs := m.RepairState(s)
	assert.Greater(t, repairs, 0)

	assert.Equal(t, 1.0, s.Engagement.CurrentLevel)
	assert.Equal(t, 0.0, s.Engagement.FrustrationLevel)
	assert.Equal(t, 1.0, s.CurrentDifficulty)
	assert.Len(t, s.Engagement.History, types.MaxEngagementHistory)
	assert.Nil(t, s.Knowledge.DetectCycle())
	// The newest offending edge was the one removed.
	assert.Equal(t, []string{"b"}, s.Knowledge.Prerequisites["a"])

	result := ValidateState(s)
	assert.True(t, result.Valid, "repaired state must validate: %v", result.Errors)
}

func TestScheduledBackupSweep(t *testing.T) {
	store := storage.NewMemoryStore()
	m := newTestManager(t, Config{Store: store, BackupInterval: 20 * time.Millisecond})

	s := types.NewLearningState("student-1")
	m.SetStateProvider(func() []*types.LearningState {
		return []*types.LearningState{s}
	})

	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	require.Eventually(t, func() bool {
		backups, err := m.GetAllBackups(context.Background(), "student-1")
		return err == nil && len(backups) > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestValidateCountsFailures(t *testing.T) {
	m := newTestManager(t, Config{})

	good := types.NewLearningState("student-1")
	assert.True(t, m.Validate(good).Valid)

	bad := types.NewLearningState("")
	assert.False(t, m.Validate(bad).Valid)

	stats := m.GetStatistics()
	assert.Equal(t, int64(2), stats.Validations)
	assert.Equal(t, int64(1), stats.ValidationFailures)
}
