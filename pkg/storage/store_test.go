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
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislabs/praxis/pkg/recovery"
	"github.com/praxislabs/praxis/pkg/types"
)

func testBackup(studentID, activity string, at time.Time) *types.Backup {
	state := types.NewLearningState(studentID)
	state.CurrentActivity = activity
	return &types.Backup{
		ID:        uuid.NewString(),
		StudentID: studentID,
		State:     state,
		CreatedAt: at,
		Checksum:  "0123456789abcdef",
	}
}

// storeUnderTest exercises one BackupStore implementation.
func storeUnderTest(t *testing.T, store BackupStore) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 4; i++ {
		b := testBackup("student-1", fmt.Sprintf("activity-%d", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.SaveBackup(ctx, b))
	}
	require.NoError(t, store.SaveBackup(ctx, testBackup("student-2", "other", base)))

	list, err := store.ListBackups(ctx, "student-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 4)
	// Newest first.
	assert.Equal(t, "activity-3", list[0].State.CurrentActivity)
	assert.Equal(t, "activity-0", list[3].State.CurrentActivity)

	limited, err := store.ListBackups(ctx, "student-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	loaded, err := store.LoadBackup(ctx, list[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "activity-2", loaded.State.CurrentActivity)
	assert.Equal(t, list[1].Checksum, loaded.Checksum)

	_, err = store.LoadBackup(ctx, "no-such-id")
	require.ErrorIs(t, err, ErrBackupNotFound)

	pruned, err := store.PruneBackups(ctx, "student-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	list, err = store.ListBackups(ctx, "student-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "activity-3", list[0].State.CurrentActivity)

	// The other student's backups are untouched.
	other, err := store.ListBackups(ctx, "student-2", 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func archiveUnderTest(t *testing.T, archive recovery.Archive) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, archive.RecordFailure(ctx, &recovery.FailureRecord{
			ID:         uuid.NewString(),
			AgentType:  types.AgentTypeAssessment,
			Error:      fmt.Sprintf("failure-%d", i),
			Context:    map[string]any{"n": float64(i)},
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, archive.RecordFailure(ctx, &recovery.FailureRecord{
		ID:         uuid.NewString(),
		AgentType:  types.AgentTypeIntervention,
		Error:      "other-agent",
		OccurredAt: base,
	}))

	all, err := archive.RecentFailures(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	assessment, err := archive.RecentFailures(ctx, types.AgentTypeAssessment, 0)
	require.NoError(t, err)
	require.Len(t, assessment, 3)
	// Newest first.
	assert.Equal(t, "failure-2", assessment[0].Error)
	assert.Equal(t, map[string]any{"n": float64(2)}, assessment[0].Context)

	limited, err := archive.RecentFailures(ctx, types.AgentTypeAssessment, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	storeUnderTest(t, store)
	archiveUnderTest(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "praxis.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	storeUnderTest(t, store)
	archiveUnderTest(t, store)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "praxis.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)

	b := testBackup("student-1", "persisted", time.Now())
	require.NoError(t, store.SaveBackup(context.Background(), b))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	loaded, err := reopened.LoadBackup(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", loaded.State.CurrentActivity)
}
