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

// Package storage provides persistence for learning-state backups and
// failure records, with in-memory and SQLite-backed implementations.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/praxislabs/praxis/pkg/recovery"
	"github.com/praxislabs/praxis/pkg/types"
)

// ErrBackupNotFound is returned when a backup id has no stored backup.
var ErrBackupNotFound = errors.New("backup not found")

// BackupStore persists checksummed learning-state backups.
type BackupStore interface {
	// SaveBackup stores one backup.
	SaveBackup(ctx context.Context, b *types.Backup) error

	// LoadBackup returns the backup with the given id.
	LoadBackup(ctx context.Context, id string) (*types.Backup, error)

	// ListBackups returns a student's backups, newest first. limit <= 0
	// means no limit.
	ListBackups(ctx context.Context, studentID string, limit int) ([]*types.Backup, error)

	// PruneBackups deletes a student's oldest backups past keep,
	// returning the number deleted.
	PruneBackups(ctx context.Context, studentID string, keep int) (int, error)

	// Close releases underlying resources.
	Close() error
}

// MemoryStore is an in-memory BackupStore and recovery.Archive. Useful
// for tests and single-process deployments without durability needs.
type MemoryStore struct {
	mu sync.Mutex

	backups   map[string]*types.Backup
	byStudent map[string][]*types.Backup

	failures []*recovery.FailureRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		backups:   make(map[string]*types.Backup),
		byStudent: make(map[string][]*types.Backup),
	}
}

// SaveBackup implements BackupStore.
func (m *MemoryStore) SaveBackup(_ context.Context, b *types.Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backups[b.ID] = b
	m.byStudent[b.StudentID] = append(m.byStudent[b.StudentID], b)
	return nil
}

// LoadBackup implements BackupStore.
func (m *MemoryStore) LoadBackup(_ context.Context, id string) (*types.Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backups[id]
	if !ok {
		return nil, ErrBackupNotFound
	}
	return b, nil
}

// ListBackups implements BackupStore.
func (m *MemoryStore) ListBackups(_ context.Context, studentID string, limit int) ([]*types.Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append([]*types.Backup(nil), m.byStudent[studentID]...)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// PruneBackups implements BackupStore.
func (m *MemoryStore) PruneBackups(_ context.Context, studentID string, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.byStudent[studentID]
	if keep < 0 {
		keep = 0
	}
	if len(list) <= keep {
		return 0, nil
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	victims := list[keep:]
	m.byStudent[studentID] = append([]*types.Backup(nil), list[:keep]...)
	for _, b := range victims {
		delete(m.backups, b.ID)
	}
	return len(victims), nil
}

// RecordFailure implements recovery.Archive.
func (m *MemoryStore) RecordFailure(_ context.Context, rec *recovery.FailureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, rec)
	return nil
}

// RecentFailures implements recovery.Archive.
func (m *MemoryStore) RecentFailures(_ context.Context, agentType types.AgentType, limit int) ([]*recovery.FailureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*recovery.FailureRecord, 0, len(m.failures))
	for i := len(m.failures) - 1; i >= 0; i-- {
		fr := m.failures[i]
		if agentType != "" && fr.AgentType != agentType {
			continue
		}
		out = append(out, fr)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close implements BackupStore.
func (m *MemoryStore) Close() error {
	return nil
}
