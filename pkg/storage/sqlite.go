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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/praxislabs/praxis/pkg/recovery"
	"github.com/praxislabs/praxis/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS backups (
	id         TEXT PRIMARY KEY,
	student_id TEXT NOT NULL,
	state      TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backups_student ON backups(student_id, created_at DESC);

CREATE TABLE IF NOT EXISTS failures (
	id              TEXT PRIMARY KEY,
	agent_type      TEXT NOT NULL,
	error           TEXT NOT NULL,
	context         TEXT,
	occurred_at     INTEGER NOT NULL,
	restart_attempt INTEGER NOT NULL,
	fallback_active INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failures_agent ON failures(agent_type, occurred_at DESC);
`

// SQLiteStore is a durable BackupStore and recovery.Archive backed by a
// single SQLite database in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps readers unblocked during backup writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveBackup implements BackupStore.
func (s *SQLiteStore) SaveBackup(ctx context.Context, b *types.Backup) error {
	state, err := json.Marshal(b.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO backups (id, student_id, state, checksum, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.StudentID, string(state), b.Checksum, b.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save backup: %w", err)
	}
	return nil
}

// LoadBackup implements BackupStore.
func (s *SQLiteStore) LoadBackup(ctx context.Context, id string) (*types.Backup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, student_id, state, checksum, created_at FROM backups WHERE id = ?`, id)
	b, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBackupNotFound
	}
	return b, err
}

// ListBackups implements BackupStore.
func (s *SQLiteStore) ListBackups(ctx context.Context, studentID string, limit int) ([]*types.Backup, error) {
	query := `SELECT id, student_id, state, checksum, created_at FROM backups
		 WHERE student_id = ? ORDER BY created_at DESC`
	args := []any{studentID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	var out []*types.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PruneBackups implements BackupStore.
func (s *SQLiteStore) PruneBackups(ctx context.Context, studentID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM backups WHERE student_id = ? AND id NOT IN (
			SELECT id FROM backups WHERE student_id = ?
			ORDER BY created_at DESC LIMIT ?)`,
		studentID, studentID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune backups: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RecordFailure implements recovery.Archive.
func (s *SQLiteStore) RecordFailure(ctx context.Context, rec *recovery.FailureRecord) error {
	var failureContext []byte
	if rec.Context != nil {
		var err error
		failureContext, err = json.Marshal(rec.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal failure context: %w", err)
		}
	}
	fallback := 0
	if rec.FallbackActive {
		fallback = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO failures
		 (id, agent_type, error, context, occurred_at, restart_attempt, fallback_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.AgentType), rec.Error, string(failureContext),
		rec.OccurredAt.UnixNano(), rec.RestartAttempt, fallback)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

// RecentFailures implements recovery.Archive.
func (s *SQLiteStore) RecentFailures(ctx context.Context, agentType types.AgentType, limit int) ([]*recovery.FailureRecord, error) {
	query := `SELECT id, agent_type, error, context, occurred_at, restart_attempt, fallback_active
		 FROM failures`
	var args []any
	if agentType != "" {
		query += " WHERE agent_type = ?"
		args = append(args, string(agentType))
	}
	query += " ORDER BY occurred_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var out []*recovery.FailureRecord
	for rows.Next() {
		var (
			rec            recovery.FailureRecord
			agentTypeStr   string
			contextJSON    sql.NullString
			occurredAt     int64
			fallbackActive int
		)
		if err := rows.Scan(&rec.ID, &agentTypeStr, &rec.Error, &contextJSON,
			&occurredAt, &rec.RestartAttempt, &fallbackActive); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		rec.AgentType = types.AgentType(agentTypeStr)
		rec.OccurredAt = time.Unix(0, occurredAt)
		rec.FallbackActive = fallbackActive != 0
		if contextJSON.Valid && contextJSON.String != "" {
			if err := json.Unmarshal([]byte(contextJSON.String), &rec.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal failure context: %w", err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Close implements BackupStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackup(row rowScanner) (*types.Backup, error) {
	var (
		b         types.Backup
		stateJSON string
		createdAt int64
	)
	if err := row.Scan(&b.ID, &b.StudentID, &stateJSON, &b.Checksum, &createdAt); err != nil {
		return nil, err
	}
	b.CreatedAt = time.Unix(0, createdAt)
	if err := json.Unmarshal([]byte(stateJSON), &b.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal backup state: %w", err)
	}
	return &b, nil
}
