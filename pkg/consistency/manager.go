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

// Package consistency validates learning state, detects and resolves
// conflicting agent updates, and maintains checksummed backups with
// corruption detection and repair.
package consistency

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/praxislabs/praxis/pkg/eventbus"
	"github.com/praxislabs/praxis/pkg/storage"
	"github.com/praxislabs/praxis/pkg/types"
)

// Backup defaults.
const (
	// DefaultMaxBackups bounds retained backups per student.
	DefaultMaxBackups = 10

	// DefaultBackupInterval paces automatic backups.
	DefaultBackupInterval = time.Minute
)

// StateProvider supplies the states to back up on the automatic
// schedule. The orchestrator installs it via SetStateProvider.
type StateProvider func() []*types.LearningState

// Config configures the Manager.
type Config struct {
	Store  storage.BackupStore
	Bus    *eventbus.Bus
	Logger *zap.Logger

	// Strategy is the default conflict resolution strategy.
	Strategy Strategy

	NumericThreshold float64
	ConflictWindow   time.Duration
	MaxBackups       int
	BackupInterval   time.Duration
}

// Statistics is a snapshot of manager activity counters.
type Statistics struct {
	Validations        int64
	ValidationFailures int64
	ConflictsDetected  int64
	ConflictsResolved  int64
	ManualEscalations  int64
	BackupsCreated     int64
	Restores           int64
	CorruptionDetected int64
	RepairsApplied     int64
}

// Manager is the consistency layer. All exported methods are safe for
// concurrent use.
type Manager struct {
	cfg    Config
	store  storage.BackupStore
	bus    *eventbus.Bus
	logger *zap.Logger

	cron     *cron.Cron
	provider atomic.Pointer[StateProvider]

	validations        atomic.Int64
	validationFailures atomic.Int64
	conflictsDetected  atomic.Int64
	conflictsResolved  atomic.Int64
	manualEscalations  atomic.Int64
	backupsCreated     atomic.Int64
	restores           atomic.Int64
	corruptionDetected atomic.Int64
	repairsApplied     atomic.Int64

	started atomic.Bool
	closed  atomic.Bool
}

// New creates a manager. Call Start to begin scheduled backups.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if !cfg.Strategy.Valid() {
		cfg.Strategy = StrategyLatest
	}
	if cfg.NumericThreshold <= 0 {
		cfg.NumericThreshold = DefaultNumericThreshold
	}
	if cfg.ConflictWindow <= 0 {
		cfg.ConflictWindow = DefaultConflictWindow
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = DefaultMaxBackups
	}
	if cfg.BackupInterval <= 0 {
		cfg.BackupInterval = DefaultBackupInterval
	}

	return &Manager{
		cfg:    cfg,
		store:  cfg.Store,
		bus:    cfg.Bus,
		logger: cfg.Logger,
		cron:   cron.New(),
	}
}

// SetStateProvider installs the source of states for scheduled backups.
func (m *Manager) SetStateProvider(p StateProvider) {
	m.provider.Store(&p)
}

// Start schedules automatic backups. Idempotent.
func (m *Manager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}
	spec := fmt.Sprintf("@every %s", m.cfg.BackupInterval)
	if _, err := m.cron.AddFunc(spec, m.backupAll); err != nil {
		return fmt.Errorf("failed to schedule backups: %w", err)
	}
	m.cron.Start()
	m.logger.Info("consistency manager started",
		zap.String("strategy", string(m.cfg.Strategy)),
		zap.Duration("backup_interval", m.cfg.BackupInterval))
	return nil
}

// Stop halts scheduled backups, waiting for an in-flight run.
// Idempotent.
func (m *Manager) Stop() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	<-m.cron.Stop().Done()
	m.logger.Info("consistency manager stopped",
		zap.Int64("backups_created", m.backupsCreated.Load()))
}

// Validate checks a learning state and counts the outcome.
func (m *Manager) Validate(s *types.LearningState) *ValidationResult {
	m.validations.Add(1)
	result := ValidateState(s)
	if !result.Valid {
		m.validationFailures.Add(1)
		m.emit(types.EventValidationFailed, map[string]any{
			"student_id": safeStudentID(s),
			"errors":     len(result.Errors),
		}, types.PriorityHigh)
	}
	return result
}

// CreateBackup deep-clones and checksums the state, persists it, and
// prunes the student's retained backups down to the configured maximum.
func (m *Manager) CreateBackup(ctx context.Context, s *types.LearningState) (*types.Backup, error) {
	if m.store == nil {
		return nil, fmt.Errorf("no backup store configured")
	}

	clone, err := s.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}
	checksum, err := Checksum(clone)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum state: %w", err)
	}

	b := &types.Backup{
		ID:        uuid.NewString(),
		StudentID: s.StudentID,
		State:     clone,
		CreatedAt: time.Now(),
		Checksum:  checksum,
	}
	if err := m.store.SaveBackup(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to save backup: %w", err)
	}
	m.backupsCreated.Add(1)

	if pruned, err := m.store.PruneBackups(ctx, s.StudentID, m.cfg.MaxBackups); err != nil {
		m.logger.Warn("failed to prune backups",
			zap.String("student_id", s.StudentID),
			zap.Error(err))
	} else if pruned > 0 {
		m.logger.Debug("pruned backups",
			zap.String("student_id", s.StudentID),
			zap.Int("pruned", pruned))
	}

	return b, nil
}

// RestoreFromBackup verifies a backup's checksum and returns a deep
// clone of the stored state. With an empty backupID the student's most
// recent valid backup is used; corrupted backups are reported and
// skipped in favor of older ones. Restoring a named backup fails on a
// checksum mismatch instead.
func (m *Manager) RestoreFromBackup(ctx context.Context, studentID, backupID string) (*types.LearningState, error) {
	if m.store == nil {
		return nil, fmt.Errorf("no backup store configured")
	}

	if backupID == "" {
		return m.restoreLatestValid(ctx, studentID)
	}

	b, err := m.store.LoadBackup(ctx, backupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup %s: %w", backupID, err)
	}
	if b.StudentID != studentID {
		return nil, fmt.Errorf("backup %s belongs to student %s, not %s",
			backupID, b.StudentID, studentID)
	}
	valid, err := m.verifyBackup(b)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, fmt.Errorf("backup %s checksum mismatch: corrupted", backupID)
	}
	return m.cloneRestored(b)
}

// restoreLatestValid walks a student's backups newest first and restores
// the first one whose checksum verifies.
func (m *Manager) restoreLatestValid(ctx context.Context, studentID string) (*types.LearningState, error) {
	list, err := m.store.ListBackups(ctx, studentID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups for %s: %w", studentID, err)
	}
	for _, b := range list {
		valid, err := m.verifyBackup(b)
		if err != nil {
			return nil, err
		}
		if !valid {
			m.logger.Warn("skipping corrupted backup",
				zap.String("backup_id", b.ID),
				zap.String("student_id", studentID))
			continue
		}
		return m.cloneRestored(b)
	}
	return nil, fmt.Errorf("no valid backup for student %s: %w", studentID, storage.ErrBackupNotFound)
}

// verifyBackup recomputes the checksum, raising corruption:detected on a
// mismatch. Returns whether the backup is intact.
func (m *Manager) verifyBackup(b *types.Backup) (bool, error) {
	checksum, err := Checksum(b.State)
	if err != nil {
		return false, fmt.Errorf("failed to checksum backup state: %w", err)
	}
	if checksum != b.Checksum {
		m.corruptionDetected.Add(1)
		m.emit(types.EventCorruptionDetected, map[string]any{
			"backup_id":  b.ID,
			"student_id": b.StudentID,
			"expected":   b.Checksum,
			"actual":     checksum,
		}, types.PriorityUrgent)
		return false, nil
	}
	return true, nil
}

func (m *Manager) cloneRestored(b *types.Backup) (*types.LearningState, error) {
	clone, err := b.State.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to clone backup state: %w", err)
	}
	m.restores.Add(1)
	m.logger.Info("state restored from backup",
		zap.String("backup_id", b.ID),
		zap.String("student_id", b.StudentID))
	return clone, nil
}

// GetAllBackups returns a student's retained backups, newest first.
func (m *Manager) GetAllBackups(ctx context.Context, studentID string) ([]*types.Backup, error) {
	if m.store == nil {
		return nil, fmt.Errorf("no backup store configured")
	}
	return m.store.ListBackups(ctx, studentID, 0)
}

// LatestBackup returns a student's newest backup, or storage's not-found
// error when none exists.
func (m *Manager) LatestBackup(ctx context.Context, studentID string) (*types.Backup, error) {
	if m.store == nil {
		return nil, fmt.Errorf("no backup store configured")
	}
	list, err := m.store.ListBackups(ctx, studentID, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, storage.ErrBackupNotFound
	}
	return list[0], nil
}

// DetectCorruption returns the error-level findings for a state, raising
// the corruption event when any exist.
func (m *Manager) DetectCorruption(s *types.LearningState) []ValidationError {
	result := ValidateState(s)
	if len(result.Errors) > 0 {
		m.corruptionDetected.Add(1)
		m.emit(types.EventCorruptionDetected, map[string]any{
			"student_id": safeStudentID(s),
			"errors":     len(result.Errors),
		}, types.PriorityUrgent)
	}
	return result.Errors
}

// RepairState fixes repairable corruption in place: numeric ranges are
// clamped, over-cap histories truncated to their newest entries,
// prerequisite cycles broken by removing the most recently added edge,
// and zero timestamps reset. Returns the number of repairs applied.
func (m *Manager) RepairState(s *types.LearningState) int {
	repairs := 0

	clamp := func(v *float64) {
		if *v < 0 {
			*v = 0
			repairs++
		} else if *v > 1 {
			*v = 1
			repairs++
		}
	}

	clamp(&s.CurrentDifficulty)
	clamp(&s.Engagement.CurrentLevel)
	clamp(&s.Engagement.AttentionSpan)
	clamp(&s.Engagement.InteractionFrequency)
	clamp(&s.Engagement.FrustrationLevel)
	clamp(&s.Engagement.MotivationLevel)
	if s.Engagement.ResponseTime < 0 {
		s.Engagement.ResponseTime = 0
		repairs++
	}

	if len(s.Engagement.History) > types.MaxEngagementHistory {
		s.Engagement.History = s.Engagement.History[len(s.Engagement.History)-types.MaxEngagementHistory:]
		repairs++
	}
	if len(s.ContextHistory) > types.MaxContextHistory {
		s.ContextHistory = s.ContextHistory[len(s.ContextHistory)-types.MaxContextHistory:]
		repairs++
	}

	if s.Knowledge == nil {
		s.Knowledge = types.NewKnowledgeMap()
		repairs++
	} else {
		for concept, mastery := range s.Knowledge.Concepts {
			if mastery == nil {
				delete(s.Knowledge.Concepts, concept)
				repairs++
				continue
			}
			if !mastery.Level.Valid() {
				mastery.Level = types.MasteryUnknown
				repairs++
			}
			clamp(&mastery.Confidence)
			if len(mastery.Evidence) > types.MaxMasteryEvidence {
				mastery.Evidence = mastery.Evidence[len(mastery.Evidence)-types.MaxMasteryEvidence:]
				repairs++
			}
		}
		// Break cycles newest edge first; EdgeOrder records insertion order.
		for cycle := s.Knowledge.DetectCycle(); cycle != nil; cycle = s.Knowledge.DetectCycle() {
			removed := false
			onCycle := make(map[string]struct{}, len(cycle))
			for _, c := range cycle {
				onCycle[c] = struct{}{}
			}
			for i := len(s.Knowledge.EdgeOrder) - 1; i >= 0; i-- {
				edge := s.Knowledge.EdgeOrder[i]
				if _, okFrom := onCycle[edge.From]; !okFrom {
					continue
				}
				if _, okTo := onCycle[edge.To]; !okTo {
					continue
				}
				s.Knowledge.RemoveEdge(edge.From, edge.To)
				repairs++
				removed = true
				break
			}
			if !removed {
				break
			}
		}
	}

	if s.LastUpdated.IsZero() {
		s.LastUpdated = time.Now()
		repairs++
	}
	if s.FieldProvenance == nil {
		s.FieldProvenance = make(map[string]types.Provenance)
		repairs++
	}

	if repairs > 0 {
		m.repairsApplied.Add(int64(repairs))
		m.logger.Info("repaired learning state",
			zap.String("student_id", s.StudentID),
			zap.Int("repairs", repairs))
	}
	return repairs
}

// GetStatistics returns a snapshot of activity counters.
func (m *Manager) GetStatistics() Statistics {
	return Statistics{
		Validations:        m.validations.Load(),
		ValidationFailures: m.validationFailures.Load(),
		ConflictsDetected:  m.conflictsDetected.Load(),
		ConflictsResolved:  m.conflictsResolved.Load(),
		ManualEscalations:  m.manualEscalations.Load(),
		BackupsCreated:     m.backupsCreated.Load(),
		Restores:           m.restores.Load(),
		CorruptionDetected: m.corruptionDetected.Load(),
		RepairsApplied:     m.repairsApplied.Load(),
	}
}

// backupAll runs one scheduled backup sweep.
func (m *Manager) backupAll() {
	pp := m.provider.Load()
	if pp == nil {
		return
	}
	states := (*pp)()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, s := range states {
		if _, err := m.CreateBackup(ctx, s); err != nil {
			m.logger.Warn("scheduled backup failed",
				zap.String("student_id", s.StudentID),
				zap.Error(err))
		}
	}
}

func (m *Manager) emit(eventType string, data map[string]any, priority types.Priority) {
	if m.bus == nil {
		return
	}
	event := m.bus.Create(eventType, types.AgentTypeOrchestrator, data, priority)
	if err := m.bus.Publish(event); err != nil {
		m.logger.Warn("failed to publish consistency event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func safeStudentID(s *types.LearningState) string {
	if s == nil {
		return ""
	}
	return s.StudentID
}

// Checksum computes the canonical checksum of a learning state: xxhash
// over the deterministic JSON encoding (map keys sorted by the encoder).
func Checksum(s *types.LearningState) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}
