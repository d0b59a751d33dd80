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
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/praxis/pkg/consistency"
	"github.com/praxislabs/praxis/pkg/types"
)

// InitializeLearningState creates the learning state for a new student,
// takes the initial backup, and announces it on the bus. Idempotent
// callers should check GetLearningState first; re-initializing an
// existing student fails.
func (o *Orchestrator) InitializeLearningState(ctx context.Context, studentID string, profile *types.StudentProfile) (*types.LearningState, error) {
	if studentID == "" {
		return nil, ErrUnknownStudentID
	}

	state := types.NewLearningState(studentID)
	if profile != nil {
		state.AppendContext(types.ContextEntry{
			Kind:    "profile",
			Summary: fmt.Sprintf("student intake: %s", profile.Name),
			Data: map[string]any{
				"name":        profile.Name,
				"grade_level": profile.GradeLevel,
			},
			RecordedAt: time.Now(),
		})
	}

	o.mu.Lock()
	if _, exists := o.students[studentID]; exists {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrStateExists, studentID)
	}
	o.students[studentID] = &studentEntry{state: state}
	o.mu.Unlock()

	if _, err := o.consistency.CreateBackup(ctx, state); err != nil {
		o.logger.Warn("initial backup failed",
			zap.String("student_id", studentID),
			zap.Error(err))
	}

	o.emit(types.EventStateInitialized, map[string]any{
		"student_id": studentID,
		"session_id": state.SessionID,
	}, types.PriorityMedium)

	clone, err := state.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to clone state: %w", err)
	}
	return clone, nil
}

// GetLearningState returns a deep clone of a student's state. Callers
// never see the live aggregate.
func (o *Orchestrator) GetLearningState(studentID string) (*types.LearningState, error) {
	entry := o.student(studentID)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, studentID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	clone, err := entry.state.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to clone state: %w", err)
	}
	return clone, nil
}

// UpdateLearningState applies one agent's proposed update under the
// student's state lock: validate, detect and resolve conflicts against
// field provenance, apply to a working clone, re-validate, then swap in
// the clone. The live state is never left half-updated.
func (o *Orchestrator) UpdateLearningState(ctx context.Context, studentID string, update *types.StateUpdate) error {
	entry := o.student(studentID)
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrStateNotFound, studentID)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return o.applyUpdateLocked(ctx, entry, update)
}

// applyUpdateLocked does the update work. Caller holds entry.mu.
func (o *Orchestrator) applyUpdateLocked(ctx context.Context, entry *studentEntry, update *types.StateUpdate) error {
	if result := consistency.ValidateUpdate(update); !result.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidUpdate, result.Errors)
	}

	working, err := entry.state.Clone()
	if err != nil {
		return fmt.Errorf("failed to clone state: %w", err)
	}

	conflicts := o.consistency.DetectConflicts(working, update)
	conflicted := make(map[string]*types.Conflict, len(conflicts))
	for _, c := range conflicts {
		conflicted[c.Field] = c
	}

	applied := 0
	for field, value := range update.Fields {
		if !consistency.KnownField(field) {
			o.logger.Warn("skipping unknown field in update",
				zap.String("student_id", working.StudentID),
				zap.String("field", field))
			continue
		}

		writeValue := value
		writeSource := update.SourceFor(field)
		writeConfidence := update.ConfidenceFor(field)

		if c, ok := conflicted[field]; ok {
			resolution := o.consistency.ResolveConflict(c)
			o.logger.Info("conflict resolved",
				zap.String("student_id", working.StudentID),
				zap.String("field", field),
				zap.String("strategy", string(resolution.Strategy)),
				zap.Bool("applied", resolution.Applied),
				zap.String("reason", resolution.Reason))
			if !resolution.Applied {
				// Manual escalation keeps the current value.
				continue
			}
			writeValue = resolution.Value
			writeSource = resolution.Source
			writeConfidence = resolution.Confidence
		}

		if err := consistency.ApplyField(working, field, writeValue); err != nil {
			o.logger.Warn("skipping unapplicable field in update",
				zap.String("student_id", working.StudentID),
				zap.String("field", field),
				zap.Error(err))
			continue
		}
		working.FieldProvenance[field] = types.Provenance{
			Source:     writeSource,
			Confidence: writeConfidence,
			Timestamp:  update.Timestamp,
		}
		applied++
	}

	if applied == 0 {
		return nil
	}

	// LastUpdated is monotonically non-decreasing even under clock
	// regression.
	now := time.Now()
	if !now.After(working.LastUpdated) {
		now = working.LastUpdated.Add(time.Nanosecond)
	}
	working.LastUpdated = now
	working.LastActivityAt = now
	working.Revision++

	if result := o.consistency.Validate(working); !result.Valid {
		return fmt.Errorf("%w: %v", ErrUpdateRejected, result.Errors)
	}

	entry.state = working

	if _, err := o.consistency.CreateBackup(ctx, working); err != nil {
		o.logger.Warn("post-update backup failed",
			zap.String("student_id", working.StudentID),
			zap.Error(err))
	}

	o.emit(types.EventStateUpdated, map[string]any{
		"student_id": working.StudentID,
		"source":     string(update.Source),
		"fields":     applied,
		"conflicts":  len(conflicts),
		"revision":   working.Revision,
	}, types.PriorityMedium)
	return nil
}

// BackupStudentState takes an on-demand backup of one student's state.
func (o *Orchestrator) BackupStudentState(ctx context.Context, studentID string) (*types.Backup, error) {
	entry := o.student(studentID)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, studentID)
	}

	entry.mu.Lock()
	clone, err := entry.state.Clone()
	entry.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}
	return o.consistency.CreateBackup(ctx, clone)
}

// RestoreStudentState replaces a student's live state with a verified
// backup. An empty backupID restores the most recent valid backup.
func (o *Orchestrator) RestoreStudentState(ctx context.Context, studentID, backupID string) error {
	entry := o.student(studentID)
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrStateNotFound, studentID)
	}

	restored, err := o.consistency.RestoreFromBackup(ctx, studentID, backupID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	// Restored snapshots predate the live state; keep LastUpdated
	// monotonic across the swap.
	if !restored.LastUpdated.After(entry.state.LastUpdated) {
		restored.LastUpdated = entry.state.LastUpdated.Add(time.Nanosecond)
	}
	restored.Revision = entry.state.Revision + 1
	entry.state = restored
	entry.mu.Unlock()

	o.logger.Info("student state restored",
		zap.String("student_id", studentID),
		zap.String("backup_id", backupID))
	return nil
}

func (o *Orchestrator) student(studentID string) *studentEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.students[studentID]
}
