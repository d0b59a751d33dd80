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
	"fmt"
	"time"

	"github.com/praxislabs/praxis/pkg/types"
)

// Level grades a validation finding.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// allowedClockSkew tolerates timestamps slightly ahead of the local
// clock before flagging them.
const allowedClockSkew = 5 * time.Minute

// ValidationError is one validation finding.
type ValidationError struct {
	Level   Level
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Level, e.Field, e.Message)
}

// ValidationResult collects findings from one validation pass. Valid is
// false when any error-level finding exists; warnings alone keep the
// result valid.
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

func newValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

func (r *ValidationResult) addError(field, format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{
		Level:   LevelError,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

func (r *ValidationResult) addWarning(field, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationError{
		Level:   LevelWarning,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

// ValidateState checks a learning state's structural invariants.
func ValidateState(s *types.LearningState) *ValidationResult {
	result := newValidationResult()
	if s == nil {
		result.addError("state", "state is nil")
		return result
	}

	if s.StudentID == "" {
		result.addError("student_id", "student id is empty")
	}
	if s.SessionID == "" {
		result.addWarning("session_id", "session id is empty")
	}
	if s.LastUpdated.IsZero() {
		result.addError("last_updated", "timestamp is zero")
	} else if s.LastUpdated.After(time.Now().Add(allowedClockSkew)) {
		result.addError("last_updated", "timestamp is in the future")
	}

	validateRatio(result, FieldCurrentDifficulty, s.CurrentDifficulty)
	validateEngagement(result, &s.Engagement)

	if s.Knowledge == nil {
		result.addError("knowledge", "knowledge map is nil")
	} else {
		validateKnowledge(result, s.Knowledge)
	}

	if len(s.ContextHistory) > types.MaxContextHistory {
		result.addError("context_history", "history length %d exceeds cap %d",
			len(s.ContextHistory), types.MaxContextHistory)
	}

	for field, prov := range s.FieldProvenance {
		if prov.Confidence < 0 || prov.Confidence > 1 {
			result.addError("field_provenance."+field,
				"confidence %.3f out of range [0, 1]", prov.Confidence)
		}
	}

	return result
}

func validateEngagement(result *ValidationResult, e *types.EngagementMetrics) {
	validateRatio(result, FieldEngagementLevel, e.CurrentLevel)
	validateRatio(result, FieldAttentionSpan, e.AttentionSpan)
	validateRatio(result, FieldInteractionFrequency, e.InteractionFrequency)
	validateRatio(result, FieldFrustrationLevel, e.FrustrationLevel)
	validateRatio(result, FieldMotivationLevel, e.MotivationLevel)
	if e.ResponseTime < 0 {
		result.addError(FieldResponseTime, "response time %.3f is negative", e.ResponseTime)
	}
	if len(e.History) > types.MaxEngagementHistory {
		result.addError("engagement.history", "history length %d exceeds cap %d",
			len(e.History), types.MaxEngagementHistory)
	}
}

func validateKnowledge(result *ValidationResult, k *types.KnowledgeMap) {
	for concept, mastery := range k.Concepts {
		if mastery == nil {
			result.addError("knowledge.concepts."+concept, "mastery level is nil")
			continue
		}
		if !mastery.Level.Valid() {
			result.addError("knowledge.concepts."+concept,
				"unknown mastery grade %q", mastery.Level)
		}
		if mastery.Confidence < 0 || mastery.Confidence > 1 {
			result.addError("knowledge.concepts."+concept,
				"confidence %.3f out of range [0, 1]", mastery.Confidence)
		}
		if len(mastery.Evidence) > types.MaxMasteryEvidence {
			result.addError("knowledge.concepts."+concept,
				"evidence length %d exceeds cap %d",
				len(mastery.Evidence), types.MaxMasteryEvidence)
		}
	}
	if cycle := k.DetectCycle(); cycle != nil {
		result.addError("knowledge.prerequisites", "prerequisite cycle %v", cycle)
	}
}

func validateRatio(result *ValidationResult, field string, v float64) {
	if v < 0 || v > 1 {
		result.addError(field, "value %.3f out of range [0, 1]", v)
	}
}

// ValidateUpdate checks a proposed state update before it is applied.
// Unknown field paths are warnings so forward-compatible agents do not
// hard-fail the whole update.
func ValidateUpdate(u *types.StateUpdate) *ValidationResult {
	result := newValidationResult()
	if u == nil {
		result.addError("update", "update is nil")
		return result
	}

	if !u.Source.Valid() {
		result.addError("source", "unknown agent type %q", u.Source)
	}
	if u.Timestamp.IsZero() {
		result.addError("timestamp", "timestamp is zero")
	}
	if len(u.Fields) == 0 {
		result.addError("fields", "update proposes no fields")
	}
	if u.Confidence < 0 || u.Confidence > 1 {
		result.addError("confidence", "confidence %.3f out of range [0, 1]", u.Confidence)
	}
	for field, c := range u.FieldConfidence {
		if c < 0 || c > 1 {
			result.addError("field_confidence."+field,
				"confidence %.3f out of range [0, 1]", c)
		}
	}
	for field, source := range u.FieldSources {
		if !source.Valid() {
			result.addError("field_sources."+field,
				"unknown agent type %q", source)
		}
	}

	for field, value := range u.Fields {
		if !KnownField(field) {
			result.addWarning(field, "unknown field path")
			continue
		}
		switch field {
		case FieldCurrentDifficulty, FieldEngagementLevel, FieldAttentionSpan,
			FieldInteractionFrequency, FieldFrustrationLevel, FieldMotivationLevel:
			v, ok := ToFloat(value)
			if !ok {
				result.addError(field, "expected number, got %T", value)
			} else if v < 0 || v > 1 {
				result.addError(field, "value %.3f out of range [0, 1]", v)
			}
		case FieldResponseTime:
			v, ok := ToFloat(value)
			if !ok {
				result.addError(field, "expected number, got %T", value)
			} else if v < 0 {
				result.addError(field, "value %.3f is negative", v)
			}
		}
	}

	return result
}
