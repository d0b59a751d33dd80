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

	"github.com/praxislabs/praxis/pkg/types"
)

// Dotted field paths agents may target in StateUpdate.Fields.
const (
	FieldCurrentActivity      = "current_activity"
	FieldCurrentDifficulty    = "current_difficulty"
	FieldCurrentObjectives    = "current_objectives"
	FieldLearningPath         = "learning_path"
	FieldRecentAchievements   = "recent_achievements"
	FieldEngagementLevel      = "engagement.current_level"
	FieldAttentionSpan        = "engagement.attention_span"
	FieldInteractionFrequency = "engagement.interaction_frequency"
	FieldResponseTime         = "engagement.response_time"
	FieldFrustrationLevel     = "engagement.frustration_level"
	FieldMotivationLevel      = "engagement.motivation_level"
)

// KnownField reports whether path names a writable learning-state field.
func KnownField(path string) bool {
	switch path {
	case FieldCurrentActivity, FieldCurrentDifficulty, FieldCurrentObjectives,
		FieldLearningPath, FieldRecentAchievements,
		FieldEngagementLevel, FieldAttentionSpan, FieldInteractionFrequency,
		FieldResponseTime, FieldFrustrationLevel, FieldMotivationLevel:
		return true
	}
	return false
}

// ReadField returns the current value at a dotted field path.
func ReadField(s *types.LearningState, path string) (any, bool) {
	switch path {
	case FieldCurrentActivity:
		return s.CurrentActivity, true
	case FieldCurrentDifficulty:
		return s.CurrentDifficulty, true
	case FieldCurrentObjectives:
		return s.CurrentObjectives, true
	case FieldLearningPath:
		return s.LearningPath, true
	case FieldRecentAchievements:
		return s.RecentAchievements, true
	case FieldEngagementLevel:
		return s.Engagement.CurrentLevel, true
	case FieldAttentionSpan:
		return s.Engagement.AttentionSpan, true
	case FieldInteractionFrequency:
		return s.Engagement.InteractionFrequency, true
	case FieldResponseTime:
		return s.Engagement.ResponseTime, true
	case FieldFrustrationLevel:
		return s.Engagement.FrustrationLevel, true
	case FieldMotivationLevel:
		return s.Engagement.MotivationLevel, true
	}
	return nil, false
}

// ApplyField writes a value at a dotted field path, coercing compatible
// representations.
func ApplyField(s *types.LearningState, path string, value any) error {
	switch path {
	case FieldCurrentActivity:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %s: expected string, got %T", path, value)
		}
		s.CurrentActivity = v
	case FieldCurrentDifficulty:
		v, ok := ToFloat(value)
		if !ok {
			return fmt.Errorf("field %s: expected number, got %T", path, value)
		}
		s.CurrentDifficulty = v
	case FieldCurrentObjectives:
		v, err := toStringSlice(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", path, err)
		}
		s.CurrentObjectives = v
	case FieldLearningPath:
		v, ok := value.([]types.PathNode)
		if !ok {
			return fmt.Errorf("field %s: expected []types.PathNode, got %T", path, value)
		}
		s.LearningPath = v
	case FieldRecentAchievements:
		v, err := toStringSlice(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", path, err)
		}
		s.RecentAchievements = v
	case FieldEngagementLevel, FieldAttentionSpan, FieldInteractionFrequency,
		FieldResponseTime, FieldFrustrationLevel, FieldMotivationLevel:
		v, ok := ToFloat(value)
		if !ok {
			return fmt.Errorf("field %s: expected number, got %T", path, value)
		}
		switch path {
		case FieldEngagementLevel:
			s.Engagement.CurrentLevel = v
		case FieldAttentionSpan:
			s.Engagement.AttentionSpan = v
		case FieldInteractionFrequency:
			s.Engagement.InteractionFrequency = v
		case FieldResponseTime:
			s.Engagement.ResponseTime = v
		case FieldFrustrationLevel:
			s.Engagement.FrustrationLevel = v
		case FieldMotivationLevel:
			s.Engagement.MotivationLevel = v
		}
	default:
		return fmt.Errorf("unknown field path %q", path)
	}
	return nil
}

// ToFloat coerces the numeric representations that survive JSON and
// in-process payloads.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

func toStringSlice(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", item)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected string list, got %T", value)
}
