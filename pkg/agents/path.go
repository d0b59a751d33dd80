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
package agents

import (
	"context"

	"github.com/google/uuid"

	"github.com/praxislabs/praxis/pkg/consistency"
	"github.com/praxislabs/praxis/pkg/types"
)

const pathConfidence = 0.75

// PathPlanning keeps the learning path aligned with the knowledge map:
// known gaps get a remediation node ahead of everything incomplete.
type PathPlanning struct{}

// NewPathPlanning creates the built-in path planning agent.
func NewPathPlanning() *PathPlanning {
	return &PathPlanning{}
}

// Type implements agent.Agent.
func (p *PathPlanning) Type() types.AgentType {
	return types.AgentTypePathPlanning
}

// Initialize implements agent.Agent.
func (p *PathPlanning) Initialize(context.Context) error {
	return nil
}

// Shutdown implements agent.Agent.
func (p *PathPlanning) Shutdown(context.Context) error {
	return nil
}

// ProcessMessage implements agent.Agent.
func (p *PathPlanning) ProcessMessage(_ context.Context, msg *types.AgentMessage) (*types.AgentResponse, error) {
	state := stateFromPayload(msg)
	if state == nil {
		return &types.AgentResponse{
			MessageID: msg.ID,
			Success:   true,
			Data:      map[string]any{"path": "unchanged"},
		}, nil
	}

	path := append([]types.PathNode(nil), state.LearningPath...)
	onPath := make(map[string]struct{}, len(path))
	for _, node := range path {
		onPath[node.Concept] = struct{}{}
	}

	var added []string
	if state.Knowledge != nil {
		for _, gap := range state.Knowledge.Gaps {
			if _, ok := onPath[gap]; ok {
				continue
			}
			// Remediation goes to the front, before new material.
			path = append([]types.PathNode{{
				ID:               uuid.NewString(),
				Concept:          gap,
				Difficulty:       clamp01(state.CurrentDifficulty - 0.1),
				EstimatedMinutes: 15,
			}}, path...)
			onPath[gap] = struct{}{}
			added = append(added, gap)
		}
	}

	resp := &types.AgentResponse{
		MessageID: msg.ID,
		Success:   true,
		Data: map[string]any{
			"path_length": len(path),
			"added":       added,
		},
	}
	if len(added) > 0 {
		rec := types.NewRecommendation(types.AgentTypePathPlanning, types.RecommendationStrategy,
			types.PriorityMedium, "insert remediation for known gaps")
		rec.TargetField = consistency.FieldLearningPath
		rec.Data["value"] = path
		rec.Confidence = pathConfidence
		rec.Reasoning = "knowledge map lists gaps not on the path"
		resp.Recommendations = []*types.Recommendation{rec}
	}
	return resp, nil
}
