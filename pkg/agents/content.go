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

	"github.com/praxislabs/praxis/pkg/consistency"
	"github.com/praxislabs/praxis/pkg/types"
)

const contentConfidence = 0.7

// ContentGeneration picks the next activity for the student based on
// the learning path and how the last interaction went.
type ContentGeneration struct{}

// NewContentGeneration creates the built-in content agent.
func NewContentGeneration() *ContentGeneration {
	return &ContentGeneration{}
}

// Type implements agent.Agent.
func (c *ContentGeneration) Type() types.AgentType {
	return types.AgentTypeContentGeneration
}

// Initialize implements agent.Agent.
func (c *ContentGeneration) Initialize(context.Context) error {
	return nil
}

// Shutdown implements agent.Agent.
func (c *ContentGeneration) Shutdown(context.Context) error {
	return nil
}

// ProcessMessage implements agent.Agent.
func (c *ContentGeneration) ProcessMessage(_ context.Context, msg *types.AgentMessage) (*types.AgentResponse, error) {
	state := stateFromPayload(msg)
	text := messageFromPayload(msg)

	activity := "practice"
	switch {
	case containsAny(text, "stuck", "confused", "don't understand", "lost"):
		activity = "worked_example"
	case containsAny(text, "easy", "boring", "done", "finished"):
		activity = "challenge"
	}
	if state != nil && activity == "practice" {
		for _, node := range state.LearningPath {
			if !node.Completed {
				activity = "practice:" + node.Concept
				break
			}
		}
	}

	rec := types.NewRecommendation(types.AgentTypeContentGeneration, types.RecommendationContent,
		types.PriorityMedium, "set the next activity")
	rec.TargetField = consistency.FieldCurrentActivity
	rec.Data["value"] = activity
	rec.Confidence = contentConfidence
	rec.Reasoning = "next incomplete path node and interaction tone"

	return &types.AgentResponse{
		MessageID: msg.ID,
		Success:   true,
		Data: map[string]any{
			"activity": activity,
		},
		Recommendations: []*types.Recommendation{rec},
	}, nil
}
