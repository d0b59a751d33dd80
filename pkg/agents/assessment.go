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

const assessmentConfidence = 0.8

// Assessment estimates how the student is doing from the interaction
// text and nudges the tracked engagement level accordingly.
type Assessment struct{}

// NewAssessment creates the built-in assessment agent.
func NewAssessment() *Assessment {
	return &Assessment{}
}

// Type implements agent.Agent.
func (a *Assessment) Type() types.AgentType {
	return types.AgentTypeAssessment
}

// Initialize implements agent.Agent.
func (a *Assessment) Initialize(context.Context) error {
	return nil
}

// Shutdown implements agent.Agent.
func (a *Assessment) Shutdown(context.Context) error {
	return nil
}

// ProcessMessage implements agent.Agent.
func (a *Assessment) ProcessMessage(_ context.Context, msg *types.AgentMessage) (*types.AgentResponse, error) {
	state := stateFromPayload(msg)
	text := messageFromPayload(msg)

	level := 0.5
	if state != nil {
		level = state.Engagement.CurrentLevel
	}
	switch {
	case containsAny(text, "got it", "solved", "finished", "easy", "done"):
		level += 0.1
	case containsAny(text, "stuck", "confused", "don't understand", "hard", "lost"):
		level -= 0.1
	}
	level = clamp01(level)

	rec := types.NewRecommendation(types.AgentTypeAssessment, types.RecommendationAction,
		types.PriorityMedium, "update tracked engagement from interaction signal")
	rec.TargetField = consistency.FieldEngagementLevel
	rec.Data["value"] = level
	rec.Confidence = assessmentConfidence
	rec.Reasoning = "keyword signal over current engagement"

	return &types.AgentResponse{
		MessageID: msg.ID,
		Success:   true,
		Data: map[string]any{
			"engagement_estimate": level,
		},
		Recommendations: []*types.Recommendation{rec},
	}, nil
}
