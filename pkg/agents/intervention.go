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

const interventionConfidence = 0.6

// frustrationTrigger is the tracked frustration level above which an
// intervention recommendation escalates to high priority.
const frustrationTrigger = 0.7

// Intervention watches for frustration signals and proposes breaks or
// encouragement before the student disengages.
type Intervention struct{}

// NewIntervention creates the built-in intervention agent.
func NewIntervention() *Intervention {
	return &Intervention{}
}

// Type implements agent.Agent.
func (i *Intervention) Type() types.AgentType {
	return types.AgentTypeIntervention
}

// Initialize implements agent.Agent.
func (i *Intervention) Initialize(context.Context) error {
	return nil
}

// Shutdown implements agent.Agent.
func (i *Intervention) Shutdown(context.Context) error {
	return nil
}

// ProcessMessage implements agent.Agent.
func (i *Intervention) ProcessMessage(_ context.Context, msg *types.AgentMessage) (*types.AgentResponse, error) {
	state := stateFromPayload(msg)
	text := messageFromPayload(msg)

	frustration := 0.0
	if state != nil {
		frustration = state.Engagement.FrustrationLevel
	}
	switch {
	case containsAny(text, "frustrated", "give up", "hate", "can't", "stuck"):
		frustration += 0.2
	case containsAny(text, "got it", "fun", "cool", "easy"):
		frustration -= 0.2
	default:
		// Mild decay when nothing signals frustration.
		frustration -= 0.05
	}
	frustration = clamp01(frustration)

	rec := types.NewRecommendation(types.AgentTypeIntervention, types.RecommendationIntervention,
		types.PriorityMedium, "track frustration from interaction signal")
	rec.TargetField = consistency.FieldFrustrationLevel
	rec.Data["value"] = frustration
	rec.Confidence = interventionConfidence
	rec.Reasoning = "keyword signal over tracked frustration"

	recs := []*types.Recommendation{rec}
	if frustration > frustrationTrigger {
		breakRec := types.NewRecommendation(types.AgentTypeIntervention, types.RecommendationIntervention,
			types.PriorityHigh, "suggest a short break before frustration peaks")
		breakRec.Confidence = interventionConfidence
		breakRec.Reasoning = "frustration above trigger threshold"
		recs = append(recs, breakRec)
	}

	return &types.AgentResponse{
		MessageID: msg.ID,
		Success:   true,
		Data: map[string]any{
			"frustration": frustration,
		},
		Recommendations: recs,
	}, nil
}
