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
package recovery

import (
	"github.com/praxislabs/praxis/pkg/types"
)

// Responder produces a degraded-but-safe response in place of a failed
// agent. Responders are deterministic and never error: they are the
// last line of defense, not another failure source.
type Responder interface {
	Respond(msg *types.AgentMessage) *types.AgentResponse
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(msg *types.AgentMessage) *types.AgentResponse

// Respond implements Responder.
func (f ResponderFunc) Respond(msg *types.AgentMessage) *types.AgentResponse {
	return f(msg)
}

// fallbackConfidence is deliberately low so fallback recommendations
// lose conflict resolution against any live agent's output.
const fallbackConfidence = 0.3

func fallbackData(extra map[string]any) map[string]any {
	data := map[string]any{"fallback": true}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// DefaultResponders returns the built-in fallback per domain agent type.
// Responses carry Data["fallback"] = true so consumers can distinguish
// degraded output.
func DefaultResponders() map[types.AgentType]Responder {
	return map[types.AgentType]Responder{
		types.AgentTypeAssessment:        ResponderFunc(assessmentFallback),
		types.AgentTypeContentGeneration: ResponderFunc(contentFallback),
		types.AgentTypePathPlanning:      ResponderFunc(pathFallback),
		types.AgentTypeIntervention:      ResponderFunc(interventionFallback),
		types.AgentTypeCommunication:     ResponderFunc(communicationFallback),
	}
}

// assessmentFallback leaves mastery estimates untouched and advises
// keeping the current difficulty.
func assessmentFallback(msg *types.AgentMessage) *types.AgentResponse {
	rec := types.NewRecommendation(types.AgentTypeAssessment, types.RecommendationAction,
		types.PriorityLow, "keep current difficulty until assessment recovers")
	rec.Confidence = fallbackConfidence
	rec.Reasoning = "assessment unavailable, no new evidence"
	rec.Data["fallback"] = true

	return &types.AgentResponse{
		MessageID:       msg.ID,
		Success:         true,
		Data:            fallbackData(map[string]any{"mastery_estimate": "unchanged"}),
		Recommendations: []*types.Recommendation{rec},
	}
}

// contentFallback serves review material for already-covered concepts
// instead of generating new content.
func contentFallback(msg *types.AgentMessage) *types.AgentResponse {
	rec := types.NewRecommendation(types.AgentTypeContentGeneration, types.RecommendationContent,
		types.PriorityLow, "serve review material for recently covered concepts")
	rec.Confidence = fallbackConfidence
	rec.Reasoning = "content generation unavailable"
	rec.Data["fallback"] = true
	rec.Data["value"] = "review"

	return &types.AgentResponse{
		MessageID:       msg.ID,
		Success:         true,
		Data:            fallbackData(map[string]any{"content_mode": "review"}),
		Recommendations: []*types.Recommendation{rec},
	}
}

// pathFallback keeps the student on the current learning path.
func pathFallback(msg *types.AgentMessage) *types.AgentResponse {
	rec := types.NewRecommendation(types.AgentTypePathPlanning, types.RecommendationStrategy,
		types.PriorityLow, "continue current learning path unchanged")
	rec.Confidence = fallbackConfidence
	rec.Reasoning = "path planning unavailable"
	rec.Data["fallback"] = true

	return &types.AgentResponse{
		MessageID:       msg.ID,
		Success:         true,
		Data:            fallbackData(map[string]any{"path": "unchanged"}),
		Recommendations: []*types.Recommendation{rec},
	}
}

// interventionFallback takes no automatic action; it flags the
// interaction for manual review and suggests a low-risk break.
func interventionFallback(msg *types.AgentMessage) *types.AgentResponse {
	rec := types.NewRecommendation(types.AgentTypeIntervention, types.RecommendationIntervention,
		types.PriorityLow, "offer a short break")
	rec.Confidence = fallbackConfidence
	rec.Reasoning = "intervention planning unavailable, flagged for manual review"
	rec.Data["fallback"] = true
	rec.Data["manual_review"] = true

	return &types.AgentResponse{
		MessageID:       msg.ID,
		Success:         true,
		Data:            fallbackData(map[string]any{"manual_review": true}),
		Recommendations: []*types.Recommendation{rec},
	}
}

// communicationFallback returns a canned encouraging message so the
// student always gets a reply.
func communicationFallback(msg *types.AgentMessage) *types.AgentResponse {
	return &types.AgentResponse{
		MessageID: msg.ID,
		Success:   true,
		Data: fallbackData(map[string]any{
			"message": "I'm having a little trouble right now, but let's keep going with what we were working on.",
		}),
	}
}
