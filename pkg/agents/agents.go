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

// Package agents ships the built-in tutoring agents. They are
// deterministic heuristics over the learning-state snapshot carried in
// each message, suitable as defaults and as the reference for custom
// agent implementations.
package agents

import (
	"strings"

	"github.com/praxislabs/praxis/pkg/agent"
	"github.com/praxislabs/praxis/pkg/types"
)

// All returns one instance of every built-in agent.
func All() []agent.Agent {
	return []agent.Agent{
		NewAssessment(),
		NewContentGeneration(),
		NewPathPlanning(),
		NewIntervention(),
		NewCommunication(),
	}
}

// stateFromPayload extracts the learning-state snapshot the
// orchestrator attaches to dispatch messages.
func stateFromPayload(msg *types.AgentMessage) *types.LearningState {
	if msg.Payload == nil {
		return nil
	}
	state, _ := msg.Payload["state"].(*types.LearningState)
	return state
}

func messageFromPayload(msg *types.AgentMessage) string {
	if msg.Payload == nil {
		return ""
	}
	text, _ := msg.Payload["message"].(string)
	return text
}

func containsAny(text string, words ...string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
