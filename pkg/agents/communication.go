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
	"fmt"

	"github.com/praxislabs/praxis/pkg/types"
)

// Communication composes the student-facing reply for each interaction.
type Communication struct{}

// NewCommunication creates the built-in communication agent.
func NewCommunication() *Communication {
	return &Communication{}
}

// Type implements agent.Agent.
func (c *Communication) Type() types.AgentType {
	return types.AgentTypeCommunication
}

// Initialize implements agent.Agent.
func (c *Communication) Initialize(context.Context) error {
	return nil
}

// Shutdown implements agent.Agent.
func (c *Communication) Shutdown(context.Context) error {
	return nil
}

// ProcessMessage implements agent.Agent.
func (c *Communication) ProcessMessage(_ context.Context, msg *types.AgentMessage) (*types.AgentResponse, error) {
	state := stateFromPayload(msg)
	text := messageFromPayload(msg)

	var reply string
	switch {
	case containsAny(text, "stuck", "confused", "don't understand", "lost"):
		reply = "No problem, let's slow down and walk through it together step by step."
	case containsAny(text, "got it", "solved", "finished", "done"):
		reply = "Nice work! Ready for the next one?"
	case containsAny(text, "frustrated", "give up", "hate"):
		reply = "This one is tough, and that's okay. Let's take it one small piece at a time."
	default:
		reply = "Let's keep going. Tell me what you're thinking so far."
	}

	if state != nil && state.CurrentActivity != "" {
		reply = fmt.Sprintf("%s We're working on %s.", reply, state.CurrentActivity)
	}

	return &types.AgentResponse{
		MessageID: msg.ID,
		Success:   true,
		Data: map[string]any{
			"message": reply,
		},
	}, nil
}
