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

// Package agent defines the agent contract and the Runner that wraps a
// domain agent with lifecycle management, a serialized mailbox, event
// handlers, and a health surface.
package agent

import (
	"context"
	"errors"

	"github.com/praxislabs/praxis/pkg/types"
)

// Agent is the capability set every domain agent implements. The runtime
// guarantees ProcessMessage is never called reentrantly for a single
// agent instance, and only while the agent is active.
type Agent interface {
	// Type returns the constant agent role.
	Type() types.AgentType

	// Initialize prepares the agent. Called once per successful start.
	Initialize(ctx context.Context) error

	// ProcessMessage handles one request and returns a response. A
	// returned error (or panic) is converted to a failed AgentResponse
	// by the runtime and surfaced to the recovery supervisor.
	ProcessMessage(ctx context.Context, msg *types.AgentMessage) (*types.AgentResponse, error)

	// Shutdown releases resources. Called during stop, after the
	// mailbox drains or the grace deadline expires.
	Shutdown(ctx context.Context) error
}

// Lifecycle errors.
var (
	// ErrAlreadyActive is returned by Start when the agent is not inactive.
	ErrAlreadyActive = errors.New("agent already active")

	// ErrNotActive is returned by operations requiring an active agent.
	ErrNotActive = errors.New("agent not active")
)

// State is the runner lifecycle state.
type State int32

const (
	StateInactive State = iota
	StateStarting
	StateActive
	StateStopping
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// FailureSignal notifies the recovery supervisor of an agent failure.
// Invoked on a separate goroutine; implementations may block.
type FailureSignal func(agentType types.AgentType, err error, failureContext map[string]any)
