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

// Package types contains shared types used across the praxis runtime.
// This package breaks import cycles by providing the common data model
// that the bus, agent runtime, recovery, consistency, and orchestrator
// packages all depend on.
package types

import (
	"time"

	"github.com/google/uuid"
)

// AgentType identifies an agent role. It is the routing key for messages,
// subscriptions, and fallback activation.
type AgentType string

const (
	AgentTypeAssessment        AgentType = "assessment"
	AgentTypeContentGeneration AgentType = "content_generation"
	AgentTypePathPlanning      AgentType = "path_planning"
	AgentTypeIntervention      AgentType = "intervention"
	AgentTypeCommunication     AgentType = "communication"
	AgentTypeOrchestrator      AgentType = "orchestrator"
)

// DomainAgentTypes lists the agent roles the orchestrator dispatches to.
// The orchestrator itself is excluded.
var DomainAgentTypes = []AgentType{
	AgentTypeAssessment,
	AgentTypeContentGeneration,
	AgentTypePathPlanning,
	AgentTypeIntervention,
	AgentTypeCommunication,
}

// Valid reports whether t is a known agent type.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeAssessment, AgentTypeContentGeneration, AgentTypePathPlanning,
		AgentTypeIntervention, AgentTypeCommunication, AgentTypeOrchestrator:
		return true
	}
	return false
}

// Priority orders events and messages. Higher values win; ties are FIFO
// by enqueue order.
type Priority int32

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

// NumPriorities is the number of distinct priority levels.
const NumPriorities = 4

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// Valid reports whether p is a known priority level.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// MessageKind tags the intent of an AgentMessage.
type MessageKind string

const (
	MessageKindRequest      MessageKind = "request"
	MessageKindResponse     MessageKind = "response"
	MessageKindEvent        MessageKind = "event"
	MessageKindNotification MessageKind = "notification"
	MessageKindError        MessageKind = "error"
)

// AgentMessage is the immutable envelope delivered to an agent's mailbox.
// IDs are unique within a process lifetime. Payload schemas are owned by
// the agent implementations and opaque to the runtime.
type AgentMessage struct {
	ID          string
	Source      AgentType
	Destination AgentType
	Kind        MessageKind
	Payload     map[string]any
	Priority    Priority

	// CorrelationID links a reply to its originating request.
	CorrelationID string

	CreatedAt time.Time
}

// NewMessage creates an AgentMessage with a fresh id and timestamp.
func NewMessage(source, destination AgentType, kind MessageKind, payload map[string]any, priority Priority) *AgentMessage {
	return &AgentMessage{
		ID:          uuid.NewString(),
		Source:      source,
		Destination: destination,
		Kind:        kind,
		Payload:     payload,
		Priority:    priority,
		CreatedAt:   time.Now(),
	}
}

// AgentResponse is an agent's reply to a processed message.
type AgentResponse struct {
	// MessageID is the id of the message this response answers.
	MessageID string

	Success bool
	Data    map[string]any
	Error   string

	Recommendations []*Recommendation
}

// RecommendationKind categorizes structured advice produced by agents.
type RecommendationKind string

const (
	RecommendationAction       RecommendationKind = "action"
	RecommendationContent      RecommendationKind = "content"
	RecommendationStrategy     RecommendationKind = "strategy"
	RecommendationIntervention RecommendationKind = "intervention"
)

// Recommendation is structured advice produced by an agent. The
// orchestrator merges recommendations across agents, keeping the
// highest-confidence instance per (Kind, TargetField).
type Recommendation struct {
	ID          string
	Kind        RecommendationKind
	Priority    Priority
	Description string

	// TargetField names the learning-state field this recommendation
	// proposes to change (e.g. "engagement.current_level"). Empty for
	// recommendations that carry no state update.
	TargetField string

	// Data is opaque to the runtime except for Data["value"], which
	// carries the proposed value for TargetField.
	Data map[string]any

	// Confidence is in [0, 1].
	Confidence float64
	Reasoning  string

	Source    AgentType
	CreatedAt time.Time
}

// NewRecommendation creates a Recommendation with a fresh id and timestamp.
func NewRecommendation(source AgentType, kind RecommendationKind, priority Priority, description string) *Recommendation {
	return &Recommendation{
		ID:          uuid.NewString(),
		Kind:        kind,
		Priority:    priority,
		Description: description,
		Data:        make(map[string]any),
		Source:      source,
		CreatedAt:   time.Now(),
	}
}

// AgentEvent is published on the event bus.
type AgentEvent struct {
	ID       string
	Type     string
	Source   AgentType
	Data     map[string]any
	Priority Priority

	// Seq is assigned by the bus at publish time and breaks FIFO ties
	// within a priority level.
	Seq uint64

	CreatedAt time.Time
}

// Stable event type names. Tests and observers key on these strings.
const (
	EventAgentStarted         = "agent:started"
	EventAgentStopped         = "agent:stopped"
	EventAgentFailure         = "agent:failure"
	EventAgentRecovered       = "agent:recovered"
	EventAgentDegraded        = "agent:degraded"
	EventAgentCritical        = "agent:critical"
	EventProcessed            = "event:processed"
	EventInteractionCompleted = "interaction:completed"
	EventStateInitialized     = "learning:state_initialized"
	EventStateUpdated         = "learning:state_updated"
	EventValidationFailed     = "validation:failed"
	EventCorruptionDetected   = "corruption:detected"
	EventConflictManual       = "conflict:manual"
)

// AgentHealth is a point-in-time health snapshot of one agent.
type AgentHealth struct {
	AgentType AgentType

	Healthy    bool
	Active     bool
	Processing bool

	MailboxDepth int
	HandlerCount int

	ConsecutiveFailures int
	TotalFailures       int64
	LastFailure         time.Time

	// UptimeSince is the time of the last successful start.
	UptimeSince time.Time
}

// ConflictSide is one side of a detected conflict: who proposed the value,
// when, and with what confidence.
type ConflictSide struct {
	Source     AgentType
	Value      any
	Timestamp  time.Time
	Confidence float64
}

// Conflict records two agents proposing different values for the same
// learning-state field within one update window.
type Conflict struct {
	// Field is the dotted field path (e.g. "engagement.current_level").
	Field    string
	Current  ConflictSide
	Proposed ConflictSide
}

// StateUpdate is a partial learning-state update proposed by an agent or
// derived by the orchestrator from merged recommendations.
type StateUpdate struct {
	Source    AgentType
	Timestamp time.Time

	// Confidence applies to every field unless overridden per field.
	Confidence float64

	// Fields maps dotted field paths to proposed values.
	Fields map[string]any

	// FieldConfidence optionally overrides Confidence per field.
	FieldConfidence map[string]float64

	// FieldSources optionally attributes individual fields to the agent
	// that proposed them, for updates merged from several agents.
	FieldSources map[string]AgentType
}

// ConfidenceFor returns the confidence attached to a field.
func (u *StateUpdate) ConfidenceFor(field string) float64 {
	if c, ok := u.FieldConfidence[field]; ok {
		return c
	}
	return u.Confidence
}

// SourceFor returns the agent that proposed a field.
func (u *StateUpdate) SourceFor(field string) AgentType {
	if s, ok := u.FieldSources[field]; ok {
		return s
	}
	return u.Source
}

// Interaction is one inbound student interaction.
type Interaction struct {
	ID         string
	Message    string
	Kind       string
	Data       map[string]any
	ReceivedAt time.Time
}

// NewInteraction creates an Interaction with a fresh id and timestamp.
func NewInteraction(message string) *Interaction {
	return &Interaction{
		ID:         uuid.NewString(),
		Message:    message,
		Data:       make(map[string]any),
		ReceivedAt: time.Now(),
	}
}

// InteractionResult is the orchestrator's answer to one interaction.
type InteractionResult struct {
	// Response is the user-visible text, composed from the communication
	// agent's output (or its fallback).
	Response string

	// Actions are the non-conflicting recommendations, ordered by
	// priority then confidence.
	Actions []*Recommendation

	// Degraded is set when one or more agents were unavailable.
	Degraded bool

	// UnavailableAgents lists agents whose output was missing.
	UnavailableAgents []AgentType
}

// StudentProfile carries optional intake data for state initialization.
type StudentProfile struct {
	Name        string
	GradeLevel  string
	Preferences map[string]string
}
