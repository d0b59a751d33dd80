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
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/praxislabs/praxis/pkg/agent"
	"github.com/praxislabs/praxis/pkg/types"
)

// defaultResponse is the floor reply when even the communication
// fallback produced nothing.
const defaultResponse = "Let's keep going with what we were working on."

// agentResult pairs one agent's dispatch outcome with its origin.
type agentResult struct {
	agentType types.AgentType
	response  *types.AgentResponse
	fallback  bool
	err       error
}

// ProcessStudentInteraction runs one interaction end to end: snapshot
// the student's state, dispatch to every registered domain agent in
// parallel under the dispatch deadline, merge recommendations, apply
// the derived state updates, and compose the reply. Interactions for
// the same student are serialized; different students proceed
// concurrently.
func (o *Orchestrator) ProcessStudentInteraction(ctx context.Context, studentID string, interaction *types.Interaction) (*types.InteractionResult, error) {
	entry := o.student(studentID)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, studentID)
	}

	entry.interactionMu.Lock()
	defer entry.interactionMu.Unlock()

	entry.mu.Lock()
	snapshot, err := entry.state.Clone()
	entry.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}

	started := time.Now()
	results := o.dispatch(ctx, studentID, interaction, snapshot)

	result := &types.InteractionResult{}
	bySource := make(map[types.AgentType]*types.AgentResponse, len(results))
	for _, r := range results {
		if r.err != nil || r.response == nil || !r.response.Success {
			result.Degraded = true
			result.UnavailableAgents = append(result.UnavailableAgents, r.agentType)
			continue
		}
		if r.fallback {
			result.Degraded = true
		}
		bySource[r.agentType] = r.response
	}
	sort.Slice(result.UnavailableAgents, func(i, j int) bool {
		return result.UnavailableAgents[i] < result.UnavailableAgents[j]
	})

	recommendations := mergeRecommendations(bySource)
	result.Actions = recommendations

	// Apply one merged update for the whole interaction; per-field
	// sources keep each agent's provenance visible to conflict detection.
	if update := deriveUpdate(recommendations); update != nil {
		entry.mu.Lock()
		err := o.applyUpdateLocked(ctx, entry, update)
		entry.mu.Unlock()
		if err != nil {
			o.logger.Warn("derived update rejected",
				zap.String("student_id", studentID),
				zap.Error(err))
		}
	}

	result.Response = composeResponse(bySource)

	entry.mu.Lock()
	entry.state.AppendContext(types.ContextEntry{
		Kind:    "interaction",
		Summary: interaction.Message,
		Data: map[string]any{
			"interaction_id": interaction.ID,
			"degraded":       result.Degraded,
		},
		RecordedAt: time.Now(),
	})
	entry.state.LastActivityAt = time.Now()
	entry.mu.Unlock()

	o.emit(types.EventInteractionCompleted, map[string]any{
		"student_id":     studentID,
		"interaction_id": interaction.ID,
		"degraded":       result.Degraded,
		"actions":        len(result.Actions),
		"elapsed_ms":     time.Since(started).Milliseconds(),
	}, types.PriorityMedium)

	return result, nil
}

// dispatch fans the interaction out to every registered domain agent
// and collects results. Agents whose fallback is active answer through
// their responder immediately; live agents get the dispatch deadline.
func (o *Orchestrator) dispatch(ctx context.Context, studentID string, interaction *types.Interaction, snapshot *types.LearningState) []agentResult {
	o.mu.Lock()
	runners := make(map[types.AgentType]*agent.Runner, len(o.runners))
	for at, r := range o.runners {
		if at == types.AgentTypeOrchestrator {
			continue
		}
		runners[at] = r
	}
	o.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, o.cfg.DispatchTimeout)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]agentResult, 0, len(runners))
	)
	for at, r := range runners {
		at, r := at, r
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := o.dispatchOne(dctx, at, r, studentID, interaction, snapshot)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].agentType < results[j].agentType
	})
	return results
}

func (o *Orchestrator) dispatchOne(ctx context.Context, at types.AgentType, r *agent.Runner, studentID string, interaction *types.Interaction, snapshot *types.LearningState) agentResult {
	msg := types.NewMessage(types.AgentTypeOrchestrator, at, types.MessageKindRequest, map[string]any{
		"student_id":     studentID,
		"interaction_id": interaction.ID,
		"message":        interaction.Message,
		"kind":           interaction.Kind,
		"data":           interaction.Data,
		"state":          snapshot,
	}, types.PriorityHigh)

	if o.supervisor.IsFallbackActive(at) || r.State() != agent.StateActive {
		if responder := o.supervisor.Fallback(at); responder != nil {
			o.logger.Debug("answering via fallback",
				zap.String("agent_type", string(at)))
			return agentResult{agentType: at, response: responder.Respond(msg), fallback: true}
		}
		return agentResult{agentType: at, err: agent.ErrNotActive}
	}

	resp, err := r.Request(ctx, msg)
	if err != nil {
		o.logger.Warn("agent missed dispatch deadline",
			zap.String("agent_type", string(at)),
			zap.Error(err))
		return agentResult{agentType: at, err: err}
	}
	return agentResult{agentType: at, response: resp}
}

// mergeRecommendations deduplicates by (Kind, TargetField), keeping the
// highest-confidence instance, and orders the survivors by priority then
// confidence.
func mergeRecommendations(bySource map[types.AgentType]*types.AgentResponse) []*types.Recommendation {
	type key struct {
		kind  types.RecommendationKind
		field string
	}
	best := make(map[key]*types.Recommendation)
	var order []key

	// Stable iteration over sources.
	sources := make([]types.AgentType, 0, len(bySource))
	for at := range bySource {
		sources = append(sources, at)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	for _, at := range sources {
		for _, rec := range bySource[at].Recommendations {
			if rec == nil {
				continue
			}
			k := key{kind: rec.Kind, field: rec.TargetField}
			current, ok := best[k]
			if !ok {
				best[k] = rec
				order = append(order, k)
				continue
			}
			if rec.Confidence > current.Confidence {
				best[k] = rec
			}
		}
	}

	out := make([]*types.Recommendation, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// deriveUpdate merges recommendations that target state fields into a
// single StateUpdate for the interaction, attributing each field to the
// agent that proposed it. Two recommendation kinds can survive dedup
// while naming the same field; the higher-confidence proposal wins.
// Returns nil when nothing targets a field.
func deriveUpdate(recommendations []*types.Recommendation) *types.StateUpdate {
	update := &types.StateUpdate{
		Source:          types.AgentTypeOrchestrator,
		Timestamp:       time.Now(),
		Fields:          make(map[string]any),
		FieldConfidence: make(map[string]float64),
		FieldSources:    make(map[string]types.AgentType),
	}
	for _, rec := range recommendations {
		if rec.TargetField == "" {
			continue
		}
		value, ok := rec.Data["value"]
		if !ok {
			continue
		}
		if prev, seen := update.FieldConfidence[rec.TargetField]; seen && prev >= rec.Confidence {
			continue
		}
		update.Fields[rec.TargetField] = value
		update.FieldConfidence[rec.TargetField] = rec.Confidence
		update.FieldSources[rec.TargetField] = rec.Source
	}
	if len(update.Fields) == 0 {
		return nil
	}
	return update
}

// composeResponse prefers the communication agent's message; any other
// agent's message is the fallback, then the canned floor reply.
func composeResponse(bySource map[types.AgentType]*types.AgentResponse) string {
	if resp, ok := bySource[types.AgentTypeCommunication]; ok {
		if msg, ok := resp.Data["message"].(string); ok && msg != "" {
			return msg
		}
	}
	sources := make([]types.AgentType, 0, len(bySource))
	for at := range bySource {
		sources = append(sources, at)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	for _, at := range sources {
		if msg, ok := bySource[at].Data["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return defaultResponse
}
