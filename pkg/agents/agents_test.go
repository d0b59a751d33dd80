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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislabs/praxis/pkg/consistency"
	"github.com/praxislabs/praxis/pkg/types"
)

// dispatchMsg mirrors the payload the orchestrator attaches when fanning
// an interaction out to the domain agents.
func dispatchMsg(state *types.LearningState, text string) *types.AgentMessage {
	return types.NewMessage(types.AgentTypeOrchestrator, types.AgentTypeAssessment,
		types.MessageKindRequest, map[string]any{
			"message": text,
			"state":   state,
		}, types.PriorityHigh)
}

func TestAllCoversEveryDomainAgent(t *testing.T) {
	all := All()
	require.Len(t, all, len(types.DomainAgentTypes))

	seen := make(map[types.AgentType]bool)
	for _, a := range all {
		seen[a.Type()] = true
		require.NoError(t, a.Initialize(context.Background()))
		require.NoError(t, a.Shutdown(context.Background()))
	}
	for _, at := range types.DomainAgentTypes {
		assert.True(t, seen[at], "missing built-in agent for %s", at)
	}
}

func TestAssessmentNudgesEngagement(t *testing.T) {
	a := NewAssessment()
	ctx := context.Background()

	state := types.NewLearningState("student-1")
	state.Engagement.CurrentLevel = 0.5

	resp, err := a.ProcessMessage(ctx, dispatchMsg(state, "I solved it, that was easy"))
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.Recommendations, 1)

	rec := resp.Recommendations[0]
	assert.Equal(t, consistency.FieldEngagementLevel, rec.TargetField)
	assert.Equal(t, assessmentConfidence, rec.Confidence)
	assert.InDelta(t, 0.6, rec.Data["value"], 1e-9)

	resp, err = a.ProcessMessage(ctx, dispatchMsg(state, "I'm stuck and confused"))
	require.NoError(t, err)
	assert.InDelta(t, 0.4, resp.Recommendations[0].Data["value"], 1e-9)

	// Neutral text leaves the level alone.
	resp, err = a.ProcessMessage(ctx, dispatchMsg(state, "here is my answer"))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, resp.Recommendations[0].Data["value"], 1e-9)
}

func TestAssessmentClampsToUnitRange(t *testing.T) {
	a := NewAssessment()

	state := types.NewLearningState("student-1")
	state.Engagement.CurrentLevel = 0.95

	resp, err := a.ProcessMessage(context.Background(), dispatchMsg(state, "done, easy"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, resp.Recommendations[0].Data["value"])
}

func TestContentPicksActivity(t *testing.T) {
	c := NewContentGeneration()
	ctx := context.Background()

	state := types.NewLearningState("student-1")
	state.LearningPath = []types.PathNode{
		{ID: "n1", Concept: "fractions", Completed: true},
		{ID: "n2", Concept: "decimals"},
	}

	resp, err := c.ProcessMessage(ctx, dispatchMsg(state, "I'm lost"))
	require.NoError(t, err)
	require.Len(t, resp.Recommendations, 1)
	rec := resp.Recommendations[0]
	assert.Equal(t, consistency.FieldCurrentActivity, rec.TargetField)
	assert.Equal(t, contentConfidence, rec.Confidence)
	assert.Equal(t, "worked_example", rec.Data["value"])

	resp, err = c.ProcessMessage(ctx, dispatchMsg(state, "that was boring"))
	require.NoError(t, err)
	assert.Equal(t, "challenge", resp.Recommendations[0].Data["value"])

	// Neutral text advances to the first incomplete path node.
	resp, err = c.ProcessMessage(ctx, dispatchMsg(state, "what's next"))
	require.NoError(t, err)
	assert.Equal(t, "practice:decimals", resp.Recommendations[0].Data["value"])

	resp, err = c.ProcessMessage(ctx, dispatchMsg(nil, "what's next"))
	require.NoError(t, err)
	assert.Equal(t, "practice", resp.Recommendations[0].Data["value"])
}

func TestPathPlanningInsertsRemediation(t *testing.T) {
	p := NewPathPlanning()
	ctx := context.Background()

	state := types.NewLearningState("student-1")
	state.CurrentDifficulty = 0.6
	state.LearningPath = []types.PathNode{{ID: "n1", Concept: "decimals"}}
	state.Knowledge.Gaps = []string{"fractions"}

	resp, err := p.ProcessMessage(ctx, dispatchMsg(state, "hi"))
	require.NoError(t, err)
	require.Len(t, resp.Recommendations, 1)

	rec := resp.Recommendations[0]
	assert.Equal(t, consistency.FieldLearningPath, rec.TargetField)
	assert.Equal(t, pathConfidence, rec.Confidence)

	path, ok := rec.Data["value"].([]types.PathNode)
	require.True(t, ok)
	require.Len(t, path, 2)
	// Remediation lands ahead of existing material, slightly easier.
	assert.Equal(t, "fractions", path[0].Concept)
	assert.InDelta(t, 0.5, path[0].Difficulty, 1e-9)
	assert.Equal(t, "decimals", path[1].Concept)
}

func TestPathPlanningLeavesCoveredGapsAlone(t *testing.T) {
	p := NewPathPlanning()

	state := types.NewLearningState("student-1")
	state.LearningPath = []types.PathNode{{ID: "n1", Concept: "fractions"}}
	state.Knowledge.Gaps = []string{"fractions"}

	resp, err := p.ProcessMessage(context.Background(), dispatchMsg(state, "hi"))
	require.NoError(t, err)
	assert.Empty(t, resp.Recommendations)

	// No snapshot, nothing to plan against.
	resp, err = p.ProcessMessage(context.Background(), dispatchMsg(nil, "hi"))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Recommendations)
}

func TestInterventionTracksFrustration(t *testing.T) {
	i := NewIntervention()
	ctx := context.Background()

	state := types.NewLearningState("student-1")
	state.Engagement.FrustrationLevel = 0.4

	resp, err := i.ProcessMessage(ctx, dispatchMsg(state, "I'm stuck, I want to give up"))
	require.NoError(t, err)
	require.Len(t, resp.Recommendations, 1)
	rec := resp.Recommendations[0]
	assert.Equal(t, consistency.FieldFrustrationLevel, rec.TargetField)
	assert.Equal(t, interventionConfidence, rec.Confidence)
	assert.InDelta(t, 0.6, rec.Data["value"], 1e-9)

	resp, err = i.ProcessMessage(ctx, dispatchMsg(state, "got it, this is fun"))
	require.NoError(t, err)
	assert.InDelta(t, 0.2, resp.Recommendations[0].Data["value"], 1e-9)

	// Frustration decays slowly when nothing signals it.
	resp, err = i.ProcessMessage(ctx, dispatchMsg(state, "here is my answer"))
	require.NoError(t, err)
	assert.InDelta(t, 0.35, resp.Recommendations[0].Data["value"], 1e-9)
}

func TestInterventionSuggestsBreakAboveTrigger(t *testing.T) {
	i := NewIntervention()

	state := types.NewLearningState("student-1")
	state.Engagement.FrustrationLevel = 0.65

	resp, err := i.ProcessMessage(context.Background(), dispatchMsg(state, "I hate this, I give up"))
	require.NoError(t, err)
	require.Len(t, resp.Recommendations, 2)
	assert.InDelta(t, 0.85, resp.Recommendations[0].Data["value"], 1e-9)

	breakRec := resp.Recommendations[1]
	assert.Equal(t, types.PriorityHigh, breakRec.Priority)
	assert.Empty(t, breakRec.TargetField)
}

func TestCommunicationComposesReply(t *testing.T) {
	c := NewCommunication()
	ctx := context.Background()

	resp, err := c.ProcessMessage(ctx, dispatchMsg(nil, "I'm confused"))
	require.NoError(t, err)
	msg, ok := resp.Data["message"].(string)
	require.True(t, ok)
	assert.Contains(t, msg, "step by step")

	resp, err = c.ProcessMessage(ctx, dispatchMsg(nil, "finished!"))
	require.NoError(t, err)
	assert.Contains(t, resp.Data["message"], "Nice work")

	state := types.NewLearningState("student-1")
	state.CurrentActivity = "fractions-practice"
	resp, err = c.ProcessMessage(ctx, dispatchMsg(state, "hello"))
	require.NoError(t, err)
	assert.Contains(t, resp.Data["message"], "We're working on fractions-practice.")
}
