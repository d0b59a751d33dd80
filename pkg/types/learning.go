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
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"
)

// Bounds on the per-student aggregates.
const (
	// MaxMasteryEvidence caps the evidence list per concept.
	MaxMasteryEvidence = 20

	// MaxEngagementHistory caps the engagement sample history.
	MaxEngagementHistory = 50

	// MaxContextHistory caps the context entry history.
	MaxContextHistory = 100
)

// MasteryGrade is the enumerated mastery level for one concept.
type MasteryGrade string

const (
	MasteryUnknown    MasteryGrade = "unknown"
	MasteryIntroduced MasteryGrade = "introduced"
	MasteryDeveloping MasteryGrade = "developing"
	MasteryProficient MasteryGrade = "proficient"
	MasteryMastered   MasteryGrade = "mastered"
)

// Valid reports whether g is a known mastery grade.
func (g MasteryGrade) Valid() bool {
	switch g {
	case MasteryUnknown, MasteryIntroduced, MasteryDeveloping, MasteryProficient, MasteryMastered:
		return true
	}
	return false
}

// Evidence is one observation supporting a mastery assessment.
type Evidence struct {
	Description string
	Weight      float64
	ObservedAt  time.Time
}

// MasteryLevel tracks one concept's mastery.
type MasteryLevel struct {
	Level        MasteryGrade
	Confidence   float64
	LastAssessed time.Time

	// Evidence holds the most recent MaxMasteryEvidence observations.
	Evidence []Evidence
}

// AddEvidence appends an observation, evicting the oldest past the cap.
func (m *MasteryLevel) AddEvidence(e Evidence) {
	m.Evidence = append(m.Evidence, e)
	if len(m.Evidence) > MaxMasteryEvidence {
		m.Evidence = m.Evidence[len(m.Evidence)-MaxMasteryEvidence:]
	}
}

// PrereqEdge is one prerequisite relation: From requires To first.
type PrereqEdge struct {
	From string
	To   string
}

// KnowledgeMap is the per-student concept graph: mastery per concept,
// known gaps, and prerequisite edges. The prerequisite graph must stay
// acyclic; AddPrerequisite enforces that at write time.
type KnowledgeMap struct {
	Concepts map[string]*MasteryLevel
	Gaps     []string

	// Prerequisites is an adjacency list: concept -> concepts required first.
	Prerequisites map[string][]string

	// EdgeOrder records prerequisite edges in insertion order, newest
	// last. Cycle repair removes the most recently added offending edge.
	EdgeOrder []PrereqEdge
}

// NewKnowledgeMap creates an empty knowledge map.
func NewKnowledgeMap() *KnowledgeMap {
	return &KnowledgeMap{
		Concepts:      make(map[string]*MasteryLevel),
		Prerequisites: make(map[string][]string),
	}
}

// AddPrerequisite records that concept requires prereq first. Returns an
// error if the edge would create a cycle; the map is left unchanged.
func (k *KnowledgeMap) AddPrerequisite(concept, prereq string) error {
	if concept == prereq {
		return fmt.Errorf("concept %q cannot require itself", concept)
	}
	k.Prerequisites[concept] = append(k.Prerequisites[concept], prereq)
	k.EdgeOrder = append(k.EdgeOrder, PrereqEdge{From: concept, To: prereq})
	if cycle := k.DetectCycle(); cycle != nil {
		k.RemoveEdge(concept, prereq)
		return fmt.Errorf("prerequisite %s -> %s would create cycle %v", concept, prereq, cycle)
	}
	return nil
}

// RemoveEdge deletes one prerequisite edge, if present.
func (k *KnowledgeMap) RemoveEdge(concept, prereq string) {
	deps := k.Prerequisites[concept]
	for i, d := range deps {
		if d == prereq {
			k.Prerequisites[concept] = append(deps[:i], deps[i+1:]...)
			break
		}
	}
	if len(k.Prerequisites[concept]) == 0 {
		delete(k.Prerequisites, concept)
	}
	for i := len(k.EdgeOrder) - 1; i >= 0; i-- {
		if k.EdgeOrder[i].From == concept && k.EdgeOrder[i].To == prereq {
			k.EdgeOrder = append(k.EdgeOrder[:i], k.EdgeOrder[i+1:]...)
			break
		}
	}
}

// DetectCycle returns the concepts on a prerequisite cycle, or nil when
// the graph is acyclic.
func (k *KnowledgeMap) DetectCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on stack
		black = 2 // done
	)
	color := make(map[string]int, len(k.Prerequisites))
	var stack []string

	var visit func(node string) []string
	visit = func(node string) []string {
		color[node] = gray
		stack = append(stack, node)
		for _, dep := range k.Prerequisites[node] {
			switch color[dep] {
			case gray:
				// Found a back edge; slice out the cycle.
				for i, n := range stack {
					if n == dep {
						return append([]string(nil), stack[i:]...)
					}
				}
				return []string{dep, node}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
		return nil
	}

	for node := range k.Prerequisites {
		if color[node] == white {
			if cycle := visit(node); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// EngagementSample is one historical engagement observation.
type EngagementSample struct {
	Level      float64
	RecordedAt time.Time
}

// EngagementMetrics tracks a student's engagement. All fields except
// ResponseTime are ratios in [0, 1]; ResponseTime is seconds.
type EngagementMetrics struct {
	CurrentLevel         float64
	AttentionSpan        float64
	InteractionFrequency float64
	ResponseTime         float64
	FrustrationLevel     float64
	MotivationLevel      float64

	// History holds the most recent MaxEngagementHistory samples.
	History []EngagementSample
}

// RecordSample appends an engagement sample, evicting the oldest past
// the cap.
func (e *EngagementMetrics) RecordSample(level float64, at time.Time) {
	e.History = append(e.History, EngagementSample{Level: level, RecordedAt: at})
	if len(e.History) > MaxEngagementHistory {
		e.History = e.History[len(e.History)-MaxEngagementHistory:]
	}
}

// PathNode is one step in a learning path.
type PathNode struct {
	ID               string
	Concept          string
	Difficulty       float64
	Completed        bool
	EstimatedMinutes int
}

// ContextEntry is one entry in the bounded interaction context history.
type ContextEntry struct {
	Kind       string
	Summary    string
	Data       map[string]any
	RecordedAt time.Time
}

// Provenance records which agent last wrote a field, with what
// confidence, and when. Conflict detection compares proposed updates
// against it.
type Provenance struct {
	Source     AgentType
	Confidence float64
	Timestamp  time.Time
}

// LearningState is the per-student aggregate owned by the orchestrator.
// Agents only ever see immutable clones.
type LearningState struct {
	StudentID string
	SessionID string

	// LastUpdated is monotonically non-decreasing; Revision increments
	// on every applied update.
	LastUpdated time.Time
	Revision    uint64

	CurrentObjectives []string
	Knowledge         *KnowledgeMap
	LearningPath      []PathNode
	Engagement        EngagementMetrics

	// ContextHistory holds the most recent MaxContextHistory entries.
	ContextHistory []ContextEntry

	CurrentActivity    string
	CurrentDifficulty  float64
	SessionStartTime   time.Time
	LastActivityAt     time.Time
	RecentAchievements []string

	// FieldProvenance tracks the last writer per dotted field path.
	FieldProvenance map[string]Provenance
}

// NewLearningState creates a zeroed state with a fresh session id.
func NewLearningState(studentID string) *LearningState {
	now := time.Now()
	return &LearningState{
		StudentID:        studentID,
		SessionID:        uuid.NewString(),
		LastUpdated:      now,
		Knowledge:        NewKnowledgeMap(),
		SessionStartTime: now,
		LastActivityAt:   now,
		FieldProvenance:  make(map[string]Provenance),
	}
}

// Clone returns a deep copy. Mutating the copy never affects the
// original; backups and agent snapshots rely on this.
func (s *LearningState) Clone() (*LearningState, error) {
	var dst LearningState
	if err := deepcopy.Copy(&dst, s); err != nil {
		return nil, fmt.Errorf("failed to clone learning state: %w", err)
	}
	return &dst, nil
}

// AppendContext records a context entry, evicting the oldest past the cap.
func (s *LearningState) AppendContext(entry ContextEntry) {
	s.ContextHistory = append(s.ContextHistory, entry)
	if len(s.ContextHistory) > MaxContextHistory {
		s.ContextHistory = s.ContextHistory[len(s.ContextHistory)-MaxContextHistory:]
	}
}

// Backup is a checksummed deep clone of a LearningState at a point in
// time. Restoring requires the checksum to match.
type Backup struct {
	ID        string
	StudentID string
	State     *LearningState
	CreatedAt time.Time
	Checksum  string
}
