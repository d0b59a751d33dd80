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
package consistency

import (
	"math"
	"reflect"
	"time"

	"github.com/praxislabs/praxis/pkg/types"
)

// Conflict handling defaults.
const (
	// DefaultNumericThreshold is the absolute difference at which two
	// numeric proposals count as conflicting.
	DefaultNumericThreshold = 0.2

	// DefaultConflictWindow bounds how recent the previous write must be
	// for a differing proposal to count as a conflict rather than a
	// plain overwrite.
	DefaultConflictWindow = 30 * time.Second
)

// Strategy selects how detected conflicts are resolved.
type Strategy string

const (
	// StrategyLatest keeps the side with the newest timestamp.
	StrategyLatest Strategy = "latest"

	// StrategyMerge combines both sides: confidence-weighted average for
	// numerics, order-preserving union for string lists, higher
	// confidence otherwise.
	StrategyMerge Strategy = "merge"

	// StrategyManual applies nothing and escalates for human review.
	StrategyManual Strategy = "manual"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLatest, StrategyMerge, StrategyManual:
		return true
	}
	return false
}

// Resolution is the outcome of resolving one conflict. Applied is false
// only for manual escalations.
type Resolution struct {
	Field      string
	Strategy   Strategy
	Value      any
	Source     types.AgentType
	Confidence float64
	Applied    bool
	Reason     string
}

// DetectConflicts compares a proposed update against the state's field
// provenance. A conflict exists when a different agent wrote the same
// field within the conflict window and the values differ materially:
// at least the numeric threshold apart for numbers, any difference
// otherwise.
func (m *Manager) DetectConflicts(state *types.LearningState, update *types.StateUpdate) []*types.Conflict {
	var conflicts []*types.Conflict
	for field, proposed := range update.Fields {
		prov, ok := state.FieldProvenance[field]
		if !ok || prov.Source == update.SourceFor(field) {
			continue
		}
		if update.Timestamp.Sub(prov.Timestamp) > m.cfg.ConflictWindow {
			continue
		}

		current, ok := ReadField(state, field)
		if !ok {
			continue
		}
		if !m.differs(current, proposed) {
			continue
		}

		conflicts = append(conflicts, &types.Conflict{
			Field: field,
			Current: types.ConflictSide{
				Source:     prov.Source,
				Value:      current,
				Timestamp:  prov.Timestamp,
				Confidence: prov.Confidence,
			},
			Proposed: types.ConflictSide{
				Source:     update.SourceFor(field),
				Value:      proposed,
				Timestamp:  update.Timestamp,
				Confidence: update.ConfidenceFor(field),
			},
		})
	}

	if len(conflicts) > 0 {
		m.conflictsDetected.Add(int64(len(conflicts)))
	}
	return conflicts
}

func (m *Manager) differs(current, proposed any) bool {
	cf, cok := ToFloat(current)
	pf, pok := ToFloat(proposed)
	if cok && pok {
		return math.Abs(cf-pf) >= m.cfg.NumericThreshold
	}
	return !reflect.DeepEqual(current, proposed)
}

// ResolveConflict resolves one conflict with the configured strategy.
func (m *Manager) ResolveConflict(c *types.Conflict) *Resolution {
	return m.ResolveConflictWith(c, m.cfg.Strategy)
}

// ResolveConflictWith resolves one conflict with an explicit strategy.
func (m *Manager) ResolveConflictWith(c *types.Conflict, strategy Strategy) *Resolution {
	var res *Resolution
	switch strategy {
	case StrategyLatest:
		res = resolveLatest(c)
	case StrategyMerge:
		res = m.resolveMerge(c)
	case StrategyManual:
		res = &Resolution{
			Field:    c.Field,
			Strategy: StrategyManual,
			Applied:  false,
			Reason:   "escalated for manual review",
		}
		m.manualEscalations.Add(1)
		m.emit(types.EventConflictManual, map[string]any{
			"field":           c.Field,
			"current_source":  string(c.Current.Source),
			"proposed_source": string(c.Proposed.Source),
		}, types.PriorityHigh)
	default:
		res = resolveLatest(c)
	}

	if res.Applied {
		m.conflictsResolved.Add(1)
	}
	return res
}

func resolveLatest(c *types.Conflict) *Resolution {
	winner := c.Proposed
	reason := "proposed value is newer"
	if c.Current.Timestamp.After(c.Proposed.Timestamp) {
		winner = c.Current
		reason = "current value is newer"
	}
	return &Resolution{
		Field:      c.Field,
		Strategy:   StrategyLatest,
		Value:      winner.Value,
		Source:     winner.Source,
		Confidence: winner.Confidence,
		Applied:    true,
		Reason:     reason,
	}
}

// resolveMerge combines both sides. Numeric values merge to the
// confidence-weighted average; string lists merge to an
// order-preserving union; anything else falls back to the
// higher-confidence side.
func (m *Manager) resolveMerge(c *types.Conflict) *Resolution {
	cf, cok := ToFloat(c.Current.Value)
	pf, pok := ToFloat(c.Proposed.Value)
	if cok && pok {
		total := c.Current.Confidence + c.Proposed.Confidence
		merged := (cf + pf) / 2
		if total > 0 {
			merged = (cf*c.Current.Confidence + pf*c.Proposed.Confidence) / total
		}
		return &Resolution{
			Field:      c.Field,
			Strategy:   StrategyMerge,
			Value:      merged,
			Source:     higherConfidenceSource(c),
			Confidence: math.Max(c.Current.Confidence, c.Proposed.Confidence),
			Applied:    true,
			Reason:     "confidence-weighted average",
		}
	}

	if cl, err1 := toStringSlice(c.Current.Value); err1 == nil {
		if pl, err2 := toStringSlice(c.Proposed.Value); err2 == nil {
			return &Resolution{
				Field:      c.Field,
				Strategy:   StrategyMerge,
				Value:      unionStrings(cl, pl),
				Source:     higherConfidenceSource(c),
				Confidence: math.Max(c.Current.Confidence, c.Proposed.Confidence),
				Applied:    true,
				Reason:     "list union",
			}
		}
	}

	winner := c.Proposed
	reason := "proposed side has higher confidence"
	if c.Current.Confidence > c.Proposed.Confidence {
		winner = c.Current
		reason = "current side has higher confidence"
	}
	return &Resolution{
		Field:      c.Field,
		Strategy:   StrategyMerge,
		Value:      winner.Value,
		Source:     winner.Source,
		Confidence: winner.Confidence,
		Applied:    true,
		Reason:     reason,
	}
}

func higherConfidenceSource(c *types.Conflict) types.AgentType {
	if c.Current.Confidence > c.Proposed.Confidence {
		return c.Current.Source
	}
	return c.Proposed.Source
}

// unionStrings returns a's elements followed by b's elements not in a,
// original order preserved.
func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range b {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
