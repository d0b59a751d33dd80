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
package eventbus

import (
	"sort"
	"time"

	"github.com/praxislabs/praxis/pkg/types"
)

// EventFilter narrows GetEventLog results. Zero-value fields match
// everything.
type EventFilter struct {
	Source types.AgentType
	Type   string
	Since  time.Time
	Until  time.Time
}

func (f *EventFilter) matches(event *types.AgentEvent) bool {
	if f == nil {
		return true
	}
	if f.Source != "" && event.Source != f.Source {
		return false
	}
	if f.Type != "" && event.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && event.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && event.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

// GetEventLog returns past events, oldest first, optionally filtered.
func (b *Bus) GetEventLog(filter *EventFilter) []*types.AgentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*types.AgentEvent, 0, len(b.eventLog))
	n := len(b.eventLog)
	for i := 0; i < n; i++ {
		event := b.eventLog[(b.logStart+i)%n]
		if filter.matches(event) {
			out = append(out, event)
		}
	}
	return out
}

// TypeMetrics holds per-event-type processing statistics.
type TypeMetrics struct {
	Count       int64
	MeanElapsed time.Duration
}

// PerformanceMetrics is the bus-wide processing summary.
type PerformanceMetrics struct {
	TotalProcessed int64
	TotalDropped   int64
	MeanProcessing time.Duration
	PerType        map[string]TypeMetrics
}

// GetPerformanceMetrics returns processing statistics.
func (b *Bus) GetPerformanceMetrics() PerformanceMetrics {
	processed := b.totalProcessed.Load()
	m := PerformanceMetrics{
		TotalProcessed: processed,
		TotalDropped:   b.totalDropped.Load(),
		PerType:        make(map[string]TypeMetrics),
	}
	if processed > 0 {
		m.MeanProcessing = time.Duration(b.totalDuration.Load() / processed)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for et, st := range b.statsByTy {
		tm := TypeMetrics{Count: st.count}
		if st.count > 0 {
			tm.MeanElapsed = st.totalDur / time.Duration(st.count)
		}
		m.PerType[et] = tm
	}
	return m
}

// DetectBottlenecks returns event types whose mean handler time exceeds
// the configured threshold, slowest first.
func (b *Bus) DetectBottlenecks() []string {
	type slow struct {
		eventType string
		mean      time.Duration
	}

	b.mu.Lock()
	var slows []slow
	for et, st := range b.statsByTy {
		if st.count == 0 {
			continue
		}
		mean := st.totalDur / time.Duration(st.count)
		if mean > b.cfg.BottleneckThreshold {
			slows = append(slows, slow{eventType: et, mean: mean})
		}
	}
	b.mu.Unlock()

	sort.Slice(slows, func(i, j int) bool { return slows[i].mean > slows[j].mean })
	out := make([]string, len(slows))
	for i, s := range slows {
		out[i] = s.eventType
	}
	return out
}

// GetSubscriptionStats returns the subscriber count per event type.
func (b *Bus) GetSubscriptionStats() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.subscribers))
	for et, set := range b.subscribers {
		out[et] = len(set)
	}
	return out
}

// QueueStats describes the current queue residency.
type QueueStats struct {
	Capacity int
	Queued   int
	Dropped  int64

	// Depths maps priority name to current queue depth.
	Depths map[string]int
}

// GetQueueStats returns current queue depths and the drop count.
func (b *Bus) GetQueueStats() QueueStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := QueueStats{
		Capacity: b.cfg.QueueCapacity,
		Queued:   b.queued,
		Dropped:  b.totalDropped.Load(),
		Depths:   make(map[string]int, types.NumPriorities),
	}
	for pr := types.PriorityLow; pr <= types.PriorityUrgent; pr++ {
		stats.Depths[pr.String()] = len(b.queues[pr])
	}
	return stats
}
